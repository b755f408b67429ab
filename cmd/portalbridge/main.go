// Portal Bridge exposes the devices of a building-automation web portal as
// a REST/WebSocket API, MQTT topics and HomeKit accessories.
//
// The portal has no machine API. The bridge logs in through a headless
// browser, scrapes the device pages to build a registry and replays the
// portal's own command payloads to control devices.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/portal-bridge/internal/accessory"
	"github.com/nerrad567/portal-bridge/internal/api"
	"github.com/nerrad567/portal-bridge/internal/audit"
	"github.com/nerrad567/portal-bridge/internal/bridges/mqttbridge"
	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/control"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/discovery"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/database"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/mdns"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/retry"
	"github.com/nerrad567/portal-bridge/internal/portal"
	"github.com/nerrad567/portal-bridge/internal/session"
	"github.com/nerrad567/portal-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "PORTALBRIDGE_CONFIG"

	historyPruneInterval = time.Hour
	devicesWaitInterval  = time.Second
)

// options holds the parsed command line.
type options struct {
	configPath     string
	showVersion    bool
	discoverOnly   bool
	exportMappings string
	issueToken     string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// PORTALBRIDGE_CONFIG, then to the default location.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("portalbridge", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	fs.BoolVar(&opts.discoverOnly, "discover-only", false, "run one discovery pass, print the devices and exit")
	fs.StringVar(&opts.exportMappings, "export-mappings", "", "run one discovery pass and write the command mappings to `file`")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an API bearer token for `subject` and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.configPath == "" {
		opts.configPath = os.Getenv(configEnvVar)
	}
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.showVersion {
		fmt.Fprintf(out, "portalbridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath)

	switch {
	case opts.issueToken != "":
		return issueToken(cfg, opts.issueToken, out)
	case opts.discoverOnly || opts.exportMappings != "":
		return discoverOnce(ctx, cfg, log, opts.exportMappings, out)
	default:
		return serve(ctx, cfg, log)
	}
}

func issueToken(cfg *config.Config, subject string, out io.Writer) error {
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set; the API is running without authentication")
	}
	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// newSession builds the portal client, its browser login and the session
// manager on top.
func newSession(cfg *config.Config, log *logging.Logger) (*session.Manager, error) {
	browser := portal.NewBrowserAuthenticator(portal.BrowserOptions{
		BaseURL:            cfg.Portal.BaseURL,
		Bin:                cfg.Portal.Browser.Bin,
		Headless:           cfg.Portal.Browser.Headless,
		UserAgent:          cfg.Portal.Browser.UserAgent,
		InsecureSkipVerify: cfg.Portal.InsecureSkipVerify,
		RedirectAttempts:   cfg.Portal.Browser.RedirectAttempts,
		RedirectInterval:   cfg.Portal.Browser.RedirectInterval,
		ElementTimeout:     cfg.Portal.Browser.ElementTimeout,
		Logger:             log.Component("browser"),
	})

	client, err := portal.NewClient(portal.Options{
		BaseURL:            cfg.Portal.BaseURL,
		Language:           cfg.Portal.Language,
		InsecureSkipVerify: cfg.Portal.InsecureSkipVerify,
		RequestTimeout:     cfg.Portal.RequestTimeout,
		Authenticator:      browser,
		Logger:             log.Component("portal"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating portal client: %w", err)
	}

	return session.NewManager(client, session.Options{
		Credentials: session.Credentials{
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
		},
		LoginTimeout: cfg.Portal.LoginTimeout,
		Logger:       log.Component("session"),
	}), nil
}

func newEngine(cfg *config.Config, fetcher discovery.PageFetcher, log *logging.Logger) (*discovery.Engine, error) {
	var mappings *command.Mappings
	if cfg.Portal.MappingsFile != "" {
		m, err := command.LoadMappings(cfg.Portal.MappingsFile)
		if err != nil {
			return nil, err
		}
		log.Info("command mappings loaded", "path", cfg.Portal.MappingsFile, "entries", m.Len())
		mappings = m
	}
	return discovery.NewEngine(fetcher, discovery.Options{
		MaxPages: cfg.Portal.MaxPages,
		Timeout:  cfg.Discovery.Timeout,
		Table:    command.DefaultTable().WithOverrides(cfg.Portal.Commands),
		Mappings: mappings,
		Logger:   log.Component("discovery"),
	}), nil
}

// discoverOnce runs a single pass without touching the database. The device
// list goes to out as JSON; mappings are written to exportPath when set.
func discoverOnce(ctx context.Context, cfg *config.Config, log *logging.Logger, exportPath string, out io.Writer) error {
	mgr, err := newSession(cfg, log)
	if err != nil {
		return err
	}
	defer mgr.Close()

	engine, err := newEngine(cfg, mgr, log)
	if err != nil {
		return err
	}
	devices, err := engine.DiscoverAll(ctx)
	if err != nil {
		return fmt.Errorf("discovering devices: %w", err)
	}

	if exportPath != "" {
		m := discovery.ExportMappings(devices)
		if err := m.Save(exportPath); err != nil {
			return err
		}
		log.Info("command mappings exported", "path", exportPath, "entries", m.Len())
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log.Info("starting Portal Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log.Component("registry"))
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry loaded", "devices", registry.Len())

	history := device.NewSQLiteStateHistoryRepository(db.DB)
	recorder := device.NewHistoryRecorder(history, log.Component("history"))
	registry.AddObserver(recorder)
	go recorder.RunPruner(ctx, cfg.Database.HistoryRetention, historyPruneInterval)

	audits := audit.NewSQLiteRepository(db.DB)
	auditor := audit.NewRecorder(audits, log.Component("audit"))
	go auditor.RunPruner(ctx, cfg.Database.HistoryRetention, historyPruneInterval)

	mgr, err := newSession(cfg, log)
	if err != nil {
		return err
	}
	defer mgr.Close()

	engine, err := newEngine(cfg, mgr, log)
	if err != nil {
		return err
	}
	scheduler := discovery.NewScheduler(engine, registry, discovery.SchedulerOptions{
		Interval: cfg.Discovery.Interval,
		Retry: retry.Config{
			MaxAttempts:  cfg.Discovery.Retry.MaxAttempts,
			InitialDelay: cfg.Discovery.Retry.InitialDelay,
			MaxDelay:     cfg.Discovery.Retry.MaxDelay,
			Multiplier:   cfg.Discovery.Retry.Multiplier,
		},
		Logger: log.Component("scheduler"),
	})

	plane := control.New(registry, mgr, control.Options{
		CommandTimeout: cfg.Control.CommandTimeout,
		SceneReset:     cfg.Control.SceneReset,
		Auditor:        auditor,
		Logger:         log.Component("control"),
	})
	defer plane.Close()

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.Component("api"),
		Control:   plane,
		History:   history,
		Audit:     audits,
		Discovery: scheduler,
		Session:   mgr,
		Inventory: registry,
		Stale:     deviceRepo,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	registry.AddObserver(server.Hub())

	mqttClient, mqttBridge, err := startMQTT(ctx, cfg, registry, plane, mgr, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer mqttBridge.Stop()
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		registry.AddObserver(influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	scheduler.Start(ctx)
	defer scheduler.Stop()

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.API.MDNS.Enabled {
		advertiser := mdns.New()
		port, portErr := listenPort(server.Addr())
		if portErr == nil {
			portErr = advertiser.Advertise(cfg.API.MDNS, port, version)
		}
		if portErr != nil {
			log.Warn("mDNS advertisement failed", "error", portErr)
		} else {
			defer advertiser.Close()
			log.Info("API advertised via mDNS", "service", cfg.API.MDNS.Service, "port", port)
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if cfg.HomeKit.Enabled {
		homekit, hkErr := startHomeKit(ctx, cfg, registry, plane, log)
		if hkErr != nil {
			return hkErr
		}
		if homekit != nil {
			defer homekit.Stop()
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// startMQTT connects the broker client and the command/state bridge.
// Both are nil when MQTT is disabled.
func startMQTT(ctx context.Context, cfg *config.Config, registry *device.Registry, plane *control.Plane, mgr *session.Manager, log *logging.Logger) (*mqtt.Client, *mqttbridge.Bridge, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := mqttbridge.NewBridge(mqttbridge.Options{
		MQTT:           client,
		Control:        plane,
		Topics:         client.Topics(),
		QoS:            client.QoS(),
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.MQTT.HealthInterval,
		CommandTimeout: cfg.Control.CommandTimeout,
		Session:        mgr,
		Logger:         log.Component("mqttbridge"),
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	registry.AddObserver(bridge)
	return client, bridge, nil
}

// startHomeKit waits for a non-empty registry, then publishes one accessory
// per device. It returns nil when ctx ends first.
func startHomeKit(ctx context.Context, cfg *config.Config, registry *device.Registry, plane *control.Plane, log *logging.Logger) (*accessory.Sync, error) {
	if !waitForDevices(ctx, registry, devicesWaitInterval) {
		return nil, nil
	}

	homekit, err := accessory.New(accessory.Options{
		Config:        cfg.HomeKit,
		Control:       plane,
		Logger:        log.Component("homekit"),
		RemoteTimeout: cfg.Control.CommandTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("building HomeKit accessories: %w", err)
	}
	registry.AddObserver(homekit)
	if err := homekit.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting HomeKit bridge: %w", err)
	}
	return homekit, nil
}

// waitForDevices blocks until the registry holds at least one device.
func waitForDevices(ctx context.Context, registry *device.Registry, interval time.Duration) bool {
	if registry.Len() > 0 {
		return true
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if registry.Len() > 0 {
				return true
			}
		}
	}
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parsing listen address %q: %w", addr, err)
	}
	return strconv.Atoi(portStr)
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
