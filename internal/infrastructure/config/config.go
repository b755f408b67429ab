package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Portal Bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Portal    PortalConfig    `yaml:"portal"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Control   ControlConfig   `yaml:"control"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	HomeKit   HomeKitConfig   `yaml:"homekit"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// PortalConfig contains the building-automation portal endpoint and credentials.
type PortalConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Language string `yaml:"language"`

	// InsecureSkipVerify disables TLS certificate checks. Portals commonly
	// ship self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	LoginTimeout   time.Duration `yaml:"login_timeout"`

	// MaxPages bounds a discovery scan. Pages are numbered 1..MaxPages.
	MaxPages int `yaml:"max_pages"`

	// MappingsFile optionally overrides discovered command payloads.
	MappingsFile string `yaml:"mappings_file,omitempty"`

	// Commands overrides the per-type command templates.
	// Outer key is the device type, inner key the action.
	Commands map[string]map[string]string `yaml:"commands,omitempty"`

	Browser BrowserConfig `yaml:"browser"`
}

// BrowserConfig controls the headless browser used for portal login.
type BrowserConfig struct {
	// Bin is the browser executable. Empty lets the launcher find or download one.
	Bin              string        `yaml:"bin"`
	Headless         bool          `yaml:"headless"`
	UserAgent        string        `yaml:"user_agent"`
	RedirectAttempts int           `yaml:"redirect_attempts"`
	RedirectInterval time.Duration `yaml:"redirect_interval"`
	ElementTimeout   time.Duration `yaml:"element_timeout"`
}

// DiscoveryConfig controls discovery passes.
type DiscoveryConfig struct {
	Timeout time.Duration `yaml:"timeout"`

	// Interval schedules periodic rediscovery. Zero disables it.
	Interval time.Duration `yaml:"interval"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig contains exponential backoff settings.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`

	// MaxAttempts of 0 retries until the context ends.
	MaxAttempts int `yaml:"max_attempts"`
}

// ControlConfig contains command dispatch settings.
type ControlConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	SceneReset     time.Duration `yaml:"scene_reset"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path             string        `yaml:"path"`
	WALMode          bool          `yaml:"wal_mode"`
	BusyTimeout      int           `yaml:"busy_timeout"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	MDNS     MDNSConfig       `yaml:"mdns"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list, or one containing "*", allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// MDNSConfig controls the zeroconf advertisement of the REST API.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled"`
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix    string              `yaml:"topic_prefix"`
	HealthInterval time.Duration       `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// HomeKitConfig contains accessory sync settings.
type HomeKitConfig struct {
	Enabled      bool       `yaml:"enabled"`
	Name         string     `yaml:"name"`
	Pin          string     `yaml:"pin"`
	StoragePath  string     `yaml:"storage_path"`
	Port         string     `yaml:"port"`
	Manufacturer string     `yaml:"manufacturer"`
	Poll         PollConfig `yaml:"poll"`
}

// PollConfig holds refresh intervals per device class.
type PollConfig struct {
	OnOff       time.Duration `yaml:"onoff"`
	Position    time.Duration `yaml:"position"`
	Temperature time.Duration `yaml:"temperature"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret leaves the API open.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PORTALBRIDGE_SECTION_KEY
// For example: PORTALBRIDGE_PORTAL_BASE_URL, PORTALBRIDGE_API_PORT.
// SMARTHOME_BASE_URL, SMARTHOME_USERNAME and SMARTHOME_PASSWORD are honoured too.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:   "portalbridge-001",
			Name: "Portal Bridge",
		},
		Portal: PortalConfig{
			Language:           "en",
			InsecureSkipVerify: true,
			RequestTimeout:     15 * time.Second,
			LoginTimeout:       60 * time.Second,
			MaxPages:           99,
			Browser: BrowserConfig{
				Headless:         true,
				UserAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				RedirectAttempts: 20,
				RedirectInterval: time.Second,
				ElementTimeout:   10 * time.Second,
			},
		},
		Discovery: DiscoveryConfig{
			Timeout: 2 * time.Minute,
			Retry: RetryConfig{
				InitialDelay: 2 * time.Second,
				MaxDelay:     5 * time.Minute,
				Multiplier:   2,
			},
		},
		Control: ControlConfig{
			CommandTimeout: 10 * time.Second,
			SceneReset:     time.Second,
		},
		Database: DatabaseConfig{
			Path:             "./data/portalbridge.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MDNS: MDNSConfig{
				Instance: "Portal Bridge",
				Service:  "_http._tcp",
				Domain:   "local.",
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "portalbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix:    "portalbridge",
			HealthInterval: 30 * time.Second,
		},
		HomeKit: HomeKitConfig{
			Name:         "Portal Bridge",
			Pin:          "03145154",
			StoragePath:  "./data/homekit",
			Manufacturer: "Portal Bridge",
			Poll: PollConfig{
				OnOff:       5 * time.Second,
				Position:    10 * time.Second,
				Temperature: 60 * time.Second,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60 * 24 * 365,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Legacy variable names used by existing deployments.
	if v := os.Getenv("SMARTHOME_BASE_URL"); v != "" {
		cfg.Portal.BaseURL = v
	}
	if v := os.Getenv("SMARTHOME_USERNAME"); v != "" {
		cfg.Portal.Username = v
	}
	if v := os.Getenv("SMARTHOME_PASSWORD"); v != "" {
		cfg.Portal.Password = v
	}

	// Portal
	if v := os.Getenv("PORTALBRIDGE_PORTAL_BASE_URL"); v != "" {
		cfg.Portal.BaseURL = v
	}
	if v := os.Getenv("PORTALBRIDGE_PORTAL_USERNAME"); v != "" {
		cfg.Portal.Username = v
	}
	if v := os.Getenv("PORTALBRIDGE_PORTAL_PASSWORD"); v != "" {
		cfg.Portal.Password = v
	}
	if v := os.Getenv("PORTALBRIDGE_BROWSER_BIN"); v != "" {
		cfg.Portal.Browser.Bin = v
	}

	// Database
	if v := os.Getenv("PORTALBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("PORTALBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PORTALBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("PORTALBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PORTALBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PORTALBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("PORTALBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// HomeKit
	if v := os.Getenv("PORTALBRIDGE_HOMEKIT_PIN"); v != "" {
		cfg.HomeKit.Pin = v
	}

	// Security
	if v := os.Getenv("PORTALBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	// Portal validation
	if c.Portal.BaseURL == "" {
		errs = append(errs, "portal.base_url is required (set SMARTHOME_BASE_URL environment variable)")
	} else if u, err := url.Parse(c.Portal.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "portal.base_url must be an absolute URL")
	}
	if c.Portal.Username == "" {
		errs = append(errs, "portal.username is required (set SMARTHOME_USERNAME environment variable)")
	}
	if c.Portal.Password == "" {
		errs = append(errs, "portal.password is required (set SMARTHOME_PASSWORD environment variable)")
	}
	if c.Portal.MaxPages < 1 || c.Portal.MaxPages > 99 {
		errs = append(errs, "portal.max_pages must be between 1 and 99")
	}
	if c.Portal.RequestTimeout <= 0 {
		errs = append(errs, "portal.request_timeout must be positive")
	}
	if c.Portal.LoginTimeout <= 0 {
		errs = append(errs, "portal.login_timeout must be positive")
	}
	if c.Portal.Browser.RedirectAttempts < 1 {
		errs = append(errs, "portal.browser.redirect_attempts must be at least 1")
	}

	// Discovery validation
	if c.Discovery.Timeout <= 0 {
		errs = append(errs, "discovery.timeout must be positive")
	}
	if c.Discovery.Interval < 0 {
		errs = append(errs, "discovery.interval must not be negative")
	}
	if c.Discovery.Retry.Multiplier < 1 {
		errs = append(errs, "discovery.retry.multiplier must be at least 1")
	}
	if c.Discovery.Retry.MaxDelay < c.Discovery.Retry.InitialDelay {
		errs = append(errs, "discovery.retry.max_delay must not be less than initial_delay")
	}

	// Control validation
	if c.Control.CommandTimeout <= 0 {
		errs = append(errs, "control.command_timeout must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}

	if c.HomeKit.Enabled && len(c.HomeKit.Pin) != 8 {
		errs = append(errs, "homekit.pin must be 8 digits")
	}

	// A short secret makes forged tokens practical.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
