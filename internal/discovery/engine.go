package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/device"
)

const (
	defaultMaxPages = 99
	defaultTimeout  = 2 * time.Minute
)

// Logger defines the logging interface used by discovery.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PageFetcher returns the markup of a page under a valid session.
// session.Manager implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]byte, error)
}

// Options configures an Engine.
type Options struct {
	// MaxPages bounds the scan. Defaults to 99.
	MaxPages int

	// Timeout bounds a whole pass. Defaults to two minutes.
	Timeout time.Duration

	// Table renders command descriptors. Defaults to command.DefaultTable().
	Table command.Table

	// Mappings optionally overrides rendered descriptors per device key.
	Mappings *command.Mappings

	Logger Logger
}

// Engine runs discovery passes.
type Engine struct {
	fetcher  PageFetcher
	maxPages int
	timeout  time.Duration
	table    command.Table
	mappings *command.Mappings
	logger   Logger
}

// NewEngine creates an Engine reading pages through fetcher.
func NewEngine(fetcher PageFetcher, opts Options) *Engine {
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Table == nil {
		opts.Table = command.DefaultTable()
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Engine{
		fetcher:  fetcher,
		maxPages: opts.MaxPages,
		timeout:  opts.Timeout,
		table:    opts.Table,
		mappings: opts.Mappings,
		logger:   logger,
	}
}

// DiscoverAll scans pages from 1 until a page yields no devices or
// MaxPages is reached, and returns every device found in page order.
//
// Any fetch or parse failure aborts the pass with ErrDiscovery; nothing
// collected before the failure is returned.
func (e *Engine) DiscoverAll(ctx context.Context) ([]device.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	runID := uuid.NewString()
	start := time.Now()
	e.logger.Info("discovery pass started", "run_id", runID, "max_pages", e.maxPages)

	var devices []device.Device
	seen := make(map[string]struct{})
	pages := 0

	for page := 1; page <= e.maxPages; page++ {
		markup, err := e.fetcher.FetchPage(ctx, page)
		if err != nil {
			e.logger.Warn("discovery pass aborted", "run_id", runID, "page", page, "error", err)
			return nil, fmt.Errorf("%w: page %d: %w", ErrDiscovery, page, err)
		}

		found, err := e.devicesOnPage(markup, page)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrDiscovery, page, err)
		}
		if len(found) == 0 {
			e.logger.Debug("empty page ends scan", "run_id", runID, "page", page)
			break
		}
		pages++

		for _, d := range found {
			if _, dup := seen[d.Key]; dup {
				e.logger.Warn("duplicate device skipped", "run_id", runID, "key", d.Key, "page", page)
				continue
			}
			seen[d.Key] = struct{}{}
			devices = append(devices, d)
		}
	}

	e.logger.Info("discovery pass finished",
		"run_id", runID,
		"pages", pages,
		"devices", len(devices),
		"duration", time.Since(start),
	)
	return devices, nil
}

func (e *Engine) devicesOnPage(markup []byte, page int) ([]device.Device, error) {
	elems, err := ParsePage(markup)
	if err != nil {
		return nil, err
	}

	out := make([]device.Device, 0, len(elems))
	for _, el := range elems {
		out = append(out, e.build(el, page))
	}
	return out, nil
}

func (e *Engine) build(el Element, page int) device.Device {
	typ := Classify(el)
	key := command.DeviceKey(el.ID, page)

	descriptors := e.table.Render(string(typ), el.Index, page)
	descriptors = e.mappings.Apply(key, descriptors)

	if typ == device.TypeUnknown {
		e.logger.Debug("unclassified element recorded", "key", key, "classes", el.Classes)
	}

	return device.Device{
		Key:      key,
		ID:       el.ID,
		Name:     el.Name,
		Type:     typ,
		Page:     page,
		Index:    el.Index,
		Commands: descriptors,
		State:    InitialState(typ, el),
	}
}

// ExportMappings builds a mappings file from a discovered device set.
func ExportMappings(devices []device.Device) *command.Mappings {
	m := &command.Mappings{}
	for _, d := range devices {
		m.Add(d.Key, string(d.Type), d.Commands)
	}
	return m
}
