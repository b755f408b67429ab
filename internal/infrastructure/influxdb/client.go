package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes device state points through the non-blocking write API.
// It implements device.Observer, so attaching it to the registry is all the
// wiring it needs.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes never block; failures surface through SetOnError and Stats.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	closed   atomic.Bool

	points   atomic.Uint64
	failures atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Stats counts points queued and async write failures since Connect.
type Stats struct {
	Points   uint64
	Failures uint64
}

// Connect pings the server and opens a batched write API for the configured
// org and bucket. Every point carries a bridge tag with bridgeID so several
// bridges can share a bucket.
//
// Parameters:
//   - cfg: the influxdb section of config.yaml
//   - bridgeID: value of the bridge tag; empty omits the tag
//
// Returns:
//   - *Client: connected client
//   - error: ErrDisabled, or ErrConnectionFailed if the ping fails
func Connect(cfg config.InfluxDBConfig, bridgeID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, bridgeID))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

// clientOptions maps batch_size and flush_interval (seconds) onto the
// library's options, falling back to defaults for non-positive values.
func clientOptions(cfg config.InfluxDBConfig, bridgeID string) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush / time.Millisecond))
	if bridgeID != "" {
		opts.AddDefaultTag("bridge", bridgeID)
	}
	return opts
}

// drainErrors runs until the write API closes its error channel.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)

		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes buffered points and releases the client. It is safe to
// call more than once.
func (c *Client) Close() error {
	if c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	return c.client != nil && !c.closed.Load()
}

// SetOnError registers a callback for async write failures. Errors wrap
// ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Stats returns the write counters.
func (c *Client) Stats() Stats {
	return Stats{Points: c.points.Load(), Failures: c.failures.Load()}
}

// Flush blocks until buffered points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
