// Package mongodb provides the MongoDB driver layer: connection lifecycle
// with bounded reconnects, the collection registry, and the translation of
// storage field definitions into collection validators and indexes.
package mongodb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Execution modes. The mode changes pool sizing and timeout defaults only.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Reconnect policy: a capped number of attempts with a minimum delay between
// them, and a capped polling wait for an attempt already in flight.
const (
	maxConnectAttempts = 3
	reconnectDelay     = 2 * time.Second
	waitPollInterval   = 100 * time.Millisecond
	maxWaitPolls       = 50
)

// Config is the connection configuration supplied at startup.
type Config struct {
	URI      string
	Database string
	Mode     string
}

// ConnectionError reports a connection that could not be established or
// configuration that is missing. It is always fatal to the in-flight request.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error: %s", e.Op)
	}
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// LoadConfig reads the connection configuration from the environment.
// The connection string and database name are required.
func LoadConfig() (Config, error) {
	cfg := Config{
		URI:      getenv("HIFADHI_MONGO_URI", ""),
		Database: getenv("HIFADHI_MONGO_DB", ""),
		Mode:     getenv("HIFADHI_MODE", ModeDevelopment),
	}
	return cfg, cfg.Validate()
}

// Validate checks that the required configuration inputs are present.
func (c Config) Validate() error {
	if c.URI == "" {
		return &ConnectionError{Op: "missing connection string"}
	}
	if c.Database == "" {
		return &ConnectionError{Op: "missing database name"}
	}
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return &ConnectionError{Op: fmt.Sprintf("unknown mode '%s'", c.Mode)}
	}
	return nil
}

// poolSize returns the connection pool cap for the configured mode.
func (c Config) poolSize() uint64 {
	if c.Mode == ModeProduction {
		return 100
	}
	return 10
}

// connectTimeout returns the per-attempt connect timeout for the mode.
func (c Config) connectTimeout() time.Duration {
	if c.Mode == ModeProduction {
		return 10 * time.Second
	}
	return 5 * time.Second
}

// Connection owns the single live client handle for a process. It is
// constructed once at startup and passed by reference to every consumer;
// there is no package-level global. Concurrent callers during initial
// establishment wait on the one in-flight attempt instead of racing to
// create duplicates.
type Connection struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	client     *mongo.Client
	db         *mongo.Database
	connecting bool
}

// NewConnection creates an unopened connection. A nil logger is replaced
// with a no-op.
func NewConnection(cfg Config, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{cfg: cfg, logger: logger}
}

// Open establishes the connection if needed. It retries up to the attempt
// cap with a minimum delay between attempts. When another caller is already
// connecting, Open waits on that attempt with a bounded poll and fails with
// a timeout error rather than hanging.
func (c *Connection) Open(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return c.waitForOpen(ctx)
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		client, err := c.connectOnce(ctx)
		if err == nil {
			c.mu.Lock()
			c.client = client
			c.db = client.Database(c.cfg.Database)
			c.mu.Unlock()
			c.logger.Info("connected to document store",
				zap.String("database", c.cfg.Database),
				zap.String("mode", c.cfg.Mode),
				zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		c.logger.Warn("connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < maxConnectAttempts {
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return &ConnectionError{Op: "connect cancelled", Err: ctx.Err()}
			}
		}
	}
	return &ConnectionError{Op: fmt.Sprintf("exhausted %d connection attempts", maxConnectAttempts), Err: lastErr}
}

// connectOnce performs a single connect-and-ping round trip.
func (c *Connection) connectOnce(ctx context.Context) (*mongo.Client, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout())
	defer cancel()

	client, err := mongo.Connect(attemptCtx, options.Client().
		ApplyURI(c.cfg.URI).
		SetMaxPoolSize(c.cfg.poolSize()).
		SetConnectTimeout(c.cfg.connectTimeout()))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(attemptCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// waitForOpen polls for an in-flight attempt made by a concurrent caller to
// finish. The wait is capped; exceeding it fails with an explicit timeout.
func (c *Connection) waitForOpen(ctx context.Context) error {
	for i := 0; i < maxWaitPolls; i++ {
		select {
		case <-time.After(waitPollInterval):
		case <-ctx.Done():
			return &ConnectionError{Op: "wait for connection cancelled", Err: ctx.Err()}
		}

		c.mu.Lock()
		connected := c.client != nil
		inFlight := c.connecting
		c.mu.Unlock()

		if connected {
			return nil
		}
		if !inFlight {
			// The other caller's attempt finished without a client.
			return &ConnectionError{Op: "concurrent connection attempt failed"}
		}
	}
	return &ConnectionError{Op: "timed out waiting for in-flight connection attempt"}
}

// Close disconnects the client. The connection can be reopened afterwards.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	c.db = nil
	if err != nil {
		return &ConnectionError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsHealthy reports whether the live handle answers a ping.
func (c *Connection) IsHealthy(ctx context.Context) bool {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return false
	}
	return client.Ping(ctx, nil) == nil
}

// Database returns the live database handle, or nil before Open.
func (c *Connection) Database() *mongo.Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}
