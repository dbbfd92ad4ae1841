package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/starrealm/hoststar/pkg/config"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// Connection holds a database connection with read/write separation:
// embedded mode shares one *sql.DB for both, external mode may split
// reads onto a replica and fails back to the writer when the replica
// is unhealthy.
type Connection struct {
	writer        *sql.DB
	reader        *sql.DB
	config        *config.DatabaseConfig
	healthMux     sync.RWMutex
	writerHealthy bool
	readerHealthy bool
}

// NewConnection opens writer/reader connections per cfg.Mode.
func NewConnection(cfg *config.DatabaseConfig) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is nil")
	}

	conn := &Connection{
		config:        cfg,
		writerHealthy: true,
		readerHealthy: true,
	}

	switch cfg.Mode {
	case config.DatabaseModeEmbedded:
		return conn.initEmbeddedConnection()
	case config.DatabaseModeExternal:
		return conn.initExternalConnection()
	default:
		return nil, fmt.Errorf("unsupported database mode: %s", cfg.Mode)
	}
}

// initEmbeddedConnection initializes an embedded database connection.
func (c *Connection) initEmbeddedConnection() (*Connection, error) {
	connStr, err := c.config.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open(driverName(c.config.GetDatabaseType()), connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// For embedded databases, both reader and writer use the same connection.
	c.writer = db
	c.reader = db

	c.configureConnectionPool(db, c.config.Embedded)

	return c, nil
}

// initExternalConnection initializes an external database connection with
// read/write separation.
func (c *Connection) initExternalConnection() (*Connection, error) {
	writerConnStr, err := c.config.GetWriterConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to get writer connection string: %w", err)
	}

	c.writer, err = sql.Open(driverName(c.config.GetDatabaseType()), writerConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer database: %w", err)
	}

	if err := c.writer.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping writer database: %w", err)
	}

	c.configureWriterConnectionPool()

	if c.config.External.ReaderUseWriter {
		c.reader = c.writer
	} else {
		readerConnStr, err := c.config.GetReaderConnectionString()
		if err != nil {
			return nil, fmt.Errorf("failed to get reader connection string: %w", err)
		}

		c.reader, err = sql.Open(driverName(c.config.GetDatabaseType()), readerConnStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open reader database: %w", err)
		}

		if err := c.reader.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping reader database: %w", err)
		}

		c.configureReaderConnectionPool()
	}

	if c.config.External.Failover != nil && c.config.External.Failover.Enabled {
		go c.startHealthMonitoring()
	}

	return c, nil
}

// configureConnectionPool sets pool limits for an embedded database.
func (c *Connection) configureConnectionPool(db *sql.DB, embeddedConfig *config.EmbeddedDBConfig) {
	if embeddedConfig == nil {
		return
	}

	// SQLite doesn't benefit from many connections.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)
}

// configureWriterConnectionPool configures the writer connection pool.
func (c *Connection) configureWriterConnectionPool() {
	if c.config.External.MaxConnections > 0 {
		c.writer.SetMaxOpenConns(c.config.External.MaxConnections)
	}
	if c.config.External.MaxIdleConns > 0 {
		c.writer.SetMaxIdleConns(c.config.External.MaxIdleConns)
	}
	if c.config.External.ConnMaxLifetime != "" {
		if lifetime, err := time.ParseDuration(c.config.External.ConnMaxLifetime); err == nil {
			c.writer.SetConnMaxLifetime(lifetime)
		}
	}
}

// configureReaderConnectionPool configures the reader connection pool.
func (c *Connection) configureReaderConnectionPool() {
	maxConns := c.config.External.ReaderMaxConnections
	if maxConns == 0 {
		maxConns = c.config.External.MaxConnections / 2
	}
	if maxConns > 0 {
		c.reader.SetMaxOpenConns(maxConns)
	}

	maxIdle := c.config.External.ReaderMaxIdleConns
	if maxIdle == 0 {
		maxIdle = c.config.External.MaxIdleConns / 2
	}
	if maxIdle > 0 {
		c.reader.SetMaxIdleConns(maxIdle)
	}

	if c.config.External.ConnMaxLifetime != "" {
		if lifetime, err := time.ParseDuration(c.config.External.ConnMaxLifetime); err == nil {
			c.reader.SetConnMaxLifetime(lifetime)
		}
	}
}

// startHealthMonitoring periodically checks both connections so Reader
// can fail back to the writer when the replica goes unhealthy.
func (c *Connection) startHealthMonitoring() {
	failover := c.config.External.Failover
	interval := 30 * time.Second
	if failover.HealthCheckInterval != "" {
		if parsed, err := time.ParseDuration(failover.HealthCheckInterval); err == nil {
			interval = parsed
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		c.checkHealth()
	}
}

// checkHealth pings both connections and records the result.
func (c *Connection) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	writerHealthy := c.writer.PingContext(ctx) == nil

	readerHealthy := writerHealthy
	if c.reader != c.writer {
		readerHealthy = c.reader.PingContext(ctx) == nil
	}

	c.healthMux.Lock()
	c.writerHealthy = writerHealthy
	c.readerHealthy = readerHealthy
	c.healthMux.Unlock()
}

// Writer returns the writer database connection.
func (c *Connection) Writer() *sql.DB {
	return c.writer
}

// Reader returns the reader database connection, falling back to the
// writer when the reader is unhealthy and fallback is enabled.
func (c *Connection) Reader() *sql.DB {
	c.healthMux.RLock()
	defer c.healthMux.RUnlock()

	if c.readerHealthy {
		return c.reader
	}
	if c.config.External != nil && c.config.External.Failover != nil &&
		c.config.External.Failover.ReaderToWriterFallback && c.writerHealthy {
		return c.writer
	}
	return c.reader
}

// Close closes both database connections.
func (c *Connection) Close() error {
	var err error

	if c.writer != nil {
		if writerErr := c.writer.Close(); writerErr != nil {
			err = writerErr
		}
	}

	if c.reader != nil && c.reader != c.writer {
		if readerErr := c.reader.Close(); readerErr != nil {
			if err != nil {
				err = fmt.Errorf("writer close error: %v, reader close error: %v", err, readerErr)
			} else {
				err = readerErr
			}
		}
	}

	return err
}

// driverName maps a config database type to its registered driver name.
func driverName(dbType string) string {
	switch dbType {
	case "postgresql":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite":
		return "sqlite3"
	default:
		return dbType
	}
}
