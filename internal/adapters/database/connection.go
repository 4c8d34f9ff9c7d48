package database

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	// Postgres driver registration, mirrors the one dialect the connection
	// manager actually dials today.
	_ "github.com/lib/pq"

	serrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

// consecutiveFailureThreshold is how many sentinel-query failures in a row
// flip the connection manager unhealthy.
const consecutiveFailureThreshold = 3

// driverFor maps a declared dialect onto the registered database/sql driver
// name. Only postgres has a driver wired into this binary; the others are
// named so the Query Builder's dialect-specific SQL generation has somewhere
// to plug in once a driver is added.
func driverFor(dialect string) (string, error) {
	switch dialect {
	case "", "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q: no driver registered", dialect)
	}
}

// ConnectionManager owns a pool for one database engine and runs a
// background sentinel-query health probe against it.
type ConnectionManager struct {
	db      *sqlx.DB
	dialect string
	cfg     model.DatabaseAdapterConfig

	acquireTimeout time.Duration

	healthy           atomic.Bool
	consecutiveFails  int
	mu                sync.Mutex
	stopHealthLoop    chan struct{}
	healthLoopStopped sync.WaitGroup

	logger observability.Logger
}

// NewConnectionManager opens a pool against the configured dialect, reading
// the DSN only by indirecting through the named environment variable, and
// starts the background health probe.
func NewConnectionManager(ctx context.Context, cfg model.DatabaseAdapterConfig, logger observability.Logger) (*ConnectionManager, error) {
	driver, err := driverFor(cfg.Dialect)
	if err != nil {
		return nil, serrors.Wrap(serrors.KindConfig, "unsupported database dialect", err).WithOp("database.NewConnectionManager")
	}

	dsn := os.Getenv(cfg.DSNEnvVar)
	if dsn == "" {
		return nil, serrors.New(serrors.KindConfig, fmt.Sprintf("environment variable %q for the database DSN is unset", cfg.DSNEnvVar)).WithOp("database.NewConnectionManager")
	}

	acquireTimeout := time.Duration(cfg.ConnTimeoutMs) * time.Millisecond
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, driver, dsn)
	if err != nil {
		return nil, serrors.Wrap(serrors.KindTimeout, "CONNECT_TIMEOUT: failed to acquire initial database connection", err).
			WithContext("code", "CONNECT_TIMEOUT").WithOp("database.NewConnectionManager")
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConnections
	if minConns <= 0 {
		minConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	if cfg.IdleTimeoutMs > 0 {
		db.SetConnMaxIdleTime(time.Duration(cfg.IdleTimeoutMs) * time.Millisecond)
	}
	if cfg.MaxLifetimeMs > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.MaxLifetimeMs) * time.Millisecond)
	}

	cm := &ConnectionManager{
		db:             db,
		dialect:        driver,
		cfg:            cfg,
		acquireTimeout: acquireTimeout,
		stopHealthLoop: make(chan struct{}),
		logger:         logger,
	}
	cm.healthy.Store(true)
	cm.startHealthLoop(30 * time.Second)

	return cm, nil
}

// Acquire bounds a single operation's wait for a usable connection by the
// configured acquire timeout, surfacing CONNECT_TIMEOUT when exceeded.
func (cm *ConnectionManager) Acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	opCtx, cancel := context.WithTimeout(ctx, cm.acquireTimeout)
	if err := cm.db.PingContext(opCtx); err != nil {
		cancel()
		return nil, nil, serrors.Wrap(serrors.KindTimeout, "CONNECT_TIMEOUT: failed to acquire database connection", err).
			WithContext("code", "CONNECT_TIMEOUT").WithOp("database.Acquire")
	}
	return opCtx, cancel, nil
}

func (cm *ConnectionManager) sentinelQuery() string {
	return "SELECT 1"
}

func (cm *ConnectionManager) startHealthLoop(interval time.Duration) {
	cm.healthLoopStopped.Add(1)
	go func() {
		defer cm.healthLoopStopped.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cm.probe()
			case <-cm.stopHealthLoop:
				return
			}
		}
	}()
}

func (cm *ConnectionManager) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), cm.acquireTimeout)
	defer cancel()

	_, err := cm.db.ExecContext(ctx, cm.sentinelQuery())

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if err != nil {
		cm.consecutiveFails++
		if cm.consecutiveFails >= consecutiveFailureThreshold {
			cm.healthy.Store(false)
			if cm.logger != nil {
				cm.logger.Warn("database: health probe failing", map[string]interface{}{"consecutive_failures": cm.consecutiveFails, "error": err.Error()})
			}
		}
		return
	}
	cm.consecutiveFails = 0
	cm.healthy.Store(true)
}

// Healthy reports the connection manager's current health state.
func (cm *ConnectionManager) Healthy() bool {
	return cm.healthy.Load()
}

// DB exposes the underlying sqlx handle for the query builder and content
// processor to execute against.
func (cm *ConnectionManager) DB() *sqlx.DB {
	return cm.db
}

// Close stops the health loop and closes the pool.
func (cm *ConnectionManager) Close() error {
	close(cm.stopHealthLoop)
	cm.healthLoopStopped.Wait()
	return cm.db.Close()
}
