package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/resthub/pkg/observability"
	"github.com/ethpandaops/resthub/pkg/sqltext"
	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MaxRowsLimit caps the rows read by a single execution
const MaxRowsLimit = 1000

// Define static errors
var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrTimeout           = errors.New("query timed out")
)

// Request is one execution of a statement with named parameter values
type Request struct {
	Connection string
	SQL        string
	Params     map[string]any
	Timeout    time.Duration
	RowsLimit  int
}

// Executor runs statements on named connections
type Executor interface {
	// Start opens and pings every connection
	Start(ctx context.Context) error
	// Stop closes every connection
	Stop() error
	// Execute runs req and reads at most its rows limit. A result cut at
	// the limit is flagged as truncated.
	Execute(ctx context.Context, req Request) (*tabular.Result, error)
	// Validate prepares sql on connection without executing it
	Validate(ctx context.Context, connection, sql string) error
	// HasConnection reports whether connection is configured
	HasConnection(name string) bool
	// Ping checks every connection
	Ping(ctx context.Context) error
}

type connection struct {
	name   string
	cfg    *ConnectionConfig
	driver driverInfo
	db     *sql.DB
}

type executor struct {
	log   logrus.FieldLogger
	conns map[string]*connection
}

// NewExecutor creates an executor for the configured connections
func NewExecutor(log logrus.FieldLogger, cfg Config) (Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	conns := make(map[string]*connection, len(cfg))
	for name, c := range cfg {
		conns[name] = &connection{
			name:   name,
			cfg:    c,
			driver: drivers[c.Driver],
		}
	}

	return &executor{
		log:   log.WithField("component", "executor"),
		conns: conns,
	}, nil
}

func (e *executor) Start(ctx context.Context) error {
	for name, conn := range e.conns {
		db, err := sql.Open(conn.cfg.Driver, conn.cfg.DSN)
		if err != nil {
			_ = e.Stop()
			return fmt.Errorf("failed to open connection %s: %w", name, err)
		}

		db.SetMaxOpenConns(conn.cfg.MaxOpenConns)
		db.SetMaxIdleConns(conn.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(conn.cfg.ConnMaxLifetime)
		conn.db = db
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := e.Ping(pingCtx); err != nil {
		_ = e.Stop()
		return err
	}

	for name, conn := range e.conns {
		e.log.WithFields(logrus.Fields{
			"connection": name,
			"driver":     conn.cfg.Driver,
		}).Info("Connected to database")
	}

	return nil
}

func (e *executor) Stop() error {
	var errs []error

	for name, conn := range e.conns {
		if conn.db == nil {
			continue
		}
		if err := conn.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection %s: %w", name, err))
		}
		conn.db = nil
	}

	e.log.Info("Closed database connections")

	return errors.Join(errs...)
}

func (e *executor) Ping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for name, conn := range e.conns {
		if conn.db == nil {
			return fmt.Errorf("connection %s is not open", name)
		}
		g.Go(func() error {
			if err := conn.db.PingContext(gctx); err != nil {
				return fmt.Errorf("failed to ping connection %s: %w", name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (e *executor) HasConnection(name string) bool {
	_, ok := e.conns[name]
	return ok
}

func (e *executor) connection(name string) (*connection, error) {
	conn, ok := e.conns[name]
	if !ok || conn.db == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}

	return conn, nil
}

func (e *executor) Validate(ctx context.Context, name, query string) error {
	conn, err := e.connection(name)
	if err != nil {
		return err
	}

	bound, args := sqltext.Bind(query, conn.driver.style, nil)

	if conn.driver.explain {
		rows, err := conn.db.QueryContext(ctx, "EXPLAIN "+bound, args...)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		return rows.Close()
	}

	stmt, err := conn.db.PrepareContext(ctx, bound)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}

	return stmt.Close()
}

func (e *executor) Execute(ctx context.Context, req Request) (*tabular.Result, error) {
	conn, err := e.connection(req.Connection)
	if err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	limit := req.RowsLimit
	if limit <= 0 || limit > MaxRowsLimit {
		limit = MaxRowsLimit
	}

	bound, args := sqltext.Bind(req.SQL, conn.driver.style, req.Params)

	log := e.log.WithField("connection", conn.name)
	log.WithField("query", bound).Debug("Executing query")

	start := time.Now()
	res, err := e.query(ctx, conn, bound, args, limit)
	duration := time.Since(start)

	switch {
	case err != nil && ctx.Err() != nil:
		observability.RecordQueryExecution(conn.name, "timeout", duration.Seconds())
		observability.RecordError("executor", "timeout")
		return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, req.Timeout, ctx.Err())
	case err != nil:
		observability.RecordQueryExecution(conn.name, "error", duration.Seconds())
		observability.RecordError("executor", "query")
		return nil, err
	}

	observability.RecordQueryExecution(conn.name, "success", duration.Seconds())
	if res.Truncated {
		observability.RecordRowsTruncated(conn.name)
	}

	log.WithFields(logrus.Fields{
		"rows":      res.Len(),
		"truncated": res.Truncated,
		"duration":  duration,
	}).Debug("Query executed")

	return res, nil
}

func (e *executor) query(ctx context.Context, conn *connection, query string, args []any, limit int) (*tabular.Result, error) {
	rows, err := conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	res, err := readResult(rows, limit)
	if err != nil {
		return nil, err
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return res, nil
}
