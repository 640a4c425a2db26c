package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/bdlab/biblioteca/pkg/observability/logger"
	"github.com/bdlab/biblioteca/pkg/repository"
	"github.com/bdlab/biblioteca/pkg/store"
)

// Config holds the connection settings of a session. Credentials are always
// supplied by the caller.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Schema is bound with SET search_path once the connection is open.
	Schema         string
	SSLMode        string
	ConnectTimeout time.Duration
}

// DSN renders the configuration as a lib/pq connection URL.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}

	q := url.Values{}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.User) == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("database is required"))
	}
	return errors.Join(errs...)
}

// Session is one authenticated connection bound to a schema. It owns exactly one
// pinned *sql.Conn and runs at most one transaction at a time.
type Session struct {
	db     *sql.DB
	conn   *sql.Conn
	logger logger.Logger
	config Config

	mu     sync.Mutex
	active *Tx
	closed bool
}

var (
	_ repository.UnitOfWork         = (*Session)(nil)
	_ repository.TransactionManager = (*Session)(nil)
	_ repository.SQLExecutor        = (*Session)(nil)
	_ store.Adapter                 = (*Session)(nil)
)

// OpenSession opens the database, pins a single connection and binds the schema.
// Every failure is classified as store.ErrConnection and leaves nothing open.
func OpenSession(ctx context.Context, cfg Config, log logger.Logger) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, store.Error(store.ErrConnection, fmt.Errorf("invalid postgres config: %w", err))
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, store.Error(store.ErrConnection, fmt.Errorf("failed to open database: %w", err))
	}

	session, err := NewSessionFromDB(ctx, db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return session, nil
}

// NewSessionFromDB builds a session over an already opened handle. The session
// takes ownership of db and closes it on Close.
func NewSessionFromDB(ctx context.Context, db *sql.DB, cfg Config, log logger.Logger) (*Session, error) {
	if db == nil {
		return nil, store.Errorf(store.ErrConnection, "database handle is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	// the demo is strictly sequential: one connection, never pooled
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	connectCtx, cancel := withConnectTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := db.Conn(connectCtx)
	if err != nil {
		return nil, store.Error(store.ErrConnection, fmt.Errorf("failed to acquire connection: %w", err))
	}

	if err := conn.PingContext(connectCtx); err != nil {
		_ = conn.Close()
		return nil, store.Error(store.ErrConnection, fmt.Errorf("failed to ping database: %w", err))
	}

	if schema := strings.TrimSpace(cfg.Schema); schema != "" {
		if _, err := conn.ExecContext(connectCtx, SearchPathStatement(schema)); err != nil {
			_ = conn.Close()
			return nil, store.Error(store.ErrConnection, fmt.Errorf("failed to set search_path to %q: %w", schema, err))
		}
	}

	log.Info("PostgreSQL session opened",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"schema", cfg.Schema,
	)

	return &Session{
		db:     db,
		conn:   conn,
		logger: log,
		config: cfg,
	}, nil
}

// SearchPathStatement returns the statement binding schema as the active namespace.
func SearchPathStatement(schema string) string {
	return "SET search_path TO " + pq.QuoteIdentifier(schema)
}

// Schema returns the namespace bound to the session.
func (s *Session) Schema() string {
	return s.config.Schema
}

// Ping verifies the pinned connection is alive
func (s *Session) Ping(ctx context.Context) error {
	if s.isClosed() {
		return store.Errorf(store.ErrConnection, "session is closed")
	}
	return s.conn.PingContext(ctx)
}

// HealthCheck verifies the connection is healthy with a timeout
func (s *Session) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		s.logger.Error("PostgreSQL health check failed", "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close rolls back any transaction still open and releases the connection.
// Only the first call releases resources; later calls return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.active
	s.mu.Unlock()

	var errs []error
	if active != nil {
		s.logger.Warn("rolling back transaction left open at close")
		if err := active.Rollback(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release connection: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("failed to close PostgreSQL session", "error", err)
		return err
	}
	s.logger.Info("PostgreSQL session closed")
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Begin starts a transaction on the pinned connection. Statements executed with
// the returned transaction's Context run inside it.
func (s *Session) Begin(ctx context.Context) (repository.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.Errorf(store.ErrTransaction, "session is closed")
	}
	if s.active != nil {
		return nil, store.Errorf(store.ErrTransaction, "a transaction is already in progress")
	}

	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Error(store.ErrTransaction, fmt.Errorf("failed to begin transaction: %w", err))
	}

	tx := &Tx{
		tx:      sqlTx,
		session: s,
		state:   repository.TxStarted,
	}
	tx.ctx = context.WithValue(ctx, txContextKey, sqlTx)
	s.active = tx
	s.logger.Debug("transaction started")
	return tx, nil
}

func (s *Session) release(tx *Tx) {
	s.mu.Lock()
	if s.active == tx {
		s.active = nil
	}
	s.mu.Unlock()
}

// WithTransaction executes fn within a transaction. A returned error or a panic
// rolls back; otherwise the transaction is committed.
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (txErr error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("failed to rollback transaction after panic",
					"panic", p,
					"rollback_error", rbErr,
				)
			}
			panic(p)
		}
	}()

	if err := fn(tx.Context()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction",
				"original_error", err,
				"rollback_error", rbErr,
			)
			return errors.Join(err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

type contextKey string

const txContextKey contextKey = "tx"

// GetTx extracts a transaction from the context, if present
func GetTx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey).(*sql.Tx)
	return tx, ok
}

// ExecContext runs the statement in the context transaction when there is one,
// otherwise directly on the pinned connection.
func (s *Session) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if tx, ok := GetTx(ctx); ok {
		return tx.ExecContext(ctx, query, args...)
	}
	return s.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs the query in the context transaction when there is one,
// otherwise directly on the pinned connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if tx, ok := GetTx(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext is the single-row variant of QueryContext.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if tx, ok := GetTx(ctx); ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.conn.QueryRowContext(ctx, query, args...)
}

func withConnectTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
