// Package postgres provides a PostgreSQL implementation of the message store
// gateway. It calls the Message DB server functions through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// Driver names accepted by WithDriver.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// DefaultSchema is the schema Message DB installs into.
const DefaultSchema = "message_store"

// Ensure Gateway implements required interfaces.
var (
	_ adapters.TransactionalGateway = (*Gateway)(nil)
	_ adapters.HealthChecker        = (*Gateway)(nil)
)

// Gateway is a PostgreSQL implementation of adapters.Gateway.
// It is safe for concurrent use; the database/sql pool bounds the number of
// calls in flight.
type Gateway struct {
	db         *sql.DB
	schema     string
	statements map[string]statement
	logger     *slog.Logger
	closed     atomic.Bool
}

type config struct {
	driver          string
	schema          string
	maxOpen         int
	maxIdle         int
	connMaxLifetime time.Duration
	logger          *slog.Logger
}

// Option configures a Gateway.
type Option func(*config)

// WithDriver selects the database/sql driver: DriverPgx (default) or DriverPq.
func WithDriver(name string) Option {
	return func(c *config) {
		c.driver = name
	}
}

// WithSchema sets the schema holding the Message DB functions.
func WithSchema(schema string) Option {
	return func(c *config) {
		c.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(c *config) {
		c.maxOpen = n
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(c *config) {
		c.maxIdle = n
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(c *config) {
		c.connMaxLifetime = d
	}
}

// WithLogger logs every call at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		driver: DriverPgx,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewGateway opens a connection pool to a Message DB database.
// The pool connects lazily; use Ping to verify connectivity.
func NewGateway(connStr string, opts ...Option) (*Gateway, error) {
	c := newConfig(opts)

	db, err := sql.Open(c.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("eventide/postgres: failed to open database: %w", err)
	}

	if c.maxOpen > 0 {
		db.SetMaxOpenConns(c.maxOpen)
	}
	if c.maxIdle > 0 {
		db.SetMaxIdleConns(c.maxIdle)
	}
	if c.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.connMaxLifetime)
	}

	return newGateway(db, c), nil
}

// NewGatewayWithDB creates a gateway on an existing database handle.
// Closing the gateway closes db.
func NewGatewayWithDB(db *sql.DB, opts ...Option) *Gateway {
	return newGateway(db, newConfig(opts))
}

func newGateway(db *sql.DB, c *config) *Gateway {
	logger := c.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		db:         db,
		schema:     c.schema,
		statements: buildStatements(c.schema),
		logger:     logger,
	}
}

// =============================================================================
// Statements
// =============================================================================

// statement is the SQL issued for one procedure. Calls may pass fewer
// arguments than arity; the rest are sent as NULL and take the function's
// default.
type statement struct {
	query string
	arity int
}

func buildStatements(schema string) map[string]statement {
	s := pgx.Identifier{schema}.Sanitize()

	scalar := func(fn, params string, arity int) statement {
		return statement{
			query: fmt.Sprintf("SELECT %s.%s(%s) AS %s", s, fn, params, fn),
			arity: arity,
		}
	}

	return map[string]statement{
		adapters.ProcWriteMessage: scalar(adapters.ProcWriteMessage,
			"$1::varchar, $2::varchar, $3::varchar, $4::jsonb, $5::jsonb, $6::bigint", 6),
		adapters.ProcGetStreamMessages: {
			query: fmt.Sprintf("SELECT * FROM %s.get_stream_messages($1::varchar, $2::bigint, $3::bigint, $4::varchar)", s),
			arity: 4,
		},
		adapters.ProcGetCategoryMessages: {
			query: fmt.Sprintf("SELECT * FROM %s.get_category_messages($1::varchar, $2::bigint, $3::bigint, $4::varchar, $5::bigint, $6::bigint, $7::varchar)", s),
			arity: 7,
		},
		adapters.ProcGetLastStreamMessage: {
			query: fmt.Sprintf("SELECT * FROM %s.get_last_stream_message($1::varchar)", s),
			arity: 1,
		},
		adapters.ProcStreamVersion:       scalar(adapters.ProcStreamVersion, "$1::varchar", 1),
		adapters.ProcMessageStoreVersion: scalar(adapters.ProcMessageStoreVersion, "", 0),
		adapters.ProcHash64:              scalar(adapters.ProcHash64, "$1::varchar", 1),
		adapters.ProcAcquireLock:         scalar(adapters.ProcAcquireLock, "$1::varchar", 1),
		adapters.ProcCategoryVersion: {
			query: fmt.Sprintf("SELECT max(global_position) AS category_version FROM %s.messages WHERE %s.category(stream_name) = $1::varchar", s, s),
			arity: 1,
		},
		adapters.ProcLastMessage: {
			query: fmt.Sprintf(`SELECT id::varchar AS id, stream_name, type, position, global_position,
				data::varchar AS data, metadata::varchar AS metadata, time
				FROM %s.messages ORDER BY global_position DESC LIMIT 1`, s),
		},
		adapters.ProcTypeSummary: {
			query: fmt.Sprintf("SELECT type, message_count, percent::float8 AS percent FROM %s.type_summary", s),
		},
		adapters.ProcCategoryTypeSummary: {
			query: fmt.Sprintf("SELECT category, type, message_count, percent::float8 AS percent FROM %s.category_type_summary", s),
		},
	}
}

// =============================================================================
// Calls
// =============================================================================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Call implements adapters.Caller.
func (g *Gateway) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	if g.closed.Load() {
		return nil, adapters.NewConnectionError(procedure, adapters.ErrGatewayClosed)
	}
	return g.call(ctx, g.db, procedure, args)
}

func (g *Gateway) call(ctx context.Context, q querier, procedure string, args []any) ([]adapters.Row, error) {
	stmt, ok := g.statements[procedure]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adapters.ErrUnknownProcedure, procedure)
	}
	if len(args) > stmt.arity {
		return nil, fmt.Errorf("eventide/postgres: %s takes %d arguments, got %d", procedure, stmt.arity, len(args))
	}

	params := make([]any, stmt.arity)
	copy(params, args)

	start := time.Now()
	rows, err := q.QueryContext(ctx, stmt.query, params...)
	if err != nil {
		return nil, g.classify(ctx, procedure, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, g.classify(ctx, procedure, err)
	}

	g.logger.DebugContext(ctx, "message store call",
		"procedure", procedure, "rows", len(result), "duration", time.Since(start))

	return result, nil
}

func scanRows(rows *sql.Rows) ([]adapters.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]adapters.Row, 0)
	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		row := make(adapters.Row, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

// InTx implements adapters.TransactionalGateway.
func (g *Gateway) InTx(ctx context.Context, fn func(ctx context.Context, tx adapters.Caller) error) error {
	if g.closed.Load() {
		return adapters.NewConnectionError("", adapters.ErrGatewayClosed)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return g.classify(ctx, "", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &txCaller{g: g, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return g.classify(ctx, "", err)
	}
	return nil
}

type txCaller struct {
	g  *Gateway
	tx *sql.Tx
}

func (t *txCaller) Call(ctx context.Context, procedure string, args ...any) ([]adapters.Row, error) {
	return t.g.call(ctx, t.tx, procedure, args)
}

// Ping checks database connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	if g.closed.Load() {
		return adapters.NewConnectionError("", adapters.ErrGatewayClosed)
	}
	if err := g.db.PingContext(ctx); err != nil {
		return g.classify(ctx, "", err)
	}
	return nil
}

// Close releases the connection pool. It is idempotent.
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	return g.db.Close()
}

// DB returns the underlying database handle.
func (g *Gateway) DB() *sql.DB {
	return g.db
}

// Schema returns the schema holding the Message DB functions.
func (g *Gateway) Schema() string {
	return g.schema
}

// =============================================================================
// Error classification
// =============================================================================

// classify maps driver errors onto the gateway error taxonomy. Errors raised
// by the server become StoreErrors, except for connection and authorization
// classes. Context cancellation is returned unchanged.
func (g *Gateway) classify(ctx context.Context, procedure string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}

	if code, message, ok := serverError(err); ok {
		if isConnectionClass(code) {
			return adapters.NewConnectionError(procedure, err)
		}
		return adapters.NewStoreError(procedure, code, message)
	}

	if isConnectionFailure(err) || g.closed.Load() {
		return adapters.NewConnectionError(procedure, err)
	}

	return err
}

func serverError(err error) (code, message string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.Message, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Message, true
	}

	return "", "", false
}

// isConnectionClass reports SQLSTATE classes that mean the server could not
// be used rather than that the call was invalid.
func isConnectionClass(code string) bool {
	for _, prefix := range []string{"08", "28", "53", "57P"} {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

func isConnectionFailure(err error) bool {
	var netErr net.Error
	var connectErr *pgconn.ConnectError

	return errors.As(err, &connectErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		pgconn.SafeToRetry(err)
}
