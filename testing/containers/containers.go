// Package containers locates a Message DB database for integration tests.
//
// Tests call StartMessageDB, which skips the test unless a database is
// configured, reachable, and has the Message DB functions installed. The
// database is taken from TEST_DATABASE_URL or from the TEST_POSTGRES_*
// variables, which match a local message-db container:
//
//	docker run -p 5432:5432 ethangarofolo/message-db
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Skipper is the part of testing.TB used to skip a test.
type Skipper interface {
	Helper()
	Skipf(format string, args ...any)
}

// MessageDB is a reachable database with Message DB installed.
type MessageDB struct {
	connStr string
	schema  string
	version string
}

// Option configures how StartMessageDB finds the database.
type Option func(*config)

type config struct {
	url      string
	host     string
	port     string
	database string
	user     string
	password string
	schema   string
	timeout  time.Duration
}

// WithURL sets the connection URL, ignoring the other connection options.
func WithURL(url string) Option {
	return func(c *config) {
		c.url = url
	}
}

// WithHost sets the database host.
func WithHost(host string) Option {
	return func(c *config) {
		c.host = host
	}
}

// WithPort sets the database port.
func WithPort(port string) Option {
	return func(c *config) {
		c.port = port
	}
}

// WithDatabase sets the database name.
func WithDatabase(database string) Option {
	return func(c *config) {
		c.database = database
	}
}

// WithUser sets the database user.
func WithUser(user string) Option {
	return func(c *config) {
		c.user = user
	}
}

// WithPassword sets the database password.
func WithPassword(password string) Option {
	return func(c *config) {
		c.password = password
	}
}

// WithSchema sets the schema holding the Message DB functions.
func WithSchema(schema string) Option {
	return func(c *config) {
		c.schema = schema
	}
}

// WithTimeout bounds how long StartMessageDB waits for the database.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// defaultConfig reads the environment:
//   - TEST_DATABASE_URL: full connection URL
//   - TEST_POSTGRES_HOST: host, no default; without it or a URL tests skip
//   - TEST_POSTGRES_PORT: port (default: 5432)
//   - TEST_POSTGRES_DB: database name (default: message_store)
//   - TEST_POSTGRES_USER: user (default: message_store)
//   - TEST_POSTGRES_PASSWORD: password
//   - TEST_MESSAGE_STORE_SCHEMA: schema (default: message_store)
func defaultConfig() *config {
	return &config{
		url:      os.Getenv("TEST_DATABASE_URL"),
		host:     os.Getenv("TEST_POSTGRES_HOST"),
		port:     getEnvOrDefault("TEST_POSTGRES_PORT", "5432"),
		database: getEnvOrDefault("TEST_POSTGRES_DB", "message_store"),
		user:     getEnvOrDefault("TEST_POSTGRES_USER", "message_store"),
		password: os.Getenv("TEST_POSTGRES_PASSWORD"),
		schema:   getEnvOrDefault("TEST_MESSAGE_STORE_SCHEMA", "message_store"),
		timeout:  10 * time.Second,
	}
}

// connectionString returns the configured URL, or builds one from the
// individual settings. It returns "" when nothing is configured.
func (c *config) connectionString() string {
	if c.url != "" {
		return c.url
	}
	if c.host == "" {
		return ""
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.host, c.port),
		Path:     "/" + c.database,
		RawQuery: "sslmode=disable",
	}
	if c.password != "" {
		u.User = url.UserPassword(c.user, c.password)
	} else {
		u.User = url.User(c.user)
	}
	return u.String()
}

// StartMessageDB returns the configured Message DB database. It skips the
// test in short mode, when no database is configured, when the database
// cannot be reached within the timeout, or when Message DB is not installed.
// It returns nil only after t.Skipf, which stops a real test.
func StartMessageDB(t Skipper, opts ...Option) *MessageDB {
	t.Helper()

	if testing.Short() {
		t.Skipf("Skipping integration test in short mode")
		return nil
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	connStr := cfg.connectionString()
	if connStr == "" {
		t.Skipf("TEST_DATABASE_URL not set, skipping integration test")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	db, err := waitForDatabase(ctx, connStr)
	if err != nil {
		t.Skipf("Message DB not available: %v", err)
		return nil
	}
	defer db.Close()

	version, err := messageStoreVersion(ctx, db, cfg.schema)
	if err != nil {
		t.Skipf("Message DB is not installed in schema %s: %v", cfg.schema, err)
		return nil
	}

	return &MessageDB{connStr: connStr, schema: cfg.schema, version: version}
}

// ConnectionString returns the connection string of the database.
func (m *MessageDB) ConnectionString() string {
	return m.connStr
}

// Schema returns the schema holding the Message DB functions.
func (m *MessageDB) Schema() string {
	return m.schema
}

// Version returns the installed Message DB version, e.g. "1.3.0".
func (m *MessageDB) Version() string {
	return m.version
}

// DB opens a new connection pool to the database.
func (m *MessageDB) DB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("pgx", m.connStr)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to open connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("containers: failed to ping database: %w", err)
	}

	return db, nil
}

// UniqueCategory returns a category name no earlier test run has written
// to. Message DB never deletes messages, so tests isolate by category.
func UniqueCategory(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// waitForDatabase pings connStr until it answers or ctx ends.
func waitForDatabase(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := db.PingContext(ctx)
		if err == nil {
			return db, nil
		}

		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// messageStoreVersion reads the version reported by Message DB in schema.
func messageStoreVersion(ctx context.Context, db *sql.DB, schema string) (string, error) {
	query := fmt.Sprintf("SELECT %s.message_store_version()", pgx.Identifier{schema}.Sanitize())

	var version string
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return "", err
	}
	return version, nil
}
