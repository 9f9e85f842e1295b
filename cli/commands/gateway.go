package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/adapters"
	"github.com/AshkanYarmoradi/go-eventide/adapters/memory"
	"github.com/AshkanYarmoradi/go-eventide/adapters/postgres"
	"github.com/AshkanYarmoradi/go-eventide/cli/config"
)

// URLEnv names the environment variable that overrides the configured
// connection.
const URLEnv = "MESSAGE_STORE_URL"

// pingTimeout bounds the connectivity check made when a gateway is opened.
const pingTimeout = 5 * time.Second

// init resolves the configuration for this invocation: the config file,
// then the environment, then flags.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if url := os.Getenv(URLEnv); url != "" {
		cfg.Database.URL = url
	}
	if a.url != "" {
		cfg.Database.URL = a.url
	}
	if a.driver != "" {
		cfg.Database.Driver = a.driver
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Logging)
	return nil
}

// loadConfig loads path, or the nearest eventide.yaml when path is empty.
// Defaults are used when no config file exists.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	_, cfg, err := config.FindConfig(cwd)
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

// newLogger builds the structured logger described by cfg.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openGateway connects to the configured message store. Postgres
// connections are pinged with a short timeout to fail fast on bad settings.
func (a *app) openGateway(ctx context.Context) (adapters.Gateway, func(), error) {
	if a.gateway != nil {
		return a.gateway, func() {}, nil
	}

	db := a.cfg.Database
	switch db.Driver {
	case config.DriverPgx, config.DriverPq:
		gw, err := postgres.NewGateway(db.DSN(),
			postgres.WithDriver(db.Driver),
			postgres.WithSchema(db.Schema),
			postgres.WithMaxConnections(db.MaxConnections),
			postgres.WithMaxIdleConnections(db.MaxIdleConnections),
			postgres.WithConnectionMaxLifetime(db.ConnMaxLifetime),
			postgres.WithLogger(a.logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres gateway: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := gw.Ping(pingCtx); err != nil {
			_ = gw.Close()
			return nil, nil, fmt.Errorf("failed to connect to message store: %w", err)
		}

		return gw, func() { _ = gw.Close() }, nil

	case config.DriverMemory:
		gw := memory.NewGateway()
		return gw, func() { _ = gw.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", db.Driver)
	}
}

// openStore opens a gateway, applies wrappers in order and returns a
// message store on top of it with a cleanup function.
func (a *app) openStore(ctx context.Context, wrappers ...func(adapters.Gateway) adapters.Gateway) (*eventide.MessageStore, func(), error) {
	gw, cleanup, err := a.openGateway(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, wrap := range wrappers {
		gw = wrap(gw)
	}

	store := eventide.New(gw,
		eventide.WithLogger(eventide.NewSlogLogger(a.logger)),
		eventide.WithDefaultBatchSize(a.cfg.Consumer.BatchSize))

	return store, cleanup, nil
}
