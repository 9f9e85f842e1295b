package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, DriverPgx, cfg.Database.Driver)
	assert.Equal(t, "message_store", cfg.Database.Name)
	assert.Equal(t, "message_store", cfg.Database.Schema)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, int64(1000), cfg.Consumer.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Consumer.PollInterval)
	assert.Empty(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Config)
		wantErrors int
	}{
		{
			name:       "valid default config",
			modify:     func(c *Config) {},
			wantErrors: 0,
		},
		{
			name:       "valid URL without host",
			modify:     func(c *Config) { c.Database.Host = ""; c.Database.Port = 0; c.Database.URL = "postgres://localhost/db" },
			wantErrors: 0,
		},
		{
			name:       "valid memory driver",
			modify:     func(c *Config) { c.Database.Driver = DriverMemory; c.Database.Host = "" },
			wantErrors: 0,
		},
		{
			name:       "valid unlimited batch",
			modify:     func(c *Config) { c.Consumer.BatchSize = -1 },
			wantErrors: 0,
		},
		{
			name:       "missing driver",
			modify:     func(c *Config) { c.Database.Driver = "" },
			wantErrors: 1,
		},
		{
			name:       "invalid driver",
			modify:     func(c *Config) { c.Database.Driver = "mysql" },
			wantErrors: 1,
		},
		{
			name:       "postgres without host or URL",
			modify:     func(c *Config) { c.Database.Driver = DriverPq; c.Database.Host = "" },
			wantErrors: 1,
		},
		{
			name:       "bad port",
			modify:     func(c *Config) { c.Database.Port = 70000 },
			wantErrors: 1,
		},
		{
			name:       "missing schema",
			modify:     func(c *Config) { c.Database.Schema = "" },
			wantErrors: 1,
		},
		{
			name:       "zero batch size",
			modify:     func(c *Config) { c.Consumer.BatchSize = 0 },
			wantErrors: 1,
		},
		{
			name:       "negative durations",
			modify:     func(c *Config) { c.Consumer.PollInterval = -1; c.Consumer.EmptyBackoff = -1 },
			wantErrors: 2,
		},
		{
			name:       "bad logging",
			modify:     func(c *Config) { c.Logging.Level = "verbose"; c.Logging.Format = "xml" },
			wantErrors: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			errors := cfg.Validate()
			assert.Equal(t, tt.wantErrors, len(errors), "errors: %v", errors)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("URL overrides fields", func(t *testing.T) {
		d := DefaultConfig().Database
		d.URL = "postgres://u:p@db/message_store"

		assert.Equal(t, "postgres://u:p@db/message_store", d.DSN())
	})

	t.Run("keyword form", func(t *testing.T) {
		d := DefaultConfig().Database
		d.Password = "secret"

		assert.Equal(t, "host=localhost port=5432 user=message_store password=secret dbname=message_store", d.DSN())
	})

	t.Run("empty password is quoted", func(t *testing.T) {
		d := DefaultConfig().Database

		assert.Contains(t, d.DSN(), "password=''")
	})

	t.Run("special characters are escaped", func(t *testing.T) {
		d := DefaultConfig().Database
		d.Password = `it's a \secret`
		d.SSLMode = "disable"

		assert.Contains(t, d.DSN(), `password='it\'s a \\secret'`)
		assert.Contains(t, d.DSN(), "sslmode=disable")
	})
}

func TestParse(t *testing.T) {
	t.Run("overlays defaults", func(t *testing.T) {
		cfg, err := Parse([]byte(`
database:
  host: db.internal
consumer:
  poll_interval: 250ms
  batch_size: 50
`))
		require.NoError(t, err)

		assert.Equal(t, "db.internal", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, 250*time.Millisecond, cfg.Consumer.PollInterval)
		assert.Equal(t, int64(50), cfg.Consumer.BatchSize)
		assert.Equal(t, time.Second, cfg.Consumer.EmptyBackoff)
	})

	t.Run("expands environment", func(t *testing.T) {
		t.Setenv("EVENTIDE_TEST_URL", "postgres://env/message_store")

		cfg, err := Parse([]byte(`database: {url: "${EVENTIDE_TEST_URL}"}`))
		require.NoError(t, err)

		assert.Equal(t, "postgres://env/message_store", cfg.Database.DSN())
	})

	t.Run("invalid YAML", func(t *testing.T) {
		_, err := Parse([]byte("database: ["))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})
}

func TestConfig_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://localhost/test"
	cfg.Consumer.EmptyBackoff = 3 * time.Second

	require.NoError(t, cfg.Save(tmpDir))

	_, err := os.Stat(filepath.Join(tmpDir, ConfigFileName))
	require.NoError(t, err)

	loaded, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, cfg, loaded)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExists(t *testing.T) {
	tmpDir := t.TempDir()

	assert.False(t, Exists(tmpDir))

	require.NoError(t, DefaultConfig().Save(tmpDir))

	assert.True(t, Exists(tmpDir))
}

func TestFindConfig(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.Host = "root-host"
	require.NoError(t, cfg.Save(tmpDir))

	nested := filepath.Join(tmpDir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	foundDir, foundCfg, err := FindConfig(nested)
	require.NoError(t, err)

	assert.Equal(t, tmpDir, foundDir)
	assert.Equal(t, "root-host", foundCfg.Database.Host)
}

func TestGenerateYAML(t *testing.T) {
	t.Setenv("MESSAGE_STORE_URL", "")
	t.Setenv("MESSAGE_STORE_PASSWORD", "pw")

	out := GenerateYAML(DefaultConfig())

	assert.Contains(t, out, "# Eventide Configuration File")
	assert.Contains(t, out, "${MESSAGE_STORE_URL}")

	cfg, err := Parse([]byte(out))
	require.NoError(t, err)

	expected := DefaultConfig()
	expected.Database.Password = "pw"
	assert.Equal(t, expected, cfg)
}
