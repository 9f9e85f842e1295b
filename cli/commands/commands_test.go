package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/adapters"
	"github.com/AshkanYarmoradi/go-eventide/adapters/memory"
	"github.com/AshkanYarmoradi/go-eventide/relay"
)

// execute runs the CLI against gw and returns what it printed.
func execute(t *testing.T, ctx context.Context, gw adapters.Gateway, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(URLEnv, "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&app{gateway: gw})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--no-color"}, args...))

	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func run(t *testing.T, gw adapters.Gateway, args ...string) (string, error) {
	t.Helper()
	out, _, err := execute(t, context.Background(), gw, args...)
	return out, err
}

func decodeLines(t *testing.T, out string) []messageJSON {
	t.Helper()
	var msgs []messageJSON
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var m messageJSON
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		msgs = append(msgs, m)
	}
	return msgs
}

func seed(t *testing.T, gw adapters.Gateway, streams ...string) {
	t.Helper()
	store := eventide.New(gw)
	for i, s := range streams {
		_, err := store.WriteMessage(context.Background(), s, "Deposited", map[string]any{"i": i})
		require.NoError(t, err)
	}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	for _, expected := range []string{"write", "read", "category", "last", "stream-version",
		"category-version", "stats", "tail", "relay", "diagnose", "version"} {
		assert.Contains(t, names, expected)
	}
}

func TestConfigResolution(t *testing.T) {
	t.Run("unknown driver is rejected", func(t *testing.T) {
		_, err := run(t, nil, "--driver", "mysql", "last")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("unreadable config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "eventide.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database: ["), 0600))

		_, err := run(t, nil, "--config", path, "last")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load config")
	})

	t.Run("memory driver from flags", func(t *testing.T) {
		out, err := run(t, nil, "--driver", "memory", "write", "account-1", "Opened")

		require.NoError(t, err)
		assert.Contains(t, out, "Wrote Opened to account-1 at position 0")
	})

	t.Run("memory driver from config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "eventide.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database: {driver: memory}\nlogging: {level: debug}\n"), 0600))

		_, stderr, err := execute(t, context.Background(), nil, "--config", path, "write", "account-1", "Opened")

		require.NoError(t, err)
		assert.Contains(t, stderr, "write message")
	})
}

func TestWriteCommand(t *testing.T) {
	t.Run("writes data and metadata", func(t *testing.T) {
		gw := memory.NewGateway()

		out, err := run(t, gw, "write", "account-1", "Deposited", `{"amount":10}`,
			"--metadata", `{"correlationStreamName":"order-9"}`)
		require.NoError(t, err)
		assert.Contains(t, out, "at position 0")

		msg, err := eventide.New(gw).GetLastStreamMessage(context.Background(), "account-1")
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, 10.0, msg.Data["amount"])
		assert.Equal(t, "order-9", msg.Metadata.CorrelationStreamName)
	})

	t.Run("expected version", func(t *testing.T) {
		gw := memory.NewGateway()

		_, err := run(t, gw, "write", "account-1", "Opened", "--expected-version", "-1")
		require.NoError(t, err)

		_, err = run(t, gw, "write", "account-1", "Opened", "-e", "-1")
		assert.ErrorIs(t, err, eventide.ErrConcurrencyConflict)

		out, err := run(t, gw, "write", "account-1", "Deposited", "-e", "0")
		require.NoError(t, err)
		assert.Contains(t, out, "at position 1")
	})

	t.Run("explicit id", func(t *testing.T) {
		gw := memory.NewGateway()
		id := "0c0b8c3a-4f2e-4c2c-9d5e-1a2b3c4d5e6f"

		_, err := run(t, gw, "write", "account-1", "Opened", "--id", id)
		require.NoError(t, err)

		msg, err := eventide.New(gw).GetLastStreamMessage(context.Background(), "account-1")
		require.NoError(t, err)
		assert.Equal(t, id, msg.ID)
	})

	t.Run("invalid data", func(t *testing.T) {
		_, err := run(t, memory.NewGateway(), "write", "account-1", "Opened", "{not json")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid data")
	})

	t.Run("invalid metadata", func(t *testing.T) {
		_, err := run(t, memory.NewGateway(), "write", "account-1", "Opened", "-m", "[]")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid metadata")
	})

	t.Run("malformed stream name", func(t *testing.T) {
		_, err := run(t, memory.NewGateway(), "write", "account:a:b-1", "Opened")

		assert.ErrorIs(t, err, eventide.ErrMalformedStreamName)
	})
}

func TestReadCommand(t *testing.T) {
	gw := memory.NewGateway()
	seed(t, gw, "account-1", "account-1", "account-2", "account-1", "account-1")

	t.Run("json lines", func(t *testing.T) {
		out, err := run(t, gw, "read", "account-1", "--json", "--batch-size", "2")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 4)
		for i, m := range msgs {
			assert.Equal(t, int64(i), m.Position)
			assert.Equal(t, "account-1", m.StreamName)
			assert.Equal(t, "Deposited", m.Type)
		}
	})

	t.Run("from and limit", func(t *testing.T) {
		out, err := run(t, gw, "read", "account-1", "--json", "--from", "1", "-n", "2")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(1), msgs[0].Position)
		assert.Equal(t, int64(2), msgs[1].Position)
	})

	t.Run("styled listing", func(t *testing.T) {
		out, err := run(t, gw, "read", "account-2")
		require.NoError(t, err)

		assert.Contains(t, out, "Deposited")
		assert.Contains(t, out, "#3")
		assert.Contains(t, out, `{"i":2}`)
	})

	t.Run("empty stream", func(t *testing.T) {
		out, err := run(t, gw, "read", "account-404")
		require.NoError(t, err)

		assert.Contains(t, out, "No messages in stream 'account-404'")
	})

	t.Run("category is not a stream", func(t *testing.T) {
		_, err := run(t, gw, "read", "account")

		assert.ErrorIs(t, err, eventide.ErrStore)
	})
}

func TestCategoryCommand(t *testing.T) {
	gw := memory.NewGateway()
	seed(t, gw, "account-1", "account-2", "account-3", "account-4", "account-1", "order-1")

	t.Run("whole category", func(t *testing.T) {
		out, err := run(t, gw, "category", "account", "--json")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 5)
		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i].GlobalPosition, msgs[i-1].GlobalPosition)
		}
	})

	t.Run("consumer group members split the category", func(t *testing.T) {
		total := 0
		for _, member := range []string{"0", "1"} {
			out, err := run(t, gw, "category", "account", "--json", "--member", member, "--size", "2")
			require.NoError(t, err)
			total += len(decodeLines(t, out))
		}

		assert.Equal(t, 5, total)
	})

	t.Run("invalid group", func(t *testing.T) {
		_, err := run(t, gw, "category", "account", "--member", "2", "--size", "2")

		assert.ErrorIs(t, err, eventide.ErrInvalidConsumerGroup)
	})

	t.Run("empty category", func(t *testing.T) {
		out, err := run(t, gw, "category", "invoice")
		require.NoError(t, err)

		assert.Contains(t, out, "No messages in category 'invoice'")
	})
}

func TestLastAndVersionCommands(t *testing.T) {
	gw := memory.NewGateway()
	seed(t, gw, "account-1", "account-1", "order-1")

	t.Run("last in stream", func(t *testing.T) {
		out, err := run(t, gw, "last", "account-1", "--json")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 1)
		assert.Equal(t, int64(1), msgs[0].Position)
	})

	t.Run("last in store", func(t *testing.T) {
		out, err := run(t, gw, "last", "--json")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 1)
		assert.Equal(t, "order-1", msgs[0].StreamName)
		assert.Equal(t, int64(3), msgs[0].GlobalPosition)
	})

	t.Run("last in empty stream", func(t *testing.T) {
		out, err := run(t, gw, "last", "account-404")
		require.NoError(t, err)

		assert.Contains(t, out, "No messages found")
	})

	t.Run("stream version", func(t *testing.T) {
		out, err := run(t, gw, "stream-version", "account-1")
		require.NoError(t, err)

		assert.Contains(t, out, "Stream Version:")
		assert.Contains(t, out, "1")
	})

	t.Run("missing stream version", func(t *testing.T) {
		out, err := run(t, gw, "stream-version", "account-404")
		require.NoError(t, err)

		assert.Contains(t, out, "has no messages")
	})

	t.Run("category version", func(t *testing.T) {
		out, err := run(t, gw, "category-version", "account")
		require.NoError(t, err)

		assert.Contains(t, out, "Category Version:")
		assert.Contains(t, out, "2")
	})

	t.Run("missing category version", func(t *testing.T) {
		out, err := run(t, gw, "category-version", "invoice")
		require.NoError(t, err)

		assert.Contains(t, out, "Category 'invoice' has no messages")
	})
}

func TestStatsCommand(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		out, err := run(t, memory.NewGateway(), "stats")
		require.NoError(t, err)

		assert.Contains(t, out, "empty")
	})

	t.Run("by type", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1", "account-2", "order-1", "order-2")

		out, err := run(t, gw, "stats")
		require.NoError(t, err)

		assert.Contains(t, out, "Deposited")
		assert.Contains(t, out, "4 (100.00%)")
		assert.Contains(t, out, "Categories:")
	})

	t.Run("by category", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1", "account-2", "order-1", "order-2")

		out, err := run(t, gw, "stats", "--by-category")
		require.NoError(t, err)

		assert.Contains(t, out, "account Deposited")
		assert.Contains(t, out, "order Deposited")
		assert.Contains(t, out, "2 (50.00%)")
		assert.Less(t, strings.Index(out, "account"), strings.Index(out, "order"))
	})
}

func TestTailCommand(t *testing.T) {
	t.Run("once", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1", "account-2", "order-1")

		out, err := run(t, gw, "tail", "account", "--once", "--json")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 2)
		assert.Equal(t, "account-1", msgs[0].StreamName)
	})

	t.Run("once from position", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1", "account-2", "account-3")

		out, err := run(t, gw, "tail", "account", "--once", "--json", "--from", "2")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(2), msgs[0].GlobalPosition)
	})

	t.Run("empty category", func(t *testing.T) {
		out, err := run(t, memory.NewGateway(), "tail", "account", "--once")
		require.NoError(t, err)

		assert.Contains(t, out, "No messages in category 'account'")
	})

	t.Run("runs until cancelled and records position", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1", "account-2", "account-3")

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		out, _, err := execute(t, ctx, gw, "tail", "account", "--json", "--consumer-id", "auditor")
		require.NoError(t, err)
		assert.Len(t, decodeLines(t, out), 3)

		last, err := eventide.New(gw).GetLastStreamMessage(context.Background(), "account:position-auditor")
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, eventide.PositionMessageType, last.Type)
		assert.EqualValues(t, 3, last.Data["position"])
	})

	t.Run("resumes from recorded position", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1", "account-2")

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		_, _, err := execute(t, ctx, gw, "tail", "account", "--json", "--consumer-id", "auditor")
		cancel()
		require.NoError(t, err)

		seed(t, gw, "account-3")

		ctx, cancel = context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		out, _, err := execute(t, ctx, gw, "tail", "account", "--json", "--consumer-id", "auditor")
		require.NoError(t, err)

		msgs := decodeLines(t, out)
		require.Len(t, msgs, 1)
		assert.Equal(t, "account-3", msgs[0].StreamName)
	})

	t.Run("trace prints spans", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1")

		_, stderr, err := execute(t, context.Background(), gw, "tail", "account", "--once", "--trace")
		require.NoError(t, err)

		assert.Contains(t, stderr, "messagestore.get_category_messages")
		assert.Contains(t, stderr, "consumer.account.handle")
	})

	t.Run("serves metrics", func(t *testing.T) {
		gw := memory.NewGateway()
		seed(t, gw, "account-1")

		_, stderr, err := execute(t, context.Background(), gw, "tail", "account", "--once", "--metrics-addr", "127.0.0.1:0")
		require.NoError(t, err)

		assert.Contains(t, stderr, "serving metrics")
	})

	t.Run("malformed position consumer", func(t *testing.T) {
		_, err := run(t, memory.NewGateway(), "tail", "account-1", "--once", "--consumer-id", "x")

		assert.ErrorIs(t, err, eventide.ErrMalformedStreamName)
	})
}

func TestRelayCommand(t *testing.T) {
	t.Run("webhook once", func(t *testing.T) {
		var (
			mu       sync.Mutex
			received []string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			received = append(received, r.Header.Get("X-Eventide-"+relay.HeaderStreamName))
			mu.Unlock()
		}))
		defer server.Close()

		gw := memory.NewGateway()
		seed(t, gw, "account-1", "order-1", "account-2")

		out, err := run(t, gw, "relay", "account", "--webhook", server.URL, "--once")
		require.NoError(t, err)

		assert.Contains(t, out, "Relayed 2 messages from account")
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"account-1", "account-2"}, received)
	})

	t.Run("failed delivery", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		gw := memory.NewGateway()
		seed(t, gw, "account-1")

		_, err := run(t, gw, "relay", "account", "--webhook", server.URL, "--once")

		var handlerErr *eventide.HandlerError
		require.ErrorAs(t, err, &handlerErr)
		assert.Equal(t, "account-1", handlerErr.StreamName)
	})

	t.Run("requires one target", func(t *testing.T) {
		_, err := run(t, memory.NewGateway(), "relay", "account", "--once")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target is required")

		_, err = run(t, memory.NewGateway(), "relay", "account", "--once",
			"--webhook", "http://localhost", "--kafka", "localhost:9092")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not both")
	})
}

func TestDiagnoseCommand(t *testing.T) {
	t.Run("healthy store", func(t *testing.T) {
		out, err := run(t, memory.NewGateway(), "diagnose")
		require.NoError(t, err)

		assert.Contains(t, out, "Message DB Version")
		assert.Contains(t, out, "1.3.0")
		assert.Contains(t, out, "Client and store agree")
		assert.Contains(t, out, "All checks passed")
	})

	t.Run("closed gateway fails", func(t *testing.T) {
		gw := memory.NewGateway()
		require.NoError(t, gw.Close())

		out, err := run(t, gw, "diagnose")

		require.Error(t, err)
		assert.Contains(t, out, "FAILED")
	})
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, compareVersions([]int{1, 2}, []int{1, 2, 0}))
	assert.Equal(t, -1, compareVersions([]int{1, 1, 9}, []int{1, 2}))
	assert.Equal(t, 1, compareVersions([]int{1, 3, 0}, []int{1, 2}))
	assert.Equal(t, -1, compareVersions([]int{0, 0}, minimumStoreVersion))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewVersionCommand("1.2.3", "abc123", "2026-01-01")
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "1.2.3")
	assert.Contains(t, out.String(), "abc123")
	assert.Contains(t, out.String(), eventide.Version())
}
