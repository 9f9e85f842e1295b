package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/adapters"
	"github.com/AshkanYarmoradi/go-eventide/testing/containers"
)

// getTestGateway returns a gateway connected to a Message DB database.
// Set TEST_DATABASE_URL environment variable to run integration tests.
func getTestGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()

	m := containers.StartMessageDB(t)

	gw, err := NewGateway(m.ConnectionString(), append([]Option{WithSchema(m.Schema())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	return gw
}

func TestNewGateway(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		gw, err := NewGateway("postgres://localhost/message_store")
		require.NoError(t, err)
		defer gw.Close()

		assert.Equal(t, DefaultSchema, gw.Schema())
		assert.NotNil(t, gw.DB())
	})

	t.Run("pool options", func(t *testing.T) {
		gw, err := NewGateway("postgres://localhost/message_store",
			WithMaxConnections(7),
			WithMaxIdleConnections(3),
			WithConnectionMaxLifetime(time.Minute))
		require.NoError(t, err)
		defer gw.Close()

		assert.Equal(t, 7, gw.DB().Stats().MaxOpenConnections)
	})

	t.Run("lib/pq driver", func(t *testing.T) {
		gw, err := NewGateway("postgres://localhost/message_store?sslmode=disable", WithDriver(DriverPq))
		require.NoError(t, err)
		defer gw.Close()

		assert.IsType(t, &pq.Driver{}, gw.DB().Driver())
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := NewGateway("postgres://localhost", WithDriver("nope"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "eventide/postgres")
	})
}

func TestBuildStatements(t *testing.T) {
	statements := buildStatements("my_store")

	t.Run("covers every procedure", func(t *testing.T) {
		for _, proc := range []string{
			adapters.ProcWriteMessage,
			adapters.ProcGetStreamMessages,
			adapters.ProcGetCategoryMessages,
			adapters.ProcGetLastStreamMessage,
			adapters.ProcStreamVersion,
			adapters.ProcCategoryVersion,
			adapters.ProcMessageStoreVersion,
			adapters.ProcHash64,
			adapters.ProcAcquireLock,
			adapters.ProcLastMessage,
			adapters.ProcTypeSummary,
			adapters.ProcCategoryTypeSummary,
		} {
			stmt, ok := statements[proc]
			assert.True(t, ok, proc)
			assert.Contains(t, stmt.query, `"my_store".`, proc)
		}
	})

	t.Run("scalar functions alias their column", func(t *testing.T) {
		assert.Equal(t,
			`SELECT "my_store".stream_version($1::varchar) AS stream_version`,
			statements[adapters.ProcStreamVersion].query)
		assert.Equal(t,
			`SELECT "my_store".message_store_version() AS message_store_version`,
			statements[adapters.ProcMessageStoreVersion].query)
	})

	t.Run("arity matches placeholders", func(t *testing.T) {
		for proc, stmt := range statements {
			if stmt.arity == 0 {
				assert.NotContains(t, stmt.query, "$1", proc)
				continue
			}
			assert.Contains(t, stmt.query, fmt.Sprintf("$%d", stmt.arity), proc)
			assert.NotContains(t, stmt.query, fmt.Sprintf("$%d", stmt.arity+1), proc)
		}
	})

	t.Run("schema is quoted", func(t *testing.T) {
		stmt := buildStatements(`odd"name`)[adapters.ProcHash64]

		assert.Contains(t, stmt.query, `"odd""name".hash_64`)
	})
}

func TestGateway_CallValidation(t *testing.T) {
	gw, err := NewGateway("postgres://localhost/message_store")
	require.NoError(t, err)
	defer gw.Close()

	t.Run("unknown procedure", func(t *testing.T) {
		_, err := gw.Call(context.Background(), "drop_database")

		assert.ErrorIs(t, err, adapters.ErrUnknownProcedure)
	})

	t.Run("too many arguments", func(t *testing.T) {
		_, err := gw.Call(context.Background(), adapters.ProcHash64, "a", "b")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "takes 1 arguments")
	})
}

func TestGateway_Close(t *testing.T) {
	gw, err := NewGateway("postgres://localhost/message_store")
	require.NoError(t, err)

	require.NoError(t, gw.Close())
	require.NoError(t, gw.Close())

	_, err = gw.Call(context.Background(), adapters.ProcHash64, "x")
	assert.ErrorIs(t, err, adapters.ErrConnection)
	assert.ErrorIs(t, err, adapters.ErrGatewayClosed)

	err = gw.InTx(context.Background(), func(ctx context.Context, tx adapters.Caller) error { return nil })
	assert.ErrorIs(t, err, adapters.ErrConnection)

	assert.ErrorIs(t, gw.Ping(context.Background()), adapters.ErrConnection)
}

func TestClassify(t *testing.T) {
	gw := &Gateway{}
	ctx := context.Background()

	t.Run("pgx server error becomes store error", func(t *testing.T) {
		err := gw.classify(ctx, adapters.ProcWriteMessage, &pgconn.PgError{
			Code:    "P0001",
			Message: "Wrong expected version: 0 (Stream: a-1, Stream Version: 1)",
		})

		var storeErr *adapters.StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "P0001", storeErr.Code)
		assert.Equal(t, adapters.ProcWriteMessage, storeErr.Procedure)
		assert.Contains(t, storeErr.Message, "Wrong expected version")
	})

	t.Run("lib/pq server error becomes store error", func(t *testing.T) {
		err := gw.classify(ctx, adapters.ProcWriteMessage, &pq.Error{Code: "23505", Message: "duplicate key"})

		var storeErr *adapters.StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "23505", storeErr.Code)
	})

	t.Run("connection classes become connection errors", func(t *testing.T) {
		for _, code := range []string{"08006", "28P01", "53300", "57P01"} {
			err := gw.classify(ctx, adapters.ProcHash64, &pgconn.PgError{Code: code})

			assert.ErrorIs(t, err, adapters.ErrConnection, code)
		}
	})

	t.Run("network failures become connection errors", func(t *testing.T) {
		for _, cause := range []error{
			driver.ErrBadConn,
			sql.ErrConnDone,
			io.ErrUnexpectedEOF,
			fmt.Errorf("read: %w", io.EOF),
		} {
			err := gw.classify(ctx, adapters.ProcHash64, cause)

			assert.ErrorIs(t, err, adapters.ErrConnection)
			assert.ErrorIs(t, err, cause)
		}
	})

	t.Run("context cancellation is returned unchanged", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := gw.classify(cctx, adapters.ProcHash64, fmt.Errorf("query: %w", context.Canceled))

		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, adapters.ErrConnection)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		cause := errors.New("sql: Scan error")

		assert.Same(t, cause, gw.classify(ctx, adapters.ProcHash64, cause))
	})
}

// =============================================================================
// Integration tests
// =============================================================================

func TestGateway_Integration(t *testing.T) {
	gw := getTestGateway(t)
	store := eventide.New(gw)
	ctx := context.Background()
	category := containers.UniqueCategory("account")
	stream := category + "-1"

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, gw.Ping(ctx))
	})

	t.Run("write and read", func(t *testing.T) {
		position, err := store.WriteMessage(ctx, stream, "Checking", map[string]any{"balance": 5.0})
		require.NoError(t, err)
		assert.Equal(t, int64(0), position)

		last, err := store.GetLastStreamMessage(ctx, stream)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, "Checking", last.Type)
		assert.Equal(t, int64(0), last.Position)
		assert.NotEmpty(t, last.ID)
		assert.Equal(t, 5.0, last.Data["balance"])
	})

	t.Run("expected version conflict", func(t *testing.T) {
		_, err := store.WriteMessage(ctx, stream, "Checking", nil, eventide.ExpectVersion(eventide.NoStream))

		var conflict *eventide.ConcurrencyError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, stream, conflict.StreamName)
		assert.Equal(t, int64(0), conflict.Actual)
	})

	t.Run("batch is atomic", func(t *testing.T) {
		msgs := []eventide.Message{
			eventide.NewMessage("", "A", nil),
			eventide.NewMessage("", "B", nil),
		}

		_, err := store.WriteMessageBatch(ctx, stream, msgs, eventide.ExpectVersion(5))
		require.ErrorIs(t, err, eventide.ErrConcurrencyConflict)

		version, err := store.GetStreamVersion(ctx, stream)
		require.NoError(t, err)
		assert.Equal(t, int64(0), *version)

		last, err := store.WriteMessageBatch(ctx, stream, msgs, eventide.ExpectVersion(0))
		require.NoError(t, err)
		assert.Equal(t, int64(2), last)
	})

	t.Run("category reads and versions", func(t *testing.T) {
		_, err := store.WriteMessage(ctx, category+"-2", "Opened", nil)
		require.NoError(t, err)

		var msgs []eventide.Message
		for msg, err := range store.GetCategoryMessages(ctx, category, eventide.BatchSize(2)) {
			require.NoError(t, err)
			msgs = append(msgs, msg)
		}
		require.Len(t, msgs, 4)

		version, err := store.GetCategoryVersion(ctx, category)
		require.NoError(t, err)
		require.NotNil(t, version)
		assert.Equal(t, msgs[3].GlobalPosition, *version)
	})

	t.Run("hash matches client", func(t *testing.T) {
		for _, value := range []string{"", "1", category} {
			h, err := store.StoreHash64(ctx, value)
			require.NoError(t, err)
			assert.Equal(t, eventide.Hash64(value), h)
		}
	})

	t.Run("message store version", func(t *testing.T) {
		version, err := store.MessageStoreVersion(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, version)
	})

	t.Run("missing stream", func(t *testing.T) {
		version, err := store.GetStreamVersion(ctx, category+"-404")
		require.NoError(t, err)
		assert.Nil(t, version)
	})
}
