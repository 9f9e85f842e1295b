// Package eventide is a client for the Message DB event store: a PostgreSQL
// schema that stores messages in append-only streams and exposes reads and
// writes as server-side functions.
//
// # Quick Start
//
// Create a message store with the in-memory gateway for development:
//
//	import (
//	    "github.com/AshkanYarmoradi/go-eventide"
//	    "github.com/AshkanYarmoradi/go-eventide/adapters/memory"
//	)
//
//	store := eventide.New(memory.NewGateway())
//
// For production, connect to Message DB:
//
//	import (
//	    "github.com/AshkanYarmoradi/go-eventide"
//	    "github.com/AshkanYarmoradi/go-eventide/adapters/postgres"
//	)
//
//	gw, err := postgres.NewGateway(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := eventide.New(gw)
//	defer store.Close()
//
// # Stream Names
//
// A stream name is a category, optionally qualified by types and an id:
//
//	account                  category
//	account-123              entity stream
//	account:command-123      entity stream of the "command" type
//	account-123+456          compound id
//
// Use ParseStreamName and StreamName.String to move between text and parts.
//
// # Writing
//
//	position, err := store.WriteMessage(ctx, "account-123", "Deposited",
//	    map[string]any{"amount": 10},
//	    eventide.ExpectVersion(eventide.NoStream))
//
// A write with an expected version fails with a *ConcurrencyError when the
// stream has moved on. Conflicts are never retried by the store: re-read the
// stream and decide again.
//
// WriteMessageBatch writes several messages in one transaction. The expected
// version applies to the batch as a whole.
//
// # Reading
//
// Reads return lazy sequences that fetch one batch per round trip:
//
//	for msg, err := range store.GetStreamMessages(ctx, "account-123") {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(msg.Position, msg.Type)
//	}
//
// # Consumers
//
// A Consumer polls a category in global position order:
//
//	consumer := eventide.NewConsumer(store, "account", handle,
//	    eventide.WithConsumerGroup(0, 2))
//	err := consumer.Run(ctx)
//
// Members of a consumer group split the category's streams between them
// using the store's hash_64 of each stream's cardinal id.
package eventide

// Version returns the library version string.
func Version() string {
	return "0.1.0"
}

// BuildStreamName creates an entity stream name from a category and an id.
// This follows the convention: "{category}-{id}"
func BuildStreamName(category, id string) string {
	return category + "-" + id
}
