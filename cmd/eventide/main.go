// eventide is the command-line interface for a Message DB message store.
//
// Usage:
//
//	eventide <command> [flags]
//
// Commands:
//
//	write             Write a message to a stream
//	read              Read a stream
//	category          Read a category
//	last              Show the last message of a stream or the store
//	stream-version    Show the version of a stream
//	category-version  Show the version of a category
//	stats             Show message counts by type
//	tail              Follow a category with a consumer
//	diagnose          Run diagnostic checks
//	version           Show version information
//
// Examples:
//
//	# Write a message
//	eventide write account-123 Deposited '{"amount":10}'
//
//	# Read it back
//	eventide read account-123
//
//	# Follow the account category as one of two consumers
//	eventide tail account --member 0 --size 2
package main

import (
	"os"

	"github.com/AshkanYarmoradi/go-eventide/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
