package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/cli/styles"
)

// messageJSON is the line format of --json output.
type messageJSON struct {
	ID             string            `json:"id"`
	StreamName     string            `json:"stream_name"`
	Type           string            `json:"type"`
	Position       int64             `json:"position"`
	GlobalPosition int64             `json:"global_position"`
	Data           map[string]any    `json:"data"`
	Metadata       eventide.Metadata `json:"metadata"`
	Time           time.Time         `json:"time"`
}

// printMessage writes one message as a styled listing entry or a JSON line.
func printMessage(w io.Writer, msg eventide.Message, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(messageJSON{
			ID:             msg.ID,
			StreamName:     msg.StreamName,
			Type:           msg.Type,
			Position:       msg.Position,
			GlobalPosition: msg.GlobalPosition,
			Data:           msg.Data,
			Metadata:       msg.Metadata,
			Time:           msg.Time,
		})
	}

	fmt.Fprintln(w, styles.FormatMessageLine(msg.Position, msg.GlobalPosition, msg.Type, msg.StreamName))
	if len(msg.Data) > 0 {
		data, err := json.Marshal(msg.Data)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, styles.Payload.Render(string(data)))
	}
	return nil
}

// readFlags are shared by the read and category commands.
type readFlags struct {
	from      int64
	batchSize int64
	limit     int
	condition string
	asJSON    bool
}

func (f *readFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&f.from, "from", "f", 0, "First position to read")
	cmd.Flags().Int64VarP(&f.batchSize, "batch-size", "b", 0, "Messages fetched per round trip, -1 for all (default: config)")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "Maximum messages to show (0 for all)")
	cmd.Flags().StringVar(&f.condition, "condition", "", "SQL condition (requires message_store.sql_condition)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print one JSON object per line")
}

func (f *readFlags) options(cmd *cobra.Command) []eventide.ReadOption {
	var opts []eventide.ReadOption
	if cmd.Flags().Changed("from") {
		opts = append(opts, eventide.FromPosition(f.from))
	}
	if f.batchSize != 0 {
		opts = append(opts, eventide.BatchSize(f.batchSize))
	}
	if f.condition != "" {
		opts = append(opts, eventide.WithCondition(f.condition))
	}
	return opts
}

// printMessages drains seq up to the limit and reports how many were shown.
func (f *readFlags) printMessages(w io.Writer, seq iter.Seq2[eventide.Message, error]) (int, error) {
	count := 0
	for msg, err := range seq {
		if err != nil {
			return count, err
		}
		if err := printMessage(w, msg, f.asJSON); err != nil {
			return count, err
		}
		count++
		if f.limit > 0 && count >= f.limit {
			break
		}
	}
	return count, nil
}

func newReadCommand(a *app) *cobra.Command {
	var flags readFlags

	cmd := &cobra.Command{
		Use:   "read <stream>",
		Short: "Read the messages of a stream",
		Long: `Read a stream forward from a position.

Examples:
  eventide read account-123                 # Whole stream
  eventide read account-123 --from 10 -n 5  # Five messages from position 10
  eventide read account-123 --json          # JSON lines`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamName := args[0]

			store, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			count, err := flags.printMessages(out, store.GetStreamMessages(cmd.Context(), streamName, flags.options(cmd)...))
			if err != nil {
				return err
			}

			if count == 0 && !flags.asJSON {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No messages in stream '%s'", streamName)))
			}
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func newCategoryCommand(a *app) *cobra.Command {
	var (
		flags       readFlags
		correlation string
		member      int64
		size        int64
	)

	cmd := &cobra.Command{
		Use:   "category <category>",
		Short: "Read the messages of a category",
		Long: `Read every stream of a category in global position order.

Examples:
  eventide category account                          # Whole category
  eventide category account --correlation order      # Correlated with order streams
  eventide category account --member 0 --size 3      # First of three consumers`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := args[0]

			opts := flags.options(cmd)
			if correlation != "" {
				opts = append(opts, eventide.WithCorrelation(correlation))
			}
			if size > 0 {
				opts = append(opts, eventide.ForConsumerGroup(eventide.ConsumerGroup{Member: member, Size: size}))
			}

			store, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			count, err := flags.printMessages(out, store.GetCategoryMessages(cmd.Context(), category, opts...))
			if err != nil {
				return err
			}

			if count == 0 && !flags.asJSON {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No messages in category '%s'", category)))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&correlation, "correlation", "", "Only messages correlated with this category")
	cmd.Flags().Int64Var(&member, "member", 0, "Consumer group member (0-based)")
	cmd.Flags().Int64Var(&size, "size", 0, "Consumer group size")

	return cmd
}

func newLastCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "last [stream]",
		Short: "Show the last message of a stream, or of the whole store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var msg *eventide.Message
			if len(args) == 1 {
				msg, err = store.GetLastStreamMessage(cmd.Context(), args[0])
			} else {
				msg, err = store.GetLastMessage(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if msg == nil {
				fmt.Fprintln(out, styles.FormatInfo("No messages found"))
				return nil
			}
			return printMessage(out, *msg, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the message as JSON")

	return cmd
}

func newStreamVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stream-version <stream>",
		Short: "Show the position of the last message in a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			version, err := store.GetStreamVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if version == nil {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("Stream '%s' has no messages", args[0])))
				return nil
			}
			fmt.Fprintln(out, styles.FormatKeyValue("Stream Version", fmt.Sprint(*version)))
			return nil
		},
	}
}

func newCategoryVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "category-version <category>",
		Short: "Show the global position of the last message in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			version, err := store.GetCategoryVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if version == nil {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("Category '%s' has no messages", args[0])))
				return nil
			}
			fmt.Fprintln(out, styles.FormatKeyValue("Category Version", fmt.Sprint(*version)))
			return nil
		},
	}
}
