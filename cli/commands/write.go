package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/cli/styles"
)

func newWriteCommand(a *app) *cobra.Command {
	var (
		metadata        string
		id              string
		expectedVersion int64
	)

	cmd := &cobra.Command{
		Use:   "write <stream> <type> [data]",
		Short: "Write a message to a stream",
		Long: `Write a message to a stream. Data and metadata are JSON objects.

Examples:
  eventide write account-123 Opened
  eventide write account-123 Deposited '{"amount":10}'
  eventide write account-123 Deposited '{"amount":10}' --expected-version 0
  eventide write account-123 Withdrawn '{"amount":5}' --metadata '{"correlationStreamName":"order-9"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamName, messageType := args[0], args[1]

			var data map[string]any
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &data); err != nil {
					return fmt.Errorf("invalid data: %w", err)
				}
			}

			var opts []eventide.WriteOption
			if metadata != "" {
				var m eventide.Metadata
				if err := json.Unmarshal([]byte(metadata), &m); err != nil {
					return fmt.Errorf("invalid metadata: %w", err)
				}
				opts = append(opts, eventide.WithMetadata(m))
			}
			if id != "" {
				opts = append(opts, eventide.WithID(id))
			}
			if cmd.Flags().Changed("expected-version") {
				opts = append(opts, eventide.ExpectVersion(expectedVersion))
			}

			store, cleanup, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			position, err := store.WriteMessage(cmd.Context(), streamName, messageType, data, opts...)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess(
				fmt.Sprintf("Wrote %s to %s at position %d", messageType, streamName, position)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&metadata, "metadata", "m", "", "Metadata as a JSON object")
	cmd.Flags().StringVar(&id, "id", "", "Message id (default: random UUID)")
	cmd.Flags().Int64VarP(&expectedVersion, "expected-version", "e", eventide.NoStream, "Required stream version, -1 for a new stream")

	return cmd
}
