package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/cli/styles"
	"github.com/AshkanYarmoradi/go-eventide/relay"
	"github.com/AshkanYarmoradi/go-eventide/relay/kafka"
	"github.com/AshkanYarmoradi/go-eventide/relay/webhook"
)

func newRelayCommand(a *app) *cobra.Command {
	var (
		kafkaBrokers string
		topic        string
		webhookURL   string
		timeout      time.Duration
		member       int64
		size         int64
		consumerID   string
		once         bool
	)

	cmd := &cobra.Command{
		Use:   "relay <category>",
		Short: "Forward a category to Kafka or a webhook",
		Long: `Consume a category and forward each message to Kafka or an HTTP endpoint.
A failed delivery is retried before any later message is sent.

Examples:
  eventide relay account --kafka localhost:9092                  # Topic "account"
  eventide relay account --kafka localhost:9092 --topic ledger
  eventide relay account --webhook https://example.com/hooks/accounts
  eventide relay account --webhook http://localhost:8080 --consumer-id hook`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := args[0]

			var publisher relay.Publisher
			switch {
			case kafkaBrokers != "" && webhookURL != "":
				return errors.New("use either --kafka or --webhook, not both")
			case kafkaBrokers != "":
				opts := []kafka.Option{kafka.WithBrokers(strings.Split(kafkaBrokers, ",")...)}
				if topic != "" {
					opts = append(opts, kafka.WithTopic(topic))
				}
				publisher = kafka.New(opts...)
			case webhookURL != "":
				publisher = webhook.New(webhookURL, webhook.WithTimeout(timeout))
			default:
				return errors.New("a target is required: --kafka or --webhook")
			}
			defer publisher.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, cleanup, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			relayed := 0
			handler := relay.Handler(publisher)

			settings := a.cfg.Consumer
			opts := []eventide.ConsumerOption{
				eventide.WithConsumerName("relay-" + category),
				eventide.WithConsumerLogger(eventide.NewSlogLogger(a.logger)),
				eventide.WithPollInterval(settings.PollInterval),
				eventide.WithEmptyBatchBackoff(settings.EmptyBackoff),
				eventide.WithConsumerBatchSize(settings.BatchSize),
				eventide.WithErrorHook(func(err error) {
					fmt.Fprintln(cmd.ErrOrStderr(), styles.FormatWarning(err.Error()))
				}),
			}
			if size > 0 {
				opts = append(opts, eventide.WithConsumerGroup(member, size))
			}
			if consumerID != "" {
				positions, err := eventide.NewStreamPositionStore(store, category, consumerID)
				if err != nil {
					return err
				}
				opts = append(opts,
					eventide.WithPositionStore(positions),
					eventide.WithPositionUpdateInterval(int(settings.PositionUpdateInterval)))
			}

			consumer := eventide.NewConsumer(store, category,
				func(ctx context.Context, msg eventide.Message) error {
					if err := handler(ctx, msg); err != nil {
						return err
					}
					relayed++
					return nil
				}, opts...)

			if once {
				if _, err := consumer.Poll(ctx); err != nil {
					return err
				}
			} else if err := consumer.Run(ctx); err != nil {
				return err
			}

			fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("Relayed %d messages from %s", relayed, category)))
			return nil
		},
	}

	cmd.Flags().StringVar(&kafkaBrokers, "kafka", "", "Comma-separated Kafka brokers")
	cmd.Flags().StringVar(&topic, "topic", "", "Kafka topic (default: the category)")
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "Endpoint receiving one POST per message")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Webhook request timeout")
	cmd.Flags().Int64Var(&member, "member", 0, "Consumer group member (0-based)")
	cmd.Flags().Int64Var(&size, "size", 0, "Consumer group size")
	cmd.Flags().StringVar(&consumerID, "consumer-id", "", "Record and resume the position under this id")
	cmd.Flags().BoolVar(&once, "once", false, "Relay a single batch and exit")

	return cmd
}
