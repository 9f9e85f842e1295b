package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/adapters"
	"github.com/AshkanYarmoradi/go-eventide/cli/styles"
	"github.com/AshkanYarmoradi/go-eventide/middleware/metrics"
	"github.com/AshkanYarmoradi/go-eventide/middleware/tracing"
)

// tailServiceName labels metrics and spans emitted by the tail command.
const tailServiceName = "eventide-tail"

func newTailCommand(a *app) *cobra.Command {
	var (
		from        int64
		member      int64
		size        int64
		correlation string
		consumerID  string
		name        string
		once        bool
		asJSON      bool
		trace       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "tail <category>",
		Short: "Follow a category and print new messages",
		Long: `Follow a category with a consumer, printing each message as it arrives.
Stops on Ctrl+C.

Examples:
  eventide tail account
  eventide tail account --member 0 --size 2        # Half of the streams
  eventide tail account --consumer-id auditor      # Resume from a recorded position
  eventide tail account --metrics-addr :9090       # Serve Prometheus metrics
  eventide tail account --trace                    # Print spans to stderr`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := args[0]
			if name == "" {
				name = category
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var handler eventide.MessageHandler = func(ctx context.Context, msg eventide.Message) error {
				return printMessage(out, msg, asJSON)
			}

			var (
				wrappers     []func(adapters.Gateway) adapters.Gateway
				consumerOpts []eventide.ConsumerOption
			)

			if trace {
				exporter, err := stdouttrace.New(
					stdouttrace.WithWriter(cmd.ErrOrStderr()),
					stdouttrace.WithPrettyPrint())
				if err != nil {
					return fmt.Errorf("failed to create trace exporter: %w", err)
				}

				tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
				defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

				tracer := tracing.NewTracer(
					tracing.WithTracerProvider(tp),
					tracing.WithServiceName(tailServiceName))
				wrappers = append(wrappers, func(gw adapters.Gateway) adapters.Gateway {
					return tracing.WrapGateway(gw, tracer)
				})
				handler = tracing.HandlerMiddleware(tracer, name, handler)
			}

			if metricsAddr != "" {
				m := metrics.New(metrics.WithMetricsServiceName(tailServiceName))
				shutdown, err := a.serveMetrics(m, metricsAddr)
				if err != nil {
					return err
				}
				defer shutdown()

				wrappers = append(wrappers, m.WrapGateway)
				consumerOpts = append(consumerOpts, eventide.WithConsumerObserver(m))
			}

			store, cleanup, err := a.openStore(ctx, wrappers...)
			if err != nil {
				return err
			}
			defer cleanup()

			settings := a.cfg.Consumer
			consumerOpts = append(consumerOpts,
				eventide.WithConsumerName(name),
				eventide.WithConsumerLogger(eventide.NewSlogLogger(a.logger)),
				eventide.WithPollInterval(settings.PollInterval),
				eventide.WithEmptyBatchBackoff(settings.EmptyBackoff),
				eventide.WithConsumerBatchSize(settings.BatchSize),
				eventide.WithErrorHook(func(err error) {
					fmt.Fprintln(cmd.ErrOrStderr(), styles.FormatWarning(err.Error()))
				}),
			)
			if cmd.Flags().Changed("from") {
				consumerOpts = append(consumerOpts, eventide.WithStartPosition(from-1))
			}
			if size > 0 {
				consumerOpts = append(consumerOpts, eventide.WithConsumerGroup(member, size))
			}
			if correlation != "" {
				consumerOpts = append(consumerOpts, eventide.WithConsumerCorrelation(correlation))
			}
			if consumerID != "" {
				positions, err := eventide.NewStreamPositionStore(store, category, consumerID)
				if err != nil {
					return err
				}
				consumerOpts = append(consumerOpts,
					eventide.WithPositionStore(positions),
					eventide.WithPositionUpdateInterval(int(settings.PositionUpdateInterval)))
			}

			consumer := eventide.NewConsumer(store, category, handler, consumerOpts...)

			if once {
				n, err := consumer.Poll(ctx)
				if err != nil {
					return err
				}
				if n == 0 && !asJSON {
					fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No messages in category '%s'", category)))
				}
				return nil
			}

			return consumer.Run(ctx)
		},
	}

	cmd.Flags().Int64VarP(&from, "from", "f", 1, "First global position to deliver")
	cmd.Flags().Int64Var(&member, "member", 0, "Consumer group member (0-based)")
	cmd.Flags().Int64Var(&size, "size", 0, "Consumer group size")
	cmd.Flags().StringVar(&correlation, "correlation", "", "Only messages correlated with this category")
	cmd.Flags().StringVar(&consumerID, "consumer-id", "", "Record and resume the position under this id")
	cmd.Flags().StringVar(&name, "name", "", "Consumer name for logs and metrics (default: category)")
	cmd.Flags().BoolVar(&once, "once", false, "Poll a single batch and exit")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per line")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print OpenTelemetry spans to stderr")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

// serveMetrics exposes m on addr/metrics until the returned function is called.
func (a *app) serveMetrics(m *metrics.Metrics, addr string) (func(), error) {
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
