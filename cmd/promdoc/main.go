package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/promdoc/internal/assets"
	"github.com/aixgo-dev/promdoc/internal/observability"
	"github.com/aixgo-dev/promdoc/internal/server"
	"github.com/aixgo-dev/promdoc/pkg/config"
	pkgobs "github.com/aixgo-dev/promdoc/pkg/observability"
	"github.com/aixgo-dev/promdoc/pkg/security"
)

// Version information (set via ldflags)
var Version = "dev"

// loggedError marks an error that has already been written to the log
type loggedError struct {
	err error
}

func (e loggedError) Error() string { return e.err.Error() }
func (e loggedError) Unwrap() error { return e.err }

type options struct {
	host        string
	port        uint16
	configPath  string
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var logged loggedError
		if !errors.As(err, &logged) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newCommand(func(ctx context.Context, cfg *config.Config) error {
		return run(ctx, cfg, observability.NewLoggerFromEnv())
	})
}

// newCommand builds the command tree. start receives the resolved config.
func newCommand(start func(context.Context, *config.Config) error) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "promdoc",
		Short:         "Serve the promdoc metric documentation UI",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return start(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", config.DefaultHost, "host to listen on")
	flags.Uint16VarP(&opts.port, "port", "p", config.DefaultPort, "port to listen on")
	flags.StringVarP(&opts.configPath, "config", "c", "", "optional YAML configuration file")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "admin listener for /metrics and /health (disabled when empty)")

	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveConfig(config.Default(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// resolveConfig loads the optional config file and lets explicitly set
// flags override it
func resolveConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run serves until ctx is done. A bind failure is logged and returned.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Headers:     observability.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	metrics := pkgobs.InitMetrics()
	opts := []server.Option{server.WithLogger(logger), server.WithMetrics(metrics)}
	if cfg.RateLimit.Enabled() {
		opts = append(opts, server.WithRateLimiter(
			security.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)))
	}

	store := assets.NewStore(cfg.PrometheusURLs)
	srv := server.New(cfg, store, opts...)
	if err := srv.Listen(); err != nil {
		logger.Error().Err(err).Msg("Failed to start server")
		return loggedError{err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if cfg.MetricsAddr != "" {
		checker := pkgobs.NewHealthChecker(Version)
		checker.RegisterCheck(pkgobs.PingCheck())
		checker.RegisterCheck(pkgobs.CriticalCheck("assets", func(context.Context) error {
			return store.Check()
		}))
		checker.RegisterCheck(pkgobs.CriticalCheck("listener", srv.Ready))

		admin := pkgobs.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, checker)
		g.Go(func() error {
			if err := admin.Listen(); err != nil {
				logger.Error().Err(err).Msg("Failed to start admin server")
				return loggedError{err}
			}
			logger.Info().Str("addr", admin.Addr().String()).Msg("Admin server listening")
			return admin.Serve(gctx)
		})
	}

	return g.Wait()
}
