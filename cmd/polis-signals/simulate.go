package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-signals/pkg/config"
	"github.com/polisai/polis-signals/pkg/coordinator"
	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/exporter"
	"github.com/polisai/polis-signals/pkg/instrument"
	"github.com/polisai/polis-signals/pkg/probe"
)

// SimulateOptions holds the parsed simulate flags.
type SimulateOptions struct {
	Iterations  int
	Interval    time.Duration
	FailureRate float64
	MaxLatency  time.Duration
	UserAgent   string
	Host        string
	MetricsAddr string
	Watch       bool
	Hold        bool
}

// defaultJourneyFor picks a stock journey for domains that declare none.
var defaultJourneyFor = map[string]string{
	coordinator.DomainAuthentication: "login_flow",
	coordinator.DomainEcommerce:      "purchase_flow",
	coordinator.DomainPayments:       "checkout_flow",
	coordinator.DomainContent:        "content_discovery",
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a simulated session through every configured domain",
		Long: `Simulate initializes a coordinator from the configuration, then runs API calls,
journey steps and business metrics for each domain against a simulated backend.
Admitted events reach the configured platforms; final statistics are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: runSimulate,
	}

	cmd.Flags().IntP("iterations", "n", 10, "Number of rounds across all domains")
	cmd.Flags().Duration("interval", 0, "Pause between rounds")
	cmd.Flags().Float64("failure-rate", 0.05, "Probability that a simulated call fails")
	cmd.Flags().Duration("max-latency", 200*time.Millisecond, "Upper bound of simulated call latency")
	cmd.Flags().String("user-agent", "", "User agent of the simulated client (defaults to desktop Chrome)")
	cmd.Flags().String("host", "", "Page host of the simulated client (defaults to the first whitelisted domain)")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics, /stats and /healthz on this address")
	cmd.Flags().Bool("watch", false, "Reload filtering when the config file changes")
	cmd.Flags().Bool("hold", false, "Keep serving after the last round until interrupted")
	return cmd
}

func parseSimulateOptions(cmd *cobra.Command) (*SimulateOptions, error) {
	flags := cmd.Flags()
	var (
		o   SimulateOptions
		err error
	)
	if o.Iterations, err = flags.GetInt("iterations"); err != nil {
		return nil, fmt.Errorf("failed to get iterations flag: %w", err)
	}
	if o.Interval, err = flags.GetDuration("interval"); err != nil {
		return nil, fmt.Errorf("failed to get interval flag: %w", err)
	}
	if o.FailureRate, err = flags.GetFloat64("failure-rate"); err != nil {
		return nil, fmt.Errorf("failed to get failure-rate flag: %w", err)
	}
	if o.MaxLatency, err = flags.GetDuration("max-latency"); err != nil {
		return nil, fmt.Errorf("failed to get max-latency flag: %w", err)
	}
	if o.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, fmt.Errorf("failed to get user-agent flag: %w", err)
	}
	if o.Host, err = flags.GetString("host"); err != nil {
		return nil, fmt.Errorf("failed to get host flag: %w", err)
	}
	if o.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}
	if o.Watch, err = flags.GetBool("watch"); err != nil {
		return nil, fmt.Errorf("failed to get watch flag: %w", err)
	}
	if o.Hold, err = flags.GetBool("hold"); err != nil {
		return nil, fmt.Errorf("failed to get hold flag: %w", err)
	}

	if o.Iterations < 0 {
		return nil, fmt.Errorf("iterations must not be negative, got %d", o.Iterations)
	}
	if o.FailureRate < 0 || o.FailureRate > 1 {
		return nil, fmt.Errorf("failure-rate must be within [0, 1], got %v", o.FailureRate)
	}
	return &o, nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	opts, err := parseSimulateOptions(cmd)
	if err != nil {
		return err
	}
	l, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := l.logger

	ctx, cancel := withSignals(cmd.Context())
	defer cancel()

	cc, err := l.cfg.Coordinator(ctx, l.baseDir(), logger)
	if err != nil {
		return err
	}

	env := probe.Desktop(simulatedHost(opts.Host, cc.Filtering.DomainWhitelist))
	if opts.UserAgent != "" {
		env.Agent = opts.UserAgent
	}
	executor := &instrument.SimulatedExecutor{
		MinLatency:  opts.MaxLatency / 10,
		MaxLatency:  opts.MaxLatency,
		FailureRate: opts.FailureRate,
	}

	c, err := coordinator.New(cc,
		coordinator.WithProbe(env),
		coordinator.WithExecutor(executor),
		coordinator.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := c.Destroy(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}()

	if opts.MetricsAddr != "" {
		server, err := startMetricsServer(opts.MetricsAddr, newMetricsHandler(c, cc.Platforms), logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if opts.Watch {
		w, err := config.Watch(l.path, func(next *config.Config) {
			update, err := next.FilterUpdate(ctx, l.baseDir(), logger)
			if err != nil {
				logger.Error("Failed to apply reloaded filtering", "error", err)
				return
			}
			c.UpdateFilterConfig(update)
			logger.Info("Filtering reloaded", "sampling_rate", *update.SamplingRate)
		}, config.WithWatchLogger(logger))
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
	}

	if c.State() == coordinator.StateSkipped {
		logger.Warn("Session classified as automated traffic, nothing instrumented", "user_agent", env.Agent)
	} else {
		logger.Info("Starting simulation", "iterations", opts.Iterations, "domains", len(cc.Domains), "session_id", c.UserContext().SessionID)
		if err := runSession(ctx, c, executor, cc.Domains, opts); err != nil {
			return err
		}
	}

	if opts.Hold && opts.MetricsAddr != "" {
		logger.Info("Simulation complete, serving until interrupted")
		<-ctx.Done()
	}

	return writeStats(cmd.OutOrStdout(), c.Stats())
}

// runSession performs opts.Iterations rounds. Each round makes one API call,
// advances one journey step and records one business metric per domain.
func runSession(ctx context.Context, c *coordinator.Coordinator, executor instrument.Executor, domains []domain.DomainConfig, opts *SimulateOptions) error {
	for round := 0; round < opts.Iterations; round++ {
		for _, d := range domains {
			if ctx.Err() != nil {
				return nil
			}
			inst, err := c.DomainInstrumentor(d.Name)
			if err != nil {
				return err
			}
			simulateDomain(ctx, inst, executor, d, round)
		}

		if opts.Interval > 0 && round < opts.Iterations-1 {
			timer := time.NewTimer(opts.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
	return nil
}

func simulateDomain(ctx context.Context, inst *instrument.Instrumentor, executor instrument.Executor, d domain.DomainConfig, round int) {
	feature := ""
	if len(d.Features) > 0 {
		feature = d.Features[round%len(d.Features)]
	}

	method := http.MethodGet
	if round%3 == 2 {
		method = http.MethodPost
	}
	inst.InstrumentAPICall(ctx, d.Name+"_api", "/api/"+d.Name, method, instrument.WithFeature(feature))

	journey, steps := simulatedJourney(d)
	step := steps[round%len(steps)]
	inst.InstrumentUserJourney(ctx, journey, step, func(ctx context.Context) error {
		_, err := executor.Execute(ctx, instrument.Call{Name: step, Endpoint: "/journeys/" + journey + "/" + step, Method: http.MethodPost})
		return err
	}, instrument.WithFeature(feature))

	inst.RecordBusinessMetric(ctx, "conversion_rate", rand.Float64(), instrument.WithJourney(journey))
}

// simulatedJourney returns the first declared journey of d, or a stock journey
// matched on the domain name.
func simulatedJourney(d domain.DomainConfig) (string, []string) {
	if len(d.Journeys) > 0 {
		names := make([]string, 0, len(d.Journeys))
		for name, steps := range d.Journeys {
			if len(steps) > 0 {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			slices.Sort(names)
			return names[0], d.Journeys[names[0]]
		}
	}
	name, ok := defaultJourneyFor[d.Name]
	if !ok {
		name = "onboarding"
	}
	return name, instrument.DefaultJourneys[name]
}

func simulatedHost(host string, whitelist []string) string {
	if host != "" {
		return host
	}
	for _, h := range whitelist {
		if h = strings.TrimSpace(h); h != "" && !strings.HasPrefix(h, "*.") {
			return h
		}
	}
	return "localhost"
}

// newMetricsHandler serves the first Prometheus platform on /metrics, falling
// back to the process registry when none is configured.
func newMetricsHandler(c *coordinator.Coordinator, platforms []domain.PlatformConfig) http.Handler {
	mux := http.NewServeMux()

	var metrics http.Handler = promhttp.Handler()
	for _, p := range platforms {
		if !strings.EqualFold(p.Type, exporter.TypePrometheus) {
			continue
		}
		if exp, ok := c.Exporter(p.DisplayName()); ok {
			if prom, ok := exp.(*exporter.Prometheus); ok {
				metrics = prom.Handler()
				break
			}
		}
	}
	mux.Handle("/metrics", metrics)

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Stats())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return otelhttp.NewHandler(mux, "polis.signals")
}

func startMetricsServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics listener on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Log the actual resolved address (useful when addr is :0)
	logger.Info("Metrics server listening", "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return server, nil
}

func writeStats(w io.Writer, stats coordinator.Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
