// Package main is the entry point for the polis-signals binary.
// It validates signal configurations and drives simulated sessions through
// the coordinator.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-signals/pkg/config"
	"github.com/polisai/polis-signals/pkg/coordinator"
	"github.com/polisai/polis-signals/pkg/logging"
)

const defaultConfigPath = "signals.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-signals
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-signals",
		Short: "Business-aware telemetry shaping",
		Long: `polis-signals filters and enriches client telemetry per business domain
and fans admitted events out to OTLP, Prometheus, webhook, SQL and Redis sinks.

Examples:
  polis-signals validate --config signals.yaml
  polis-signals simulate --config signals.yaml --iterations 20 --metrics-addr :9464`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newValidateCmd(), newSimulateCmd(), newPresetsCmd())
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration and compile its filter rules",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in industry presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range coordinator.PresetNames() {
				preset, err := coordinator.Preset(name)
				if err != nil {
					return err
				}
				domains := make([]string, 0, len(preset.Domains))
				for _, d := range preset.Domains {
					domains = append(domains, d.Name)
				}
				fmt.Fprintf(out, "%-10s sampling=%.2f domains=%s\n", name, preset.Filtering.SamplingRate, strings.Join(domains, ","))
			}
			return nil
		},
	}
}

// loaded bundles what every command derives from the config flag.
type loaded struct {
	path   string
	cfg    *config.Config
	logger *slog.Logger
}

func loadConfig(cmd *cobra.Command) (*loaded, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logger()
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.NewLogger(logCfg)
	slog.SetDefault(logger)

	return &loaded{path: path, cfg: cfg, logger: logger}, nil
}

func (l *loaded) baseDir() string {
	return filepath.Dir(l.path)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	l, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cc, err := l.cfg.Coordinator(cmd.Context(), l.baseDir(), l.logger)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), l.path, cc)
	return nil
}

func printSummary(w io.Writer, path string, cc coordinator.Config) {
	fmt.Fprintf(w, "configuration %s is valid\n", path)
	fmt.Fprintf(w, "domains:\n")
	for _, d := range cc.Domains {
		fmt.Fprintf(w, "  %-16s priority=%s sla=%s error_threshold=%g\n", d.Name, d.Priority, d.SLATarget, d.ErrorThreshold)
	}
	fmt.Fprintf(w, "filtering: bot_detection=%t sampling_rate=%g whitelist=%d custom_filters=%d\n",
		cc.Filtering.EnableBotDetection, cc.Filtering.SamplingRate, len(cc.Filtering.DomainWhitelist), len(cc.Filtering.CustomFilters))
	fmt.Fprintf(w, "platforms:\n")
	if len(cc.Platforms) == 0 {
		fmt.Fprintf(w, "  (none)\n")
	}
	for _, p := range cc.Platforms {
		fmt.Fprintf(w, "  %-16s type=%s\n", p.DisplayName(), p.Type)
	}
}

// withSignals returns a context cancelled on SIGINT or SIGTERM.
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
