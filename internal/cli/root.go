// Package cli implements the eloss command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timzifer/eloss/config"
	"github.com/timzifer/eloss/internal/engine"
	"github.com/timzifer/eloss/internal/logging"
	"github.com/timzifer/eloss/telemetry"
)

// DefaultConfigFile is tried when no --config flag is given.
const DefaultConfigFile = "eloss.yaml"

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := Run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	envFiles   []string
	logLevel   string
}

// session is the state shared by a single command invocation.
type session struct {
	cfgPath   string
	cfg       *config.Config
	logger    zerolog.Logger
	collector telemetry.Collector
	cleanup   func()
}

func (s *session) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "eloss",
		Short:         "Energy loss of heavy ions in layered targets.",
		Long:          "Integrates tabulated stopping powers to compute the energy a projectile loses in a gas jet, windows and an ionisation chamber.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (.yaml, .yml or .cue); defaults to "+DefaultConfigFile+" when present")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before reading the configuration (default .env)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newCalcCommand(opts),
		newChainCommand(opts),
		newScanCommand(opts),
		newServeCommand(opts),
		newCheckCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Run wraps cobra's execution so that errors are printed once to stderr.
func Run(args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return err
}

func (o *options) open() (*session, error) {
	if err := config.LoadEnv(o.envFiles...); err != nil {
		return nil, err
	}
	path, err := o.resolveConfigPath()
	if err != nil {
		return nil, err
	}
	var cfg *config.Config
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg)
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}
	log.Logger = logger

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}
	return &session{cfgPath: path, cfg: cfg, logger: logger, collector: collector, cleanup: cleanup}, nil
}

func (o *options) resolveConfigPath() (string, error) {
	if path := strings.TrimSpace(o.configPath); path != "" {
		return path, nil
	}
	info, err := os.Stat(DefaultConfigFile)
	switch {
	case err == nil && !info.IsDir():
		return DefaultConfigFile, nil
	case err == nil, errors.Is(err, os.ErrNotExist):
		return "", nil
	default:
		return "", err
	}
}

func (s *session) engine() (*engine.Engine, error) {
	return engine.Build(s.cfg, s.logger, s.collector)
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
