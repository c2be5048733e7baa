package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/timzifer/eloss/config"
	"github.com/timzifer/eloss/geometry"
	"github.com/timzifer/eloss/internal/engine"
	"github.com/timzifer/eloss/internal/reload"
	"github.com/timzifer/eloss/internal/server"
	"github.com/timzifer/eloss/report"
	"github.com/timzifer/eloss/scan"
)

func newCalcCommand(opts *options) *cobra.Command {
	var (
		projectile string
		target     string
		energy     float64
		thickness  float64
	)
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Energy lost by one projectile in one layer.",
		Long: `Energy lost by one projectile in one layer.
	Energy is the total kinetic energy in MeV, thickness is in mg/cm^2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()
			eng, err := s.engine()
			if err != nil {
				return err
			}
			if projectile == "" {
				projectile = s.cfg.Setup.BeamBefore.Nuclide
			}
			out, err := eng.Calculator().Traverse(projectile, energy, target, thickness)
			if err != nil {
				return err
			}
			prec := int32(s.cfg.Output.Precision)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "loss=%s residual=%s steps=%d", fixed(out.Loss, prec), fixed(out.Residual, prec), out.Steps)
			if out.Stopped {
				fmt.Fprintf(w, " stopped remaining=%s", fixed(out.RemainingThickness, prec))
			}
			if out.Extrapolated {
				fmt.Fprint(w, " extrapolated")
			}
			fmt.Fprintln(w)
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectile, "projectile", "p", "", "projectile nuclide (default: configured beam)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target material")
	cmd.Flags().Float64VarP(&energy, "energy", "e", 0, "kinetic energy in MeV")
	cmd.Flags().Float64VarP(&thickness, "thickness", "x", 0, "thickness in mg/cm^2")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("energy")
	_ = cmd.MarkFlagRequired("thickness")
	return cmd
}

func newChainCommand(opts *options) *cobra.Command {
	var (
		rhoa     float64
		pressure float64
		format   string
	)
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Follow the beam through the configured setup.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()
			eng, err := s.engine()
			if err != nil {
				return err
			}
			chain, err := eng.Chain(rhoa, pressure)
			if err != nil {
				return err
			}
			if format == "" || format == report.FormatText {
				return printChain(cmd.OutOrStdout(), chain, int32(s.cfg.Output.Precision))
			}
			params := eng.Setup().Params()
			row := scan.Row{
				Point: scan.Point{Rhoa: pick(rhoa, params.Jet.Rhoa), Pressure: pick(pressure, params.Chamber.Pressure)},
				Chain: chain,
			}
			w, err := report.New(format, cmd.OutOrStdout(), report.Options{Precision: s.cfg.Output.Precision})
			if err != nil {
				return err
			}
			return w.WriteRows([]scan.Row{row})
		},
	}
	cmd.Flags().Float64Var(&rhoa, "rhoa", 0, "jet areal density in atoms/cm^2 (default: configured)")
	cmd.Flags().Float64Var(&pressure, "pressure", 0, "chamber pressure in torr (default: configured)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: text, csv, json or xlsx")
	return cmd
}

func newScanCommand(opts *options) *cobra.Command {
	var (
		rhoa      []float64
		pressures []float64
		format    string
		output    string
		workers   int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate the setup over a grid of jet densities and chamber pressures.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()
			eng, err := s.engine()
			if err != nil {
				return err
			}

			plan := eng.Plan()
			if len(rhoa) > 0 {
				plan.Rhoa = rhoa
			}
			if len(pressures) > 0 {
				plan.Pressures = pressures
			}
			if format == "" {
				format = s.cfg.Output.Format
			}
			if output == "" {
				output = s.cfg.ResolvePath(s.cfg.Output.Path)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			rows, err := eng.Runner(workers).Run(ctx, plan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var file *os.File
			if output != "" && output != "-" {
				file, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer file.Close()
				out = file
			}
			w, err := report.New(format, out, report.Options{
				Precision: s.cfg.Output.Precision,
				Columns:   eng.ColumnNames(),
			})
			if err != nil {
				return err
			}
			if err := w.WriteRows(rows); err != nil {
				return err
			}
			if file == nil {
				return nil
			}
			if err := file.Close(); err != nil {
				return err
			}
			s.logger.Info().Str("file", output).Str("format", format).Int("rows", len(rows)).Msg("report written")
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&rhoa, "rhoa", nil, "jet areal densities in atoms/cm^2 (default: configured)")
	cmd.Flags().Float64SliceVar(&pressures, "pressure", nil, "chamber pressures in torr (default: configured)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: "+strings.Join(report.Formats(), ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel workers (default: configured, 0 = GOMAXPROCS)")
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()
			eng, err := s.engine()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = s.cfg.Server.Listen
			}
			srv, err := server.New(eng, s.logger, server.Options{
				RateLimit: s.cfg.Server.RateLimit,
				Burst:     s.cfg.Server.Burst,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if s.cfg.HotReload {
				watcher, err := reload.NewWatcher(s.cfg, s.cfgPath)
				if err != nil {
					return fmt.Errorf("create config watcher: %w", err)
				}
				go func() {
					err := watcher.Poll(ctx, s.cfg.Server.ReloadInterval.Duration, func(changed []string) {
						s.reload(srv, watcher, changed)
					})
					if err != nil && !errors.Is(err, context.Canceled) {
						s.logger.Error().Err(err).Msg("config watcher stopped")
					}
				}()
				s.logger.Info().Strs("files", watcher.Files()).Msg("hot reload enabled")
			}

			return srv.ListenAndServe(ctx, listen, s.cfg.Server.ShutdownTimeout.Duration)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default: configured)")
	return cmd
}

// reload rebuilds the engine from the configuration file and swaps it into
// the server. A failing rebuild keeps the running engine.
func (s *session) reload(srv *server.Server, watcher *reload.Watcher, changed []string) {
	logger := s.logger.With().Strs("changed", changed).Logger()
	cfg := s.cfg
	if s.cfgPath != "" {
		loaded, err := config.Load(s.cfgPath)
		if err != nil {
			logger.Error().Err(err).Msg("failed to reload configuration")
			return
		}
		config.ApplyEnv(loaded)
		cfg = loaded
	}
	eng, err := engine.Build(cfg, s.logger, s.collector)
	if err != nil {
		logger.Error().Err(err).Msg("reloaded configuration invalid")
		return
	}
	srv.Swap(eng)
	s.cfg = cfg
	if err := watcher.Update(cfg, s.cfgPath); err != nil {
		logger.Error().Err(err).Msg("failed to update watcher state")
	}
	for _, file := range changed {
		s.collector.IncHotReload(file)
	}
	logger.Info().Msg("engine reloaded")
}

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and stopping tables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()
			eng, err := s.engine()
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			return printCheck(cmd.OutOrStdout(), eng)
		},
	}
}

func printCheck(w io.Writer, eng *engine.Engine) error {
	cfg := eng.Config()
	source := cfg.Source
	if source == "" {
		source = "<defaults>"
	}
	fmt.Fprintf(w, "Configuration: %s\n", source)
	fmt.Fprintf(w, "Table directory: %s\n\n", cfg.DataDir())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECTILE\tTARGET\tPOINTS\tMIN (MeV/u)\tMAX (MeV/u)\tFILE")
	cat := eng.Catalog()
	for _, key := range cat.Keys() {
		table, err := cat.Table(key.Projectile, key.Target)
		if err != nil {
			return err
		}
		lo, hi := table.Bounds()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%g\t%s\n", key.Projectile, key.Target, table.Len(), lo, hi, eng.TableFile(key))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	missing := eng.Missing()
	if len(missing) == 0 {
		fmt.Fprintln(w, "\nConfiguration check completed successfully.")
		return nil
	}
	fmt.Fprintln(w, "\nMissing stopping tables:")
	for _, key := range missing {
		fmt.Fprintf(w, "  - %s\n", key)
	}
	return fmt.Errorf("%d stopping table(s) missing for the configured setup", len(missing))
}

func printChain(w io.Writer, chain geometry.Chain, prec int32) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tPROJECTILE\tMATERIAL\tTHICKNESS (mg/cm^2)\tENERGY IN (MeV)\tLOSS (MeV)")
	for _, layer := range chain.Layers {
		label := layer.Label()
		if layer.Stopped {
			label += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\t%s\n", label, layer.Projectile, layer.Material,
			layer.Thickness, fixed(layer.EnergyIn, prec), fixed(layer.Loss, prec))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\ntotal=%s residual=%s", fixed(chain.Total(), prec), fixed(chain.Residual, prec))
	if chain.Stopped {
		fmt.Fprint(w, " stopped")
	}
	fmt.Fprintln(w)
	return nil
}

func fixed(v float64, prec int32) string {
	return decimal.NewFromFloat(v).StringFixed(prec)
}

func pick(override, fallback float64) float64 {
	if override > 0 {
		return override
	}
	return fallback
}
