package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/qmoment/internal/config"
	"github.com/san-kum/qmoment/internal/correlation"
	"github.com/san-kum/qmoment/internal/moment"
	"github.com/san-kum/qmoment/internal/ode"
	"github.com/san-kum/qmoment/internal/qalg"
	"github.com/san-kum/qmoment/internal/scale"
	"github.com/san-kum/qmoment/internal/tui"
)

var (
	configFile string
	preset     string
	order      int
	filter     string
	doScale    bool
	dt         float64
	duration   float64
	output     string
	wMin       float64
	wMax       float64
	points     int
	verbose    bool

	log zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qmoment",
		Short: "moment-closure equations for open quantum systems",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			if env := os.Getenv("LOG_LEVEL"); env != "" {
				if l, err := zerolog.ParseLevel(env); err == nil {
					level = l
				}
			}
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).With().Timestamp().Logger()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "scenario file (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "preset variant for the model")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	deriveCmd := &cobra.Command{
		Use:   "derive [model]",
		Short: "derive the closed moment equations",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDerive,
	}
	deriveCmd.Flags().IntVar(&order, "order", 0, "truncation order override")
	deriveCmd.Flags().StringVar(&filter, "filter", "", "closure filter override (none, u1)")
	deriveCmd.Flags().BoolVar(&doScale, "scale", false, "collapse identical-replica sums")
	deriveCmd.Flags().StringVar(&output, "output", "", "write the system as JSON")

	simulateCmd := &cobra.Command{
		Use:   "simulate [model]",
		Short: "integrate the averages in time",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulate,
	}
	simulateCmd.Flags().IntVar(&order, "order", 0, "truncation order override")
	simulateCmd.Flags().BoolVar(&doScale, "scale", false, "collapse identical-replica sums")
	simulateCmd.Flags().Float64Var(&dt, "dt", 0, "timestep override")
	simulateCmd.Flags().Float64Var(&duration, "time", 0, "duration override")
	simulateCmd.Flags().StringVar(&output, "output", "", "write the trajectory as JSON")

	steadyCmd := &cobra.Command{
		Use:   "steady [model]",
		Short: "relax to the stationary averages",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSteady,
	}
	steadyCmd.Flags().IntVar(&order, "order", 0, "truncation order override")
	steadyCmd.Flags().BoolVar(&doScale, "scale", false, "collapse identical-replica sums")

	spectrumCmd := &cobra.Command{
		Use:   "spectrum [model]",
		Short: "emission spectrum via quantum regression",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSpectrum,
	}
	spectrumCmd.Flags().IntVar(&order, "order", 0, "truncation order override")
	spectrumCmd.Flags().Float64Var(&wMin, "wmin", 0, "window start override")
	spectrumCmd.Flags().Float64Var(&wMax, "wmax", 0, "window end override")
	spectrumCmd.Flags().IntVar(&points, "points", 0, "sample count override")
	spectrumCmd.Flags().StringVar(&output, "output", "", "write the spectrum as JSON")

	exportCmd := &cobra.Command{
		Use:   "export [model]",
		Short: "derive and write the system as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().IntVar(&order, "order", 0, "truncation order override")
	exportCmd.Flags().StringVar(&filter, "filter", "", "closure filter override (none, u1)")
	exportCmd.Flags().BoolVar(&doScale, "scale", false, "collapse identical-replica sums")
	exportCmd.Flags().StringVar(&output, "output", "", "target file (default stdout)")

	browseCmd := &cobra.Command{
		Use:   "browse [model]",
		Short: "browse the equations interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBrowse,
	}
	browseCmd.Flags().IntVar(&order, "order", 0, "truncation order override")
	browseCmd.Flags().BoolVar(&doScale, "scale", false, "collapse identical-replica sums")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list preset variants for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := config.ListPresets(args[0])
			if len(names) == 0 {
				fmt.Printf("no presets for model: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range names {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	rootCmd.AddCommand(deriveCmd, simulateCmd, steadyCmd, spectrumCmd, exportCmd, browseCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadScenario resolves the scenario in priority order: --config file,
// then [model] with --preset, then the built-in default.
func loadScenario(args []string) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	if len(args) > 0 {
		variant := preset
		if variant == "" {
			names := config.ListPresets(args[0])
			if len(names) == 0 {
				return nil, fmt.Errorf("unknown model: %s", args[0])
			}
			variant = names[0]
		}
		cfg := config.GetPreset(args[0], variant)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)",
				variant, config.ListPresets(args[0]))
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func applyOverrides(cfg *config.Config) {
	if order > 0 {
		cfg.Order = order
	}
	if filter != "" {
		cfg.Filter = filter
	}
	if dt > 0 {
		cfg.Simulation.Dt = dt
	}
	if duration > 0 {
		cfg.Simulation.Duration = duration
	}
	if wMin != 0 || wMax != 0 {
		cfg.Spectrum.WMin = wMin
		cfg.Spectrum.WMax = wMax
	}
	if points > 0 {
		cfg.Spectrum.Points = points
	}
}

// closeScenario builds the model and derives the (optionally scaled)
// closed system.
func closeScenario(cfg *config.Config) (*config.Model, *moment.System, error) {
	m, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	start := time.Now()
	sys, err := m.Close(moment.Options{Log: &log})
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("closure done")
	if doScale {
		sys, err = scale.Reduce(sys)
		if err != nil {
			return nil, nil, err
		}
	}
	return m, sys, nil
}

func runDerive(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(args)
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	_, sys, err := closeScenario(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d equations at order %d\n\n", cfg.Model, len(sys.Eqs), sys.Order)
	for _, e := range sys.Eqs {
		fmt.Println(e)
	}
	if len(sys.Dropped) > 0 {
		fmt.Printf("\n%d averages dropped by the filter\n", len(sys.Dropped))
	}

	if output != "" {
		if err := ode.ExportJSON(output, ode.NewSystemExport(sys)); err != nil {
			return err
		}
		fmt.Printf("\nwrote %s\n", output)
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(args)
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	m, sys, err := closeScenario(cfg)
	if err != nil {
		return err
	}

	compiled, err := ode.Compile(sys)
	if err != nil {
		return err
	}
	x0, err := initialState(compiled, m)
	if err != nil {
		return err
	}

	runCfg := ode.Config{Dt: cfg.Simulation.Dt, Duration: cfg.Simulation.Duration}
	fmt.Printf("simulating %s (%d variables)...\n", cfg.Model, compiled.Dim())
	start := time.Now()
	res, err := ode.Evolve(context.Background(), compiled, x0, m.Env(), runCfg)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v, %d steps\n\n", time.Since(start), len(res.Times))

	plotted := 0
	for _, key := range compiled.Vars {
		if plotted >= 4 {
			break
		}
		series, _ := res.Series(key)
		data := make([]float64, len(series))
		for i, v := range series {
			data[i] = real(v)
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(8),
			asciigraph.Width(72),
			asciigraph.Caption("Re "+key)))
		fmt.Println()
		plotted++
	}

	if output != "" {
		if err := ode.ExportJSON(output, ode.NewTrajectoryExport(cfg.Model, runCfg, res)); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", output)
	}
	return nil
}

func runSteady(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(args)
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	m, sys, err := closeScenario(cfg)
	if err != nil {
		return err
	}

	compiled, x, err := relaxScenario(cfg, m, sys)
	if err != nil {
		return err
	}
	fmt.Printf("stationary averages for %s:\n", cfg.Model)
	for i, key := range compiled.Vars {
		fmt.Printf("  %-30s %10.6f %+10.6fi\n", key, real(x[i]), imag(x[i]))
	}
	return nil
}

func runSpectrum(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(args)
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	m, sys, err := closeScenario(cfg)
	if err != nil {
		return err
	}

	compiled, x, err := relaxScenario(cfg, m, sys)
	if err != nil {
		return err
	}
	env := steadyEnv(compiled, x, m)

	aExpr, err := buildSpectrumOp(m, cfg.Spectrum.A)
	if err != nil {
		return err
	}
	bExpr, err := buildSpectrumOp(m, cfg.Spectrum.B)
	if err != nil {
		return err
	}
	corr, err := correlation.Build(aExpr, bExpr, sys, moment.Options{Log: &log})
	if err != nil {
		return err
	}
	log.Debug().Int("variables", corr.Dim()).Msg("regression set closed")

	spec, err := corr.Spectrum(env)
	if err != nil {
		return err
	}

	n := cfg.Spectrum.Points
	if n < 2 {
		n = config.DefaultPoints
	}
	freqs := make([]float64, n)
	vals := make([]float64, n)
	step := (cfg.Spectrum.WMax - cfg.Spectrum.WMin) / float64(n-1)
	for i := 0; i < n; i++ {
		w := cfg.Spectrum.WMin + float64(i)*step
		s, err := spec(w)
		if err != nil {
			return fmt.Errorf("omega=%g: %w", w, err)
		}
		freqs[i] = w
		vals[i] = s
	}

	fmt.Println(asciigraph.Plot(vals,
		asciigraph.Height(12),
		asciigraph.Width(72),
		asciigraph.Caption(fmt.Sprintf("S(omega), omega in [%g, %g]",
			cfg.Spectrum.WMin, cfg.Spectrum.WMax))))

	if output != "" {
		payload := struct {
			Model string    `json:"model"`
			Omega []float64 `json:"omega"`
			S     []float64 `json:"s"`
		}{cfg.Model, freqs, vals}
		if err := ode.ExportJSON(output, payload); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", output)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(args)
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	_, sys, err := closeScenario(cfg)
	if err != nil {
		return err
	}
	if output == "" {
		return ode.ExportJSONStdout(ode.NewSystemExport(sys))
	}
	return ode.ExportJSON(output, ode.NewSystemExport(sys))
}

func runBrowse(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(args)
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	_, sys, err := closeScenario(cfg)
	if err != nil {
		return err
	}
	return tui.Run(cfg.Model, sys)
}

func initialState(compiled *ode.Compiled, m *config.Model) ([]complex128, error) {
	init := map[string]complex128{}
	for key, v := range m.Init {
		if _, ok := compiled.Index(key); ok {
			init[key] = v
		} else {
			log.Warn().Str("average", key).Msg("initial value has no state variable")
		}
	}
	return compiled.InitialState(init)
}

// relaxScenario integrates the base system to its stationary point.
func relaxScenario(cfg *config.Config, m *config.Model, sys *moment.System) (*ode.Compiled, []complex128, error) {
	compiled, err := ode.Compile(sys)
	if err != nil {
		return nil, nil, err
	}
	x0, err := initialState(compiled, m)
	if err != nil {
		return nil, nil, err
	}
	x, err := ode.SteadyState(context.Background(), compiled, x0, m.Env(), ode.SteadyConfig{
		Dt:       cfg.Simulation.Dt,
		Tol:      cfg.Simulation.Tol,
		MaxSteps: cfg.Simulation.MaxSteps,
	})
	if err != nil {
		return nil, nil, err
	}
	return compiled, x, nil
}

// steadyEnv layers the stationary averages over the parameter env.
func steadyEnv(compiled *ode.Compiled, x []complex128, m *config.Model) *qalg.Env {
	env := m.Env()
	env.Avg = func(key string) (complex128, bool) {
		if i, ok := compiled.Index(key); ok {
			return x[i], true
		}
		return 0, false
	}
	return env
}

func buildSpectrumOp(m *config.Model, ops []config.OpConfig) (qalg.OpExpr, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("spectrum operator missing (see the %q section)", "spectrum")
	}
	cfgOps := strings.Builder{}
	for i, oc := range ops {
		if i > 0 {
			cfgOps.WriteString(" ")
		}
		cfgOps.WriteString(oc.Op)
	}
	e, err := m.BuildProduct(ops)
	if err != nil {
		return nil, fmt.Errorf("spectrum operator %q: %w", cfgOps.String(), err)
	}
	return e, nil
}
