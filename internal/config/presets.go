package config

// Presets are ready-made scenarios keyed by model and variant.
var Presets = map[string]map[string]*Config{
	"jaynes-cummings": {
		"resonant": presetJC(0, 1.5, 1.0, 0.2, 1),
		"detuned":  presetJC(2.0, 1.5, 1.0, 0.2, 1),
		"second":   presetJC(0, 1.5, 1.0, 0.2, 2),
	},
	"driven-cavity": {
		"weak": presetDrivenCavity(0.5, 0.1, 1.0),
		"hard": presetDrivenCavity(0, 2.0, 0.5),
	},
	"tavis-cummings": {
		"ensemble": presetTavisCummings("N", 2),
		"triplet":  presetTavisCummings("3", 2),
	},
}

func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	return names
}

func presetJC(delta, g, kappa, gamma float64, order int) *Config {
	cfg := DefaultConfig()
	cfg.Order = order
	cfg.Params = map[string]float64{
		"Delta": delta, "g": g, "kappa": kappa, "gamma": gamma,
	}
	return cfg
}

func presetDrivenCavity(delta, omega, kappa float64) *Config {
	return &Config{
		Model:  "driven-cavity",
		Order:  1,
		Filter: "none",
		Spaces: []SpaceConfig{{Name: "c", Kind: "fock"}},
		Hamiltonian: []TermConfig{
			{Param: "Delta", Ops: []OpConfig{
				{Op: "create", Space: "c"}, {Op: "destroy", Space: "c"},
			}},
			{Param: "Omega", HC: true, Ops: []OpConfig{{Op: "destroy", Space: "c"}}},
		},
		Jumps: []JumpConfig{
			{Rate: "kappa", Ops: []OpConfig{{Op: "destroy", Space: "c"}}},
		},
		Seeds: [][]OpConfig{{{Op: "destroy", Space: "c"}}},
		Params: map[string]float64{
			"Delta": delta, "Omega": omega, "kappa": kappa,
		},
		Simulation: SimConfig{Dt: DefaultDt, Duration: DefaultDuration, Tol: DefaultTol, MaxSteps: DefaultMaxSteps},
		Spectrum: SpectrumConfig{
			A:      []OpConfig{{Op: "destroy", Space: "c"}},
			B:      []OpConfig{{Op: "create", Space: "c"}},
			WMin:   -6,
			WMax:   6,
			Points: DefaultPoints,
		},
	}
}

func presetTavisCummings(bound string, order int) *Config {
	return &Config{
		Model:  "tavis-cummings",
		Order:  order,
		Filter: "none",
		Spaces: []SpaceConfig{
			{Name: "c", Kind: "fock"},
			{Name: "e", Kind: "nlevel", Levels: 2, Indexed: true},
		},
		Indices: []IndexConfig{
			{Name: "i", Space: "e", Bound: bound, Identical: true},
			{Name: "k", Space: "e", Bound: bound, Identical: true},
		},
		Hamiltonian: []TermConfig{
			{Param: "Delta", Ops: []OpConfig{
				{Op: "create", Space: "c"}, {Op: "destroy", Space: "c"},
			}},
			{Param: "g", Sum: "i", HC: true, Ops: []OpConfig{
				{Op: "create", Space: "c"},
				{Op: "transition", Space: "e", From: 1, To: 2, Index: "i"},
			}},
		},
		Jumps: []JumpConfig{
			{Rate: "kappa", Ops: []OpConfig{{Op: "destroy", Space: "c"}}},
			{Rate: "gamma", Index: "k", Ops: []OpConfig{
				{Op: "transition", Space: "e", From: 1, To: 2, Index: "k"},
			}},
		},
		Seeds: [][]OpConfig{{{Op: "destroy", Space: "c"}}},
		Params: map[string]float64{
			"Delta": 0, "g": 0.4, "kappa": 1, "gamma": 0.1, "N": 20,
		},
		Simulation: SimConfig{Dt: DefaultDt, Duration: DefaultDuration, Tol: DefaultTol, MaxSteps: DefaultMaxSteps},
		Spectrum: SpectrumConfig{
			A:      []OpConfig{{Op: "destroy", Space: "c"}},
			B:      []OpConfig{{Op: "create", Space: "c"}},
			WMin:   -6,
			WMax:   6,
			Points: DefaultPoints,
		},
	}
}
