package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultOrder    = 1
	DefaultDt       = 0.001
	DefaultDuration = 10.0
	DefaultTol      = 1e-10
	DefaultMaxSteps = 1000000
	DefaultPoints   = 400
)

// Config is a full scenario: the model declaration, closure settings,
// numeric parameters, and the simulation/spectrum windows.
type Config struct {
	Model       string             `yaml:"model"`
	Order       int                `yaml:"order"`
	Filter      string             `yaml:"filter"` // "", "none" or "u1"
	Spaces      []SpaceConfig      `yaml:"spaces"`
	Indices     []IndexConfig      `yaml:"indices"`
	Hamiltonian []TermConfig       `yaml:"hamiltonian"`
	Jumps       []JumpConfig       `yaml:"jumps"`
	Seeds       [][]OpConfig       `yaml:"seeds"`
	Initial     []InitConfig       `yaml:"initial"`
	Params      map[string]float64 `yaml:"params"`
	Simulation  SimConfig          `yaml:"simulation"`
	Spectrum    SpectrumConfig     `yaml:"spectrum"`
}

// SpaceConfig declares one subsystem of the composite.
type SpaceConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // "fock" or "nlevel"
	Levels  int    `yaml:"levels"`
	Indexed bool   `yaml:"indexed"`
}

// IndexConfig declares a replica index. Bound is a positive integer or
// a parameter name; identical replicas admit symmetry scaling.
type IndexConfig struct {
	Name      string `yaml:"name"`
	Space     string `yaml:"space"`
	Bound     string `yaml:"bound"`
	Identical bool   `yaml:"identical"`
}

// OpConfig is one elementary operator of a product.
type OpConfig struct {
	Op      string `yaml:"op"` // "create", "destroy", "transition"
	Space   string `yaml:"space"`
	From    int    `yaml:"from"`
	To      int    `yaml:"to"`
	Index   string `yaml:"index"`   // symbolic replica
	Replica int    `yaml:"replica"` // literal replica, 1-based
}

// TermConfig is one Hamiltonian term: factor · param · Π ops, summed
// over Sum when set, with the Hermitian conjugate added when HC is set.
type TermConfig struct {
	Param  string     `yaml:"param"`
	Factor float64    `yaml:"factor"`
	Imag   bool       `yaml:"imag"`
	Sum    string     `yaml:"sum"`
	HC     bool       `yaml:"hc"`
	Ops    []OpConfig `yaml:"ops"`
}

// JumpConfig is one collapse channel. Index makes the channel
// per-replica; Index2 as well turns Rate into a rate matrix R(i,j).
// RateIndexed attaches the replica indices to the rate parameter.
type JumpConfig struct {
	Rate        string     `yaml:"rate"`
	RateIndexed bool       `yaml:"rate_indexed"`
	Index       string     `yaml:"index"`
	Index2      string     `yaml:"index2"`
	Ops         []OpConfig `yaml:"ops"`
}

// InitConfig pins the initial expectation of one operator product.
type InitConfig struct {
	Ops []OpConfig `yaml:"ops"`
	Re  float64    `yaml:"re"`
	Im  float64    `yaml:"im"`
}

type SimConfig struct {
	Dt       float64 `yaml:"dt"`
	Duration float64 `yaml:"duration"`
	Tol      float64 `yaml:"tol"`
	MaxSteps int     `yaml:"max_steps"`
}

// SpectrumConfig is the emission-spectrum request: S(ω) of
// ⟨A(τ)B(0)⟩ over [WMin, WMax].
type SpectrumConfig struct {
	A      []OpConfig `yaml:"a"`
	B      []OpConfig `yaml:"b"`
	WMin   float64    `yaml:"wmin"`
	WMax   float64    `yaml:"wmax"`
	Points int        `yaml:"points"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:  "jaynes-cummings",
		Order:  DefaultOrder,
		Filter: "none",
		Spaces: []SpaceConfig{
			{Name: "c", Kind: "fock"},
			{Name: "s", Kind: "nlevel", Levels: 2},
		},
		Hamiltonian: []TermConfig{
			{Param: "Delta", Ops: []OpConfig{
				{Op: "create", Space: "c"}, {Op: "destroy", Space: "c"},
			}},
			{Param: "g", HC: true, Ops: []OpConfig{
				{Op: "create", Space: "c"}, {Op: "transition", Space: "s", From: 1, To: 2},
			}},
		},
		Jumps: []JumpConfig{
			{Rate: "kappa", Ops: []OpConfig{{Op: "destroy", Space: "c"}}},
			{Rate: "gamma", Ops: []OpConfig{{Op: "transition", Space: "s", From: 1, To: 2}}},
		},
		Seeds: [][]OpConfig{{{Op: "destroy", Space: "c"}}},
		Initial: []InitConfig{
			{Ops: []OpConfig{{Op: "destroy", Space: "c"}}, Re: 1},
		},
		Params: map[string]float64{
			"Delta": 0, "g": 1.5, "kappa": 1, "gamma": 0.2,
		},
		Simulation: SimConfig{
			Dt:       DefaultDt,
			Duration: DefaultDuration,
			Tol:      DefaultTol,
			MaxSteps: DefaultMaxSteps,
		},
		Spectrum: SpectrumConfig{
			A:      []OpConfig{{Op: "destroy", Space: "c"}},
			B:      []OpConfig{{Op: "create", Space: "c"}},
			WMin:   -6,
			WMax:   6,
			Points: DefaultPoints,
		},
	}
}

// Load reads a scenario file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
