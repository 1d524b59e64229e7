package ode

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/qmoment/internal/moment"
)

// SystemExport is the serialized form of a derived equation set.
type SystemExport struct {
	Order      int      `json:"order"`
	Variables  []string `json:"variables"`
	Parameters []string `json:"parameters"`
	Equations  []string `json:"equations"`
	Dropped    []string `json:"dropped,omitempty"`
}

// TrajectoryExport is the serialized form of a simulated run. Complex
// states split into parallel real and imaginary grids.
type TrajectoryExport struct {
	Model     string      `json:"model"`
	Dt        float64     `json:"dt"`
	Duration  float64     `json:"duration"`
	Steps     int         `json:"steps"`
	Variables []string    `json:"variables"`
	Times     []float64   `json:"times"`
	Re        [][]float64 `json:"re"`
	Im        [][]float64 `json:"im"`
}

// NewSystemExport flattens a system for serialization.
func NewSystemExport(sys *moment.System) SystemExport {
	data := SystemExport{
		Order:      sys.Order,
		Variables:  sys.Keys(),
		Parameters: sys.Params(),
		Equations:  make([]string, len(sys.Eqs)),
	}
	for i, e := range sys.Eqs {
		data.Equations[i] = e.String()
	}
	for k := range sys.Dropped {
		data.Dropped = append(data.Dropped, k)
	}
	return data
}

// NewTrajectoryExport flattens a trajectory for serialization.
func NewTrajectoryExport(model string, cfg Config, res *Result) TrajectoryExport {
	data := TrajectoryExport{
		Model:     model,
		Dt:        cfg.Dt,
		Duration:  cfg.Duration,
		Steps:     len(res.Times),
		Variables: res.Vars,
		Times:     res.Times,
		Re:        make([][]float64, len(res.States)),
		Im:        make([][]float64, len(res.States)),
	}
	for i, s := range res.States {
		re := make([]float64, len(s))
		im := make([]float64, len(s))
		for j, v := range s {
			re[j] = real(v)
			im[j] = imag(v)
		}
		data.Re[i] = re
		data.Im[i] = im
	}
	return data
}

// ExportJSON writes any export payload to path, indented.
func ExportJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return writeJSON(file, data)
}

// ExportJSONStdout writes an export payload to standard output.
func ExportJSONStdout(data any) error {
	return writeJSON(os.Stdout, data)
}

func writeJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
