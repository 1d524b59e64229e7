package ode

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/san-kum/qmoment/internal/qalg"
)

// Config controls time evolution.
type Config struct {
	Dt       float64
	Duration float64
}

func (cfg Config) validate() error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("ode: dt must be positive, got %f", cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("ode: duration must be positive, got %f", cfg.Duration)
	}
	return nil
}

// Result is a recorded trajectory. States[i] is the state at Times[i];
// entries follow the compiled variable order.
type Result struct {
	Vars   []string
	Times  []float64
	States [][]complex128
}

// Series extracts the trajectory of one variable.
func (r *Result) Series(key string) ([]complex128, bool) {
	slot := -1
	for i, v := range r.Vars {
		if v == key {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, false
	}
	out := make([]complex128, len(r.States))
	for i, s := range r.States {
		out[i] = s[slot]
	}
	return out, true
}

// Evolve integrates the system from x0 over the configured duration and
// records every step.
func Evolve(ctx context.Context, c *Compiled, x0 []complex128, env *qalg.Env, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(x0) != c.Dim() {
		return nil, ErrDimension
	}

	steps := int(cfg.Duration / cfg.Dt)
	result := &Result{
		Vars:   c.Vars,
		Times:  make([]float64, 0, steps+1),
		States: make([][]complex128, 0, steps+1),
	}

	stepper := NewRK4()
	x := append([]complex128(nil), x0...)
	t := 0.0
	result.Times = append(result.Times, t)
	result.States = append(result.States, append([]complex128(nil), x...))

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		next, err := stepper.Step(c, x, env, cfg.Dt)
		if err != nil {
			return result, err
		}
		for _, v := range next {
			if cmplx.IsNaN(v) || cmplx.IsInf(v) {
				return result, fmt.Errorf("ode: state diverged at t=%.4f", t)
			}
		}
		x = next
		t += cfg.Dt
		result.Times = append(result.Times, t)
		result.States = append(result.States, append([]complex128(nil), x...))
	}
	return result, nil
}

// SteadyConfig controls steady-state relaxation.
type SteadyConfig struct {
	Dt       float64
	Tol      float64 // max derivative norm accepted as stationary
	MaxSteps int
}

// SteadyState relaxes the system from x0 until the derivative norm
// drops below Tol, returning the stationary state.
func SteadyState(ctx context.Context, c *Compiled, x0 []complex128, env *qalg.Env, cfg SteadyConfig) ([]complex128, error) {
	if cfg.Dt <= 0 {
		return nil, fmt.Errorf("ode: dt must be positive, got %f", cfg.Dt)
	}
	tol := cfg.Tol
	if tol <= 0 {
		tol = 1e-10
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1_000_000
	}
	if len(x0) != c.Dim() {
		return nil, ErrDimension
	}

	stepper := NewRK4()
	x := append([]complex128(nil), x0...)
	deriv := make([]complex128, c.Dim())

	for i := 0; i < maxSteps; i++ {
		select {
		case <-ctx.Done():
			return x, ctx.Err()
		default:
		}

		if err := c.Derivative(x, env, deriv); err != nil {
			return x, err
		}
		norm := 0.0
		for _, d := range deriv {
			norm += real(d)*real(d) + imag(d)*imag(d)
		}
		if math.Sqrt(norm) < tol {
			return x, nil
		}

		next, err := stepper.Step(c, x, env, cfg.Dt)
		if err != nil {
			return x, err
		}
		x = next
	}
	return x, fmt.Errorf("%w after %d steps", ErrNoConvergence, maxSteps)
}
