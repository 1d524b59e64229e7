package correlation

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/qmoment/internal/hilbert"
	"github.com/san-kum/qmoment/internal/moment"
	"github.com/san-kum/qmoment/internal/ode"
	"github.com/san-kum/qmoment/internal/qalg"
)

// drivenCavity closes the first-order model with
// d⟨a⟩/dt = (-iΔ-κ/2)⟨a⟩ - iΩ and steady state α = -iΩ/(iΔ+κ/2).
func drivenCavity(t *testing.T) (*moment.System, *hilbert.Space) {
	t.Helper()
	p := hilbert.NewProduct()
	cavity := p.AddFock("c")
	h := qalg.AddExpr(
		qalg.ScaleExpr(qalg.ParamOf("Delta"), qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity))),
		qalg.ScaleExpr(qalg.ParamOf("Omega"), qalg.AddExpr(qalg.A(cavity), qalg.Ad(cavity))),
	)
	gen, err := moment.NewGenerator(h, []moment.Jump{
		{Op: qalg.A(cavity), Rate: qalg.ParamOf("kappa")},
	}, 1)
	require.NoError(t, err)
	seed, ok := qalg.Target(qalg.A(cavity))
	require.True(t, ok)
	sys, err := moment.Close(gen, []qalg.Term{seed}, moment.Options{})
	require.NoError(t, err)
	return sys, cavity
}

func steadyEnv(params map[string]float64, vals map[string]complex128) *qalg.Env {
	return &qalg.Env{
		Params: params,
		Avg: func(key string) (complex128, bool) {
			v, ok := vals[key]
			return v, ok
		},
	}
}

func cavityAlpha(delta, omega, kappa float64) complex128 {
	return complex(0, -omega) / complex(kappa/2, delta)
}

func TestBuildDrivenCavityRegression(t *testing.T) {
	base, cavity := drivenCavity(t)
	cr, err := Build(qalg.A(cavity), qalg.Ad(cavity), base, moment.Options{})
	require.NoError(t, err)

	// d⟨a(τ)a†(0)⟩/dτ needs no variables beyond the seed itself.
	require.Equal(t, 1, cr.Dim())
	require.Equal(t, 0, cr.Slot)
}

func TestMatricesDrivenCavity(t *testing.T) {
	base, cavity := drivenCavity(t)
	cr, err := Build(qalg.A(cavity), qalg.Ad(cavity), base, moment.Options{})
	require.NoError(t, err)

	delta, omega, kappa := 0.5, 0.3, 1.4
	alpha := cavityAlpha(delta, omega, kappa)
	env := steadyEnv(
		map[string]float64{"Delta": delta, "Omega": omega, "kappa": kappa},
		map[string]complex128{base.Keys()[0]: alpha},
	)

	m, b, err := cr.Matrices(env)
	require.NoError(t, err)

	lambda := complex(-kappa/2, -delta)
	require.InDelta(t, real(lambda), real(m[0][0]), 1e-12)
	require.InDelta(t, imag(lambda), imag(m[0][0]), 1e-12)

	// b = -iΩ⟨a†⟩ss, the pure time-0 factor at its steady value.
	want := complex(0, -omega) * cmplx.Conj(alpha)
	require.InDelta(t, real(want), real(b[0]), 1e-12)
	require.InDelta(t, imag(want), imag(b[0]), 1e-12)
}

func TestInitialValuesDrivenCavity(t *testing.T) {
	base, cavity := drivenCavity(t)
	cr, err := Build(qalg.A(cavity), qalg.Ad(cavity), base, moment.Options{})
	require.NoError(t, err)

	delta, omega, kappa := 0.5, 0.3, 1.4
	alpha := cavityAlpha(delta, omega, kappa)
	env := steadyEnv(
		map[string]float64{"Delta": delta, "Omega": omega, "kappa": kappa},
		map[string]complex128{base.Keys()[0]: alpha},
	)

	x0, err := cr.InitialValues(env)
	require.NoError(t, err)

	// ⟨aa†⟩ = ⟨a†a⟩+1 factorizes to |α|²+1 at first order.
	want := cmplx.Abs(alpha)*cmplx.Abs(alpha) + 1
	require.InDelta(t, want, real(x0[0]), 1e-12)
	require.InDelta(t, 0, imag(x0[0]), 1e-12)
}

func TestEvolveMatchesAnalyticCorrelation(t *testing.T) {
	base, cavity := drivenCavity(t)
	cr, err := Build(qalg.A(cavity), qalg.Ad(cavity), base, moment.Options{})
	require.NoError(t, err)

	delta, omega, kappa := 0.8, 0.4, 2.0
	alpha := cavityAlpha(delta, omega, kappa)
	env := steadyEnv(
		map[string]float64{"Delta": delta, "Omega": omega, "kappa": kappa},
		map[string]complex128{base.Keys()[0]: alpha},
	)

	taus, trace, err := cr.Evolve(context.Background(), env, ode.Config{Dt: 0.001, Duration: 3})
	require.NoError(t, err)

	// c(τ) = |α|² + e^{λτ} with λ = -iΔ-κ/2.
	lambda := complex(-kappa/2, -delta)
	cInf := alpha * cmplx.Conj(alpha)
	for i, tau := range taus {
		want := cInf + cmplx.Exp(lambda*complex(tau, 0))
		require.InDelta(t, real(want), real(trace[i]), 1e-7, "tau=%f", tau)
		require.InDelta(t, imag(want), imag(trace[i]), 1e-7, "tau=%f", tau)
	}
}

func TestSpectrumDrivenCavityLorentzian(t *testing.T) {
	base, cavity := drivenCavity(t)
	cr, err := Build(qalg.A(cavity), qalg.Ad(cavity), base, moment.Options{})
	require.NoError(t, err)

	delta, omega, kappa := 0.6, 0.25, 1.2
	alpha := cavityAlpha(delta, omega, kappa)
	env := steadyEnv(
		map[string]float64{"Delta": delta, "Omega": omega, "kappa": kappa},
		map[string]complex128{base.Keys()[0]: alpha},
	)

	spec, err := cr.Spectrum(env)
	require.NoError(t, err)

	// Lorentzian of width κ centered at ω = -Δ.
	for _, w := range []float64{-3, -delta - 0.5, -delta, -delta + 0.5, 0, 1, 4} {
		got, err := spec(w)
		require.NoError(t, err)
		want := kappa / ((w+delta)*(w+delta) + kappa*kappa/4)
		require.InDelta(t, want, got, 1e-10, "omega=%f", w)
	}
}

func TestSpectrumVacuumRabiDoublet(t *testing.T) {
	p := hilbert.NewProduct()
	cavity := p.AddFock("c")
	spin, err := p.AddNLevel("s", 2)
	require.NoError(t, err)

	g, kappa, gamma := 3.0, 1.0, 0.4
	h := qalg.ScaleExpr(qalg.ParamOf("g"), qalg.AddExpr(
		qalg.MulExpr(qalg.Ad(cavity), qalg.Sigma(spin, 1, 2)),
		qalg.MulExpr(qalg.A(cavity), qalg.Sigma(spin, 2, 1)),
	))
	gen, err := moment.NewGenerator(h, []moment.Jump{
		{Op: qalg.A(cavity), Rate: qalg.ParamOf("kappa")},
		{Op: qalg.Sigma(spin, 1, 2), Rate: qalg.ParamOf("gamma")},
	}, 1)
	require.NoError(t, err)

	seed, ok := qalg.Target(qalg.A(cavity))
	require.True(t, ok)
	base, err := moment.Close(gen, []qalg.Term{seed}, moment.Options{})
	require.NoError(t, err)

	cr, err := Build(qalg.A(cavity), qalg.Ad(cavity), base, moment.Options{})
	require.NoError(t, err)

	// Vacuum steady state: every base average vanishes.
	env := &qalg.Env{
		Params: map[string]float64{"g": g, "kappa": kappa, "gamma": gamma},
		Avg: func(key string) (complex128, bool) {
			for _, k := range base.Keys() {
				if k == key {
					return 0, true
				}
			}
			return 0, false
		},
	}

	spec, err := cr.Spectrum(env)
	require.NoError(t, err)

	// Two-by-two regression block gives
	// S(ω) = 2Re[(iω+γ/2) / ((iω+κ/2)(iω+γ/2)+g²)].
	for _, w := range []float64{-5, -g, -1, 0, 1, g, 5} {
		got, err := spec(w)
		require.NoError(t, err)
		iw := complex(0, w)
		want := 2 * real((iw+complex(gamma/2, 0))/
			((iw+complex(kappa/2, 0))*(iw+complex(gamma/2, 0))+complex(g*g, 0)))
		require.InDelta(t, want, got, 1e-9, "omega=%f", w)
	}

	// Doublet: the resonances at ±g dominate the center.
	atG, err := spec(g)
	require.NoError(t, err)
	atZero, err := spec(0)
	require.NoError(t, err)
	require.Greater(t, atG, atZero)
}

func TestSpectrumMatchesSampledTransform(t *testing.T) {
	base, cavity := drivenCavity(t)
	cr, err := Build(qalg.A(cavity), qalg.Ad(cavity), base, moment.Options{})
	require.NoError(t, err)

	delta, omega, kappa := 0.3, 0.2, 2.0
	alpha := cavityAlpha(delta, omega, kappa)
	env := steadyEnv(
		map[string]float64{"Delta": delta, "Omega": omega, "kappa": kappa},
		map[string]complex128{base.Keys()[0]: alpha},
	)

	const (
		dt  = 0.01
		dur = 40.96
	)
	taus, trace, err := cr.Evolve(context.Background(), env, ode.Config{Dt: dt, Duration: dur})
	require.NoError(t, err)

	// Discrete transform of c(τ)-c(∞) over the sampled window.
	cInf := alpha * cmplx.Conj(alpha)
	n := len(taus) - 1 // drops the final sample to keep the block even
	omegas, est, err := SampledSpectrum(taus[:n], trace[:n], cInf)
	require.NoError(t, err)
	require.Len(t, est, n)

	spec, err := cr.Spectrum(env)
	require.NoError(t, err)

	checked := 0
	for i, w := range omegas {
		if math.Abs(w) > 3 || i%5 != 0 {
			continue
		}
		got, err := spec(w)
		require.NoError(t, err)
		require.InDelta(t, got, est[i], 2e-3, "omega=%f", w)
		checked++
	}
	require.Greater(t, checked, 5)
}

func TestSampledSpectrumRejectsBadInput(t *testing.T) {
	_, _, err := SampledSpectrum([]float64{0}, []complex128{1}, 0)
	require.ErrorIs(t, err, ErrBadTrace)
	_, _, err = SampledSpectrum([]float64{0, 0}, []complex128{1, 2}, 0)
	require.ErrorIs(t, err, ErrBadTrace)
}

func TestBuildRejectsUnclosedBase(t *testing.T) {
	base, cavity := drivenCavity(t)
	lhs := base.Eqs[0].LHS
	bad, ok := qalg.AverageOf(qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity))[0].Ops).(*qalg.Average)
	require.True(t, ok)
	open := base.Rewritten([]*moment.Equation{{LHS: lhs, RHS: bad}})

	_, err := Build(qalg.A(cavity), qalg.Ad(cavity), open, moment.Options{})
	require.ErrorIs(t, err, ErrNotClosed)
}

func TestBuildRejectsSystemWithoutGenerator(t *testing.T) {
	base, cavity := drivenCavity(t)
	orphan := &moment.System{Eqs: base.Eqs, Order: base.Order}

	_, err := Build(qalg.A(cavity), qalg.Ad(cavity), orphan, moment.Options{})
	require.ErrorIs(t, err, ErrNoGenerator)
}

func TestBuildRejectsMultiTermOperator(t *testing.T) {
	base, cavity := drivenCavity(t)
	mixed := qalg.AddExpr(qalg.A(cavity), qalg.Ad(cavity))

	_, err := Build(mixed, qalg.Ad(cavity), base, moment.Options{})
	require.ErrorIs(t, err, ErrBadOperator)
}

func TestSolveRecoversKnownSystem(t *testing.T) {
	a := [][]complex128{
		{complex(0, 1), 2, 0},
		{1, complex(3, -1), 1},
		{0, 1, complex(-2, 0.5)},
	}
	want := []complex128{complex(1, 1), complex(-0.5, 2), complex(3, 0)}
	rhs := make([]complex128, 3)
	for i := range a {
		for j := range a[i] {
			rhs[i] += a[i][j] * want[j]
		}
	}

	got, err := solve(a, rhs)
	require.NoError(t, err)
	for i := range want {
		require.InDelta(t, real(want[i]), real(got[i]), 1e-12)
		require.InDelta(t, imag(want[i]), imag(got[i]), 1e-12)
	}
}

func TestSolveReportsSingularMatrix(t *testing.T) {
	a := [][]complex128{{1, 2}, {2, 4}}
	_, err := solve(a, []complex128{1, 1})
	require.ErrorIs(t, err, ErrSingular)
}
