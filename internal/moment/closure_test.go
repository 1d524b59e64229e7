package moment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/qmoment/internal/hilbert"
	"github.com/san-kum/qmoment/internal/qalg"
)

// jcLab is the damped Jaynes-Cummings setup: one cavity mode coupled
// to a two-level emitter, with cavity loss and emitter decay.
type jcLab struct {
	cavity *hilbert.Space
	spin   *hilbert.Space
	gen    *Generator
}

func newJCLab(t *testing.T, order int) *jcLab {
	t.Helper()
	p := hilbert.NewProduct()
	cavity := p.AddFock("c")
	spin, err := p.AddNLevel("s", 2)
	require.NoError(t, err)

	h := qalg.AddExpr(
		qalg.ScaleExpr(qalg.ParamOf("Delta"), qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity))),
		qalg.ScaleExpr(qalg.ParamOf("g"), qalg.AddExpr(
			qalg.MulExpr(qalg.Ad(cavity), qalg.Sigma(spin, 1, 2)),
			qalg.MulExpr(qalg.A(cavity), qalg.Sigma(spin, 2, 1)),
		)),
	)
	jumps := []Jump{
		{Op: qalg.A(cavity), Rate: qalg.ParamOf("kappa")},
		{Op: qalg.Sigma(spin, 1, 2), Rate: qalg.ParamOf("gamma")},
	}
	gen, err := NewGenerator(h, jumps, order)
	require.NoError(t, err)
	return &jcLab{cavity: cavity, spin: spin, gen: gen}
}

func (l *jcLab) seed(t *testing.T, e qalg.OpExpr) qalg.Term {
	t.Helper()
	target, ok := qalg.Target(e)
	require.True(t, ok)
	return target
}

func TestCloseJaynesCummingsFirstOrder(t *testing.T) {
	lab := newJCLab(t, 1)

	sys, err := Close(lab.gen, []qalg.Term{lab.seed(t, qalg.A(lab.cavity))}, Options{})
	require.NoError(t, err)

	// Mean-field closure of the driven-less JC model needs exactly the
	// cavity amplitude, the coherence, and the excited population.
	require.Len(t, sys.Eqs, 3)
	require.True(t, sys.Closed())
	require.ElementsMatch(t, []string{
		repKey(t, qalg.A(lab.cavity)),
		repKey(t, qalg.Sigma(lab.spin, 1, 2)),
		repKey(t, qalg.Sigma(lab.spin, 2, 2)),
	}, sys.Keys())
}

func TestCloseJaynesCummingsAmplitudeEquation(t *testing.T) {
	lab := newJCLab(t, 1)

	sys, err := Close(lab.gen, []qalg.Term{lab.seed(t, qalg.A(lab.cavity))}, Options{})
	require.NoError(t, err)

	va := complex(0.4, -0.1)
	vs := complex(0.2, 0.3)
	env := anyAvgEnv(
		map[string]float64{"Delta": 2.0, "g": 0.9, "kappa": 0.6, "gamma": 0.3},
		map[string]complex128{
			repKey(t, qalg.A(lab.cavity)):         va,
			repKey(t, qalg.Sigma(lab.spin, 1, 2)): vs,
		},
		0.05,
	)

	eq := sys.Lookup(repKey(t, qalg.A(lab.cavity)))
	require.NotNil(t, eq)
	got, err := eq.RHS.Eval(env)
	require.NoError(t, err)

	// d⟨a⟩/dt = −(iΔ + κ/2)⟨a⟩ − ig⟨σ12⟩
	want := -(complex(0, 2.0)+0.3)*va - complex(0, 0.9)*vs
	require.InDelta(t, real(want), real(got), 1e-12)
	require.InDelta(t, imag(want), imag(got), 1e-12)
}

func TestCloseIsAFixedPoint(t *testing.T) {
	lab := newJCLab(t, 2)

	sys, err := Close(lab.gen, []qalg.Term{lab.seed(t, qalg.A(lab.cavity))}, Options{})
	require.NoError(t, err)
	require.True(t, sys.Closed())

	// Reseeding with every state variable reproduces the same system.
	var seeds []qalg.Term
	for _, e := range sys.Eqs {
		seeds = append(seeds, qalg.Term{Ops: e.LHS.Ops()})
	}
	again, err := Close(lab.gen, seeds, Options{})
	require.NoError(t, err)
	require.ElementsMatch(t, sys.Keys(), again.Keys())
}

func TestCloseScanCeiling(t *testing.T) {
	lab := newJCLab(t, 2)

	_, err := Close(lab.gen, []qalg.Term{lab.seed(t, qalg.A(lab.cavity))}, Options{MaxScans: 1})
	require.ErrorIs(t, err, ErrNonClosure)

	var ce *ClosureError
	require.ErrorAs(t, err, &ce)
	require.NotEmpty(t, ce.Pending)
	require.Equal(t, 1, ce.Scans)
}

func TestCloseRejectsFilteredSeed(t *testing.T) {
	lab := newJCLab(t, 1)

	// ⟨a⟩ carries excitation charge +1.
	_, err := Close(lab.gen, []qalg.Term{lab.seed(t, qalg.A(lab.cavity))}, Options{Filter: U1Filter()})
	require.ErrorIs(t, err, ErrInconsistentFilter)
}

func TestCloseFilterDropsChargedAverages(t *testing.T) {
	p := hilbert.NewProduct()
	cavity := p.AddFock("c")

	// A coherent drive breaks excitation conservation; the filter zeroes
	// the first-order amplitudes it feeds into ⟨a†a⟩.
	h := qalg.AddExpr(
		qalg.ScaleExpr(qalg.ParamOf("Delta"), qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity))),
		qalg.ScaleExpr(qalg.ParamOf("Omega"), qalg.AddExpr(qalg.A(cavity), qalg.Ad(cavity))),
	)
	gen, err := NewGenerator(h, []Jump{{Op: qalg.A(cavity), Rate: qalg.ParamOf("kappa")}}, 2)
	require.NoError(t, err)

	target, ok := qalg.Target(qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity)))
	require.True(t, ok)

	sys, err := Close(gen, []qalg.Term{target}, Options{Filter: U1Filter()})
	require.NoError(t, err)
	require.Len(t, sys.Eqs, 1)
	require.True(t, sys.Closed())
	require.Contains(t, sys.Dropped, repKey(t, qalg.A(cavity)))

	// With the amplitudes zeroed only the decay term survives.
	n := complex(0.8, 0)
	env := anyAvgEnv(
		map[string]float64{"Delta": 1.1, "Omega": 0.5, "kappa": 0.9},
		map[string]complex128{repKey(t, qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity))): n},
		0.3,
	)
	got, err := sys.Eqs[0].RHS.Eval(env)
	require.NoError(t, err)
	require.InDelta(t, -0.9*0.8, real(got), 1e-12)
	require.InDelta(t, 0, imag(got), 1e-12)
}

func TestCloseWithoutFilterAddsDriveAmplitude(t *testing.T) {
	p := hilbert.NewProduct()
	cavity := p.AddFock("c")

	h := qalg.AddExpr(
		qalg.ScaleExpr(qalg.ParamOf("Delta"), qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity))),
		qalg.ScaleExpr(qalg.ParamOf("Omega"), qalg.AddExpr(qalg.A(cavity), qalg.Ad(cavity))),
	)
	gen, err := NewGenerator(h, []Jump{{Op: qalg.A(cavity), Rate: qalg.ParamOf("kappa")}}, 2)
	require.NoError(t, err)

	target, ok := qalg.Target(qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity)))
	require.True(t, ok)

	sys, err := Close(gen, []qalg.Term{target}, Options{})
	require.NoError(t, err)
	require.True(t, sys.Closed())
	require.Contains(t, sys.Keys(), repKey(t, qalg.A(cavity)))
	require.Empty(t, sys.Dropped)
}
