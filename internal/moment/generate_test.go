package moment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/qmoment/internal/hilbert"
	"github.com/san-kum/qmoment/internal/qalg"
)

// anyAvgEnv supplies explicit values for listed averages and a shared
// fallback for everything else.
func anyAvgEnv(params map[string]float64, vals map[string]complex128, fallback complex128) *qalg.Env {
	return &qalg.Env{
		Params: params,
		Avg: func(key string) (complex128, bool) {
			if v, ok := vals[key]; ok {
				return v, ok
			}
			return fallback, true
		},
	}
}

func repKey(t *testing.T, e qalg.OpExpr) string {
	t.Helper()
	require.Len(t, e, 1)
	a, ok := qalg.AverageOf(e[0].Ops).(*qalg.Average)
	require.True(t, ok)
	return a.RepKey()
}

func TestDeriveDampedCavity(t *testing.T) {
	p := hilbert.NewProduct()
	cavity := p.AddFock("c")

	h := qalg.ScaleExpr(qalg.ParamOf("Delta"), qalg.MulExpr(qalg.Ad(cavity), qalg.A(cavity)))
	gen, err := NewGenerator(h, []Jump{{Op: qalg.A(cavity), Rate: qalg.ParamOf("kappa")}}, 1)
	require.NoError(t, err)

	target, ok := qalg.Target(qalg.A(cavity))
	require.True(t, ok)
	eq, err := gen.Derive(target)
	require.NoError(t, err)

	// d⟨a⟩/dt = (−iΔ − κ/2)⟨a⟩
	va := complex(0.4, -0.2)
	env := anyAvgEnv(
		map[string]float64{"Delta": 1.3, "kappa": 0.7},
		map[string]complex128{repKey(t, qalg.A(cavity)): va},
		0,
	)
	got, err := eq.RHS.Eval(env)
	require.NoError(t, err)
	want := (complex(0, -1.3) - 0.35) * va
	require.InDelta(t, real(want), real(got), 1e-12)
	require.InDelta(t, imag(want), imag(got), 1e-12)
}

func TestDerivePerReplicaDecay(t *testing.T) {
	p := hilbert.NewProduct()
	ens, err := p.AddIndexedNLevel("e", 2)
	require.NoError(t, err)
	i, err := hilbert.NewIndex("i", ens, hilbert.NumBound(2))
	require.NoError(t, err)

	jump := Jump{
		Op:   qalg.SigmaIdx(ens, 1, 2, i),
		Rate: qalg.ParamOf("gamma", hilbert.SymRef(i)),
		Idx:  i,
	}
	gen, err := NewGenerator(nil, []Jump{jump}, 2)
	require.NoError(t, err)

	target, ok := qalg.Target(qalg.SigmaRef(ens, 2, 2, hilbert.LitRef(1)))
	require.True(t, ok)
	eq, err := gen.Derive(target)
	require.NoError(t, err)

	// Only the i=1 channel touches replica 1: d⟨σ22_1⟩/dt = −γ(1)⟨σ22_1⟩.
	v := complex(0.6, 0)
	env := anyAvgEnv(
		map[string]float64{"gamma[1]": 0.8, "gamma[2]": 5},
		map[string]complex128{repKey(t, qalg.SigmaRef(ens, 2, 2, hilbert.LitRef(1))): v},
		complex(0.11, 0.07),
	)
	got, err := eq.RHS.Eval(env)
	require.NoError(t, err)
	require.InDelta(t, -0.8*0.6, real(got), 1e-12)
	require.InDelta(t, 0, imag(got), 1e-12)
}

func TestDeriveRateMatrixMatchesExplicitPairs(t *testing.T) {
	p := hilbert.NewProduct()
	ens, err := p.AddIndexedNLevel("e", 2)
	require.NoError(t, err)
	i, err := hilbert.NewIndex("i", ens, hilbert.NumBound(2))
	require.NoError(t, err)
	j, err := hilbert.NewIndex("j", ens, hilbert.NumBound(2))
	require.NoError(t, err)

	jump := Jump{
		Op:   qalg.SigmaIdx(ens, 1, 2, i),
		Rate: qalg.ParamOf("Gamma", hilbert.SymRef(i), hilbert.SymRef(j)),
		Idx:  i,
		Idx2: j,
	}
	gen, err := NewGenerator(nil, []Jump{jump}, 2)
	require.NoError(t, err)

	target, ok := qalg.Target(qalg.SigmaRef(ens, 2, 2, hilbert.LitRef(1)))
	require.True(t, ok)
	eq, err := gen.Derive(target)
	require.NoError(t, err)

	// Reference: the dissipator written out over all literal pairs,
	//   Σ_ij Γ(i,j) (J_i† O J_j − ½ J_i† J_j O − ½ O J_i† J_j)
	o := qalg.SigmaRef(ens, 2, 2, hilbert.LitRef(1))
	var total qalg.OpExpr
	for a := 1; a <= 2; a++ {
		for b := 1; b <= 2; b++ {
			left := qalg.SigmaRef(ens, 1, 2, hilbert.LitRef(a))
			right := qalg.SigmaRef(ens, 1, 2, hilbert.LitRef(b))
			ld := qalg.DagExpr(left)
			d := qalg.AddExpr(
				qalg.MulExpr(qalg.MulExpr(ld, o), right),
				qalg.ScaleExpr(qalg.NumOf(-0.5), qalg.MulExpr(qalg.MulExpr(ld, right), o)),
				qalg.ScaleExpr(qalg.NumOf(-0.5), qalg.MulExpr(o, qalg.MulExpr(ld, right))),
			)
			rate := qalg.ParamOf("Gamma", hilbert.LitRef(a), hilbert.LitRef(b))
			total = qalg.AddExpr(total, qalg.ScaleExpr(rate, d))
		}
	}
	want := qalg.AverageExpr(total, 2)

	env := anyAvgEnv(
		map[string]float64{
			"Gamma[1,1]": 0.9, "Gamma[1,2]": 0.2,
			"Gamma[2,1]": 0.2, "Gamma[2,2]": 0.5,
		},
		nil,
		complex(0.23, -0.11),
	)
	wv, err := want.Eval(env)
	require.NoError(t, err)
	gv, err := eq.RHS.Eval(env)
	require.NoError(t, err)
	require.InDelta(t, real(wv), real(gv), 1e-12)
	require.InDelta(t, imag(wv), imag(gv), 1e-12)
}

func TestDeriveDiagonalRateMatrixReducesToIndependentDecay(t *testing.T) {
	p := hilbert.NewProduct()
	ens, err := p.AddIndexedNLevel("e", 2)
	require.NoError(t, err)
	i, err := hilbert.NewIndex("i", ens, hilbert.NumBound(2))
	require.NoError(t, err)
	j, err := hilbert.NewIndex("j", ens, hilbert.NumBound(2))
	require.NoError(t, err)

	jump := Jump{
		Op:   qalg.SigmaIdx(ens, 1, 2, i),
		Rate: qalg.ParamOf("Gamma", hilbert.SymRef(i), hilbert.SymRef(j)),
		Idx:  i,
		Idx2: j,
	}
	gen, err := NewGenerator(nil, []Jump{jump}, 2)
	require.NoError(t, err)

	target, ok := qalg.Target(qalg.SigmaRef(ens, 2, 2, hilbert.LitRef(1)))
	require.True(t, ok)
	eq, err := gen.Derive(target)
	require.NoError(t, err)

	v := complex(0.35, 0)
	env := anyAvgEnv(
		map[string]float64{"Gamma[1,1]": 1.1, "Gamma[2,2]": 0.4},
		map[string]complex128{repKey(t, qalg.SigmaRef(ens, 2, 2, hilbert.LitRef(1))): v},
		complex(0.5, 0.25),
	)
	got, err := eq.RHS.Eval(env)
	require.NoError(t, err)
	require.InDelta(t, -1.1*0.35, real(got), 1e-12)
	require.InDelta(t, 0, imag(got), 1e-12)
}

func TestNewGeneratorRejectsBadOrder(t *testing.T) {
	_, err := NewGenerator(nil, nil, 0)
	require.ErrorIs(t, err, ErrBadOrder)
}

func TestNewGeneratorRejectsConflictingIndexBinding(t *testing.T) {
	p := hilbert.NewProduct()
	ens, err := p.AddIndexedNLevel("e", 2)
	require.NoError(t, err)
	i1, err := hilbert.NewIndex("i", ens, hilbert.SymBound("N"))
	require.NoError(t, err)
	i2, err := hilbert.NewIndex("i", ens, hilbert.SymBound("M"))
	require.NoError(t, err)

	h := qalg.SumExpr(qalg.SigmaIdx(ens, 2, 2, i1), i1)
	jump := Jump{Op: qalg.SigmaIdx(ens, 1, 2, i2), Rate: qalg.ParamOf("gamma"), Idx: i2}
	_, err = NewGenerator(h, []Jump{jump}, 1)
	require.ErrorIs(t, err, ErrIndexBinding)

	var be *BindingError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "i", be.Name)
}

func TestDeriveRejectsTargetReusingBoundIndex(t *testing.T) {
	p := hilbert.NewProduct()
	ens, err := p.AddIndexedNLevel("e", 2)
	require.NoError(t, err)
	i, err := hilbert.NewIndex("i", ens, hilbert.SymBound("N"))
	require.NoError(t, err)

	h := qalg.ScaleExpr(qalg.ParamOf("w"), qalg.SumExpr(qalg.SigmaIdx(ens, 2, 2, i), i))
	gen, err := NewGenerator(h, nil, 1)
	require.NoError(t, err)

	target, ok := qalg.Target(qalg.SigmaIdx(ens, 2, 2, i))
	require.True(t, ok)
	_, err = gen.Derive(target)
	require.ErrorIs(t, err, ErrIndexBinding)
}
