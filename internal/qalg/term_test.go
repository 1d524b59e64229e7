package qalg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/qmoment/internal/hilbert"
)

// testLab declares the composite space most tests run on: one cavity
// mode, one plain two-level spin, one indexed two-level ensemble.
func testLab(t *testing.T) (*hilbert.Space, *hilbert.Space, *hilbert.Space) {
	t.Helper()
	p := hilbert.NewProduct()
	cavity := p.AddFock("c")
	spin, err := p.AddNLevel("s", 2)
	require.NoError(t, err)
	ens, err := p.AddIndexedNLevel("e", 2)
	require.NoError(t, err)
	return cavity, spin, ens
}

func TestBosonNormalOrdering(t *testing.T) {
	cavity, _, _ := testLab(t)

	// a a† = a† a + 1
	e := MulExpr(A(cavity), Ad(cavity))
	require.Len(t, e, 2)

	require.Empty(t, e[0].Ops)
	require.Equal(t, one.Key(), e[0].Coeff.Key())

	require.Len(t, e[1].Ops, 2)
	require.Equal(t, Create, e[1].Ops[0].Kind)
	require.Equal(t, Destroy, e[1].Ops[1].Kind)
}

func TestTransitionComposition(t *testing.T) {
	_, spin, _ := testLab(t)

	// σ12 σ22 = σ12
	e := MulExpr(Sigma(spin, 1, 2), Sigma(spin, 2, 2))
	require.Len(t, e, 1)
	require.Len(t, e[0].Ops, 1)
	require.Equal(t, 1, e[0].Ops[0].From)
	require.Equal(t, 2, e[0].Ops[0].To)

	// σ12 σ12 = 0 on two levels
	require.Empty(t, MulExpr(Sigma(spin, 1, 2), Sigma(spin, 1, 2)))
}

func TestGroundProjectorElimination(t *testing.T) {
	_, spin, _ := testLab(t)

	// σ12 σ21 = σ11 = 1 − σ22
	e := MulExpr(Sigma(spin, 1, 2), Sigma(spin, 2, 1))
	require.Len(t, e, 2)

	require.Empty(t, e[0].Ops)
	require.Equal(t, one.Key(), e[0].Coeff.Key())

	require.Len(t, e[1].Ops, 1)
	require.Equal(t, 2, e[1].Ops[0].From)
	require.Equal(t, 2, e[1].Ops[0].To)
	require.Equal(t, NumOf(-1).Key(), e[1].Coeff.Key())
}

func TestIndexedCaseSplit(t *testing.T) {
	_, _, ens := testLab(t)
	i, err := hilbert.NewIndex("i", ens, hilbert.SymBound("N"))
	require.NoError(t, err)
	j, err := hilbert.NewIndex("j", ens, hilbert.SymBound("N"))
	require.NoError(t, err)

	// (Σ_i σ12_i) σ21_j splits into the i=j branch, which composes to
	// 1 − σ22_j, and the i≠j remainder sum.
	e := MulExpr(SumExpr(SigmaIdx(ens, 1, 2, i), i), SigmaIdx(ens, 2, 1, j))
	require.Len(t, e, 3)

	var identity, pop, cross int
	for _, term := range e {
		switch len(term.Ops) {
		case 0:
			identity++
			require.Empty(t, term.Sums)
		case 1:
			pop++
			require.Equal(t, "j", term.Ops[0].Ref.String())
			require.Equal(t, NumOf(-1).Key(), term.Coeff.Key())
		case 2:
			cross++
			require.Len(t, term.Sums, 1)
			require.Len(t, term.Excl, 1)
		}
	}
	require.Equal(t, 1, identity)
	require.Equal(t, 1, pop)
	require.Equal(t, 1, cross)
}

func TestDoubleSumMaterialization(t *testing.T) {
	_, _, ens := testLab(t)
	i, err := hilbert.NewIndex("i", ens, hilbert.NumBound(3))
	require.NoError(t, err)
	j, err := hilbert.NewIndex("j", ens, hilbert.NumBound(3))
	require.NoError(t, err)

	// Σ_i σ12_i Σ_j σ21_j over 3 replicas: the diagonal collapses to
	// 3·1 − Σ σ22, the off-diagonal leaves N(N−1) = 6 ordered pairs.
	e := ExpandNumeric(MulExpr(
		SumExpr(SigmaIdx(ens, 1, 2, i), i),
		SumExpr(SigmaIdx(ens, 2, 1, j), j),
	), nil)

	pairs := 0
	for _, term := range e {
		require.Empty(t, term.Sums)
		if len(term.Ops) == 2 {
			pairs++
			require.NotEqual(t, term.Ops[0].Ref.Val, term.Ops[1].Ref.Val)
		}
	}
	require.Equal(t, 6, pairs)
}

func TestCommutatorNumberOperator(t *testing.T) {
	cavity, _, _ := testLab(t)

	n := MulExpr(Ad(cavity), A(cavity))
	e := Commutator(n, A(cavity))
	require.Len(t, e, 1)
	require.Len(t, e[0].Ops, 1)
	require.Equal(t, Destroy, e[0].Ops[0].Kind)
	require.Equal(t, NumOf(-1).Key(), e[0].Coeff.Key())
}

func TestDagExpr(t *testing.T) {
	cavity, spin, _ := testLab(t)

	// (i g a σ21)† = −i g a† σ12
	g := ParamOf("g")
	e := DagExpr(ScaleExpr(MulOf(I(), g), MulExpr(A(cavity), Sigma(spin, 2, 1))))
	require.Len(t, e, 1)

	term := e[0]
	require.Len(t, term.Ops, 2)
	require.Equal(t, Create, term.Ops[0].Kind)
	require.Equal(t, 1, term.Ops[1].From)
	require.Equal(t, 2, term.Ops[1].To)
	require.Equal(t, MulOf(NumOf(complex(0, -1)), g).Key(), term.Coeff.Key())
}

func TestNormalizeIdempotent(t *testing.T) {
	cavity, spin, ens := testLab(t)
	i, err := hilbert.NewIndex("i", ens, hilbert.SymBound("N"))
	require.NoError(t, err)

	exprs := []OpExpr{
		MulExpr(A(cavity), Ad(cavity)),
		MulExpr(Sigma(spin, 2, 1), A(cavity)),
		MulExpr(SumExpr(SigmaIdx(ens, 1, 2, i), i), Ad(cavity)),
	}
	for _, e := range exprs {
		again := Normalize(e)
		require.Len(t, again, len(e))
		for k := range e {
			require.Equal(t, e[k].canonicalKey(), again[k].canonicalKey())
			require.Equal(t, e[k].Coeff.Key(), again[k].Coeff.Key())
		}
	}
}

func TestMulExprRenamesCollidingSums(t *testing.T) {
	_, _, ens := testLab(t)
	i1, err := hilbert.NewIndex("i", ens, hilbert.SymBound("N"))
	require.NoError(t, err)
	i2, err := hilbert.NewIndex("i", ens, hilbert.SymBound("N"))
	require.NoError(t, err)

	// Two independent sums both named i must not alias.
	e := MulExpr(SumExpr(SigmaIdx(ens, 2, 2, i1), i1), SumExpr(SigmaIdx(ens, 2, 2, i2), i2))
	for _, term := range e {
		seen := map[string]bool{}
		for _, s := range term.Sums {
			require.False(t, seen[s.Name], "summation index %q bound twice", s.Name)
			seen[s.Name] = true
		}
	}
}
