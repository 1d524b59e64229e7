// Package qalg implements the symbolic algebra underneath the moment
// equation engine: elementary quantum operators, canonical
// normal-ordered products, deferred index sums with exclusion
// constraints, scalar expressions over parameters and averages, and
// the order-k cumulant expansion.
//
// Core types:
//
//   - [Elem]: one elementary operator (a, a†, σ(a,b), optionally on an
//     indexed replica, optionally frozen at time 0)
//   - [Term] / [OpExpr]: canonical operator polynomials with summation
//     indices and i≠j constraints
//   - [Scalar]: symbolic coefficients ([Num], [Param], [Delta],
//     [Add], [Mul], [Sum], [Average])
//
// All values are immutable; constructors simplify eagerly and order
// terms deterministically, so algebraically equal expressions compare
// structurally equal by Key. Normal ordering applies [a,a†] = 1,
// σ(a,b)σ(c,d) = δ(b,c)σ(a,d), subsystem-precedence commutation, and
// the ground-projector elimination σ(1,1) = 1 − Σ_{m≥2} σ(m,m).
package qalg
