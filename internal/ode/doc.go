// Package ode turns closed moment systems into numerically integrable
// vector fields.
//
//   - Compile flattens a closed system into a state vector with a fixed
//     variable order.
//   - RK4 steps a complex state with reusable scratch buffers.
//   - Evolve records a full trajectory; SteadyState relaxes until the
//     derivative norm vanishes.
//
// Parameter values and any externally supplied averages enter through
// qalg.Env; the compiled state vector shadows its Avg lookup.
package ode
