// Package moment turns a Hamiltonian and a set of Lindblad jump
// operators into a closed ODE system for operator averages.
//
//   - [Generator] derives d/dt⟨O⟩ = i⟨[H,O]⟩ + dissipator terms for a
//     single target product, truncated at a cumulant order
//   - [Close] iterates derivation over every average the right-hand
//     sides reference until the system reaches a fixed point
//   - [Options.Filter] prunes averages known to vanish by symmetry;
//     [U1Filter] implements the excitation-number case
//
// Jump channels come in three shapes: a plain operator with a scalar
// rate, an indexed operator summed over replicas with a per-replica
// rate, and an indexed operator pair coupled through a rate matrix
// R(i,j).
package moment
