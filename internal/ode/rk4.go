package ode

import "github.com/san-kum/qmoment/internal/qalg"

// RK4 is a classical fourth-order Runge-Kutta stepper over complex
// state vectors. Scratch buffers are reused across steps.
type RK4 struct {
	k1, k2, k3, k4 []complex128
	scratch        []complex128
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make([]complex128, n)
		r.k2 = make([]complex128, n)
		r.k3 = make([]complex128, n)
		r.k4 = make([]complex128, n)
		r.scratch = make([]complex128, n)
	}
}

// Step advances x by dt and returns the new state.
func (r *RK4) Step(c *Compiled, x []complex128, env *qalg.Env, dt float64) ([]complex128, error) {
	n := len(x)
	r.ensureScratch(n)
	h := complex(dt, 0)

	if err := c.Derivative(x, env, r.k1); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + h*0.5*r.k1[i]
	}
	if err := c.Derivative(r.scratch, env, r.k2); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + h*0.5*r.k2[i]
	}
	if err := c.Derivative(r.scratch, env, r.k3); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + h*r.k3[i]
	}
	if err := c.Derivative(r.scratch, env, r.k4); err != nil {
		return nil, err
	}

	result := make([]complex128, n)
	h6 := h / 6.0
	for i := 0; i < n; i++ {
		result[i] = x[i] + h6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}
	return result, nil
}
