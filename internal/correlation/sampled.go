package correlation

import (
	"errors"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// ErrBadTrace reports a sampled trace too short or inconsistent with
// its time grid.
var ErrBadTrace = errors.New("correlation: bad sampled trace")

// SampledSpectrum estimates S(ω) from a uniformly sampled correlation
// trace by discrete Fourier transform, as a numeric cross-check of the
// linear-solve spectrum. The asymptote cInf is subtracted before
// transforming; the τ=0 endpoint gets a trapezoid correction. Returned
// frequencies are in increasing order, negative half first.
func SampledSpectrum(taus []float64, trace []complex128, cInf complex128) ([]float64, []float64, error) {
	n := len(trace)
	if n < 2 || len(taus) != n {
		return nil, nil, ErrBadTrace
	}
	dt := taus[1] - taus[0]
	if dt <= 0 {
		return nil, nil, ErrBadTrace
	}

	samples := make([]complex128, n)
	for i, v := range trace {
		samples[i] = v - cInf
	}
	bins := fft.FFT(samples)

	omegas := make([]float64, n)
	s := make([]float64, n)
	step := 2 * math.Pi / (float64(n) * dt)
	// Negative-frequency bins sit in the upper half of the transform.
	pos := 0
	for m := n/2 + 1; m < n; m++ {
		omegas[pos] = float64(m-n) * step
		s[pos] = 2 * real((bins[m]-samples[0]/2)*complex(dt, 0))
		pos++
	}
	for m := 0; m <= n/2; m++ {
		omegas[pos] = float64(m) * step
		s[pos] = 2 * real((bins[m]-samples[0]/2)*complex(dt, 0))
		pos++
	}
	return omegas, s, nil
}
