package correlation

import "math/cmplx"

// solve computes x with a·x = rhs by Gaussian elimination with partial
// pivoting over complex128. The input slices are not modified.
func solve(a [][]complex128, rhs []complex128) ([]complex128, error) {
	n := len(a)
	lu := make([][]complex128, n)
	for i := range lu {
		lu[i] = append([]complex128(nil), a[i]...)
	}
	x := append([]complex128(nil), rhs...)

	for col := 0; col < n; col++ {
		pivot := col
		best := cmplx.Abs(lu[col][col])
		for r := col + 1; r < n; r++ {
			if m := cmplx.Abs(lu[r][col]); m > best {
				best = m
				pivot = r
			}
		}
		if best == 0 {
			return nil, ErrSingular
		}
		if pivot != col {
			lu[col], lu[pivot] = lu[pivot], lu[col]
			x[col], x[pivot] = x[pivot], x[col]
		}
		for r := col + 1; r < n; r++ {
			f := lu[r][col] / lu[col][col]
			if f == 0 {
				continue
			}
			lu[r][col] = 0
			for c := col + 1; c < n; c++ {
				lu[r][c] -= f * lu[col][c]
			}
			x[r] -= f * x[col]
		}
	}
	for r := n - 1; r >= 0; r-- {
		v := x[r]
		for c := r + 1; c < n; c++ {
			v -= lu[r][c] * x[c]
		}
		x[r] = v / lu[r][r]
	}
	return x, nil
}
