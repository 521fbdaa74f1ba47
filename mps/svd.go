package mps

import (
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// SVD computes the singular value decomposition a = u @ diag(s) @ vh of an
// (m, n) matrix, with k = min(m, n). u is (m, k) with orthonormal columns,
// s holds the k singular values in non-increasing order, and vh is (k, n)
// with orthonormal rows.
func SVD(u, s, vh, a *tensor.Dense) error {
	shape := a.Shape()
	if len(shape) != 2 {
		return errors.Errorf("%#v", shape)
	}

	var bufs [3]*tensor.Dense
	for i := range bufs {
		bufs[i] = tensor.Zeros(1)
	}
	// tensor.SVD destroys its input, work on a copy.
	uu, v := tensor.Zeros(1), tensor.Zeros(1)
	sm, err := tensor.SVD(uu, v, clone(a), bufs)
	if err != nil {
		return errors.Wrap(err, "")
	}

	// Flatten the diagonal singular value matrix into a vector.
	k := sm.Shape()[0]
	s.Reset(k)
	for i := range k {
		s.SetAt([]int{i}, complex(real(sm.At(i, i)), 0))
	}
	resetCopy(u, uu)
	resetCopy(vh, v.H())
	return nil
}

// Truncate keeps at most chi singular values above cutoff, at least one,
// renormalizing the kept values so their squares sum to one. It returns the
// truncated factors and the discarded weight relative to the total.
func Truncate(u, s, vh *tensor.Dense, chi int, cutoff float64) (*tensor.Dense, *tensor.Dense, *tensor.Dense, float64, error) {
	k := s.Shape()[0]
	if chi < 1 {
		return nil, nil, nil, 0, errors.Errorf("chi %d", chi)
	}

	var total float64
	keep := 0
	for i := 0; i < k; i++ {
		v := float64(real(s.At(i)))
		total += v * v
		if v > cutoff && i < chi {
			keep++
		}
	}
	if keep < 1 {
		keep = 1
	}
	if total == 0 {
		return nil, nil, nil, 0, errors.Errorf("all singular values are zero")
	}

	var kept float64
	for i := 0; i < keep; i++ {
		v := float64(real(s.At(i)))
		kept += v * v
	}
	discarded := (total - kept) / total

	m, n := u.Shape()[0], vh.Shape()[1]
	uk := clone(u.Slice([][2]int{{0, m}, {0, keep}}))
	vhk := clone(vh.Slice([][2]int{{0, keep}, {0, n}}))
	sk := tensor.Zeros(keep)
	renorm := math.Sqrt(kept)
	for i := 0; i < keep; i++ {
		sk.SetAt([]int{i}, complex(float32(float64(real(s.At(i)))/renorm), 0))
	}
	return uk, sk, vhk, discarded, nil
}
