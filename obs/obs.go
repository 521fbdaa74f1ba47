// Package obs measures observables of a matrix product state.
package obs

import (
	"fmt"
	"math/cmplx"

	"github.com/fumin/dmrg/mps"
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

const (
	mpsLeftAxis  = 0
	mpsUpAxis    = 1
	mpsRightAxis = 2

	// Machine precision.
	epsilon = 0x1p-23
)

// SingleSite measures the expectation value of the single site operator o,
// a matrix of shape (d, d), at site.
func SingleSite(st *mps.Store, site int, o *tensor.Dense) (complex64, error) {
	if err := check(st, site, o); err != nil {
		return 0, err
	}
	return expectation(st, map[int]*tensor.Dense{site: o})
}

// Correlation measures the two point correlation <o1_{site1} o2_{site2}>,
// where site1 must be strictly left of site2.
func Correlation(st *mps.Store, site1, site2 int, o1, o2 *tensor.Dense) (complex64, error) {
	if site1 >= site2 {
		return 0, errors.Errorf("sites %d %d", site1, site2)
	}
	if err := check(st, site1, o1); err != nil {
		return 0, err
	}
	if err := check(st, site2, o2); err != nil {
		return 0, err
	}
	return expectation(st, map[int]*tensor.Dense{site1: o1, site2: o2})
}

func check(st *mps.Store, site int, o *tensor.Dense) error {
	if site < 0 || site >= st.Len() {
		return errors.Errorf("site %d out of range [0, %d)", site, st.Len())
	}
	shape := o.Shape()
	if len(shape) != 2 || shape[0] != st.PhysDim() || shape[1] != st.PhysDim() {
		return errors.Errorf("operator %#v, d=%d", shape, st.PhysDim())
	}
	return nil
}

func expectation(st *mps.Store, ops map[int]*tensor.Dense) (complex64, error) {
	num, err := contract(st, ops)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	den, err := contract(st, nil)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	if abs(den) < epsilon {
		return 0, errors.Errorf("norm %f", den)
	}
	return num / den, nil
}

// contract evaluates <psi|ops|psi> by sweeping a transfer tensor over the
// chain. See Section 4.2.1 Efficient evaluation of contractions, Ulrich
// Schollwock.
func contract(st *mps.Store, ops map[int]*tensor.Dense) (complex64, error) {
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	ybuf := tensor.Zeros(1)

	f := ones(bufs[0], 1, 1)
	const fTopAxis, fBottomAxis = 0, 1
	for i := 0; i < st.Len(); i++ {
		m, err := st.Read(i)
		if err != nil {
			return 0, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}

		yi := m
		if o, ok := ops[i]; ok {
			// Apply the operator to the physical leg of the ket.
			om := tensor.Product(ybuf, o, m, [][2]int{{1, mpsUpAxis}})
			yi = clone(om.Transpose(1, 0, 2))
		}

		fyi := tensor.Product(bufs[1], f, yi, [][2]int{{fBottomAxis, mpsLeftAxis}})
		f = tensor.Product(bufs[0], m.Conj(), fyi, [][2]int{{mpsLeftAxis, fTopAxis}, {mpsUpAxis, mpsUpAxis}})
	}
	return f.At(0, 0), nil
}

func ones(t *tensor.Dense, shape ...int) *tensor.Dense {
	t.Reset(shape...)
	for ijk := range t.All() {
		t.SetAt(ijk, 1)
	}
	return t
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}

func clone(src *tensor.Dense) *tensor.Dense {
	return resetCopy(tensor.Zeros(1), src)
}

func abs(x complex64) float32 {
	return float32(cmplx.Abs(complex128(x)))
}
