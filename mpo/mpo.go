// Package mpo provides Hamiltonians as matrix product operators.
//
// A matrix product operator is a chain of rank-4 tensors with legs
// (op-left, op-right, phys-out, phys-in). The boundary tensors carry
// dimension-1 outer legs, and all bulk tensors share the same operator
// bond dimension.
package mpo

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

const (
	mpoLeftAxis  = 0
	mpoRightAxis = 1
	mpoUpAxis    = 2
	mpoDownAxis  = 3
)

var (
	// PauliX is the Pauli X matrix.
	PauliX = [][]complex64{
		{0, 1},
		{1, 0},
	}
	// PauliY is the Pauli Y matrix.
	PauliY = [][]complex64{
		{0, -1i},
		{1i, 0},
	}
	// PauliZ is the Pauli Z matrix.
	PauliZ = [][]complex64{
		{1, 0},
		{0, -1},
	}

	zero = [][]complex64{
		{0, 0},
		{0, 0},
	}
	identity = [][]complex64{
		{1, 0},
		{0, 1},
	}
)

// Operator is a Hamiltonian in matrix product operator form.
// The returned tensors are shared and must not be modified.
type Operator interface {
	// Len returns the chain length.
	Len() int
	// PhysDim returns the physical dimension.
	PhysDim() int
	// Wl returns the leftmost tensor, of shape (1, b, d, d).
	Wl() *tensor.Dense
	// Wr returns the rightmost tensor, of shape (b, 1, d, d).
	Wr() *tensor.Dense
	// MPO returns the bulk tensor at site, of shape (b, b, d, d).
	MPO(site int) *tensor.Dense
}

// W returns the operator tensor at site, selecting the boundary tensors
// at the chain ends.
func W(op Operator, site int) *tensor.Dense {
	switch site {
	case 0:
		return op.Wl()
	case op.Len() - 1:
		return op.Wr()
	default:
		return op.MPO(site)
	}
}

// Validate checks the shapes of all tensors of an operator.
// Boundary tensors must carry dimension-1 outer legs, bulk tensors must
// share one operator bond dimension, and the physical legs must match
// PhysDim everywhere.
func Validate(op Operator) error {
	l, d := op.Len(), op.PhysDim()
	if l < 2 || d < 1 {
		return errors.Errorf("bad operator l=%d d=%d", l, d)
	}

	wl, wr := op.Wl().Shape(), op.Wr().Shape()
	if len(wl) != 4 || wl[mpoLeftAxis] != 1 || wl[mpoUpAxis] != d || wl[mpoDownAxis] != d {
		return errors.Errorf("Wl %#v, d=%d", wl, d)
	}
	if len(wr) != 4 || wr[mpoRightAxis] != 1 || wr[mpoUpAxis] != d || wr[mpoDownAxis] != d {
		return errors.Errorf("Wr %#v, d=%d", wr, d)
	}
	b := wl[mpoRightAxis]
	if wr[mpoLeftAxis] != b {
		return errors.Errorf("Wl %#v Wr %#v", wl, wr)
	}
	for i := 1; i <= l-2; i++ {
		w := op.MPO(i).Shape()
		if len(w) != 4 || w[mpoLeftAxis] != b || w[mpoRightAxis] != b || w[mpoUpAxis] != d || w[mpoDownAxis] != d {
			return errors.Errorf("site %d: %#v, b=%d d=%d", i, w, b, d)
		}
	}
	return nil
}

// uniform is an operator whose bulk tensors are all the same.
type uniform struct {
	l  int
	d  int
	w  *tensor.Dense
	wl *tensor.Dense
	wr *tensor.Dense
}

func newUniform(l int, w *tensor.Dense) *uniform {
	d0, d1, d2, d3 := w.Shape()[0], w.Shape()[1], w.Shape()[2], w.Shape()[3]
	return &uniform{
		l: l,
		d: w.Shape()[mpoDownAxis],
		w: w,
		// The left boundary is the last row of w.
		wl: w.Slice([][2]int{{d0 - 1, d0}, {0, d1}, {0, d2}, {0, d3}}),
		// The right boundary is the first column of w.
		wr: w.Slice([][2]int{{0, d0}, {0, 1}, {0, d2}, {0, d3}}),
	}
}

func (u *uniform) Len() int              { return u.l }
func (u *uniform) PhysDim() int          { return u.d }
func (u *uniform) Wl() *tensor.Dense     { return u.wl }
func (u *uniform) Wr() *tensor.Dense     { return u.wr }
func (u *uniform) MPO(int) *tensor.Dense { return u.w }

// TransverseFieldIsingOptions are options for TransverseFieldIsing.
type TransverseFieldIsingOptions struct {
	// Polarize adds a strong Z field at the two boundary sites, selecting
	// one of the two symmetry broken ground states in the ordered phase.
	Polarize bool
}

// polarizeField dominates the couplings of any chain of interest.
const polarizeField complex64 = 10

// TransverseFieldIsing returns the Hamiltonian
//
//	H = -j * \sum Z_{i} Z_{i+1} - h * \sum X_{i}
//
// on a chain of length l.
func TransverseFieldIsing(l int, j, h complex64, options ...TransverseFieldIsingOptions) Operator {
	opt := TransverseFieldIsingOptions{}
	if len(options) > 0 {
		opt = options[0]
	}

	mul := func(c complex64, x [][]complex64) [][]complex64 {
		return tensor.T2(x).Mul(c).ToSlice2()
	}
	w := tensor.T4([][][][]complex64{
		{identity, zero, zero},
		{PauliZ, zero, zero},
		{mul(-h, PauliX), mul(-j, PauliZ), identity},
	})
	u := newUniform(l, w)

	if opt.Polarize {
		onsite := tensor.T2(PauliX).Mul(-h).Add(-polarizeField, tensor.T2(PauliZ)).ToSlice2()
		u.wl = tensor.T4([][][][]complex64{
			{onsite, mul(-j, PauliZ), identity},
		})
		u.wr = tensor.T4([][][][]complex64{
			{identity}, {PauliZ}, {onsite},
		})
	}
	return u
}

// Identity returns the identity operator on a chain of length l with
// physical dimension d.
func Identity(l, d int) Operator {
	eye := make([][]complex64, d)
	for i := range eye {
		eye[i] = make([]complex64, d)
		eye[i][i] = 1
	}
	w := tensor.T4([][][][]complex64{{eye}})
	return newUniform(l, w)
}
