// Package cont contracts and caches the environment tensors of a chain.
//
// The left environment of a site is the contraction of the state, the
// operator, and the conjugated state over all sites to its left, and
// likewise for the right environment. Environments are built
// incrementally, one site at a time, and cached until the underlying site
// tensors change.
//
// References:
//   - Section 6.2 Applying a Hamiltonian MPO to a mixed canonical state, Ulrich Schollwock
package cont

import (
	"fmt"

	"github.com/fumin/dmrg/mpo"
	"github.com/fumin/dmrg/mps"
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

const (
	mpsLeftAxis  = 0
	mpsUpAxis    = 1
	mpsRightAxis = 2
	mpoLeftAxis  = 0
	mpoRightAxis = 1
	mpoUpAxis    = 2
	mpoDownAxis  = 3
)

// Engine caches the environment tensors of a chain.
// Environments are of shape (conjugated-state bond, operator bond, state
// bond). The returned tensors are owned by the engine and must not be
// modified.
type Engine struct {
	store *mps.Store
	op    mpo.Operator

	// left[i] contracts sites 0..i, right[i] contracts sites i..l-1.
	left  []*tensor.Dense
	right []*tensor.Dense
	// leftValid is the highest valid index of left, or -1.
	// rightValid is the lowest valid index of right, or l.
	leftValid  int
	rightValid int

	one  *tensor.Dense
	bufs [2]*tensor.Dense
}

// NewEngine creates an engine over a store and an operator.
func NewEngine(store *mps.Store, op mpo.Operator) (*Engine, error) {
	if store.Len() != op.Len() || store.PhysDim() != op.PhysDim() {
		return nil, errors.Errorf("store %dx%d operator %dx%d", store.Len(), store.PhysDim(), op.Len(), op.PhysDim())
	}
	l := store.Len()
	e := &Engine{
		store:      store,
		op:         op,
		left:       make([]*tensor.Dense, l),
		right:      make([]*tensor.Dense, l),
		leftValid:  -1,
		rightValid: l,
		one:        ones(tensor.Zeros(1), 1, 1, 1),
		bufs:       [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)},
	}
	for i := range l {
		e.left[i] = tensor.Zeros(1)
		e.right[i] = tensor.Zeros(1)
	}
	return e, nil
}

// Left returns the environment contracting sites 0..site.
// Left(-1) is the trivial boundary environment.
func (e *Engine) Left(site int) (*tensor.Dense, error) {
	if site < -1 || site >= e.store.Len() {
		return nil, errors.Errorf("site %d out of range [-1, %d)", site, e.store.Len())
	}
	if site == -1 {
		return e.one, nil
	}
	for i := e.leftValid + 1; i <= site; i++ {
		m, err := e.store.Read(i)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
		prev := e.one
		if i > 0 {
			prev = e.left[i-1]
		}
		lStep(e.left[i], prev, mpo.W(e.op, i), m, e.bufs[:])
		e.leftValid = i
	}
	return e.left[site], nil
}

// Right returns the environment contracting sites site..l-1.
// Right(l) is the trivial boundary environment.
func (e *Engine) Right(site int) (*tensor.Dense, error) {
	l := e.store.Len()
	if site < 1 || site > l {
		return nil, errors.Errorf("site %d out of range [1, %d]", site, l)
	}
	if site == l {
		return e.one, nil
	}
	for i := e.rightValid - 1; i >= site; i-- {
		m, err := e.store.Read(i)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
		prev := e.one
		if i < l-1 {
			prev = e.right[i+1]
		}
		rStep(e.right[i], prev, mpo.W(e.op, i), m, e.bufs[:])
		e.rightValid = i
	}
	return e.right[site], nil
}

// Invalidate marks the environments containing site as stale.
// They are recomputed on the next Left or Right call.
func (e *Engine) Invalidate(site int) {
	if site <= e.leftValid {
		e.leftValid = site - 1
	}
	if site >= e.rightValid {
		e.rightValid = site + 1
	}
}

// lStep extends a left environment by one site.
// See Equation 192, Ulrich Schollwock.
func lStep(fi, fi1, w, m *tensor.Dense, bufs []*tensor.Dense) *tensor.Dense {
	// fi1 is of shape {fTop, fMid, fBot}.
	// fm is of shape {fTop, fMid, mpsTop, mpsRight}.
	fm := tensor.Product(bufs[0], fi1, m, [][2]int{{2, mpsLeftAxis}})

	// wfm is of shape {mpoRight, mpoUp, fTop, mpsRight}.
	wfm := tensor.Product(bufs[1], w, fm, [][2]int{{mpoDownAxis, 2}, {mpoLeftAxis, 1}})

	// fi is of shape {mpsRight.conj, mpoRight, mpsRight}.
	tensor.Product(fi, m.Conj(), wfm, [][2]int{{mpsLeftAxis, 2}, {mpsUpAxis, 1}})

	return fi
}

// rStep extends a right environment by one site.
// See Equation 193, Ulrich Schollwock.
func rStep(fi, fi1, w, m *tensor.Dense, bufs []*tensor.Dense) *tensor.Dense {
	// fi1 is of shape {fTop, fMid, fBot}.
	// fm is of shape {fTop, fMid, mpsLeft, mpsTop}.
	fm := tensor.Product(bufs[0], fi1, m, [][2]int{{2, mpsRightAxis}})

	// wfm is of shape {mpoLeft, mpoUp, fTop, mpsLeft}.
	wfm := tensor.Product(bufs[1], w, fm, [][2]int{{mpoDownAxis, 3}, {mpoRightAxis, 1}})

	// fi is of shape {mpsLeft.conj, mpoLeft, mpsLeft}.
	tensor.Product(fi, m.Conj(), wfm, [][2]int{{mpsRightAxis, 2}, {mpsUpAxis, 1}})

	return fi
}

func ones(t *tensor.Dense, shape ...int) *tensor.Dense {
	t.Reset(shape...)
	for ijk := range t.All() {
		t.SetAt(ijk, 1)
	}
	return t
}
