// Package mps implements the matrix product state tensor store.
//
// A chain of L sites is represented by rank-3 site tensors with legs
// (left-bond, physical, right-bond), plus the singular values of each bond.
// Boundary sites carry dimension-1 outer legs.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package mps

import (
	"fmt"
	"iter"
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

const (
	mpsLeftAxis  = 0
	mpsUpAxis    = 1
	mpsRightAxis = 2
)

var (
	// ErrNotFound is returned when reading a site or bond that was never written.
	ErrNotFound = errors.New("not found")
	// ErrShapeMismatch is returned on incompatible tensor shapes.
	// It is fatal; tensors are never silently reshaped.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Kind addresses the two families of data held by a Backend.
type Kind int

const (
	// KindSite addresses the rank-3 site tensors.
	KindSite Kind = iota
	// KindBond addresses the bond singular values.
	KindBond
)

// Entry is a single tensor addressed by kind and index.
type Entry struct {
	Kind Kind
	I    int
	T    *tensor.Dense
}

// Backend stores tensors together with their shapes.
// A Write followed by any Read observes the new value.
type Backend interface {
	Read(kind Kind, i int) (*tensor.Dense, error)
	Write(kind Kind, i int, t *tensor.Dense) error
	// WriteAll writes all entries atomically.
	// Either every entry is observed by subsequent reads, or none are.
	WriteAll(entries []Entry) error
}

// Direction is the direction of a sweep step.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Store holds the site tensors and bond singular values of a chain.
type Store struct {
	l       int
	d       int
	backend Backend
}

// NewStore creates a store for a chain of length l and physical dimension d.
// A nil backend defaults to in-memory storage.
func NewStore(l, d int, backend Backend) (*Store, error) {
	if l < 2 || d < 1 {
		return nil, errors.Errorf("bad chain l=%d d=%d", l, d)
	}
	if backend == nil {
		backend = NewMemBackend()
	}
	return &Store{l: l, d: d, backend: backend}, nil
}

// Len returns the chain length.
func (st *Store) Len() int { return st.l }

// PhysDim returns the physical dimension.
func (st *Store) PhysDim() int { return st.d }

// Read returns the site tensor at i.
func (st *Store) Read(i int) (*tensor.Dense, error) {
	if i < 0 || i >= st.l {
		return nil, errors.Errorf("site %d out of range [0, %d)", i, st.l)
	}
	t, err := st.backend.Read(KindSite, i)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
	}
	return t, nil
}

// Write stores the site tensor at i.
func (st *Store) Write(i int, t *tensor.Dense) error {
	if err := st.checkSite(i, t); err != nil {
		return err
	}
	if err := st.backend.Write(KindSite, i, t); err != nil {
		return errors.Wrap(err, fmt.Sprintf("site %d", i))
	}
	return nil
}

// ReadS returns the singular values of the bond between sites i-1 and i.
func (st *Store) ReadS(i int) (*tensor.Dense, error) {
	if i < 1 || i >= st.l {
		return nil, errors.Errorf("bond %d out of range [1, %d)", i, st.l)
	}
	s, err := st.backend.Read(KindBond, i)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("bond %d", i))
	}
	return s, nil
}

// WriteS stores the singular values of the bond between sites i-1 and i.
func (st *Store) WriteS(i int, s *tensor.Dense) error {
	if i < 1 || i >= st.l {
		return errors.Errorf("bond %d out of range [1, %d)", i, st.l)
	}
	if err := checkS(s); err != nil {
		return errors.Wrap(err, fmt.Sprintf("bond %d", i))
	}
	if err := st.backend.Write(KindBond, i, s); err != nil {
		return errors.Wrap(err, fmt.Sprintf("bond %d", i))
	}
	return nil
}

// WritePair stores the two site tensors of a two-site update and the
// singular values of the bond between them atomically.
func (st *Store) WritePair(i int, a, b, s *tensor.Dense) error {
	if i < 0 || i+1 >= st.l {
		return errors.Errorf("pair %d out of range", i)
	}
	if err := st.checkSite(i, a); err != nil {
		return err
	}
	if err := st.checkSite(i+1, b); err != nil {
		return err
	}
	if err := checkS(s); err != nil {
		return errors.Wrap(err, fmt.Sprintf("bond %d", i+1))
	}
	k := s.Shape()[0]
	if a.Shape()[mpsRightAxis] != k || b.Shape()[mpsLeftAxis] != k {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("pair %d: %#v %#v k=%d", i, a.Shape(), b.Shape(), k))
	}
	// Outer bonds must agree with the untouched neighbors.
	if prev, err := st.Read(i); err == nil {
		if prev.Shape()[mpsLeftAxis] != a.Shape()[mpsLeftAxis] {
			return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("site %d left bond %d != %d", i, a.Shape()[mpsLeftAxis], prev.Shape()[mpsLeftAxis]))
		}
	}
	if prev, err := st.Read(i + 1); err == nil {
		if prev.Shape()[mpsRightAxis] != b.Shape()[mpsRightAxis] {
			return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("site %d right bond %d != %d", i+1, b.Shape()[mpsRightAxis], prev.Shape()[mpsRightAxis]))
		}
	}

	entries := []Entry{
		{Kind: KindSite, I: i, T: a},
		{Kind: KindSite, I: i + 1, T: b},
		{Kind: KindBond, I: i + 1, T: s},
	}
	if err := st.backend.WriteAll(entries); err != nil {
		return errors.Wrap(err, fmt.Sprintf("pair %d", i))
	}
	return nil
}

func (st *Store) checkSite(i int, t *tensor.Dense) error {
	if i < 0 || i >= st.l {
		return errors.Errorf("site %d out of range [0, %d)", i, st.l)
	}
	shape := t.Shape()
	if len(shape) != 3 || shape[mpsUpAxis] != st.d {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("site %d: %#v, d=%d", i, shape, st.d))
	}
	if i == 0 && shape[mpsLeftAxis] != 1 {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("site 0: %#v", shape))
	}
	if i == st.l-1 && shape[mpsRightAxis] != 1 {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("site %d: %#v", i, shape))
	}
	return nil
}

func checkS(s *tensor.Dense) error {
	shape := s.Shape()
	if len(shape) != 1 || shape[0] < 1 {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%#v", shape))
	}
	var sumSq float64
	prev := math.Inf(1)
	for i := 0; i < shape[0]; i++ {
		v := s.At(i)
		if imag(v) != 0 || real(v) < 0 {
			return errors.Errorf("singular value %d: %v", i, v)
		}
		if float64(real(v)) > prev {
			return errors.Errorf("singular values not sorted at %d: %v", i, v)
		}
		prev = float64(real(v))
		sumSq += float64(real(v)) * float64(real(v))
	}
	if math.Abs(sumSq-1) > 1e-3 {
		return errors.Errorf("singular values not normalized: %f", sumSq)
	}
	return nil
}

// LeftTensor reshapes a matrix of shape (a*d, b) into a site tensor of
// shape (a, d, b), where matrix row alpha*d+sigma maps to index (alpha, sigma).
// It is the inverse of FlattenLeft.
func (st *Store) LeftTensor(m *tensor.Dense) (*tensor.Dense, error) {
	shape := m.Shape()
	if len(shape) != 2 || shape[0]%st.d != 0 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%#v, d=%d", shape, st.d))
	}
	return clone(m).Reshape(shape[0]/st.d, st.d, shape[1]), nil
}

// RightTensor reshapes a matrix of shape (a, d*b) into a site tensor of
// shape (a, d, b), where matrix column sigma*b+beta maps to index (sigma, beta).
// It is the inverse of FlattenRight.
func (st *Store) RightTensor(m *tensor.Dense) (*tensor.Dense, error) {
	shape := m.Shape()
	if len(shape) != 2 || shape[1]%st.d != 0 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%#v, d=%d", shape, st.d))
	}
	return clone(m).Reshape(shape[0], st.d, shape[1]/st.d), nil
}

// FlattenLeft reshapes a site tensor of shape (a, d, b) into the matrix of
// shape (a*d, b) grouping the left bond with the physical leg.
func FlattenLeft(t *tensor.Dense) *tensor.Dense {
	shape := t.Shape()
	return clone(t).Reshape(shape[0]*shape[1], shape[2])
}

// FlattenRight reshapes a site tensor of shape (a, d, b) into the matrix of
// shape (a, d*b) grouping the physical leg with the right bond.
func FlattenRight(t *tensor.Dense) *tensor.Dense {
	shape := t.Shape()
	return clone(t).Reshape(shape[0], shape[1]*shape[2])
}

// Sweep enumerates the left site of every two-site block in one full
// forward plus backward pass. For a chain of length 4, the blocks are
// (0,1), (1,2), (2,3) forward and (2,3), (1,2), (0,1) backward.
func (st *Store) Sweep() iter.Seq2[int, Direction] {
	return func(yield func(int, Direction) bool) {
		for i := 0; i <= st.l-2; i++ {
			if !yield(i, Forward) {
				return
			}
		}
		for i := st.l - 2; i >= 0; i-- {
			if !yield(i, Backward) {
				return
			}
		}
	}
}

// Entropy returns the von Neumann entanglement entropy of a bond from its
// singular values.
func Entropy(s *tensor.Dense) float64 {
	var entropy float64
	for _, v := range s.All() {
		p := float64(real(v)) * float64(real(v))
		if p <= 0 {
			continue
		}
		entropy -= p * math.Log(p)
	}
	return entropy
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
