// Package lanczos finds the lowest eigenpair of a two-site effective
// Hamiltonian.
//
// The effective Hamiltonian is defined by a left environment, two operator
// tensors, and a right environment. It is never formed as a matrix; only
// its action on a two-site wavefunction is contracted.
//
// References:
//   - Section 6.3 Iterative ground state search, Ulrich Schollwock
package lanczos

import (
	"math"
	"math/cmplx"
	"slices"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	mpoLeftAxis  = 0
	mpoRightAxis = 1
	mpoUpAxis    = 2
	mpoDownAxis  = 3
)

// EffH is the effective Hamiltonian of a two-site block.
// It acts on wavefunctions of shape (c1, d, d, c2), where c1 and c2 are
// the bond dimensions of the left and right environments.
type EffH struct {
	right *tensor.Dense
	w2    *tensor.Dense
	// lw is the left environment precontracted with the first operator
	// tensor, of shape {conj, state, mpoRight, mpoUp, mpoDown}.
	lw *tensor.Dense

	c1, c2, d int
	bufs      [2]*tensor.Dense
}

// NewEffH creates the effective Hamiltonian from the left and right
// environments and the operator tensors of the two sites.
func NewEffH(left, right, w1, w2 *tensor.Dense) (*EffH, error) {
	ls, rs := left.Shape(), right.Shape()
	w1s, w2s := w1.Shape(), w2.Shape()
	if len(ls) != 3 || ls[0] != ls[2] {
		return nil, errors.Errorf("left %#v", ls)
	}
	if len(rs) != 3 || rs[0] != rs[2] {
		return nil, errors.Errorf("right %#v", rs)
	}
	if len(w1s) != 4 || w1s[mpoUpAxis] != w1s[mpoDownAxis] {
		return nil, errors.Errorf("w1 %#v", w1s)
	}
	if len(w2s) != 4 || w2s[mpoUpAxis] != w2s[mpoDownAxis] || w2s[mpoDownAxis] != w1s[mpoDownAxis] {
		return nil, errors.Errorf("w1 %#v w2 %#v", w1s, w2s)
	}
	if ls[1] != w1s[mpoLeftAxis] || w1s[mpoRightAxis] != w2s[mpoLeftAxis] || w2s[mpoRightAxis] != rs[1] {
		return nil, errors.Errorf("left %#v w1 %#v w2 %#v right %#v", ls, w1s, w2s, rs)
	}

	h := &EffH{
		right: right,
		w2:    w2,
		c1:    ls[0],
		c2:    rs[0],
		d:     w1s[mpoDownAxis],
		bufs:  [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)},
	}
	h.lw = tensor.Product(tensor.Zeros(1), left, w1, [][2]int{{1, mpoLeftAxis}})
	return h, nil
}

// Size returns the dimension of the space the Hamiltonian acts on.
func (h *EffH) Size() int { return h.c1 * h.d * h.d * h.c2 }

// Apply computes out = H @ psi.
func (h *EffH) Apply(out, psi *tensor.Dense) *tensor.Dense {
	// lw is of shape {conj, state, mpoRight, mpoUp, mpoDown}.
	// x is of shape {conj, mpoRight, mpoUp1, psiUp2, psiRight}.
	x := tensor.Product(h.bufs[0], h.lw, psi, [][2]int{{1, 0}, {4, 1}})

	// x is of shape {conj, mpoUp1, psiRight, mpoRight2, mpoUp2}.
	x = tensor.Product(h.bufs[1], x, h.w2, [][2]int{{1, mpoLeftAxis}, {3, mpoDownAxis}})

	// out is of shape {conj, mpoUp1, mpoUp2, rightConj}.
	tensor.Product(out, x, h.right, [][2]int{{2, 2}, {3, 1}})

	return out
}

// Options are options for the Lanczos iteration.
type Options struct {
	maxIterations   int
	tol             float64
	reorthogonalize bool
}

// NewOptions returns the default Lanczos options.
func NewOptions() Options {
	opt := Options{}
	opt.maxIterations = 64
	opt.tol = 1e-6
	return opt
}

// MaxIterations sets the maximum number of iterations.
func (opt Options) MaxIterations(i int) Options {
	opt.maxIterations = i
	return opt
}

// Tol sets the residual tolerance of the convergence criterion.
func (opt Options) Tol(tol float64) Options {
	opt.tol = tol
	return opt
}

// Reorthogonalize enables full reorthogonalization of the Krylov basis,
// which trades extra inner products for numerical stability.
func (opt Options) Reorthogonalize(on bool) Options {
	opt.reorthogonalize = on
	return opt
}

// Result is the outcome of a Lanczos run.
type Result struct {
	// Energy is the lowest eigenvalue estimate.
	Energy float64
	// Iterations is the number of Hamiltonian applications.
	Iterations int
	// Converged is false when the iteration cap was hit before the
	// residual dropped below tolerance.
	Converged bool
	// Hermiticity is the largest relative imaginary part observed in the
	// Rayleigh quotients, which is zero for an exactly Hermitian operator.
	Hermiticity float64
}

// Solve finds the lowest eigenpair of h, writing the eigenvector to vec.
// The guess is not modified.
func Solve(vec *tensor.Dense, h *EffH, guess *tensor.Dense, options ...Options) (Result, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	if !slices.Equal(guess.Shape(), []int{h.c1, h.d, h.d, h.c2}) {
		return Result{}, errors.Errorf("guess %#v, want [%d %d %d %d]", guess.Shape(), h.c1, h.d, h.d, h.c2)
	}
	nrm := norm(guess)
	if nrm == 0 {
		return Result{}, errors.Errorf("zero guess")
	}
	v := clone(guess)
	scale(v, 1/nrm)

	basis := []*tensor.Dense{v}
	var alphas, betas []float64
	var res Result
	w := tensor.Zeros(1)
	for {
		vj := basis[len(basis)-1]
		h.Apply(w, vj)
		res.Iterations++

		rayleigh := dot(vj, w)
		res.Hermiticity = max(res.Hermiticity, math.Abs(imag(rayleigh))/max(cmplx.Abs(rayleigh), 1))
		alpha := real(rayleigh)
		alphas = append(alphas, alpha)

		if len(basis) >= h.Size() {
			res.Converged = true
			break
		}
		if res.Iterations >= opt.maxIterations {
			break
		}

		// Three-term recurrence.
		axpy(w, complex(-alpha, 0), vj)
		if len(basis) > 1 {
			axpy(w, complex(-betas[len(betas)-1], 0), basis[len(basis)-2])
		}
		if opt.reorthogonalize {
			for _, u := range basis {
				axpy(w, -dot(u, w), u)
			}
		}

		beta := norm(w)
		if beta < opt.tol {
			res.Converged = true
			break
		}
		betas = append(betas, beta)
		next := clone(w)
		scale(next, 1/beta)
		basis = append(basis, next)
	}

	// Diagonalize the tridiagonal projection.
	n := len(alphas)
	trid := mat.NewSymDense(n, nil)
	for i, a := range alphas {
		trid.SetSym(i, i, a)
	}
	for i, b := range betas {
		trid.SetSym(i, i+1, b)
	}
	var es mat.EigenSym
	if !es.Factorize(trid, true) {
		return res, errors.Errorf("eigendecomposition failed, n=%d", n)
	}
	res.Energy = es.Values(nil)[0]
	var evecs mat.Dense
	es.VectorsTo(&evecs)

	vec.Reset(h.c1, h.d, h.d, h.c2)
	for k, u := range basis {
		axpy(vec, complex(evecs.At(k, 0), 0), u)
	}
	if nv := norm(vec); nv > 0 {
		scale(vec, 1/nv)
	}
	return res, nil
}

func dot(a, b *tensor.Dense) complex128 {
	var d complex128
	for ijk, v := range a.All() {
		d += cmplx.Conj(complex128(v)) * complex128(b.At(ijk...))
	}
	return d
}

func norm(a *tensor.Dense) float64 {
	var sumSq float64
	for _, v := range a.All() {
		sumSq += float64(real(v))*float64(real(v)) + float64(imag(v))*float64(imag(v))
	}
	return math.Sqrt(sumSq)
}

// axpy computes y += alpha * x.
func axpy(y *tensor.Dense, alpha complex128, x *tensor.Dense) {
	for ijk, v := range y.All() {
		y.SetAt(ijk, v+complex64(alpha)*x.At(ijk...))
	}
}

func scale(a *tensor.Dense, alpha float64) {
	c := complex(float32(alpha), 0)
	for ijk, v := range a.All() {
		a.SetAt(ijk, v*c)
	}
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
