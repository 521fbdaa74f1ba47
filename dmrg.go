// Package dmrg finds ground states of one-dimensional quantum lattice
// systems with the density matrix renormalization group.
//
// A System is grown site by site from the chain ends to full length, and
// then optimized by repeated two-site sweeps until the energy between
// consecutive passes stops changing. At every step, the two-site
// wavefunction is minimized with a Lanczos iteration and split back into
// site tensors by a truncated singular value decomposition.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package dmrg

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/fumin/dmrg/cont"
	"github.com/fumin/dmrg/lanczos"
	"github.com/fumin/dmrg/mpo"
	"github.com/fumin/dmrg/mps"
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// Phase is the lifecycle phase of a System.
type Phase int

const (
	// PhaseGrowing means the chain has not reached full length yet.
	PhaseGrowing Phase = iota
	// PhaseSweeping means finite-size sweeps are optimizing the state.
	PhaseSweeping
	// PhaseConverged is terminal, further steps and sweeps are no-ops.
	PhaseConverged
)

func (p Phase) String() string {
	switch p {
	case PhaseGrowing:
		return "growing"
	case PhaseSweeping:
		return "sweeping"
	case PhaseConverged:
		return "converged"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Config configures a ground state search.
type Config struct {
	// BondDim is the maximum bond dimension.
	BondDim int
	// Cutoff discards singular values at or below it.
	Cutoff float64
	// TruncationBudget is the largest acceptable discarded weight of a
	// single split. Exceeding it is recorded in Diagnostics.
	TruncationBudget float64

	// LanczosIterations caps the eigensolver iterations per step.
	LanczosIterations int
	// LanczosTol is the eigensolver residual tolerance.
	LanczosTol float64
	// Reorthogonalize enables full reorthogonalization of the Krylov basis.
	Reorthogonalize bool

	// SweepTol is the energy difference between consecutive passes,
	// relative to the energy scale, below which the search is converged.
	SweepTol float64
	// MaxSweeps caps the number of passes in Run.
	MaxSweeps int

	// Seed seeds the random guess wavefunctions.
	Seed uint64
	// ProductState, when non-nil, initializes the chain as the product
	// state of the given local basis states, skipping the growth phase.
	ProductState []int
}

// NewConfig returns the default configuration.
func NewConfig() Config {
	cfg := Config{}
	cfg.BondDim = 8
	cfg.Cutoff = 1e-7
	cfg.TruncationBudget = 1e-4
	cfg.LanczosIterations = 64
	cfg.LanczosTol = 1e-6
	cfg.Reorthogonalize = true
	cfg.SweepTol = 1e-5
	cfg.MaxSweeps = 16
	return cfg
}

// Result is the outcome of a step or a pass.
type Result struct {
	// Energy is the ground state energy estimate.
	Energy float64
	// Entropy is the von Neumann entanglement entropy. After a full pass
	// it is measured at the middle bond.
	Entropy float64
	// PrevEnergy is the energy estimate before this step or pass.
	PrevEnergy float64
}

// Diagnostics accumulates the soft failures of a search.
// They never abort a run.
type Diagnostics struct {
	// EigensolverStalls counts Lanczos runs that hit the iteration cap.
	EigensolverStalls int
	// MaxHermiticity is the largest Hermiticity deviation reported by the
	// eigensolver.
	MaxHermiticity float64
	// MaxTruncationErr is the largest discarded weight of any split.
	MaxTruncationErr float64
	// BudgetExceeded reports whether any discarded weight exceeded
	// Config.TruncationBudget.
	BudgetExceeded bool
}

// System is a ground state search over one Hamiltonian.
type System struct {
	cfg    Config
	op     mpo.Operator
	store  *mps.Store
	engine *cont.Engine
	rnd    *rand.Rand

	phase      Phase
	energy     float64
	prevEnergy float64
	entropy    float64
	sweeps     int
	last       Result
	diag       Diagnostics
	// truncErr[i] is the discarded weight of the last split of the bond
	// between sites i-1 and i.
	truncErr []float64
}

// New creates a search for the ground state of op.
// A nil backend defaults to in-memory storage.
func New(op mpo.Operator, cfg Config, backend mps.Backend) (*System, error) {
	if err := mpo.Validate(op); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if cfg.BondDim < 1 || cfg.LanczosIterations < 1 || cfg.MaxSweeps < 1 || cfg.SweepTol <= 0 {
		return nil, errors.Errorf("%#v", cfg)
	}
	store, err := mps.NewStore(op.Len(), op.PhysDim(), backend)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	engine, err := cont.NewEngine(store, op)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	sys := &System{
		cfg:      cfg,
		op:       op,
		store:    store,
		engine:   engine,
		rnd:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
		phase:    PhaseGrowing,
		truncErr: make([]float64, op.Len()),
	}
	if cfg.ProductState != nil {
		if err := sys.initProductState(cfg.ProductState); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return sys, nil
}

// Store returns the underlying tensor store.
func (sys *System) Store() *mps.Store { return sys.store }

// Phase returns the current phase.
func (sys *System) Phase() Phase { return sys.phase }

// Energy returns the latest energy estimate.
func (sys *System) Energy() float64 { return sys.energy }

// Entropy returns the latest entanglement entropy.
func (sys *System) Entropy() float64 { return sys.entropy }

// Sweeps returns the number of completed passes.
func (sys *System) Sweeps() int { return sys.sweeps }

// Diagnostics returns the accumulated soft failures.
func (sys *System) Diagnostics() Diagnostics { return sys.diag }

// TruncationError returns the discarded weight of the last split of the
// bond between sites i-1 and i.
func (sys *System) TruncationError(i int) (float64, error) {
	if i < 1 || i >= sys.store.Len() {
		return 0, errors.Errorf("bond %d out of range [1, %d)", i, sys.store.Len())
	}
	return sys.truncErr[i], nil
}

// Grow builds the chain to full length by repeatedly inserting two sites
// in the middle, and returns the energy estimate of each insertion.
// After growing, the state is stabilized by a backward half pass and the
// system enters PhaseSweeping.
func (sys *System) Grow() ([]float64, error) {
	if sys.phase != PhaseGrowing {
		return nil, errors.Errorf("phase %v", sys.phase)
	}
	l, d := sys.store.Len(), sys.store.PhysDim()

	energies := make([]float64, 0, l/2)
	for i := range l / 2 {
		j := l - 1 - i
		left, err := sys.engine.Left(i - 1)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		right, err := sys.engine.Right(j + 1)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		h, err := lanczos.NewEffH(left, right, mpo.W(sys.op, i), mpo.W(sys.op, j))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("sites %d %d", i, j))
		}

		c1, c2 := left.Shape()[2], right.Shape()[2]
		guess := sys.randTensor(c1, d, d, c2)
		vec := tensor.Zeros(1)
		res, err := lanczos.Solve(vec, h, guess, sys.lanczosOptions())
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("sites %d %d", i, j))
		}
		sys.observe(res)

		a, b, s, discarded, err := sys.split(vec, c1, c2, absorbNone)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("sites %d %d", i, j))
		}
		if j == i+1 {
			// The halves meet, and the middle bond is physical now.
			if err := sys.store.WritePair(i, a, b, s); err != nil {
				return nil, errors.Wrap(err, "")
			}
			sys.truncErr[j] = discarded
		} else {
			if err := sys.store.Write(i, a); err != nil {
				return nil, errors.Wrap(err, "")
			}
			if err := sys.store.Write(j, b); err != nil {
				return nil, errors.Wrap(err, "")
			}
		}
		sys.engine.Invalidate(i)
		sys.engine.Invalidate(j)

		sys.energy = res.Energy
		sys.entropy = mps.Entropy(s)
		energies = append(energies, res.Energy)
	}

	// An odd chain is left with a hole in the middle, seed it randomly.
	if l%2 == 1 {
		m := l / 2
		am1, err := sys.store.Read(m - 1)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		ap1, err := sys.store.Read(m + 1)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		t := sys.randTensor(am1.Shape()[2], d, ap1.Shape()[0])
		if err := sys.store.Write(m, t); err != nil {
			return nil, errors.Wrap(err, "")
		}
		sys.engine.Invalidate(m)
	}

	// Stabilize with a backward half pass, leaving the center at site 0.
	var start int
	if l%2 == 0 {
		if err := sys.absorbMiddleBond(); err != nil {
			return nil, errors.Wrap(err, "")
		}
		start = l/2 - 1
	} else {
		start = l / 2
	}
	sys.phase = PhaseSweeping
	for i := start; i >= 0; i-- {
		if _, err := sys.Step(i, mps.Backward); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
	}
	return energies, nil
}

// absorbMiddleBond multiplies the middle bond singular values into the
// site right of the bond, so that the center of the state sits inside the
// first two-site block of the stabilizing pass.
func (sys *System) absorbMiddleBond() error {
	l := sys.store.Len()
	s, err := sys.store.ReadS(l / 2)
	if err != nil {
		return errors.Wrap(err, "")
	}
	a, err := sys.store.Read(l / 2)
	if err != nil {
		return errors.Wrap(err, "")
	}
	m := scaleRows(mps.FlattenRight(a), s)
	t, err := sys.store.RightTensor(m)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := sys.store.Write(l/2, t); err != nil {
		return errors.Wrap(err, "")
	}
	sys.engine.Invalidate(l / 2)
	return nil
}

// Step optimizes the two-site block (site, site+1) and splits it back,
// moving the center of the state one site in direction dir.
// On a converged system, Step does nothing and returns the last result.
func (sys *System) Step(site int, dir mps.Direction) (Result, error) {
	switch sys.phase {
	case PhaseGrowing:
		return Result{}, errors.Errorf("phase %v", sys.phase)
	case PhaseConverged:
		return sys.last, nil
	}
	if site < 0 || site+1 >= sys.store.Len() {
		return Result{}, errors.Errorf("site %d out of range", site)
	}

	left, err := sys.engine.Left(site - 1)
	if err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	right, err := sys.engine.Right(site + 2)
	if err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	h, err := lanczos.NewEffH(left, right, mpo.W(sys.op, site), mpo.W(sys.op, site+1))
	if err != nil {
		return Result{}, errors.Wrap(err, fmt.Sprintf("site %d", site))
	}

	a, err := sys.store.Read(site)
	if err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	b, err := sys.store.Read(site + 1)
	if err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	guess := tensor.Product(tensor.Zeros(1), a, b, [][2]int{{2, 0}})

	vec := tensor.Zeros(1)
	res, err := lanczos.Solve(vec, h, guess, sys.lanczosOptions())
	if err != nil {
		return Result{}, errors.Wrap(err, fmt.Sprintf("site %d", site))
	}
	sys.observe(res)

	absorb := absorbRight
	if dir == mps.Backward {
		absorb = absorbLeft
	}
	na, nb, s, discarded, err := sys.split(vec, a.Shape()[0], b.Shape()[2], absorb)
	if err != nil {
		return Result{}, errors.Wrap(err, fmt.Sprintf("site %d", site))
	}
	if err := sys.store.WritePair(site, na, nb, s); err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	sys.truncErr[site+1] = discarded
	sys.engine.Invalidate(site)
	sys.engine.Invalidate(site + 1)

	sys.prevEnergy = sys.energy
	sys.energy = res.Energy
	sys.entropy = mps.Entropy(s)
	sys.last = Result{Energy: sys.energy, Entropy: sys.entropy, PrevEnergy: sys.prevEnergy}
	return sys.last, nil
}

// Sweep runs one full forward plus backward pass.
// The system converges when the energy difference between consecutive
// passes drops below Config.SweepTol. On a converged system, Sweep does
// nothing and returns the last result.
func (sys *System) Sweep() (Result, error) {
	switch sys.phase {
	case PhaseGrowing:
		return Result{}, errors.Errorf("phase %v", sys.phase)
	case PhaseConverged:
		return sys.last, nil
	}

	passPrev := sys.energy
	var r Result
	for site, dir := range sys.store.Sweep() {
		var err error
		if r, err = sys.Step(site, dir); err != nil {
			return Result{}, errors.Wrap(err, fmt.Sprintf("site %d %v", site, dir))
		}
	}
	sys.sweeps++

	s, err := sys.store.ReadS(sys.store.Len() / 2)
	if err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	sys.entropy = mps.Entropy(s)
	r.Entropy = sys.entropy
	r.PrevEnergy = passPrev
	sys.last = r

	if sys.sweeps > 1 && math.Abs(r.Energy-passPrev) < sys.cfg.SweepTol*max(math.Abs(r.Energy), 1) {
		sys.phase = PhaseConverged
	}
	return r, nil
}

// Run grows the chain if needed, then sweeps until convergence.
// It returns an error if the energy has not converged within
// Config.MaxSweeps passes.
func (sys *System) Run() (Result, error) {
	if sys.phase == PhaseGrowing {
		if _, err := sys.Grow(); err != nil {
			return Result{}, errors.Wrap(err, "")
		}
	}
	var r Result
	for sys.sweeps < sys.cfg.MaxSweeps {
		var err error
		if r, err = sys.Sweep(); err != nil {
			return Result{}, errors.Wrap(err, fmt.Sprintf("sweep %d", sys.sweeps))
		}
		if sys.phase == PhaseConverged {
			return r, nil
		}
	}
	return r, errors.Errorf("not converged after %d sweeps, energy %f", sys.sweeps, sys.energy)
}

func (sys *System) initProductState(states []int) error {
	l, d := sys.store.Len(), sys.store.PhysDim()
	if len(states) != l {
		return errors.Errorf("%d states for %d sites", len(states), l)
	}
	for i, state := range states {
		if state < 0 || state >= d {
			return errors.Errorf("state %d at site %d, d=%d", state, i, d)
		}
		t := tensor.Zeros(1, d, 1)
		t.SetAt([]int{0, state, 0}, 1)
		if err := sys.store.Write(i, t); err != nil {
			return errors.Wrap(err, "")
		}
	}
	one := tensor.Zeros(1)
	one.SetAt([]int{0}, 1)
	for i := 1; i < l; i++ {
		if err := sys.store.WriteS(i, one); err != nil {
			return errors.Wrap(err, "")
		}
	}
	sys.phase = PhaseSweeping
	return nil
}

type absorbSide int

const (
	absorbNone absorbSide = iota
	absorbLeft
	absorbRight
)

// split decomposes a two-site wavefunction of shape (c1, d, d, c2) into
// site tensors with a truncated singular value decomposition. The
// singular values are absorbed into the side the center moves to.
func (sys *System) split(vec *tensor.Dense, c1, c2 int, absorb absorbSide) (*tensor.Dense, *tensor.Dense, *tensor.Dense, float64, error) {
	d := sys.store.PhysDim()
	theta := clone(vec).Reshape(c1*d, d*c2)

	u, s, vh := tensor.Zeros(1), tensor.Zeros(1), tensor.Zeros(1)
	if err := mps.SVD(u, s, vh, theta); err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	uk, sk, vhk, discarded, err := mps.Truncate(u, s, vh, sys.cfg.BondDim, sys.cfg.Cutoff)
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	sys.diag.MaxTruncationErr = max(sys.diag.MaxTruncationErr, discarded)
	if discarded > sys.cfg.TruncationBudget {
		sys.diag.BudgetExceeded = true
	}

	switch absorb {
	case absorbLeft:
		scaleCols(uk, sk)
	case absorbRight:
		scaleRows(vhk, sk)
	}
	a, err := sys.store.LeftTensor(uk)
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	b, err := sys.store.RightTensor(vhk)
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	return a, b, sk, discarded, nil
}

func (sys *System) observe(res lanczos.Result) {
	if !res.Converged {
		sys.diag.EigensolverStalls++
	}
	sys.diag.MaxHermiticity = max(sys.diag.MaxHermiticity, res.Hermiticity)
}

func (sys *System) lanczosOptions() lanczos.Options {
	return lanczos.NewOptions().
		MaxIterations(sys.cfg.LanczosIterations).
		Tol(sys.cfg.LanczosTol).
		Reorthogonalize(sys.cfg.Reorthogonalize)
}

func (sys *System) randTensor(shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	for ijk := range t.All() {
		v := complex(sys.rnd.Float32()*2-1, sys.rnd.Float32()*2-1)
		t.SetAt(ijk, v)
	}
	return t
}

// scaleRows multiplies row i of m by s[i].
func scaleRows(m, s *tensor.Dense) *tensor.Dense {
	for ij, v := range m.All() {
		m.SetAt(ij, v*s.At(ij[0]))
	}
	return m
}

// scaleCols multiplies column j of m by s[j].
func scaleCols(m, s *tensor.Dense) *tensor.Dense {
	for ij, v := range m.All() {
		m.SetAt(ij, v*s.At(ij[1]))
	}
	return m
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
