package dmrg

import (
	"fmt"
	"math"
	"slices"
	"testing"

	"github.com/fumin/dmrg/mpo"
	"github.com/fumin/dmrg/mps"
	"github.com/fumin/dmrg/obs"
	"github.com/fumin/tensor"
	"gonum.org/v1/gonum/mat"
)

func TestGroundStateTFIM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		l int
		h float64
	}{
		{l: 2, h: 1},
		{l: 4, h: 0.5},
		{l: 4, h: 1},
		{l: 4, h: 2},
		{l: 5, h: 1},
		{l: 6, h: 0.8},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %f", test.l, test.h), func(t *testing.T) {
			t.Parallel()
			op := mpo.TransverseFieldIsing(test.l, 1, complex(float32(test.h), 0))
			sys, err := New(op, NewConfig(), nil)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			r, err := sys.Run()
			if err != nil {
				t.Fatalf("%+v", err)
			}

			want := exactGround(test.l, 1, test.h)
			if math.Abs(r.Energy-want) > 1e-3 {
				t.Fatalf("%f, expected %f", r.Energy, want)
			}
			if sys.Phase() != PhaseConverged {
				t.Fatalf("%v", sys.Phase())
			}
			if r.Entropy < 0 {
				t.Fatalf("%f", r.Entropy)
			}
		})
	}
}

func TestEnergyMonotonic(t *testing.T) {
	t.Parallel()
	op := mpo.TransverseFieldIsing(6, 1, 1)
	sys, err := New(op, NewConfig(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := sys.Grow(); err != nil {
		t.Fatalf("%+v", err)
	}

	prev := math.Inf(1)
	for sys.Phase() == PhaseSweeping {
		r, err := sys.Sweep()
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if r.Energy > prev+1e-3 {
			t.Fatalf("sweep %d: %f > %f", sys.Sweeps(), r.Energy, prev)
		}
		prev = r.Energy
		if sys.Sweeps() > 64 {
			t.Fatalf("no convergence")
		}
	}
}

func TestConvergedIdempotent(t *testing.T) {
	t.Parallel()
	op := mpo.TransverseFieldIsing(4, 1, 1)
	sys, err := New(op, NewConfig(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	r, err := sys.Run()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if sys.Phase() != PhaseConverged {
		t.Fatalf("%v", sys.Phase())
	}

	sites := make([]*tensor.Dense, 0)
	for i := 0; i < sys.Store().Len(); i++ {
		a, err := sys.Store().Read(i)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		sites = append(sites, a)
	}

	// Further sweeps and steps do nothing.
	r2, err := sys.Sweep()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if r2 != r {
		t.Fatalf("%#v, expected %#v", r2, r)
	}
	r3, err := sys.Step(1, mps.Forward)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if r3 != r {
		t.Fatalf("%#v, expected %#v", r3, r)
	}
	for i, site := range sites {
		a, err := sys.Store().Read(i)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if !equalT(site, a) {
			t.Fatalf("site %d changed", i)
		}
	}
}

func TestPhases(t *testing.T) {
	t.Parallel()
	op := mpo.TransverseFieldIsing(4, 1, 1)
	sys, err := New(op, NewConfig(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if sys.Phase() != PhaseGrowing {
		t.Fatalf("%v", sys.Phase())
	}
	if _, err := sys.Step(0, mps.Forward); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := sys.Sweep(); err == nil {
		t.Fatalf("expected error")
	}

	if _, err := sys.Grow(); err != nil {
		t.Fatalf("%+v", err)
	}
	if sys.Phase() != PhaseSweeping {
		t.Fatalf("%v", sys.Phase())
	}
	if _, err := sys.Grow(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestProductStateInit(t *testing.T) {
	t.Parallel()
	op := mpo.TransverseFieldIsing(4, 1, 0.5)
	cfg := NewConfig()
	cfg.ProductState = []int{0, 0, 0, 0}
	sys, err := New(op, cfg, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if sys.Phase() != PhaseSweeping {
		t.Fatalf("%v", sys.Phase())
	}
	r, err := sys.Run()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := exactGround(4, 1, 0.5)
	if math.Abs(r.Energy-want) > 1e-3 {
		t.Fatalf("%f, expected %f", r.Energy, want)
	}
}

func TestBondDimension(t *testing.T) {
	t.Parallel()
	op := mpo.TransverseFieldIsing(8, 1, 1)
	cfg := NewConfig()
	cfg.BondDim = 2
	sys, err := New(op, cfg, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := sys.Run(); err != nil {
		t.Fatalf("%+v", err)
	}
	for i := 0; i < sys.Store().Len(); i++ {
		a, err := sys.Store().Read(i)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		shape := a.Shape()
		if shape[0] > cfg.BondDim || shape[2] > cfg.BondDim {
			t.Fatalf("site %d: %#v", i, shape)
		}
	}
	for i := 1; i < sys.Store().Len(); i++ {
		w, err := sys.TruncationError(i)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if w < 0 || w > 1 {
			t.Fatalf("bond %d: %f", i, w)
		}
	}
	if _, err := sys.TruncationError(0); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := sys.TruncationError(sys.Store().Len()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPolarizedBoundaries(t *testing.T) {
	t.Parallel()
	// Deep in the ordered phase, polarized boundaries pin the spins up
	// instead of leaving a symmetric superposition.
	op := mpo.TransverseFieldIsing(6, 1, 0.2, mpo.TransverseFieldIsingOptions{Polarize: true})
	sys, err := New(op, NewConfig(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := sys.Run(); err != nil {
		t.Fatalf("%+v", err)
	}
	z := tensor.T2(mpo.PauliZ)
	for site := 0; site < op.Len(); site++ {
		m, err := obs.SingleSite(sys.Store(), site, z)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if real(m) < 0.9 {
			t.Fatalf("site %d: %v", site, m)
		}
	}
}

func equalT(a, b *tensor.Dense) bool {
	if !slices.Equal(a.Shape(), b.Shape()) {
		return false
	}
	for ijk, v := range a.All() {
		if v != b.At(ijk...) {
			return false
		}
	}
	return true
}

// exactGround diagonalizes the transverse field Ising chain in the full
// 2^l dimensional basis.
func exactGround(l int, j, h float64) float64 {
	n := 1 << l
	hm := mat.NewSymDense(n, nil)
	for b := 0; b < n; b++ {
		var zz float64
		for i := 0; i < l-1; i++ {
			zi := 1 - 2*float64((b>>i)&1)
			zi1 := 1 - 2*float64((b>>(i+1))&1)
			zz += zi * zi1
		}
		hm.SetSym(b, b, -j*zz)
		for i := 0; i < l; i++ {
			hm.SetSym(b, b^(1<<i), -h)
		}
	}
	var es mat.EigenSym
	if !es.Factorize(hm, false) {
		panic("eigendecomposition failed")
	}
	return es.Values(nil)[0]
}
