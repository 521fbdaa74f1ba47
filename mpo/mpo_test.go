package mpo

import (
	"slices"
	"testing"

	"github.com/fumin/tensor"
)

func TestTransverseFieldIsing(t *testing.T) {
	t.Parallel()
	const j, h = complex64(2), complex64(0.5)
	op := TransverseFieldIsing(4, j, h)
	if err := Validate(op); err != nil {
		t.Fatalf("%+v", err)
	}
	if op.Len() != 4 || op.PhysDim() != 2 {
		t.Fatalf("%d %d", op.Len(), op.PhysDim())
	}

	if !slices.Equal(op.Wl().Shape(), []int{1, 3, 2, 2}) {
		t.Fatalf("%#v", op.Wl().Shape())
	}
	if !slices.Equal(op.Wr().Shape(), []int{3, 1, 2, 2}) {
		t.Fatalf("%#v", op.Wr().Shape())
	}
	w := op.MPO(1)
	if !slices.Equal(w.Shape(), []int{3, 3, 2, 2}) {
		t.Fatalf("%#v", w.Shape())
	}

	// The (0, 0) block is the identity.
	if w.At(0, 0, 0, 0) != 1 || w.At(0, 0, 1, 1) != 1 || w.At(0, 0, 0, 1) != 0 {
		t.Fatalf("%v", w.At(0, 0, 0, 0))
	}
	// The (1, 0) block is Z.
	if w.At(1, 0, 0, 0) != 1 || w.At(1, 0, 1, 1) != -1 {
		t.Fatalf("%v", w.At(1, 0, 0, 0))
	}
	// The (2, 0) block is the field term -h*X.
	if w.At(2, 0, 0, 1) != -h || w.At(2, 0, 1, 0) != -h || w.At(2, 0, 0, 0) != 0 {
		t.Fatalf("%v", w.At(2, 0, 0, 1))
	}
	// The (2, 1) block is the coupling term -j*Z.
	if w.At(2, 1, 0, 0) != -j || w.At(2, 1, 1, 1) != j {
		t.Fatalf("%v", w.At(2, 1, 0, 0))
	}

	// The boundaries are the last row and the first column of the bulk.
	for b := 0; b < 3; b++ {
		for s1 := 0; s1 < 2; s1++ {
			for s2 := 0; s2 < 2; s2++ {
				if op.Wl().At(0, b, s1, s2) != w.At(2, b, s1, s2) {
					t.Fatalf("%d %d %d", b, s1, s2)
				}
				if op.Wr().At(b, 0, s1, s2) != w.At(b, 0, s1, s2) {
					t.Fatalf("%d %d %d", b, s1, s2)
				}
			}
		}
	}
}

func TestTransverseFieldIsingPolarize(t *testing.T) {
	t.Parallel()
	const j, h = complex64(1), complex64(0.5)
	op := TransverseFieldIsing(4, j, h, TransverseFieldIsingOptions{Polarize: true})
	if err := Validate(op); err != nil {
		t.Fatalf("%+v", err)
	}
	plain := TransverseFieldIsing(4, j, h)

	// The bulk is unchanged.
	w, pw := op.MPO(1), plain.MPO(1)
	for b1 := 0; b1 < 3; b1++ {
		for b2 := 0; b2 < 3; b2++ {
			for s1 := 0; s1 < 2; s1++ {
				for s2 := 0; s2 < 2; s2++ {
					if w.At(b1, b2, s1, s2) != pw.At(b1, b2, s1, s2) {
						t.Fatalf("%d %d %d %d", b1, b2, s1, s2)
					}
				}
			}
		}
	}

	// The on-site boundary blocks become -h*X - 10*Z.
	for _, block := range []struct {
		desc string
		at   func(s1, s2 int) complex64
	}{
		{desc: "wl", at: func(s1, s2 int) complex64 { return op.Wl().At(0, 0, s1, s2) }},
		{desc: "wr", at: func(s1, s2 int) complex64 { return op.Wr().At(2, 0, s1, s2) }},
	} {
		if block.at(0, 0) != -polarizeField || block.at(1, 1) != polarizeField {
			t.Fatalf("%s: %v %v", block.desc, block.at(0, 0), block.at(1, 1))
		}
		if block.at(0, 1) != -h || block.at(1, 0) != -h {
			t.Fatalf("%s: %v %v", block.desc, block.at(0, 1), block.at(1, 0))
		}
	}

	// The remaining boundary blocks are unchanged.
	for b := 1; b < 3; b++ {
		for s1 := 0; s1 < 2; s1++ {
			for s2 := 0; s2 < 2; s2++ {
				if op.Wl().At(0, b, s1, s2) != plain.Wl().At(0, b, s1, s2) {
					t.Fatalf("wl %d %d %d", b, s1, s2)
				}
			}
		}
	}
	for b := 0; b < 2; b++ {
		for s1 := 0; s1 < 2; s1++ {
			for s2 := 0; s2 < 2; s2++ {
				if op.Wr().At(b, 0, s1, s2) != plain.Wr().At(b, 0, s1, s2) {
					t.Fatalf("wr %d %d %d", b, s1, s2)
				}
			}
		}
	}
}

func TestW(t *testing.T) {
	t.Parallel()
	op := TransverseFieldIsing(5, 1, 1)
	if got := W(op, 0); !slices.Equal(got.Shape(), []int{1, 3, 2, 2}) {
		t.Fatalf("%#v", got.Shape())
	}
	for site := 1; site <= 3; site++ {
		if got := W(op, site); !slices.Equal(got.Shape(), []int{3, 3, 2, 2}) {
			t.Fatalf("site %d: %#v", site, got.Shape())
		}
	}
	if got := W(op, 4); !slices.Equal(got.Shape(), []int{3, 1, 2, 2}) {
		t.Fatalf("%#v", got.Shape())
	}
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	op := Identity(3, 4)
	if err := Validate(op); err != nil {
		t.Fatalf("%+v", err)
	}
	if !slices.Equal(op.Wl().Shape(), []int{1, 1, 4, 4}) {
		t.Fatalf("%#v", op.Wl().Shape())
	}
	w := op.MPO(1)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := complex64(0)
			if i == j {
				want = 1
			}
			if w.At(0, 0, i, j) != want {
				t.Fatalf("%d %d", i, j)
			}
		}
	}
}

type fakeOp struct {
	l, d      int
	wl, wr, w *tensor.Dense
}

func (f *fakeOp) Len() int              { return f.l }
func (f *fakeOp) PhysDim() int          { return f.d }
func (f *fakeOp) Wl() *tensor.Dense     { return f.wl }
func (f *fakeOp) Wr() *tensor.Dense     { return f.wr }
func (f *fakeOp) MPO(int) *tensor.Dense { return f.w }

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		desc string
		op   *fakeOp
	}{
		{
			desc: "wl outer leg",
			op:   &fakeOp{l: 4, d: 2, wl: tensor.Zeros(2, 3, 2, 2), wr: tensor.Zeros(3, 1, 2, 2), w: tensor.Zeros(3, 3, 2, 2)},
		},
		{
			desc: "wr outer leg",
			op:   &fakeOp{l: 4, d: 2, wl: tensor.Zeros(1, 3, 2, 2), wr: tensor.Zeros(3, 3, 2, 2), w: tensor.Zeros(3, 3, 2, 2)},
		},
		{
			desc: "bulk bond",
			op:   &fakeOp{l: 4, d: 2, wl: tensor.Zeros(1, 3, 2, 2), wr: tensor.Zeros(3, 1, 2, 2), w: tensor.Zeros(3, 4, 2, 2)},
		},
		{
			desc: "physical dimension",
			op:   &fakeOp{l: 4, d: 2, wl: tensor.Zeros(1, 3, 2, 2), wr: tensor.Zeros(3, 1, 2, 2), w: tensor.Zeros(3, 3, 3, 3)},
		},
		{
			desc: "boundary bond",
			op:   &fakeOp{l: 2, d: 2, wl: tensor.Zeros(1, 3, 2, 2), wr: tensor.Zeros(2, 1, 2, 2), w: tensor.Zeros(3, 3, 2, 2)},
		},
		{
			desc: "too short",
			op:   &fakeOp{l: 1, d: 2, wl: tensor.Zeros(1, 3, 2, 2), wr: tensor.Zeros(3, 1, 2, 2), w: tensor.Zeros(3, 3, 2, 2)},
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			t.Parallel()
			if err := Validate(test.op); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	ok := &fakeOp{l: 4, d: 2, wl: tensor.Zeros(1, 3, 2, 2), wr: tensor.Zeros(3, 1, 2, 2), w: tensor.Zeros(3, 3, 2, 2)}
	if err := Validate(ok); err != nil {
		t.Fatalf("%+v", err)
	}
}
