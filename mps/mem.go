package mps

import (
	"fmt"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// MemBackend stores tensors in memory. It is the default backend.
type MemBackend struct {
	tensors map[[2]int]*tensor.Dense
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{tensors: make(map[[2]int]*tensor.Dense)}
}

// Read returns the stored tensor, or ErrNotFound.
func (b *MemBackend) Read(kind Kind, i int) (*tensor.Dense, error) {
	t, ok := b.tensors[[2]int{int(kind), i}]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, fmt.Sprintf("kind %d i %d", kind, i))
	}
	return clone(t), nil
}

// Write stores a copy of t, replacing any previous value.
func (b *MemBackend) Write(kind Kind, i int, t *tensor.Dense) error {
	b.tensors[[2]int{int(kind), i}] = clone(t)
	return nil
}

// WriteAll stores copies of all entries.
// Copies are taken up front, so a partial write is never observed.
func (b *MemBackend) WriteAll(entries []Entry) error {
	copies := make([]*tensor.Dense, 0, len(entries))
	for _, e := range entries {
		copies = append(copies, clone(e.T))
	}
	for j, e := range entries {
		b.tensors[[2]int{int(e.Kind), e.I}] = copies[j]
	}
	return nil
}
