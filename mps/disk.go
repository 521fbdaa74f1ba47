package mps

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/fumin/tensor"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableTensor = "t"
)

// DiskBackend stores tensors in a SQLite database.
// Shape metadata is serialized in binary next to the tensor data, and both
// are written in a single statement, so a write is observed atomically.
type DiskBackend struct {
	Path string

	db *sql.DB
}

// NewDiskBackend opens or creates the database at dbPath.
func NewDiskBackend(dbPath string) (*DiskBackend, error) {
	b := &DiskBackend{Path: dbPath}
	var err error
	b.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(b.db); err != nil {
		b.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return b, nil
}

func (b *DiskBackend) Close() error {
	return b.db.Close()
}

// Read returns the stored tensor, or ErrNotFound.
func (b *DiskBackend) Read(kind Kind, i int) (*tensor.Dense, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT shape, data FROM %s WHERE kind=? AND site=?`, tableTensor)
	var shapeB, dataB []byte
	err := b.db.QueryRowContext(ctx, sqlStr, int(kind), i).Scan(&shapeB, &dataB)
	switch {
	case err == sql.ErrNoRows:
		return nil, errors.Wrap(ErrNotFound, fmt.Sprintf("kind %d i %d", kind, i))
	case err != nil:
		return nil, errors.Wrap(err, fmt.Sprintf("kind %d i %d", kind, i))
	}
	t, err := decode(shapeB, dataB)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("kind %d i %d", kind, i))
	}
	return t, nil
}

// Write stores t, replacing any previous value.
func (b *DiskBackend) Write(kind Kind, i int, t *tensor.Dense) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	shapeB, dataB := encode(t)
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (kind, site, shape, data) VALUES (?, ?, ?, ?)`, tableTensor)
	if _, err := b.db.ExecContext(ctx, sqlStr, int(kind), i, shapeB, dataB); err != nil {
		return errors.Wrap(err, fmt.Sprintf("kind %d i %d", kind, i))
	}
	return nil
}

// WriteAll stores all entries in one transaction.
func (b *DiskBackend) WriteAll(entries []Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (kind, site, shape, data) VALUES (?, ?, ?, ?)`, tableTensor)
	for _, e := range entries {
		shapeB, dataB := encode(e.T)
		if _, err := tx.ExecContext(ctx, sqlStr, int(e.Kind), e.I, shapeB, dataB); err != nil {
			tx.Rollback()
			return errors.Wrap(err, fmt.Sprintf("kind %d i %d", e.Kind, e.I))
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func encode(t *tensor.Dense) ([]byte, []byte) {
	shape := t.Shape()
	shapeB := make([]byte, 0, 8*len(shape))
	for _, d := range shape {
		shapeB = binary.LittleEndian.AppendUint64(shapeB, uint64(d))
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	dataB := make([]byte, 0, 8*n)
	for _, v := range t.All() {
		dataB = binary.LittleEndian.AppendUint32(dataB, math.Float32bits(real(v)))
		dataB = binary.LittleEndian.AppendUint32(dataB, math.Float32bits(imag(v)))
	}
	return shapeB, dataB
}

func decode(shapeB, dataB []byte) (*tensor.Dense, error) {
	if len(shapeB) == 0 || len(shapeB)%8 != 0 {
		return nil, errors.Errorf("bad shape blob of %d bytes", len(shapeB))
	}
	shape := make([]int, 0, len(shapeB)/8)
	n := 1
	for i := 0; i < len(shapeB); i += 8 {
		d := int(binary.LittleEndian.Uint64(shapeB[i:]))
		shape = append(shape, d)
		n *= d
	}
	if len(dataB) != 8*n {
		return nil, errors.Errorf("%d bytes of data for shape %#v", len(dataB), shape)
	}

	t := tensor.Zeros(shape...)
	off := 0
	for ijk := range t.All() {
		re := math.Float32frombits(binary.LittleEndian.Uint32(dataB[off:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(dataB[off+4:]))
		t.SetAt(ijk, complex(re, im))
		off += 8
	}
	return t, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (kind INTEGER, site INTEGER, shape BLOB, data BLOB, PRIMARY KEY (kind, site)) STRICT`, tableTensor)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
