// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package frameindex records the frame table of a dump in a SQLite
// database, so the presence and image offset of a guest frame can be
// queried without scanning the raw image.
package frameindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/xen2raw/internal/dumpcore"
	"github.com/pdiddy/xen2raw/pkg/types"
)

// Index is an open frame index database.
type Index struct {
	db   *sql.DB
	path string
}

// Entry locates one mapped frame.
type Entry struct {
	Slot   int    `json:"slot" yaml:"slot"`
	Frame  uint64 `json:"frame" yaml:"frame"`
	Offset uint64 `json:"offset" yaml:"offset"`
}

// Meta is the dump-level record of an index.
type Meta struct {
	Source  string           `json:"source" yaml:"source"`
	Header  types.DumpHeader `json:"header" yaml:"header"`
	BuiltAt string           `json:"built_at" yaml:"built_at"`
	Mapped  int              `json:"mapped" yaml:"mapped"`
	Invalid int              `json:"invalid" yaml:"invalid"`
}

// Create opens the database at path, creating it and its schema if needed.
func Create(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	x := &Index{db: db, path: path}
	if err := x.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return x, nil
}

// Open opens an existing index for queries.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no frame index at %s", dumpcore.ErrPrecondition, path)
	}
	return Create(path)
}

// Close releases the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dump (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			source TEXT,
			magic INTEGER NOT NULL,
			vcpu_count INTEGER NOT NULL,
			page_count INTEGER NOT NULL,
			page_size INTEGER NOT NULL,
			built_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS slots (
			slot INTEGER PRIMARY KEY,
			pfn INTEGER,
			image_offset INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_pfn ON slots(pfn)`,
	}
	for _, stmt := range statements {
		if _, err := x.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Build replaces the contents of the index with header and table. Invalid
// slots are stored with a NULL frame number.
func (x *Index) Build(ctx context.Context, source string, h types.DumpHeader, table types.FrameTable) error {
	for _, v := range []uint64{h.Magic, h.VCPUCount, h.PageCount, h.PageSize} {
		if v > math.MaxInt64 {
			return fmt.Errorf("%w: header field %#x does not fit the index", dumpcore.ErrFormat, v)
		}
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM slots`, `DELETE FROM dump`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clearing index: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dump (id, source, magic, vcpu_count, page_count, page_size, built_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		source, int64(h.Magic), int64(h.VCPUCount), int64(h.PageCount), int64(h.PageSize),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting dump record: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO slots (slot, pfn, image_offset) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for slot, pfn := range table {
		var frame, offset sql.NullInt64
		if pfn != types.InvalidFrame {
			if pfn > math.MaxInt64 {
				return fmt.Errorf("%w: slot %d frame %#x does not fit the index", dumpcore.ErrFormat, slot, pfn)
			}
			frame = sql.NullInt64{Int64: int64(pfn), Valid: true}
			if hi, lo := bits.Mul64(pfn, h.PageSize); hi == 0 && lo <= math.MaxInt64 {
				offset = sql.NullInt64{Int64: int64(lo), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, slot, frame, offset); err != nil {
			return fmt.Errorf("inserting slot %d: %w", slot, err)
		}
	}

	return tx.Commit()
}

// Lookup returns the first slot holding frame pfn. ok is false when the
// dump has no page for that frame.
func (x *Index) Lookup(ctx context.Context, pfn uint64) (e Entry, ok bool, err error) {
	if pfn > math.MaxInt64 {
		return Entry{}, false, nil
	}
	var offset sql.NullInt64
	err = x.db.QueryRowContext(ctx,
		`SELECT slot, image_offset FROM slots WHERE pfn = ? ORDER BY slot LIMIT 1`, int64(pfn),
	).Scan(&e.Slot, &offset)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("looking up frame %#x: %w", pfn, err)
	}
	e.Frame = pfn
	e.Offset = uint64(offset.Int64)
	return e, true, nil
}

// Meta returns the dump record and slot counts.
func (x *Index) Meta(ctx context.Context) (Meta, error) {
	var (
		m                                 Meta
		source, builtAt                   sql.NullString
		magic, vcpus, pageCount, pageSize int64
	)
	err := x.db.QueryRowContext(ctx,
		`SELECT source, magic, vcpu_count, page_count, page_size, built_at FROM dump WHERE id = 1`,
	).Scan(&source, &magic, &vcpus, &pageCount, &pageSize, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Meta{}, fmt.Errorf("%w: frame index %s is empty", dumpcore.ErrFormat, x.path)
	}
	if err != nil {
		return Meta{}, fmt.Errorf("reading dump record: %w", err)
	}
	m.Source = source.String
	m.BuiltAt = builtAt.String
	m.Header = types.DumpHeader{
		Magic:     uint64(magic),
		VCPUCount: uint64(vcpus),
		PageCount: uint64(pageCount),
		PageSize:  uint64(pageSize),
	}

	err = x.db.QueryRowContext(ctx,
		`SELECT count(pfn), count(*) - count(pfn) FROM slots`,
	).Scan(&m.Mapped, &m.Invalid)
	if err != nil {
		return Meta{}, fmt.Errorf("counting slots: %w", err)
	}
	return m, nil
}
