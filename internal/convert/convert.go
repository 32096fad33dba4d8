// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns a Xen dump-core file into a raw memory image in a
// single pass: header, frame table, then the page stream.
package convert

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/xen2raw/internal/dumpcore"
	"github.com/pdiddy/xen2raw/internal/reconstruct"
	"github.com/pdiddy/xen2raw/pkg/types"
)

// outputBufferSize is the write buffer in front of the output file.
const outputBufferSize = 1 << 20

// Options configures a conversion.
type Options struct {
	// ZeroChunkSize bounds a single zero-fill write.
	ZeroChunkSize int

	// Logger receives progress and warnings; nil discards them.
	Logger logrus.FieldLogger
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Inspection is the metadata of a dump, read without touching page data.
type Inspection struct {
	Header        types.DumpHeader `json:"header" yaml:"header"`
	GuestKind     string           `json:"guest_kind" yaml:"guest_kind"`
	FormatVersion uint64           `json:"format_version,omitempty" yaml:"format_version,omitempty"`
	Frames        types.FrameStats `json:"frames" yaml:"frames"`

	// PageCountMismatch is set when the header page count differs from the
	// number of frame-table slots.
	PageCountMismatch bool `json:"page_count_mismatch,omitempty" yaml:"page_count_mismatch,omitempty"`

	// Table is the loaded frame table.
	Table types.FrameTable `json:"-" yaml:"-"`
}

// Summary is the outcome of a conversion.
type Summary struct {
	Dump   Inspection         `json:"dump" yaml:"dump"`
	Result reconstruct.Result `json:"result" yaml:"result"`
}

// Inspect reads the header and frame table of the dump in r.
func Inspect(r io.ReaderAt, log logrus.FieldLogger) (*dumpcore.Dump, Inspection, error) {
	d, err := dumpcore.Open(r)
	if err != nil {
		return nil, Inspection{}, err
	}
	table, err := d.FrameTable()
	if err != nil {
		return nil, Inspection{}, err
	}

	ins := Inspection{
		Header:    d.Header,
		GuestKind: d.Header.GuestKind(),
		Frames:    dumpcore.Stats(table, d.Header.PageSize),
		Table:     table,
	}
	if v, ok := dumpcore.FormatVersion(d.Notes); ok {
		ins.FormatVersion = v
	}
	if uint64(len(table)) != d.Header.PageCount {
		ins.PageCountMismatch = true
		if log != nil {
			log.WithFields(logrus.Fields{
				"header_pages": d.Header.PageCount,
				"table_slots":  len(table),
			}).Warn("header page count differs from frame table")
		}
	}
	return d, ins, nil
}

// Convert reconstructs the raw image of the dump in r and writes it to w.
// Each stage runs once; page data is streamed and never held in full.
func Convert(r io.ReaderAt, w io.Writer, opts Options) (Summary, error) {
	log := opts.logger()

	d, ins, err := Inspect(r, log)
	if err != nil {
		return Summary{}, err
	}
	log.WithFields(logrus.Fields{
		"guest":     ins.GuestKind,
		"vcpus":     ins.Header.VCPUCount,
		"page_size": ins.Header.PageSize,
		"slots":     ins.Frames.Slots,
		"mapped":    ins.Frames.Mapped,
	}).Debug("dump header")

	rc, err := reconstruct.New(d.Header.PageSize, ins.Table, d.PageRegion(), reconstruct.Options{
		ZeroChunkSize: opts.ZeroChunkSize,
		Logger:        log,
	})
	if err != nil {
		return Summary{Dump: ins}, err
	}
	res, err := rc.Run(w)
	return Summary{Dump: ins, Result: res}, err
}

// ConvertFile converts the dump at inPath into a new file at outPath. An
// existing outPath is never touched. On failure the partially written
// output is left in place.
func ConvertFile(inPath, outPath string, opts Options) (sum Summary, err error) {
	if _, err := os.Stat(outPath); err == nil {
		return Summary{}, fmt.Errorf("%w: not touching existing file %s, use a non-existing path as output",
			dumpcore.ErrPrecondition, outPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Summary{}, fmt.Errorf("checking output %s: %w", outPath, err)
	}
	if _, err := os.Stat(inPath); errors.Is(err, os.ErrNotExist) {
		return Summary{}, fmt.Errorf("%w: could not find input file %s", dumpcore.ErrPrecondition, inPath)
	}

	in, err := os.Open(inPath)
	if err != nil {
		return Summary{}, fmt.Errorf("opening input %s: %w", inPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return Summary{}, fmt.Errorf("%w: not touching existing file %s", dumpcore.ErrPrecondition, outPath)
		}
		return Summary{}, fmt.Errorf("creating output %s: %w", outPath, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing output %s: %w", outPath, cerr)
		}
	}()

	bw := bufio.NewWriterSize(out, outputBufferSize)
	sum, err = Convert(in, bw, opts)
	if ferr := bw.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("writing output %s: %w", outPath, ferr)
	}
	if err != nil {
		return sum, fmt.Errorf("converting %s: %w", inPath, err)
	}
	return sum, nil
}

// InspectFile reads the metadata of the dump at path.
func InspectFile(path string, log logrus.FieldLogger) (Inspection, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Inspection{}, fmt.Errorf("%w: could not find input file %s", dumpcore.ErrPrecondition, path)
		}
		return Inspection{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	_, ins, err := Inspect(f, log)
	if err != nil {
		return Inspection{}, fmt.Errorf("inspecting %s: %w", path, err)
	}
	return ins, nil
}
