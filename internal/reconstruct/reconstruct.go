// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reconstruct streams dump-core page data into a flat raw image
// where byte offset equals guest physical address.
//
// The page-data region holds one page per frame-table slot, in slot order.
// Pages are read in lock-step with the table; mapped pages are written at
// frame x page size, holes between them are zero-filled, and pages of
// invalid slots are read and dropped.
package reconstruct

import (
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/xen2raw/internal/dumpcore"
	"github.com/pdiddy/xen2raw/pkg/types"
)

// maxPageSize caps the page buffer allocation.
const maxPageSize = 1 << 30

// State is the position of a reconstruction. Slot and InputOffset always
// advance together; Written never decreases.
type State struct {
	// Slot is the index of the next frame-table entry to process.
	Slot int

	// InputOffset is the number of page-data bytes consumed.
	InputOffset uint64

	// Written is the number of bytes emitted to the image.
	Written uint64
}

// Result counts what a reconstruction produced.
type Result struct {
	PagesWritten int    `json:"pages_written" yaml:"pages_written"`
	PagesSkipped int    `json:"pages_skipped" yaml:"pages_skipped"`
	ZeroBytes    uint64 `json:"zero_bytes" yaml:"zero_bytes"`
	ImageSize    uint64 `json:"image_size" yaml:"image_size"`
}

// Options tunes a Reconstructor.
type Options struct {
	// ZeroChunkSize bounds a single zero-fill write
	// (default types.DefaultZeroChunkSize).
	ZeroChunkSize int

	// Logger receives debug output; nil discards it.
	Logger logrus.FieldLogger
}

// Reconstructor rebuilds a raw image from a frame table and its page data.
type Reconstructor struct {
	pageSize uint64
	frames   types.FrameTable
	in       io.Reader
	log      logrus.FieldLogger

	state     State
	result    Result
	page      []byte
	zeros     []byte
	zeroChunk int
}

// New validates the page region against the frame table and returns a
// Reconstructor positioned at slot 0. A compressed region is unsupported;
// a region whose size is not len(frames) x pageSize is malformed.
func New(pageSize uint64, frames types.FrameTable, region dumpcore.PageRegion, opts Options) (*Reconstructor, error) {
	if region.Compressed {
		return nil, fmt.Errorf("%w: compressed page data", dumpcore.ErrUnsupportedFormat)
	}
	if pageSize == 0 {
		return nil, fmt.Errorf("%w: page size is zero", dumpcore.ErrFormat)
	}
	if pageSize > maxPageSize {
		return nil, fmt.Errorf("%w: page size %d exceeds %d", dumpcore.ErrFormat, pageSize, maxPageSize)
	}
	hi, want := bits.Mul64(uint64(len(frames)), pageSize)
	if hi != 0 || region.Size != want {
		return nil, fmt.Errorf("%w: page data is %d bytes, want %d frames x %d bytes",
			dumpcore.ErrFormat, region.Size, len(frames), pageSize)
	}
	if region.Data == nil && len(frames) > 0 {
		return nil, fmt.Errorf("%w: page data is not readable", dumpcore.ErrFormat)
	}

	chunk := opts.ZeroChunkSize
	if chunk <= 0 {
		chunk = types.DefaultZeroChunkSize
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Reconstructor{
		pageSize:  pageSize,
		frames:    frames,
		in:        region.Data,
		log:       log,
		zeroChunk: chunk,
	}, nil
}

// State returns the current position.
func (r *Reconstructor) State() State {
	return r.state
}

// Result returns the counters accumulated so far.
func (r *Reconstructor) Result() Result {
	res := r.result
	res.ImageSize = r.state.Written
	return res
}

// Done reports whether every slot has been processed.
func (r *Reconstructor) Done() bool {
	return r.state.Slot >= len(r.frames)
}

// Run processes every remaining slot, writing the image to out.
func (r *Reconstructor) Run(out io.Writer) (Result, error) {
	for !r.Done() {
		if err := r.Step(out); err != nil {
			return r.Result(), err
		}
	}
	return r.Result(), nil
}

// Step processes one slot: it consumes the slot's page from the input and,
// if the slot is mapped, writes any hole before it and then the page.
// Nothing is written for a step that fails its order check.
func (r *Reconstructor) Step(out io.Writer) error {
	if r.Done() {
		return io.EOF
	}
	slot := r.state.Slot

	if r.page == nil {
		r.page = make([]byte, r.pageSize)
	}
	n, err := io.ReadFull(r.in, r.page)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: slot %d: read %d of %d bytes at page-data offset %d",
				dumpcore.ErrTruncatedInput, slot, n, r.pageSize, r.state.InputOffset)
		}
		return fmt.Errorf("reading page for slot %d: %w", slot, err)
	}
	r.state.InputOffset += r.pageSize
	r.state.Slot++

	frame := r.frames[slot]
	if frame == types.InvalidFrame {
		r.result.PagesSkipped++
		return nil
	}

	hi, target := bits.Mul64(frame, r.pageSize)
	if hi != 0 || target > ^uint64(0)-r.pageSize {
		return fmt.Errorf("%w: slot %d frame %#x is beyond the addressable range", dumpcore.ErrFormat, slot, frame)
	}
	if target < r.state.Written {
		return &dumpcore.FrameOrderError{Slot: slot, Frame: frame, Target: target, Written: r.state.Written}
	}

	if gap := target - r.state.Written; gap > 0 {
		r.log.WithFields(logrus.Fields{
			"offset": r.state.Written,
			"length": gap,
		}).Debug("zero-filling hole")
		if err := r.writeZeros(out, gap); err != nil {
			return err
		}
	}

	if _, err := out.Write(r.page); err != nil {
		return fmt.Errorf("writing frame %#x at offset %#x: %w", frame, target, err)
	}
	r.state.Written += r.pageSize
	r.result.PagesWritten++
	return nil
}

func (r *Reconstructor) writeZeros(out io.Writer, n uint64) error {
	if r.zeros == nil {
		r.zeros = make([]byte, r.zeroChunk)
	}
	for n > 0 {
		chunk := r.zeros
		if uint64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		w, err := out.Write(chunk)
		r.state.Written += uint64(w)
		r.result.ZeroBytes += uint64(w)
		if err != nil {
			return fmt.Errorf("zero-filling at offset %#x: %w", r.state.Written, err)
		}
		n -= uint64(w)
	}
	return nil
}
