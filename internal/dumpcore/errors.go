// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dumpcore

import (
	"errors"
	"fmt"
)

var (
	ErrFormat            = errors.New("malformed dump")
	ErrUnsupportedFormat = errors.New("unsupported dump format")
	ErrTruncatedInput    = errors.New("truncated page data")
	ErrOutOfOrderFrame   = errors.New("frame out of order")
	ErrPrecondition      = errors.New("precondition failed")
)

// FrameOrderError reports a mapped frame whose page would land before the
// current end of the output image.
type FrameOrderError struct {
	Slot    int
	Frame   uint64
	Target  uint64
	Written uint64
}

func (e *FrameOrderError) Error() string {
	return fmt.Sprintf("%v: slot %d frame %#x maps to offset %#x, output already at %#x",
		ErrOutOfOrderFrame, e.Slot, e.Frame, e.Target, e.Written)
}

func (e *FrameOrderError) Unwrap() error {
	return ErrOutOfOrderFrame
}
