// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reconstruct

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/xen2raw/internal/dumpcore"
	"github.com/pdiddy/xen2raw/pkg/types"
)

const pageSize = 8

func page(b byte) []byte {
	return bytes.Repeat([]byte{b}, pageSize)
}

func region(pages ...[]byte) dumpcore.PageRegion {
	data := bytes.Join(pages, nil)
	return dumpcore.PageRegion{Data: bytes.NewReader(data), Size: uint64(len(data))}
}

func zeros(n int) []byte {
	return make([]byte, n)
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func run(t *testing.T, frames types.FrameTable, reg dumpcore.PageRegion, opts Options) ([]byte, Result, error) {
	t.Helper()
	r, err := New(pageSize, frames, reg, opts)
	require.NoError(t, err)
	var out bytes.Buffer
	res, err := r.Run(&out)
	return out.Bytes(), res, err
}

func TestRun(t *testing.T) {
	p0, p1, p2, p3 := page('a'), page('b'), page('c'), page('d')

	tests := []struct {
		name   string
		frames types.FrameTable
		pages  [][]byte
		want   []byte
		result Result
	}{
		{
			name:   "contiguous frames copy pages verbatim",
			frames: types.FrameTable{0, 1, 2, 3},
			pages:  [][]byte{p0, p1, p2, p3},
			want:   concat(p0, p1, p2, p3),
			result: Result{PagesWritten: 4, ImageSize: 4 * pageSize},
		},
		{
			name:   "invalid slot is consumed and dropped",
			frames: types.FrameTable{0, types.InvalidFrame, 2},
			pages:  [][]byte{p0, p1, p2},
			want:   concat(p0, zeros(pageSize), p2),
			result: Result{PagesWritten: 2, PagesSkipped: 1, ZeroBytes: pageSize, ImageSize: 3 * pageSize},
		},
		{
			name:   "leading hole is zero-filled",
			frames: types.FrameTable{3},
			pages:  [][]byte{p3},
			want:   concat(zeros(3*pageSize), p3),
			result: Result{PagesWritten: 1, ZeroBytes: 3 * pageSize, ImageSize: 4 * pageSize},
		},
		{
			name:   "trailing invalid slots add no padding",
			frames: types.FrameTable{1, types.InvalidFrame, types.InvalidFrame},
			pages:  [][]byte{p1, p2, p3},
			want:   concat(zeros(pageSize), p1),
			result: Result{PagesWritten: 1, PagesSkipped: 2, ZeroBytes: pageSize, ImageSize: 2 * pageSize},
		},
		{
			name:   "all invalid yields empty image",
			frames: types.FrameTable{types.InvalidFrame, types.InvalidFrame},
			pages:  [][]byte{p0, p1},
			want:   nil,
			result: Result{PagesSkipped: 2},
		},
		{
			name:   "empty table",
			frames: types.FrameTable{},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, res, err := run(t, tt.frames, region(tt.pages...), Options{})
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), len(got))
			assert.True(t, bytes.Equal(tt.want, got), "image mismatch")
			assert.Equal(t, tt.result, res)
		})
	}
}

func TestRunSkippedPageNeverAppears(t *testing.T) {
	skip := page('!')
	got, _, err := run(t, types.FrameTable{0, types.InvalidFrame, 2}, region(page('a'), skip, page('c')), Options{})
	require.NoError(t, err)
	assert.False(t, bytes.Contains(got, []byte("!")))
}

func TestRunZeroFillIsChunked(t *testing.T) {
	var out chunkRecorder
	r, err := New(pageSize, types.FrameTable{10}, region(page('z')), Options{ZeroChunkSize: 16})
	require.NoError(t, err)

	res, err := r.Run(&out)
	require.NoError(t, err)
	assert.Equal(t, uint64(10*pageSize), res.ZeroBytes)
	for _, n := range out.sizes {
		assert.LessOrEqual(t, n, 16)
	}
	assert.Equal(t, 11*pageSize, out.total)
}

func TestRunOutOfOrder(t *testing.T) {
	p5, p3 := page('5'), page('3')
	r, err := New(pageSize, types.FrameTable{5, 3, 6}, region(p5, p3, page('6')), Options{})
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = r.Run(&out)
	require.ErrorIs(t, err, dumpcore.ErrOutOfOrderFrame)

	var orderErr *dumpcore.FrameOrderError
	require.True(t, errors.As(err, &orderErr))
	assert.Equal(t, 1, orderErr.Slot)
	assert.Equal(t, uint64(3), orderErr.Frame)

	// Bytes of the first step stay; nothing of the failing step is written.
	assert.Equal(t, concat(zeros(5*pageSize), p5), out.Bytes())
	assert.Equal(t, uint64(6*pageSize), r.State().Written)
}

func TestRunDuplicateFrameIsOutOfOrder(t *testing.T) {
	_, _, err := run(t, types.FrameTable{1, 1}, region(page('a'), page('b')), Options{})
	assert.ErrorIs(t, err, dumpcore.ErrOutOfOrderFrame)
}

func TestRunTruncated(t *testing.T) {
	frames := types.FrameTable{0, 1}
	data := concat(page('a'), page('b')[:3])
	// Size claims a full region; the reader runs short.
	reg := dumpcore.PageRegion{Data: bytes.NewReader(data), Size: 2 * pageSize}

	got, _, err := run(t, frames, reg, Options{})
	require.ErrorIs(t, err, dumpcore.ErrTruncatedInput)
	assert.Equal(t, page('a'), got)
}

func TestRunFrameBeyondAddressSpace(t *testing.T) {
	_, _, err := run(t, types.FrameTable{1 << 62}, region(page('a')), Options{})
	assert.ErrorIs(t, err, dumpcore.ErrFormat)
}

func TestRunWriteError(t *testing.T) {
	r, err := New(pageSize, types.FrameTable{0}, region(page('a')), Options{})
	require.NoError(t, err)
	_, err = r.Run(failingWriter{})
	assert.ErrorIs(t, err, errDiskFull)
}

func TestNewPreconditions(t *testing.T) {
	tests := []struct {
		name     string
		pageSize uint64
		frames   types.FrameTable
		region   dumpcore.PageRegion
		wantErr  error
	}{
		{
			name:     "compressed region",
			pageSize: pageSize,
			frames:   types.FrameTable{0},
			region:   dumpcore.PageRegion{Size: pageSize, Compressed: true},
			wantErr:  dumpcore.ErrUnsupportedFormat,
		},
		{
			name:     "region shorter than table",
			pageSize: pageSize,
			frames:   types.FrameTable{0, 1},
			region:   region(page('a')),
			wantErr:  dumpcore.ErrFormat,
		},
		{
			name:     "region longer than table",
			pageSize: pageSize,
			frames:   types.FrameTable{0},
			region:   region(page('a'), page('b')),
			wantErr:  dumpcore.ErrFormat,
		},
		{
			name:     "zero page size",
			pageSize: 0,
			frames:   types.FrameTable{0},
			region:   region(),
			wantErr:  dumpcore.ErrFormat,
		},
		{
			name:     "oversized page",
			pageSize: maxPageSize + 1,
			frames:   types.FrameTable{0},
			region:   region(),
			wantErr:  dumpcore.ErrFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.pageSize, tt.frames, tt.region, Options{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStepKeepsCursorsInLockStep(t *testing.T) {
	r, err := New(pageSize, types.FrameTable{types.InvalidFrame, 2}, region(page('x'), page('y')), Options{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, r.Step(&out))
	assert.Equal(t, State{Slot: 1, InputOffset: pageSize, Written: 0}, r.State())

	require.NoError(t, r.Step(&out))
	assert.Equal(t, State{Slot: 2, InputOffset: 2 * pageSize, Written: 3 * pageSize}, r.State())
	assert.True(t, r.Done())
	assert.Equal(t, io.EOF, r.Step(&out))
}

func TestHolesAreLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	_, _, err := run(t, types.FrameTable{0, 4}, region(page('a'), page('b')), Options{Logger: logger})
	require.NoError(t, err)

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, "zero-filling hole", entry.Message)
	assert.Equal(t, uint64(pageSize), entry.Data["offset"])
	assert.Equal(t, uint64(3*pageSize), entry.Data["length"])
}

type chunkRecorder struct {
	sizes []int
	total int
}

func (c *chunkRecorder) Write(p []byte) (int, error) {
	c.sizes = append(c.sizes, len(p))
	c.total += len(p)
	return len(p), nil
}

var errDiskFull = errors.New("disk full")

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errDiskFull
}
