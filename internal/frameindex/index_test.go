// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package frameindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/xen2raw/internal/dumpcore"
	"github.com/pdiddy/xen2raw/pkg/types"
)

var testHeader = types.DumpHeader{Magic: types.MagicHVM, VCPUCount: 4, PageCount: 4, PageSize: 4096}

func testIndex(t *testing.T) (*Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.db")
	x, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x, path
}

func TestBuildAndLookup(t *testing.T) {
	ctx := context.Background()
	x, _ := testIndex(t)

	table := types.FrameTable{0, types.InvalidFrame, 2, 0x100}
	require.NoError(t, x.Build(ctx, "guest.elf", testHeader, table))

	tests := []struct {
		name   string
		pfn    uint64
		want   Entry
		wantOK bool
	}{
		{name: "first frame", pfn: 0, want: Entry{Slot: 0, Frame: 0, Offset: 0}, wantOK: true},
		{name: "after invalid slot", pfn: 2, want: Entry{Slot: 2, Frame: 2, Offset: 2 * 4096}, wantOK: true},
		{name: "high frame", pfn: 0x100, want: Entry{Slot: 3, Frame: 0x100, Offset: 0x100 * 4096}, wantOK: true},
		{name: "hole", pfn: 1},
		{name: "sentinel is never present", pfn: types.InvalidFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := x.Lookup(ctx, tt.pfn)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	x, path := testIndex(t)
	require.NoError(t, x.Build(ctx, "guest.elf", testHeader, types.FrameTable{0, types.InvalidFrame, 2}))
	require.NoError(t, x.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	m, err := reopened.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "guest.elf", m.Source)
	assert.Equal(t, testHeader, m.Header)
	assert.Equal(t, 2, m.Mapped)
	assert.Equal(t, 1, m.Invalid)
	assert.NotEmpty(t, m.BuiltAt)
}

func TestBuildReplacesPreviousContents(t *testing.T) {
	ctx := context.Background()
	x, _ := testIndex(t)
	require.NoError(t, x.Build(ctx, "first.elf", testHeader, types.FrameTable{7}))
	require.NoError(t, x.Build(ctx, "second.elf", testHeader, types.FrameTable{1}))

	_, ok, err := x.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := x.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second.elf", m.Source)
	assert.Equal(t, 1, m.Mapped)
}

func TestBuildRejectsUnrepresentableFrame(t *testing.T) {
	x, _ := testIndex(t)
	err := x.Build(context.Background(), "guest.elf", testHeader, types.FrameTable{1 << 63})
	assert.ErrorIs(t, err, dumpcore.ErrFormat)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"))
	assert.ErrorIs(t, err, dumpcore.ErrPrecondition)
}

func TestMetaEmptyIndex(t *testing.T) {
	x, _ := testIndex(t)
	_, err := x.Meta(context.Background())
	assert.ErrorIs(t, err, dumpcore.ErrFormat)
}
