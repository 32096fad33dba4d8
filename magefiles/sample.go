//go:build mage

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdiddy/xen2raw/internal/dumpcore/dumpcoretest"
	"github.com/pdiddy/xen2raw/pkg/types"
)

const sampleDir = "testdata"

// Sample writes testdata/sample.elf, a small HVM dump-core file with a
// memory hole and an invalid slot, for trying the CLI by hand.
func Sample() error {
	if err := os.MkdirAll(sampleDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", sampleDir, err)
	}

	const pageSize = 4096
	frames := []uint64{0, 1, types.InvalidFrame, 16, 17}
	var pages bytes.Buffer
	for i := range frames {
		pages.Write(bytes.Repeat([]byte{byte('A' + i)}, pageSize))
	}
	b := dumpcoretest.New(types.DumpHeader{
		Magic:     types.MagicHVM,
		VCPUCount: 1,
		PageCount: uint64(len(frames)),
		PageSize:  pageSize,
	}, frames, pages.Bytes())

	path := filepath.Join(sampleDir, "sample.elf")
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Println("Wrote", path)
	return nil
}
