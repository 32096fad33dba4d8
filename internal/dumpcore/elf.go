// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dumpcore reads the metadata of Xen dump-core files: the Xen note
// group, the frame-number table and the location of the page data.
// See xen docs/misc/dump-core-format.txt for the container layout.
package dumpcore

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/pdiddy/xen2raw/pkg/types"
)

// Section names of the dump-core container.
const (
	SectionNotes = ".note.Xen"
	SectionPFN   = ".xen_pfn"
	SectionP2M   = ".xen_p2m"
	SectionPages = ".xen_pages"
)

// Dump is an opened dump-core container with its header already extracted.
type Dump struct {
	Header types.DumpHeader
	Notes  NoteSet

	file  *elf.File
	pfn   *elf.Section
	pages *elf.Section
}

// PageRegion is the page-data section as a forward-only stream.
type PageRegion struct {
	// Data yields the section contents from its first byte.
	Data io.Reader

	// Size is the byte length of the section.
	Size uint64

	// Compressed is set when the section is stored with ELF section
	// compression.
	Compressed bool
}

// Open parses r as a dump-core ELF file and extracts its header. The
// caller keeps ownership of r.
func Open(r io.ReaderAt) (*Dump, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ELF container: %v", ErrFormat, err)
	}
	if f.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%w: ELF type is %v, want %v", ErrUnsupportedFormat, f.Type, elf.ET_CORE)
	}

	noteSec := f.Section(SectionNotes)
	if noteSec == nil {
		return nil, fmt.Errorf("%w: no %s section", ErrFormat, SectionNotes)
	}
	raw, err := noteSec.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFormat, SectionNotes, err)
	}
	notes, err := ParseNotes(raw, f.ByteOrder)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", SectionNotes, err)
	}
	header, err := ExtractHeader(notes)
	if err != nil {
		return nil, err
	}

	pfn := f.Section(SectionPFN)
	if pfn == nil {
		if f.Section(SectionP2M) != nil {
			return nil, fmt.Errorf("%w: dump has %s instead of %s (non-auto-translated PV guest)",
				ErrUnsupportedFormat, SectionP2M, SectionPFN)
		}
		return nil, fmt.Errorf("%w: no %s section", ErrFormat, SectionPFN)
	}
	pages := f.Section(SectionPages)
	if pages == nil {
		return nil, fmt.Errorf("%w: no %s section", ErrFormat, SectionPages)
	}

	return &Dump{
		Header: header,
		Notes:  notes,
		file:   f,
		pfn:    pfn,
		pages:  pages,
	}, nil
}

// FrameTable loads the frame-number section into memory.
func (d *Dump) FrameTable() (types.FrameTable, error) {
	if d.pfn.Flags&elf.SHF_COMPRESSED != 0 {
		return nil, fmt.Errorf("%w: %s is compressed", ErrUnsupportedFormat, SectionPFN)
	}
	data, err := d.pfn.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFormat, SectionPFN, err)
	}
	return LoadFrameTable(data)
}

// PageRegion returns the page-data section. Nothing is read until the
// returned Data is consumed.
func (d *Dump) PageRegion() PageRegion {
	region := PageRegion{
		Size:       d.pages.Size,
		Compressed: d.pages.Flags&elf.SHF_COMPRESSED != 0,
	}
	if !region.Compressed {
		region.Data = d.pages.Open()
	}
	return region
}
