// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dumpcoretest synthesizes small dump-core ELF images for tests.
package dumpcoretest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdiddy/xen2raw/pkg/types"
)

// Note is one raw note record.
type Note struct {
	Name string
	Type uint32
	Desc []byte
}

// Builder describes a dump-core image. The zero value of each option
// produces a well-formed dump.
type Builder struct {
	// Type is the ELF file type (default ET_CORE).
	Type elf.Type

	// Notes are written to .note.Xen in order.
	Notes []Note

	// Frames are written to .xen_pfn.
	Frames []uint64

	// Pages is written to .xen_pages verbatim.
	Pages []byte

	// PFNSection overrides the encoded .xen_pfn contents when non-nil.
	PFNSection []byte

	OmitNotes     bool
	OmitPFN       bool
	OmitPages     bool
	WithP2M       bool
	CompressPages bool
}

// New returns a builder with the marker and header notes for h, the frame
// table and the page data.
func New(h types.DumpHeader, frames []uint64, pages []byte) *Builder {
	return &Builder{
		Notes: []Note{
			{Name: "Xen", Type: 0x2000000},
			{Name: "Xen", Type: 0x2000001, Desc: HeaderDesc(h)},
		},
		Frames: frames,
		Pages:  pages,
	}
}

// HeaderDesc encodes h as a header note descriptor.
func HeaderDesc(h types.DumpHeader) []byte {
	desc := make([]byte, 32)
	binary.LittleEndian.PutUint64(desc[0:], h.Magic)
	binary.LittleEndian.PutUint64(desc[8:], h.VCPUCount)
	binary.LittleEndian.PutUint64(desc[16:], h.PageCount)
	binary.LittleEndian.PutUint64(desc[24:], h.PageSize)
	return desc
}

// EncodeNotes lays out notes the way they appear in a note section.
func EncodeNotes(notes []Note) []byte {
	var b bytes.Buffer
	for _, n := range notes {
		name := append([]byte(n.Name), 0)
		binary.Write(&b, binary.LittleEndian, uint32(len(name)))
		binary.Write(&b, binary.LittleEndian, uint32(len(n.Desc)))
		binary.Write(&b, binary.LittleEndian, n.Type)
		b.Write(pad4(name))
		b.Write(pad4(n.Desc))
	}
	return b.Bytes()
}

// EncodeFrames lays out frames as a little-endian uint64 array.
func EncodeFrames(frames []uint64) []byte {
	out := make([]byte, 8*len(frames))
	for i, pfn := range frames {
		binary.LittleEndian.PutUint64(out[8*i:], pfn)
	}
	return out
}

// Page returns a page of size bytes filled with b.
func Page(size int, b byte) []byte {
	return bytes.Repeat([]byte{b}, size)
}

type section struct {
	name  string
	typ   elf.SectionType
	flags elf.SectionFlag
	data  []byte
}

// Bytes renders the ELF64 little-endian image.
func (b *Builder) Bytes() []byte {
	var sections []section
	if !b.OmitNotes {
		sections = append(sections, section{name: ".note.Xen", typ: elf.SHT_NOTE, data: EncodeNotes(b.Notes)})
	}
	if b.WithP2M {
		sections = append(sections, section{name: ".xen_p2m", typ: elf.SHT_PROGBITS, data: make([]byte, 16*len(b.Frames))})
	}
	if !b.OmitPFN {
		data := b.PFNSection
		if data == nil {
			data = EncodeFrames(b.Frames)
		}
		sections = append(sections, section{name: ".xen_pfn", typ: elf.SHT_PROGBITS, data: data})
	}
	if !b.OmitPages {
		s := section{name: ".xen_pages", typ: elf.SHT_PROGBITS, data: b.Pages}
		if b.CompressPages {
			var chdr bytes.Buffer
			binary.Write(&chdr, binary.LittleEndian, elf.Chdr64{
				Type:      uint32(elf.COMPRESS_ZLIB),
				Size:      uint64(len(b.Pages)),
				Addralign: 1,
			})
			s.flags |= elf.SHF_COMPRESSED
			s.data = append(chdr.Bytes(), b.Pages...)
		}
		sections = append(sections, s)
	}

	// Section name string table.
	strtab := []byte{0}
	nameOff := make([]uint32, len(sections)+1)
	for i, s := range sections {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.name...)
		strtab = append(strtab, 0)
	}
	nameOff[len(sections)] = uint32(len(strtab))
	strtab = append(strtab, ".shstrtab"...)
	strtab = append(strtab, 0)
	sections = append(sections, section{name: ".shstrtab", typ: elf.SHT_STRTAB, data: strtab})

	hdrSize := binary.Size(elf.Header64{})
	shentsize := binary.Size(elf.Section64{})

	var body bytes.Buffer
	offsets := make([]uint64, len(sections))
	pos := uint64(hdrSize)
	for i, s := range sections {
		for pos%8 != 0 {
			body.WriteByte(0)
			pos++
		}
		offsets[i] = pos
		body.Write(s.data)
		pos += uint64(len(s.data))
	}
	for pos%8 != 0 {
		body.WriteByte(0)
		pos++
	}
	shoff := pos

	typ := b.Type
	if typ == 0 {
		typ = elf.ET_CORE
	}
	h := elf.Header64{
		Type:      uint16(typ),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    uint16(hdrSize),
		Shentsize: uint16(shentsize),
		Shnum:     uint16(len(sections) + 1),
		Shstrndx:  uint16(len(sections)),
	}
	copy(h.Ident[:], elf.ELFMAG)
	h.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	h.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	h.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	h.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, h)
	out.Write(body.Bytes())
	binary.Write(&out, binary.LittleEndian, elf.Section64{})
	for i, s := range sections {
		binary.Write(&out, binary.LittleEndian, elf.Section64{
			Name:      nameOff[i],
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Off:       offsets[i],
			Size:      uint64(len(s.data)),
			Addralign: 1,
		})
	}
	return out.Bytes()
}

// WriteFile writes the image into dir and returns its path.
func (b *Builder) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pad4(p []byte) []byte {
	p = p[:len(p):len(p)]
	for len(p)%4 != 0 {
		p = append(p, 0)
	}
	return p
}
