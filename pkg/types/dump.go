// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Magic values carried in the dump-core header note.
const (
	// MagicPV identifies a dump of a paravirtualized guest.
	MagicPV uint64 = 0xF00FEBED
	// MagicHVM identifies a dump of a hardware-virtualized guest.
	MagicHVM uint64 = 0xF00FEBEE
)

// InvalidFrame marks a frame-table slot with no guest physical page behind it.
const InvalidFrame uint64 = 0xFFFFFFFFFFFFFFFF

// DumpHeader is the descriptor of the dump-core header note.
type DumpHeader struct {
	Magic     uint64 `json:"magic" yaml:"magic"`
	VCPUCount uint64 `json:"vcpu_count" yaml:"vcpu_count"`
	PageCount uint64 `json:"page_count" yaml:"page_count"`
	PageSize  uint64 `json:"page_size" yaml:"page_size"`
}

// GuestKind returns "pv" or "hvm" according to the header magic, or "" if
// the magic is not recognized.
func (h DumpHeader) GuestKind() string {
	switch h.Magic {
	case MagicPV:
		return "pv"
	case MagicHVM:
		return "hvm"
	}
	return ""
}

// FrameTable lists one frame number per page slot, in page-data order.
type FrameTable []uint64

// FrameStats summarizes a frame table against a page size.
type FrameStats struct {
	// Slots is the number of entries in the frame table.
	Slots int `json:"slots" yaml:"slots"`

	// Mapped counts slots with a real frame number.
	Mapped int `json:"mapped" yaml:"mapped"`

	// Invalid counts slots holding InvalidFrame.
	Invalid int `json:"invalid" yaml:"invalid"`

	// HighestFrame is the largest mapped frame number; only meaningful when
	// Mapped > 0.
	HighestFrame uint64 `json:"highest_frame" yaml:"highest_frame"`

	// ImageSize is the length of the raw image the table reconstructs to.
	ImageSize uint64 `json:"image_size" yaml:"image_size"`
}
