package virgl

import (
	"encoding/binary"

	"github.com/gogpu/rutabaga"
)

// capsHeader is the fixed part of every capset blob this component returns.
type capsHeader struct {
	MaxVersion            uint32
	CapsetID              uint32
	MaxTextureDimension2D uint32
	Flags                 uint32
	MaxBufferSize         uint64
}

// Caps flags.
const (
	capsExternalBlob uint32 = 1 << 0
	capsVenus        uint32 = 1 << 1
	capsDrm          uint32 = 1 << 2
)

var capsSize = uint32(binary.Size(capsHeader{}))

func (c *Component) capsetEnabled(id uint32) bool {
	switch id {
	case 0, rutabaga.CapsetVirgl, rutabaga.CapsetVirgl2:
		return true
	case rutabaga.CapsetVenus:
		return c.flags.UseVenus
	case rutabaga.CapsetDrm:
		return c.flags.UseDrm
	default:
		return false
	}
}

func capsetVersion(id uint32) uint32 {
	switch id {
	case rutabaga.CapsetVirgl2:
		return 2
	default:
		return 1
	}
}

// CapsetInfo reports the version and size of an enabled capset.
func (c *Component) CapsetInfo(capsetID uint32) (uint32, uint32) {
	if capsetID == 0 || !c.capsetEnabled(capsetID) {
		return 0, 0
	}
	return capsetVersion(capsetID), capsSize
}

// Capset encodes the device limits for capsetID.
func (c *Component) Capset(capsetID, version uint32) []byte {
	if capsetID == 0 || !c.capsetEnabled(capsetID) || version > capsetVersion(capsetID) {
		return nil
	}
	var flags uint32
	if c.flags.UseExternalBlob {
		flags |= capsExternalBlob
	}
	if c.flags.UseVenus {
		flags |= capsVenus
	}
	if c.flags.UseDrm {
		flags |= capsDrm
	}
	blob, err := binary.Append(nil, binary.LittleEndian, capsHeader{
		MaxVersion:            capsetVersion(capsetID),
		CapsetID:              capsetID,
		MaxTextureDimension2D: uint32(c.dev.Limits.MaxTextureDimension2D),
		Flags:                 flags,
		MaxBufferSize:         uint64(c.dev.Limits.MaxBufferSize),
	})
	if err != nil {
		return nil
	}
	return blob
}

// drmFourcc maps a virtio-gpu format to its DRM fourcc.
func drmFourcc(format uint32) uint32 {
	fourcc := func(a, b, c, d byte) uint32 {
		return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
	}
	switch format {
	case rutabaga.FormatB8G8R8A8Unorm:
		return fourcc('A', 'R', '2', '4')
	case rutabaga.FormatB8G8R8X8Unorm:
		return fourcc('X', 'R', '2', '4')
	case rutabaga.FormatA8R8G8B8Unorm:
		return fourcc('B', 'A', '2', '4')
	case rutabaga.FormatX8R8G8B8Unorm:
		return fourcc('B', 'X', '2', '4')
	case rutabaga.FormatR8G8B8A8Unorm:
		return fourcc('A', 'B', '2', '4')
	case rutabaga.FormatX8B8G8R8Unorm:
		return fourcc('R', 'X', '2', '4')
	case rutabaga.FormatA8B8G8R8Unorm:
		return fourcc('R', 'A', '2', '4')
	case rutabaga.FormatR8G8B8X8Unorm:
		return fourcc('X', 'B', '2', '4')
	default:
		return 0
	}
}
