package rutabaga

import (
	"fmt"

	"github.com/gogpu/rutabaga/handle"
)

// ComponentType identifies a rendering backend.
type ComponentType uint8

// Component types. The numeric value is the bit used in Resource.ImportMask.
const (
	Rutabaga2D ComponentType = iota
	VirglRenderer
	Gfxstream
	CrossDomain
)

// String returns the component name used in logs and flags.
func (c ComponentType) String() string {
	switch c {
	case Rutabaga2D:
		return "2d"
	case VirglRenderer:
		return "virglrenderer"
	case Gfxstream:
		return "gfxstream"
	case CrossDomain:
		return "cross-domain"
	default:
		return fmt.Sprintf("ComponentType(%d)", uint8(c))
	}
}

// ParseComponentType is the inverse of ComponentType.String.
func ParseComponentType(s string) (ComponentType, error) {
	for _, c := range []ComponentType{Rutabaga2D, VirglRenderer, Gfxstream, CrossDomain} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown component %q", ErrInvalidComponent, s)
}

// Fence flags.
const (
	FlagFence       uint32 = 1 << 0
	FlagInfoRingIdx uint32 = 1 << 1
)

// ContextInitCapsetIDMask selects the capset id from a context_init value.
const ContextInitCapsetIDMask uint32 = 0xff

// Blob memory placement.
const (
	BlobMemGuest       uint32 = 0x0001
	BlobMemHost3D      uint32 = 0x0002
	BlobMemHost3DGuest uint32 = 0x0003
)

// Blob flags.
const (
	BlobFlagMappable    uint32 = 0x0001
	BlobFlagShareable   uint32 = 0x0002
	BlobFlagCrossDevice uint32 = 0x0004
)

// Map info cache modes.
const (
	MapCacheMask     uint32 = 0x0f
	MapCacheNone     uint32 = 0x00
	MapCacheCached   uint32 = 0x01
	MapCacheUncached uint32 = 0x02
	MapCacheWC       uint32 = 0x03
)

// Iovec is one guest memory segment backing a resource.
type Iovec []byte

// Info2D is the host-side state of a 2D resource.
type Info2D struct {
	Width   uint32
	Height  uint32
	Format  uint32
	HostMem []byte
}

// Resource3DInfo describes the layout of a 3D resource so it can be
// imported elsewhere.
type Resource3DInfo struct {
	Width     uint32
	Height    uint32
	DrmFourcc uint32
	Strides   [4]uint32
	Offsets   [4]uint32
	Modifier  uint64
}

// VulkanInfo locates the Vulkan memory backing a blob.
type VulkanInfo struct {
	PhysicalDeviceIdx uint32
	MemoryIdx         uint32
}

// Resource is a GPU object known to the guest by ResourceID.
type Resource struct {
	ResourceID uint32
	Handle     *handle.Ref
	Blob       bool
	BlobMem    uint32
	BlobFlags  uint32
	MapInfo    *uint32
	Info2D     *Info2D
	Info3D     *Resource3DInfo
	VulkanInfo *VulkanInfo
	Backing    []Iovec
	ImportMask uint32
	Size       uint64

	// Creator is the component that created the resource. It is set by
	// the orchestrator and also receives UnrefResource.
	Creator ComponentType
}

// Imported reports whether component c has already imported r.
func (r *Resource) Imported(c ComponentType) bool {
	return r.ImportMask&(1<<c) != 0
}

// MarkImported records that component c imported r.
func (r *Resource) MarkImported(c ComponentType) {
	r.ImportMask |= 1 << c
}

func (r *Resource) validate() error {
	if r.Info2D != nil && r.Info3D != nil {
		return fmt.Errorf("%w: resource %d has both 2D and 3D info", ErrSpecViolation, r.ResourceID)
	}
	return nil
}

// release drops the resource's handle reference, if any.
func (r *Resource) release() error {
	if r.Handle == nil {
		return nil
	}
	h := r.Handle
	r.Handle = nil
	return h.Release()
}

// ResourceCreate3D carries the guest's resource_create_3d parameters.
type ResourceCreate3D struct {
	Target    uint32
	Format    uint32
	Bind      uint32
	Width     uint32
	Height    uint32
	Depth     uint32
	ArraySize uint32
	LastLevel uint32
	NrSamples uint32
	Flags     uint32
}

// ResourceCreateBlob carries the guest's resource_create_blob parameters.
type ResourceCreateBlob struct {
	BlobMem   uint32
	BlobFlags uint32
	BlobID    uint64
	Size      uint64
}

// Transfer3D describes a box copied between guest and host.
type Transfer3D struct {
	X, Y, Z     uint32
	W, H, D     uint32
	Level       uint32
	Stride      uint32
	LayerStride uint32
	Offset      uint64
}

// Transfer2D returns a transfer of a w by h rectangle at (x, y).
func Transfer2D(x, y, w, h uint32, offset uint64) Transfer3D {
	return Transfer3D{X: x, Y: y, W: w, H: h, D: 1, Offset: offset}
}

// IsEmpty reports whether the box covers no pixels.
func (t Transfer3D) IsEmpty() bool {
	return t.W == 0 || t.H == 0 || t.D == 0
}

// Mapping is host memory exposed to the guest.
type Mapping struct {
	Data []byte
}

// Fence is a point on a timeline the guest waits on.
type Fence struct {
	Flags   uint32
	FenceID uint64
	CtxID   uint32
	RingIdx uint8
}

// PerRing reports whether f belongs to a context ring rather than the
// global timeline.
func (f Fence) PerRing() bool { return f.Flags&FlagInfoRingIdx != 0 }

// FenceHandler is called when a fence completes. Components call it from
// CreateFence, EventPoll or a context method, never concurrently.
type FenceHandler func(Fence)

// BlobOwnership decides how a resource's handle may be exported.
// Non-blob resources and blobs flagged shareable or cross-device are
// shared; every other blob is exclusive.
func BlobOwnership(blob bool, blobFlags uint32) handle.Ownership {
	if !blob || blobFlags&(BlobFlagShareable|BlobFlagCrossDevice) != 0 {
		return handle.Shared
	}
	return handle.Exclusive
}
