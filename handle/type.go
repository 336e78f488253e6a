package handle

import "fmt"

// Type identifies what a descriptor refers to.
type Type uint32

// Memory handle types.
const (
	TypeMemDmabuf   Type = 0x1
	TypeMemOpaqueFD Type = 0x2
	TypeMemShm      Type = 0x3
)

// Fence handle types.
const (
	TypeSignalOpaqueFD Type = 0x10
	TypeSignalSyncFD   Type = 0x11
	TypeSignalEventFD  Type = 0x14
)

// IsMemory reports whether t describes a memory object.
func (t Type) IsMemory() bool { return t < TypeSignalOpaqueFD }

// String returns a short name for the handle type.
func (t Type) String() string {
	switch t {
	case TypeMemDmabuf:
		return "dmabuf"
	case TypeMemOpaqueFD:
		return "opaque-fd"
	case TypeMemShm:
		return "shm"
	case TypeSignalOpaqueFD:
		return "signal-opaque-fd"
	case TypeSignalSyncFD:
		return "sync-fd"
	case TypeSignalEventFD:
		return "eventfd"
	default:
		return fmt.Sprintf("Type(%#x)", uint32(t))
	}
}

// Handle is an owned file descriptor tagged with its type.
// The zero value is not usable; use New or one of the allocators.
type Handle struct {
	fd   int
	typ  Type
	size uint64
}

// New takes ownership of fd. size is the length of the memory object
// behind fd, or zero if unknown.
func New(fd int, typ Type, size uint64) *Handle {
	return &Handle{fd: fd, typ: typ, size: size}
}

// FD returns the descriptor, or -1 after Close.
func (h *Handle) FD() int { return h.fd }

// Type returns the handle type.
func (h *Handle) Type() Type { return h.typ }

// Size returns the size of the memory object, zero for fences.
func (h *Handle) Size() uint64 { return h.size }
