package rutabaga

import "github.com/gogpu/rutabaga/handle"

// Component is a rendering backend. Implementations embed BaseComponent
// and override the operations they support.
type Component interface {
	// CapsetInfo returns the latest version and blob size of capset id.
	CapsetInfo(capsetID uint32) (version, size uint32)

	// Capset returns the capset blob for capsetID at version.
	Capset(capsetID, version uint32) []byte

	// ForceCtx0 makes context 0 current for fence and transfer work.
	ForceCtx0()

	// CreateFence schedules fence on the global timeline.
	CreateFence(fence Fence) error

	// EventPoll processes completed work and runs fence callbacks.
	EventPoll()

	// PollDescriptor returns a descriptor that becomes readable when
	// EventPoll has work, or nil.
	PollDescriptor() *handle.Handle

	// Create3D creates a resource with 3D parameters.
	Create3D(resourceID uint32, args ResourceCreate3D) (*Resource, error)

	// AttachBacking is told about new guest backing for a resource.
	AttachBacking(resourceID uint32, vecs []Iovec) error

	// DetachBacking is told that guest backing is going away.
	DetachBacking(resourceID uint32) error

	// UnrefResource releases component state for a resource.
	UnrefResource(resourceID uint32)

	// TransferWrite copies guest data into the resource.
	TransferWrite(ctxID uint32, res *Resource, t Transfer3D) error

	// TransferRead copies resource data to buf, or to the guest backing
	// when buf is nil.
	TransferRead(ctxID uint32, res *Resource, t Transfer3D, buf []byte) error

	// ResourceFlush presents the resource.
	ResourceFlush(res *Resource) error

	// CreateBlob creates a blob resource. handle, when non-nil, is an
	// object to import; the component takes ownership of it on success.
	CreateBlob(ctxID, resourceID uint32, args ResourceCreateBlob, vecs []Iovec, h *handle.Handle) (*Resource, error)

	// Map exposes the resource's host memory.
	Map(resourceID uint32) (Mapping, error)

	// Unmap undoes Map.
	Unmap(resourceID uint32) error

	// ExportFence returns a descriptor for a global fence.
	ExportFence(fenceID uint64) (*handle.Handle, error)

	// CreateContext creates a rendering context for ctxID.
	CreateContext(ctxID, contextInit uint32, name string, fh FenceHandler) (Context, error)
}

// BaseComponent provides the default behaviour of every Component
// operation. Embed it and override what the backend supports.
type BaseComponent struct{}

func (BaseComponent) CapsetInfo(uint32) (uint32, uint32) { return 0, 0 }
func (BaseComponent) Capset(uint32, uint32) []byte       { return nil }
func (BaseComponent) ForceCtx0()                         {}
func (BaseComponent) CreateFence(Fence) error            { return nil }
func (BaseComponent) EventPoll()                         {}
func (BaseComponent) PollDescriptor() *handle.Handle     { return nil }

// Create3D returns an empty placeholder resource.
func (BaseComponent) Create3D(resourceID uint32, _ ResourceCreate3D) (*Resource, error) {
	return &Resource{ResourceID: resourceID}, nil
}

func (BaseComponent) AttachBacking(uint32, []Iovec) error { return nil }
func (BaseComponent) DetachBacking(uint32) error          { return nil }
func (BaseComponent) UnrefResource(uint32)                {}

func (BaseComponent) TransferWrite(uint32, *Resource, Transfer3D) error { return nil }

func (BaseComponent) TransferRead(uint32, *Resource, Transfer3D, []byte) error { return nil }

func (BaseComponent) ResourceFlush(*Resource) error { return ErrUnsupported }

func (BaseComponent) CreateBlob(uint32, uint32, ResourceCreateBlob, []Iovec, *handle.Handle) (*Resource, error) {
	return nil, ErrUnsupported
}

func (BaseComponent) Map(uint32) (Mapping, error)                { return Mapping{}, ErrUnsupported }
func (BaseComponent) Unmap(uint32) error                         { return ErrUnsupported }
func (BaseComponent) ExportFence(uint64) (*handle.Handle, error) { return nil, ErrUnsupported }

func (BaseComponent) CreateContext(uint32, uint32, string, FenceHandler) (Context, error) {
	return nil, ErrUnsupported
}

// Context is a guest rendering context bound to one component.
type Context interface {
	// SubmitCmd executes a guest command buffer.
	SubmitCmd(commands []byte) error

	// Attach makes res usable by the context.
	Attach(res *Resource)

	// Detach removes res from the context.
	Detach(res *Resource)

	// CreateBlob creates a blob owned by the context.
	CreateBlob(resourceID uint32, args ResourceCreateBlob, h *handle.Handle) (*Resource, error)

	// CreateFence schedules fence on one of the context's rings.
	CreateFence(fence Fence) error

	// ComponentType names the component that created the context.
	ComponentType() ComponentType
}

// BaseContext provides the optional Context operations.
type BaseContext struct{}

func (BaseContext) CreateBlob(uint32, ResourceCreateBlob, *handle.Handle) (*Resource, error) {
	return nil, ErrUnsupported
}

func (BaseContext) CreateFence(Fence) error { return ErrUnsupported }
