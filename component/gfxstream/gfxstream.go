// Package gfxstream implements the Vulkan-stream component. Guest contexts
// stream encoded API calls into a device ring; blobs carry Vulkan memory
// metadata so they can be imported by the guest driver.
//
// The component needs the display geometry at build time.
package gfxstream

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rutabaga"
	"github.com/gogpu/rutabaga/handle"
	"github.com/gogpu/rutabaga/internal/gpudev"
	"github.com/gogpu/rutabaga/internal/iovec"
	"github.com/gogpu/rutabaga/internal/lru"
)

const (
	capsetVersion = 1

	// Memory type indices reported in VulkanInfo.
	memoryDeviceLocal = 0
	memoryHostVisible = 1

	fenceTimeout = 5 * time.Second

	// Exported fence descriptors kept for ExportFence.
	maxExportableFences = 64
)

// Caps flags.
const (
	capsVulkan     uint32 = 1 << 0
	capsSystemBlob uint32 = 1 << 1
	capsExtBlob    uint32 = 1 << 2
)

func init() {
	rutabaga.Register(rutabaga.Gfxstream, New)
}

type resource struct {
	texture       hal.Texture
	buffer        hal.Buffer
	mapping       []byte
	mapped        bool
	width, height uint32
}

// Component is the Vulkan-stream component.
type Component struct {
	rutabaga.BaseComponent

	dev           *gpudev.Device
	flags         rutabaga.GfxstreamFlags
	width, height uint32
	fenceHandler  rutabaga.FenceHandler
	resources     map[uint32]*resource

	fenceFDs *lru.Cache[uint64, *handle.Handle]
}

// New opens the GPU device and creates the component.
func New(cfg *rutabaga.Config, fh rutabaga.FenceHandler) (rutabaga.Component, error) {
	if cfg.DisplayWidth == 0 || cfg.DisplayHeight == 0 {
		return nil, fmt.Errorf("%w: gfxstream requires display dimensions", rutabaga.ErrInvalidBuild)
	}
	dev, err := gpudev.Open(cfg.GPU)
	if err != nil {
		return nil, fmt.Errorf("gfxstream: %w", err)
	}
	rutabaga.Logger().Info("gfxstream: device opened", "adapter", dev.AdapterName,
		"width", cfg.DisplayWidth, "height", cfg.DisplayHeight)
	return &Component{
		dev:          dev,
		flags:        cfg.Gfxstream,
		width:        cfg.DisplayWidth,
		height:       cfg.DisplayHeight,
		fenceHandler: fh,
		resources:    make(map[uint32]*resource),
		fenceFDs:     lru.New(maxExportableFences, closeFenceFD),
	}, nil
}

type caps struct {
	Version       uint32
	DisplayWidth  uint32
	DisplayHeight uint32
	Flags         uint32
}

// CapsetInfo reports the gfxstream capset.
func (c *Component) CapsetInfo(capsetID uint32) (uint32, uint32) {
	if capsetID != rutabaga.CapsetGfxstream {
		return 0, 0
	}
	return capsetVersion, uint32(binary.Size(caps{}))
}

// Capset encodes the display geometry and feature flags.
func (c *Component) Capset(capsetID, _ uint32) []byte {
	if capsetID != rutabaga.CapsetGfxstream {
		return nil
	}
	var flags uint32
	if c.flags.UseVulkan {
		flags |= capsVulkan
	}
	if c.flags.UseSystemBlob {
		flags |= capsSystemBlob
	}
	if c.flags.UseExternalBlob {
		flags |= capsExtBlob
	}
	blob, err := binary.Append(nil, binary.LittleEndian, caps{
		Version:       capsetVersion,
		DisplayWidth:  c.width,
		DisplayHeight: c.height,
		Flags:         flags,
	})
	if err != nil {
		return nil
	}
	return blob
}

// submitAndWait submits an empty batch and blocks until the device has
// finished all prior work.
func (c *Component) submitAndWait() error {
	fence, err := c.dev.Device.CreateFence()
	if err != nil {
		return fmt.Errorf("gfxstream: create fence: %w", err)
	}
	defer c.dev.Device.DestroyFence(fence)

	if err := c.dev.Queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("gfxstream: submit: %w", err)
	}
	ok, err := c.dev.Device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("gfxstream: wait: %w", err)
	}
	if !ok {
		return fmt.Errorf("gfxstream: fence timed out after %v", fenceTimeout)
	}
	return nil
}

// CreateFence waits for the device, signals the fence and keeps a
// signalled descriptor for ExportFence.
func (c *Component) CreateFence(f rutabaga.Fence) error {
	if err := c.submitAndWait(); err != nil {
		return err
	}
	ev, err := handle.NewEvent()
	if err != nil {
		return fmt.Errorf("gfxstream: %w", err)
	}
	if err := ev.Signal(); err != nil {
		ev.Close()
		return fmt.Errorf("gfxstream: %w", err)
	}
	c.fenceFDs.Put(f.FenceID, ev)
	c.fenceHandler(f)
	return nil
}

func closeFenceFD(id uint64, h *handle.Handle) {
	if err := h.Close(); err != nil {
		rutabaga.Logger().Warn("gfxstream: close fence descriptor", "fence", id, "err", err)
	}
}

// ExportFence returns a duplicate of the descriptor of a recent fence.
func (c *Component) ExportFence(fenceID uint64) (*handle.Handle, error) {
	h, ok := c.fenceFDs.Get(fenceID)
	if !ok {
		return nil, fmt.Errorf("%w: fence %d", rutabaga.ErrNotFound, fenceID)
	}
	return h.TryClone()
}

// Create3D creates a device texture.
func (c *Component) Create3D(resourceID uint32, args rutabaga.ResourceCreate3D) (*rutabaga.Resource, error) {
	format, ok := rutabaga.TextureFormat(args.Format)
	if !ok {
		return nil, fmt.Errorf("%w: format %d", rutabaga.ErrUnsupported, args.Format)
	}
	tex, err := c.dev.Device.CreateTexture(&hal.TextureDescriptor{
		Label:         fmt.Sprintf("gfxstream_texture_%d", resourceID),
		Size:          hal.Extent3D{Width: args.Width, Height: args.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		return nil, fmt.Errorf("gfxstream: create texture %d: %w", resourceID, err)
	}
	c.resources[resourceID] = &resource{texture: tex, width: args.Width, height: args.Height}
	return &rutabaga.Resource{
		ResourceID: resourceID,
		Size:       uint64(args.Width) * uint64(args.Height) * 4,
		Info3D: &rutabaga.Resource3DInfo{
			Width:   args.Width,
			Height:  args.Height,
			Strides: [4]uint32{args.Width * 4},
		},
	}, nil
}

// TransferWrite uploads a 2D box from guest backing.
func (c *Component) TransferWrite(_ uint32, res *rutabaga.Resource, t rutabaga.Transfer3D) error {
	if t.IsEmpty() {
		return nil
	}
	st, ok := c.resources[res.ResourceID]
	if !ok || st.texture == nil {
		return fmt.Errorf("%w: resource %d has no device image", rutabaga.ErrUnsupported, res.ResourceID)
	}
	if uint64(t.X)+uint64(t.W) > uint64(st.width) || uint64(t.Y)+uint64(t.H) > uint64(st.height) || t.Z != 0 || t.D != 1 || t.Level != 0 {
		return fmt.Errorf("%w: box %dx%dx%d+%d+%d+%d outside %dx%d resource",
			rutabaga.ErrSpecViolation, t.W, t.H, t.D, t.X, t.Y, t.Z, st.width, st.height)
	}
	row := uint64(t.W) * 4
	stride := max(uint64(t.Stride), row)
	data := make([]byte, row*uint64(t.H))
	for y := range uint64(t.H) {
		dst := data[y*row:][:row]
		if n := iovec.ReadAt(res.Backing, t.Offset+y*stride, dst); n != len(dst) {
			return fmt.Errorf("%w: backing too short at row %d", rutabaga.ErrInvalidIovec, y)
		}
	}
	c.dev.Queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: st.texture, Origin: hal.Origin3D{X: t.X, Y: t.Y}},
		data,
		&hal.ImageDataLayout{BytesPerRow: uint32(row), RowsPerImage: t.H},
		&hal.Extent3D{Width: t.W, Height: t.H, DepthOrArrayLayers: 1},
	)
	return nil
}

// CreateBlob creates a blob with Vulkan memory metadata. Host blobs use
// shared memory when system blobs are enabled and an opaque descriptor
// otherwise.
func (c *Component) CreateBlob(_, resourceID uint32, args rutabaga.ResourceCreateBlob, vecs []rutabaga.Iovec, h *handle.Handle) (*rutabaga.Resource, error) {
	res := &rutabaga.Resource{
		ResourceID: resourceID,
		Blob:       true,
		BlobMem:    args.BlobMem,
		BlobFlags:  args.BlobFlags,
		Size:       args.Size,
	}
	if args.BlobMem == rutabaga.BlobMemGuest {
		if iovec.Len(vecs) < args.Size {
			return nil, fmt.Errorf("%w: guest blob %d too short", rutabaga.ErrInvalidIovec, resourceID)
		}
		res.Backing = vecs
		c.resources[resourceID] = &resource{}
		return res, nil
	}
	if args.BlobMem != rutabaga.BlobMemHost3D && args.BlobMem != rutabaga.BlobMemHost3DGuest {
		return nil, fmt.Errorf("%w: blob mem %d", rutabaga.ErrSpecViolation, args.BlobMem)
	}

	mapInfo := rutabaga.MapCacheWC
	if h == nil {
		shm, err := handle.NewShm(fmt.Sprintf("gfxstream-blob-%d", resourceID), args.Size)
		if err != nil {
			return nil, fmt.Errorf("gfxstream: %w", err)
		}
		h = shm
		if c.flags.UseSystemBlob {
			mapInfo = rutabaga.MapCacheCached
		} else {
			h = handle.New(shm.FD(), handle.TypeMemOpaqueFD, args.Size)
		}
	} else if !h.Type().IsMemory() {
		return nil, fmt.Errorf("%w: cannot import %s as memory", rutabaga.ErrInvalidHandle, h.Type())
	}

	st := &resource{}
	memoryIdx := uint32(memoryDeviceLocal)
	if args.BlobFlags&rutabaga.BlobFlagMappable != 0 {
		data, err := h.Map(args.Size)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("gfxstream: map blob %d: %w", resourceID, err)
		}
		st.mapping = data
		memoryIdx = memoryHostVisible
	}
	buf, err := c.dev.Device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("gfxstream_blob_%d", resourceID),
		Size:  args.Size,
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage,
	})
	if err != nil {
		_ = handle.Unmap(st.mapping)
		h.Close()
		return nil, fmt.Errorf("gfxstream: create blob buffer %d: %w", resourceID, err)
	}
	st.buffer = buf
	c.resources[resourceID] = st

	res.Handle = handle.NewRef(h)
	res.MapInfo = &mapInfo
	res.VulkanInfo = &rutabaga.VulkanInfo{PhysicalDeviceIdx: c.dev.DeviceIdx, MemoryIdx: memoryIdx}
	if args.BlobMem == rutabaga.BlobMemHost3DGuest {
		res.Backing = vecs
	}
	return res, nil
}

// Map returns the host mapping of a mappable blob.
func (c *Component) Map(resourceID uint32) (rutabaga.Mapping, error) {
	st, ok := c.resources[resourceID]
	if !ok || st.mapping == nil {
		return rutabaga.Mapping{}, fmt.Errorf("%w: resource %d is not mappable", rutabaga.ErrSpecViolation, resourceID)
	}
	st.mapped = true
	return rutabaga.Mapping{Data: st.mapping}, nil
}

// Unmap ends the guest mapping.
func (c *Component) Unmap(resourceID uint32) error {
	st, ok := c.resources[resourceID]
	if !ok || !st.mapped {
		return fmt.Errorf("%w: resource %d is not mapped", rutabaga.ErrSpecViolation, resourceID)
	}
	st.mapped = false
	return nil
}

// UnrefResource destroys the device objects of a resource.
func (c *Component) UnrefResource(resourceID uint32) {
	if st, ok := c.resources[resourceID]; ok {
		delete(c.resources, resourceID)
		c.destroy(st)
	}
}

func (c *Component) destroy(st *resource) {
	if st.texture != nil {
		c.dev.Device.DestroyTexture(st.texture)
	}
	if st.buffer != nil {
		c.dev.Device.DestroyBuffer(st.buffer)
	}
	_ = handle.Unmap(st.mapping)
}

// CreateContext creates a streaming context with its own command ring.
func (c *Component) CreateContext(ctxID, _ uint32, name string, fh rutabaga.FenceHandler) (rutabaga.Context, error) {
	ring, err := c.dev.Device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("gfxstream_ring_%d", ctxID),
		Size:  ringSize,
		Usage: gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("gfxstream: create ring for context %d: %w", ctxID, err)
	}
	rutabaga.Logger().Debug("gfxstream: context created", "ctx", ctxID, "name", name)
	return &context{comp: c, id: ctxID, fh: fh, ring: ring}, nil
}

// Close releases every device object and the device.
func (c *Component) Close() error {
	for id, st := range c.resources {
		delete(c.resources, id)
		c.destroy(st)
	}
	c.fenceFDs.Purge()
	c.dev.Close()
	return nil
}
