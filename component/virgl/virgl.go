// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package virgl implements the 3D command-stream component on top of a
// wgpu hal device. It serves the virgl, virgl2, venus and drm capsets.
//
// Importing the package registers the component:
//
//	import _ "github.com/gogpu/rutabaga/component/virgl"
package virgl

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rutabaga"
	"github.com/gogpu/rutabaga/handle"
	"github.com/gogpu/rutabaga/internal/gpudev"
	"github.com/gogpu/rutabaga/internal/iovec"
)

// Gallium pipe targets used by resource_create_3d.
const (
	pipeBuffer    = 0
	pipeTexture2D = 2
)

func init() {
	rutabaga.Register(rutabaga.VirglRenderer, New)
}

// resource is the device-side state of a guest resource. Textures record
// their extent and buffers their size for bounds checks.
type resource struct {
	texture hal.Texture
	buffer  hal.Buffer
	mapping []byte
	mapped  bool

	width, height, layers, levels uint32
	size                          uint64
}

// checkBox rejects transfer boxes outside the resource.
func (st *resource) checkBox(t rutabaga.Transfer3D) error {
	if st.buffer != nil {
		if uint64(t.X)+uint64(t.W) > st.size {
			return fmt.Errorf("%w: buffer range %d+%d outside %d bytes", rutabaga.ErrSpecViolation, t.X, t.W, st.size)
		}
		return nil
	}
	if t.Level >= st.levels {
		return fmt.Errorf("%w: level %d of %d", rutabaga.ErrSpecViolation, t.Level, st.levels)
	}
	w, h := max(st.width>>t.Level, 1), max(st.height>>t.Level, 1)
	if uint64(t.X)+uint64(t.W) > uint64(w) ||
		uint64(t.Y)+uint64(t.H) > uint64(h) ||
		uint64(t.Z)+uint64(t.D) > uint64(st.layers) {
		return fmt.Errorf("%w: box %dx%dx%d+%d+%d+%d outside %dx%dx%d level %d",
			rutabaga.ErrSpecViolation, t.W, t.H, t.D, t.X, t.Y, t.Z, w, h, st.layers, t.Level)
	}
	return nil
}

// Component is the 3D command-stream component.
type Component struct {
	rutabaga.BaseComponent

	dev          *gpudev.Device
	flags        rutabaga.VirglFlags
	fenceHandler rutabaga.FenceHandler
	resources    map[uint32]*resource
	fences       fenceQueue
	forceCtx0    bool
}

// New opens the GPU device and creates the component.
func New(cfg *rutabaga.Config, fh rutabaga.FenceHandler) (rutabaga.Component, error) {
	dev, err := gpudev.Open(cfg.GPU)
	if err != nil {
		return nil, fmt.Errorf("virgl: %w", err)
	}
	event, err := handle.NewEvent()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("virgl: %w", err)
	}
	rutabaga.Logger().Info("virgl: device opened", "adapter", dev.AdapterName,
		"venus", cfg.Virgl.UseVenus, "drm", cfg.Virgl.UseDrm)

	return &Component{
		dev:          dev,
		flags:        cfg.Virgl,
		fenceHandler: fh,
		resources:    make(map[uint32]*resource),
		fences:       fenceQueue{dev: dev, event: event},
	}, nil
}

// ForceCtx0 makes later transfers ignore the submitting context.
func (c *Component) ForceCtx0() {
	c.forceCtx0 = true
}

// CreateFence queues a fence behind the work submitted so far.
func (c *Component) CreateFence(f rutabaga.Fence) error {
	return c.fences.push(f, c.fenceHandler)
}

// EventPoll runs the handler for every completed fence.
func (c *Component) EventPoll() {
	c.fences.poll()
}

// PollDescriptor returns a duplicate of the fence eventfd. The caller owns it.
func (c *Component) PollDescriptor() *handle.Handle {
	h, err := c.fences.event.TryClone()
	if err != nil {
		rutabaga.Logger().Warn("virgl: clone poll descriptor", "err", err)
		return nil
	}
	return h
}

// Create3D creates a texture, or a buffer for the buffer target.
func (c *Component) Create3D(resourceID uint32, args rutabaga.ResourceCreate3D) (*rutabaga.Resource, error) {
	if _, ok := c.resources[resourceID]; ok {
		return nil, fmt.Errorf("%w: %d", rutabaga.ErrResourceExists, resourceID)
	}

	if args.Target == pipeBuffer {
		buf, err := c.dev.Device.CreateBuffer(&hal.BufferDescriptor{
			Label: fmt.Sprintf("virgl_buffer_%d", resourceID),
			Size:  uint64(args.Width),
			Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("virgl: create buffer %d: %w", resourceID, err)
		}
		c.resources[resourceID] = &resource{buffer: buf, size: uint64(args.Width)}
		return &rutabaga.Resource{ResourceID: resourceID, Size: uint64(args.Width)}, nil
	}

	format, ok := rutabaga.TextureFormat(args.Format)
	if !ok {
		return nil, fmt.Errorf("%w: format %d", rutabaga.ErrUnsupported, args.Format)
	}
	if limit := uint32(c.dev.Limits.MaxTextureDimension2D); args.Width > limit || args.Height > limit {
		return nil, fmt.Errorf("%w: %dx%d exceeds device limit", rutabaga.ErrSpecViolation, args.Width, args.Height)
	}
	layers := max(args.Depth, args.ArraySize, 1)
	tex, err := c.dev.Device.CreateTexture(&hal.TextureDescriptor{
		Label: fmt.Sprintf("virgl_texture_%d", resourceID),
		Size: hal.Extent3D{
			Width:              args.Width,
			Height:             args.Height,
			DepthOrArrayLayers: layers,
		},
		MipLevelCount: args.LastLevel + 1,
		SampleCount:   max(args.NrSamples, 1),
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, fmt.Errorf("virgl: create texture %d: %w", resourceID, err)
	}
	c.resources[resourceID] = &resource{
		texture: tex,
		width:   args.Width,
		height:  args.Height,
		layers:  layers,
		levels:  args.LastLevel + 1,
	}

	stride := args.Width * 4
	return &rutabaga.Resource{
		ResourceID: resourceID,
		Size:       uint64(stride) * uint64(args.Height) * uint64(layers),
		Info3D: &rutabaga.Resource3DInfo{
			Width:     args.Width,
			Height:    args.Height,
			DrmFourcc: drmFourcc(args.Format),
			Strides:   [4]uint32{stride},
		},
	}, nil
}

// TransferWrite uploads the box from guest backing to the device.
func (c *Component) TransferWrite(_ uint32, res *rutabaga.Resource, t rutabaga.Transfer3D) error {
	if t.IsEmpty() {
		return nil
	}
	st, ok := c.resources[res.ResourceID]
	if !ok {
		return fmt.Errorf("%w: %d", rutabaga.ErrInvalidResourceID, res.ResourceID)
	}
	if res.Backing == nil {
		return fmt.Errorf("%w: resource %d has no backing", rutabaga.ErrInvalidIovec, res.ResourceID)
	}

	if st.buffer != nil {
		if err := st.checkBox(t); err != nil {
			return err
		}
		data := make([]byte, t.W)
		if n := iovec.ReadAt(res.Backing, t.Offset, data); n != len(data) {
			return fmt.Errorf("%w: backing too short", rutabaga.ErrInvalidIovec)
		}
		c.dev.Queue.WriteBuffer(st.buffer, uint64(t.X), data)
		return nil
	}
	if st.texture == nil {
		return fmt.Errorf("%w: resource %d has no device image", rutabaga.ErrUnsupported, res.ResourceID)
	}
	if err := st.checkBox(t); err != nil {
		return err
	}

	row := uint64(t.W) * 4
	stride := uint64(t.Stride)
	if stride == 0 {
		stride = row
	}
	layerStride := uint64(t.LayerStride)
	if layerStride == 0 {
		layerStride = stride * uint64(t.H)
	}
	data := make([]byte, row*uint64(t.H)*uint64(t.D))
	for z := range uint64(t.D) {
		for y := range uint64(t.H) {
			dst := data[(z*uint64(t.H)+y)*row:][:row]
			if n := iovec.ReadAt(res.Backing, t.Offset+z*layerStride+y*stride, dst); n != len(dst) {
				return fmt.Errorf("%w: backing too short at row %d", rutabaga.ErrInvalidIovec, y)
			}
		}
	}

	c.dev.Queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  st.texture,
			MipLevel: t.Level,
			Origin:   hal.Origin3D{X: t.X, Y: t.Y, Z: t.Z},
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(row),
			RowsPerImage: t.H,
		},
		&hal.Extent3D{Width: t.W, Height: t.H, DepthOrArrayLayers: t.D},
	)
	return nil
}

// TransferRead reads back a buffer resource. Texture readback is not
// supported.
func (c *Component) TransferRead(_ uint32, res *rutabaga.Resource, t rutabaga.Transfer3D, buf []byte) error {
	if t.IsEmpty() {
		return nil
	}
	st, ok := c.resources[res.ResourceID]
	if !ok {
		return fmt.Errorf("%w: %d", rutabaga.ErrInvalidResourceID, res.ResourceID)
	}
	if st.buffer == nil {
		return fmt.Errorf("%w: texture readback", rutabaga.ErrUnsupported)
	}
	if err := st.checkBox(t); err != nil {
		return err
	}

	data := make([]byte, t.W)
	if err := c.dev.Queue.ReadBuffer(st.buffer, uint64(t.X), data); err != nil {
		return fmt.Errorf("virgl: read buffer %d: %w", res.ResourceID, err)
	}
	if buf != nil {
		if uint64(len(buf)) < t.Offset+uint64(len(data)) {
			return fmt.Errorf("%w: buffer too short", rutabaga.ErrSpecViolation)
		}
		copy(buf[t.Offset:], data)
		return nil
	}
	if n := iovec.WriteAt(res.Backing, t.Offset, data); n != len(data) {
		return fmt.Errorf("%w: backing too short", rutabaga.ErrInvalidIovec)
	}
	return nil
}

// CreateBlob creates guest or host memory blobs. Host blobs are backed by
// shared memory, or by h when the guest imports an existing object.
func (c *Component) CreateBlob(_, resourceID uint32, args rutabaga.ResourceCreateBlob, vecs []rutabaga.Iovec, h *handle.Handle) (*rutabaga.Resource, error) {
	if _, ok := c.resources[resourceID]; ok {
		return nil, fmt.Errorf("%w: %d", rutabaga.ErrResourceExists, resourceID)
	}

	res := &rutabaga.Resource{
		ResourceID: resourceID,
		Blob:       true,
		BlobMem:    args.BlobMem,
		BlobFlags:  args.BlobFlags,
		Size:       args.Size,
	}

	switch args.BlobMem {
	case rutabaga.BlobMemGuest:
		if iovec.Len(vecs) < args.Size {
			return nil, fmt.Errorf("%w: %d bytes of backing for %d byte blob", rutabaga.ErrInvalidIovec, iovec.Len(vecs), args.Size)
		}
		res.Backing = vecs
		c.resources[resourceID] = &resource{}
		return res, nil
	case rutabaga.BlobMemHost3D, rutabaga.BlobMemHost3DGuest:
	default:
		return nil, fmt.Errorf("%w: blob mem %d", rutabaga.ErrSpecViolation, args.BlobMem)
	}

	if h == nil {
		var err error
		h, err = handle.NewShm(fmt.Sprintf("virgl-blob-%d", resourceID), args.Size)
		if err != nil {
			return nil, fmt.Errorf("virgl: %w", err)
		}
	} else if !h.Type().IsMemory() {
		return nil, fmt.Errorf("%w: cannot import %s as memory", rutabaga.ErrInvalidHandle, h.Type())
	}

	st := &resource{}
	if args.BlobFlags&rutabaga.BlobFlagMappable != 0 {
		data, err := h.Map(args.Size)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("virgl: map blob %d: %w", resourceID, err)
		}
		st.mapping = data
	}
	buf, err := c.dev.Device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("virgl_blob_%d", resourceID),
		Size:  args.Size,
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage,
	})
	if err != nil {
		_ = handle.Unmap(st.mapping)
		h.Close()
		return nil, fmt.Errorf("virgl: create blob buffer %d: %w", resourceID, err)
	}
	st.buffer = buf
	st.size = args.Size
	c.resources[resourceID] = st

	mapInfo := rutabaga.MapCacheCached
	res.MapInfo = &mapInfo
	res.Handle = handle.NewRef(h)
	if args.BlobMem == rutabaga.BlobMemHost3DGuest {
		res.Backing = vecs
	}
	return res, nil
}

// Map returns the host mapping of a mappable blob.
func (c *Component) Map(resourceID uint32) (rutabaga.Mapping, error) {
	st, ok := c.resources[resourceID]
	if !ok {
		return rutabaga.Mapping{}, fmt.Errorf("%w: %d", rutabaga.ErrInvalidResourceID, resourceID)
	}
	if st.mapping == nil {
		return rutabaga.Mapping{}, fmt.Errorf("%w: resource %d is not mappable", rutabaga.ErrSpecViolation, resourceID)
	}
	st.mapped = true
	return rutabaga.Mapping{Data: st.mapping}, nil
}

// Unmap ends the guest mapping. The host mapping lives until unref.
func (c *Component) Unmap(resourceID uint32) error {
	st, ok := c.resources[resourceID]
	if !ok {
		return fmt.Errorf("%w: %d", rutabaga.ErrInvalidResourceID, resourceID)
	}
	if !st.mapped {
		return fmt.Errorf("%w: resource %d is not mapped", rutabaga.ErrSpecViolation, resourceID)
	}
	st.mapped = false
	return nil
}

// UnrefResource destroys the device objects of a resource.
func (c *Component) UnrefResource(resourceID uint32) {
	st, ok := c.resources[resourceID]
	if !ok {
		return
	}
	delete(c.resources, resourceID)
	c.destroy(st)
}

func (c *Component) destroy(st *resource) {
	if st.texture != nil {
		c.dev.Device.DestroyTexture(st.texture)
	}
	if st.buffer != nil {
		c.dev.Device.DestroyBuffer(st.buffer)
	}
	if err := handle.Unmap(st.mapping); err != nil {
		rutabaga.Logger().Warn("virgl: unmap blob", "err", err)
	}
}

// CreateContext creates a context for one of the virgl capsets.
func (c *Component) CreateContext(ctxID, contextInit uint32, name string, fh rutabaga.FenceHandler) (rutabaga.Context, error) {
	capsetID := contextInit & rutabaga.ContextInitCapsetIDMask
	if !c.capsetEnabled(capsetID) {
		return nil, fmt.Errorf("%w: capset %d disabled", rutabaga.ErrUnsupported, capsetID)
	}
	return &context{
		comp:     c,
		id:       ctxID,
		capsetID: capsetID,
		name:     name,
		fh:       fh,
		attached: make(map[uint32]*rutabaga.Resource),
		shaders:  make(map[uint32]hal.ShaderModule),
	}, nil
}

// Close releases every device object and the device itself.
func (c *Component) Close() error {
	for id, st := range c.resources {
		delete(c.resources, id)
		c.destroy(st)
	}
	c.fences.close()
	c.dev.Close()
	return nil
}
