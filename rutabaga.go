package rutabaga

import (
	"errors"
	"fmt"

	"github.com/gogpu/rutabaga/handle"
)

// Rutabaga owns the resource and context tables and routes guest requests
// to components. It is not safe for concurrent use; the device frontend
// drives it from a single goroutine.
type Rutabaga struct {
	resources table[*Resource]
	contexts  table[Context]

	components       map[ComponentType]Component
	defaultComponent ComponentType
	capsets          []CapsetInfo

	fenceHandler  FenceHandler
	strictCapsets bool
	metrics       *Metrics
}

// DefaultComponent returns the component that handles unrouted requests.
func (r *Rutabaga) DefaultComponent() ComponentType { return r.defaultComponent }

// Metrics returns the orchestrator's collectors.
func (r *Rutabaga) Metrics() *Metrics { return r.metrics }

func (r *Rutabaga) component(ct ComponentType) (Component, error) {
	c, ok := r.components[ct]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidComponent, ct)
	}
	return c, nil
}

func (r *Rutabaga) defaultComp() (Component, error) {
	return r.component(r.defaultComponent)
}

// capsetComponent finds the component owning an advertised capset. Unknown
// ids go to the default component unless strict capsets are enabled.
// Capset 0 always means the default component.
func (r *Rutabaga) capsetComponent(capsetID uint32) (ComponentType, error) {
	for _, c := range r.capsets {
		if c.ID == capsetID {
			return c.Component, nil
		}
	}
	if r.strictCapsets && capsetID != 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCapset, capsetID)
	}
	Logger().Debug("rutabaga: capset not advertised, using default component",
		"capset", capsetID, "default", r.defaultComponent.String())
	return r.defaultComponent, nil
}

func (r *Rutabaga) resource(resourceID uint32) (*Resource, error) {
	res, ok := r.resources.get(resourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResourceID, resourceID)
	}
	return res, nil
}

func (r *Rutabaga) context(ctxID uint32) (Context, error) {
	ctx, ok := r.contexts.get(ctxID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidContextID, ctxID)
	}
	return ctx, nil
}

// NumCapsets returns the number of advertised capsets.
func (r *Rutabaga) NumCapsets() uint32 { return uint32(len(r.capsets)) }

// CapsetInfo returns the id, latest version and blob size of the capset
// at index in the advertised list.
func (r *Rutabaga) CapsetInfo(index uint32) (capsetID, version, size uint32, err error) {
	defer func() { r.metrics.observe("capset_info", err) }()

	if index >= uint32(len(r.capsets)) {
		return 0, 0, 0, fmt.Errorf("%w: index %d", ErrInvalidCapset, index)
	}
	info := r.capsets[index]
	comp, err := r.component(info.Component)
	if err != nil {
		return 0, 0, 0, err
	}
	version, size = comp.CapsetInfo(info.ID)
	return info.ID, version, size, nil
}

// Capset returns the capset blob for capsetID at version.
func (r *Rutabaga) Capset(capsetID, version uint32) (blob []byte, err error) {
	defer func() { r.metrics.observe("capset", err) }()

	ct, err := r.capsetComponent(capsetID)
	if err != nil {
		return nil, err
	}
	comp, err := r.component(ct)
	if err != nil {
		return nil, err
	}
	return comp.Capset(capsetID, version), nil
}

// ForceCtx0 forwards to the default component.
func (r *Rutabaga) ForceCtx0() {
	if comp, err := r.defaultComp(); err == nil {
		comp.ForceCtx0()
	}
}

// CreateFence routes a fence to its context ring when FlagInfoRingIdx is
// set and to the default component's global timeline otherwise.
func (r *Rutabaga) CreateFence(fence Fence) (err error) {
	defer func() { r.metrics.observe("create_fence", err) }()

	if fence.PerRing() {
		ctx, err := r.context(fence.CtxID)
		if err != nil {
			return err
		}
		if err := ctx.CreateFence(fence); err != nil {
			return fmt.Errorf("rutabaga: ring fence %d on context %d: %w", fence.FenceID, fence.CtxID, err)
		}
	} else {
		comp, err := r.defaultComp()
		if err != nil {
			return err
		}
		if err := comp.CreateFence(fence); err != nil {
			return fmt.Errorf("rutabaga: fence %d: %w", fence.FenceID, err)
		}
	}
	r.metrics.fence(fence)
	return nil
}

// EventPoll lets the default component retire completed work.
func (r *Rutabaga) EventPoll() {
	if comp, err := r.defaultComp(); err == nil {
		comp.EventPoll()
	}
}

// PollDescriptor returns the default component's poll descriptor, or nil.
func (r *Rutabaga) PollDescriptor() *handle.Handle {
	comp, err := r.defaultComp()
	if err != nil {
		return nil
	}
	return comp.PollDescriptor()
}

// ResourceCreate3D creates a resource on the default component.
func (r *Rutabaga) ResourceCreate3D(resourceID uint32, args ResourceCreate3D) (err error) {
	defer func() { r.metrics.observe("resource_create_3d", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	if r.resources.has(resourceID) {
		return fmt.Errorf("%w: %d", ErrResourceExists, resourceID)
	}
	res, err := comp.Create3D(resourceID, args)
	if err != nil {
		return fmt.Errorf("rutabaga: create resource %d: %w", resourceID, err)
	}
	res.Creator = r.defaultComponent
	return r.insertResource(res)
}

func (r *Rutabaga) insertResource(res *Resource) error {
	if err := res.validate(); err != nil {
		r.unrefComponents(res)
		_ = res.release()
		return err
	}
	r.resources.insert(res.ResourceID, res)
	r.metrics.setResources(r.resources.len())
	return nil
}

// unrefComponents tells the default component, and the creator when it
// differs, that res is gone.
func (r *Rutabaga) unrefComponents(res *Resource) {
	if comp, err := r.defaultComp(); err == nil {
		comp.UnrefResource(res.ResourceID)
	}
	if res.Creator == r.defaultComponent {
		return
	}
	if comp, err := r.component(res.Creator); err == nil {
		comp.UnrefResource(res.ResourceID)
	}
}

// AttachBacking gives a resource guest memory.
func (r *Rutabaga) AttachBacking(resourceID uint32, vecs []Iovec) (err error) {
	defer func() { r.metrics.observe("attach_backing", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	res, err := r.resource(resourceID)
	if err != nil {
		return err
	}
	if err := comp.AttachBacking(resourceID, vecs); err != nil {
		return fmt.Errorf("rutabaga: attach backing %d: %w", resourceID, err)
	}
	res.Backing = vecs
	return nil
}

// DetachBacking removes a resource's guest memory. The backing is dropped
// even when the component reports an error.
func (r *Rutabaga) DetachBacking(resourceID uint32) (err error) {
	defer func() { r.metrics.observe("detach_backing", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	res, err := r.resource(resourceID)
	if err != nil {
		return err
	}
	err = comp.DetachBacking(resourceID)
	res.Backing = nil
	if err != nil {
		return fmt.Errorf("rutabaga: detach backing %d: %w", resourceID, err)
	}
	return nil
}

// UnrefResource destroys a resource.
func (r *Rutabaga) UnrefResource(resourceID uint32) (err error) {
	defer func() { r.metrics.observe("unref_resource", err) }()

	if _, err := r.defaultComp(); err != nil {
		return err
	}
	res, ok := r.resources.remove(resourceID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidResourceID, resourceID)
	}
	r.metrics.setResources(r.resources.len())
	r.unrefComponents(res)
	if err := res.release(); err != nil {
		Logger().Warn("rutabaga: release resource handle", "resource", resourceID, "err", err)
	}
	return nil
}

// TransferWrite copies guest data into a resource.
func (r *Rutabaga) TransferWrite(ctxID, resourceID uint32, t Transfer3D) (err error) {
	defer func() { r.metrics.observe("transfer_write", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	res, err := r.resource(resourceID)
	if err != nil {
		return err
	}
	if err := comp.TransferWrite(ctxID, res, t); err != nil {
		return fmt.Errorf("rutabaga: transfer write %d: %w", resourceID, err)
	}
	return nil
}

// TransferRead copies resource data into buf, or into the resource's
// backing when buf is nil.
func (r *Rutabaga) TransferRead(ctxID, resourceID uint32, t Transfer3D, buf []byte) (err error) {
	defer func() { r.metrics.observe("transfer_read", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	res, err := r.resource(resourceID)
	if err != nil {
		return err
	}
	if err := comp.TransferRead(ctxID, res, t, buf); err != nil {
		return fmt.Errorf("rutabaga: transfer read %d: %w", resourceID, err)
	}
	return nil
}

// ResourceFlush presents a resource on the default component.
func (r *Rutabaga) ResourceFlush(resourceID uint32) (err error) {
	defer func() { r.metrics.observe("resource_flush", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	res, err := r.resource(resourceID)
	if err != nil {
		return err
	}
	return comp.ResourceFlush(res)
}

// ResourceCreateBlob creates a blob resource. Blobs for a cross-domain
// context are created by the context; all others by the default
// component. h, if non-nil, is an object to import. It is consumed: on
// failure it is closed.
func (r *Rutabaga) ResourceCreateBlob(ctxID, resourceID uint32, args ResourceCreateBlob, vecs []Iovec, h *handle.Handle) (err error) {
	defer func() {
		if err != nil && h != nil {
			_ = h.Close()
		}
		r.metrics.observe("resource_create_blob", err)
	}()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	var ctx Context
	if ctxID > 0 {
		c, err := r.context(ctxID)
		if err != nil {
			return err
		}
		if c.ComponentType() == CrossDomain {
			ctx = c
		}
	}
	if r.resources.has(resourceID) {
		return fmt.Errorf("%w: %d", ErrResourceExists, resourceID)
	}

	var res *Resource
	if ctx != nil {
		res, err = ctx.CreateBlob(resourceID, args, h)
	} else {
		res, err = comp.CreateBlob(ctxID, resourceID, args, vecs, h)
	}
	if err != nil {
		return fmt.Errorf("rutabaga: create blob %d: %w", resourceID, err)
	}
	res.Creator = r.defaultComponent
	if ctx != nil {
		res.Creator = ctx.ComponentType()
	}
	return r.insertResource(res)
}

// Map returns the host mapping of a blob.
func (r *Rutabaga) Map(resourceID uint32) (m Mapping, err error) {
	defer func() { r.metrics.observe("map", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return Mapping{}, err
	}
	if _, err := r.resource(resourceID); err != nil {
		return Mapping{}, err
	}
	return comp.Map(resourceID)
}

// Unmap releases a mapping returned by Map.
func (r *Rutabaga) Unmap(resourceID uint32) (err error) {
	defer func() { r.metrics.observe("unmap", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return err
	}
	if _, err := r.resource(resourceID); err != nil {
		return err
	}
	return comp.Unmap(resourceID)
}

// MapInfo returns the cache mode of a mappable blob.
func (r *Rutabaga) MapInfo(resourceID uint32) (uint32, error) {
	res, err := r.resource(resourceID)
	if err != nil {
		return 0, err
	}
	if res.MapInfo == nil {
		return 0, fmt.Errorf("%w: resource %d has no map info", ErrSpecViolation, resourceID)
	}
	return *res.MapInfo, nil
}

// VulkanInfo returns the Vulkan memory location of a blob.
func (r *Rutabaga) VulkanInfo(resourceID uint32) (VulkanInfo, error) {
	res, err := r.resource(resourceID)
	if err != nil {
		return VulkanInfo{}, err
	}
	if res.VulkanInfo == nil {
		return VulkanInfo{}, fmt.Errorf("%w: resource %d", ErrInvalidVulkanInfo, resourceID)
	}
	return *res.VulkanInfo, nil
}

// Query returns the layout of a 3D resource.
func (r *Rutabaga) Query(resourceID uint32) (Resource3DInfo, error) {
	res, err := r.resource(resourceID)
	if err != nil {
		return Resource3DInfo{}, err
	}
	if res.Info3D == nil {
		return Resource3DInfo{}, fmt.Errorf("%w: resource %d has no 3D info", ErrSpecViolation, resourceID)
	}
	return *res.Info3D, nil
}

// ExportBlob hands out a resource's handle. Shareable resources yield a
// duplicate and keep their handle. Exclusive blobs give up the handle, which
// fails with ErrInvalidHandle while any other reference to it is alive.
func (r *Rutabaga) ExportBlob(resourceID uint32) (h *handle.Handle, err error) {
	defer func() { r.metrics.observe("export_blob", err) }()

	res, err := r.resource(resourceID)
	if err != nil {
		return nil, err
	}
	if res.Handle == nil {
		return nil, fmt.Errorf("%w: resource %d has no handle", ErrInvalidHandle, resourceID)
	}

	own := BlobOwnership(res.Blob, res.BlobFlags)
	h, err = res.Handle.Export(own)
	if err != nil {
		if errors.Is(err, handle.ErrShared) {
			return nil, fmt.Errorf("%w: resource %d: %w", ErrInvalidHandle, resourceID, err)
		}
		return nil, fmt.Errorf("rutabaga: export resource %d: %w", resourceID, err)
	}
	if own == handle.Exclusive {
		res.Handle = nil
	}
	return h, nil
}

// ExportFence returns a descriptor for a global fence.
func (r *Rutabaga) ExportFence(fenceID uint64) (h *handle.Handle, err error) {
	defer func() { r.metrics.observe("export_fence", err) }()

	comp, err := r.defaultComp()
	if err != nil {
		return nil, err
	}
	return comp.ExportFence(fenceID)
}

// CreateContext creates a context on the component owning the capset in
// the low byte of contextInit.
func (r *Rutabaga) CreateContext(ctxID, contextInit uint32, name string) (err error) {
	defer func() { r.metrics.observe("create_context", err) }()

	if r.contexts.has(ctxID) {
		return fmt.Errorf("%w: %d", ErrContextExists, ctxID)
	}
	ct, err := r.capsetComponent(contextInit & ContextInitCapsetIDMask)
	if err != nil {
		return err
	}
	comp, err := r.component(ct)
	if err != nil {
		return err
	}
	ctx, err := comp.CreateContext(ctxID, contextInit, name, r.fenceHandler)
	if err != nil {
		return fmt.Errorf("rutabaga: create context %d on %s: %w", ctxID, ct, err)
	}
	r.contexts.insert(ctxID, ctx)
	r.metrics.setContexts(r.contexts.len())
	Logger().Debug("rutabaga: context created", "ctx", ctxID, "component", ct.String(), "name", name)
	return nil
}

// DestroyContext removes a context.
func (r *Rutabaga) DestroyContext(ctxID uint32) (err error) {
	defer func() { r.metrics.observe("destroy_context", err) }()

	ctx, ok := r.contexts.remove(ctxID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidContextID, ctxID)
	}
	r.metrics.setContexts(r.contexts.len())
	closeContext(ctxID, ctx)
	return nil
}

func closeContext(ctxID uint32, ctx Context) {
	c, ok := ctx.(interface{ Close() error })
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		Logger().Warn("rutabaga: close context", "ctx", ctxID, "err", err)
	}
}

// ContextAttachResource makes a resource usable by a context.
func (r *Rutabaga) ContextAttachResource(ctxID, resourceID uint32) (err error) {
	defer func() { r.metrics.observe("context_attach_resource", err) }()

	ctx, err := r.context(ctxID)
	if err != nil {
		return err
	}
	res, err := r.resource(resourceID)
	if err != nil {
		return err
	}
	ctx.Attach(res)
	return nil
}

// ContextDetachResource removes a resource from a context.
func (r *Rutabaga) ContextDetachResource(ctxID, resourceID uint32) (err error) {
	defer func() { r.metrics.observe("context_detach_resource", err) }()

	ctx, err := r.context(ctxID)
	if err != nil {
		return err
	}
	res, err := r.resource(resourceID)
	if err != nil {
		return err
	}
	ctx.Detach(res)
	return nil
}

// SubmitCommand executes a command buffer on a context.
func (r *Rutabaga) SubmitCommand(ctxID uint32, commands []byte) (err error) {
	defer func() { r.metrics.observe("submit_command", err) }()

	ctx, err := r.context(ctxID)
	if err != nil {
		return err
	}
	if err := ctx.SubmitCmd(commands); err != nil {
		return fmt.Errorf("rutabaga: submit on context %d: %w", ctxID, err)
	}
	return nil
}

// Close destroys every context and resource and shuts down the
// components. The Rutabaga must not be used afterwards.
func (r *Rutabaga) Close() error {
	for _, id := range r.contexts.ids() {
		ctx, _ := r.contexts.remove(id)
		closeContext(id, ctx)
	}
	var errs []error
	for _, id := range r.resources.ids() {
		res, _ := r.resources.remove(id)
		r.unrefComponents(res)
		if err := res.release(); err != nil {
			errs = append(errs, fmt.Errorf("release resource %d: %w", id, err))
		}
	}
	r.metrics.setContexts(0)
	r.metrics.setResources(0)
	r.metrics.Unregister()
	if err := r.closeComponents(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
