package rutabaga

import (
	"github.com/gogpu/rutabaga/handle"
)

// recorder is a component that records every call it receives.
type recorder struct {
	BaseComponent
	ct        ComponentType
	calls     []string
	fences    []Fence
	contexts  []*recordingContext
	detachErr error
	closed    bool
}

func (c *recorder) record(s string) { c.calls = append(c.calls, s) }

func (c *recorder) CapsetInfo(id uint32) (uint32, uint32) {
	c.record("capset_info")
	return id, id * 10
}

func (c *recorder) Capset(id, _ uint32) []byte {
	c.record("capset")
	return []byte{byte(c.ct), byte(id)}
}

func (c *recorder) CreateFence(f Fence) error {
	c.record("create_fence")
	c.fences = append(c.fences, f)
	return nil
}

func (c *recorder) Create3D(id uint32, _ ResourceCreate3D) (*Resource, error) {
	c.record("create_3d")
	return &Resource{ResourceID: id}, nil
}

func (c *recorder) AttachBacking(uint32, []Iovec) error {
	c.record("attach_backing")
	return nil
}

func (c *recorder) DetachBacking(uint32) error {
	c.record("detach_backing")
	return c.detachErr
}

func (c *recorder) UnrefResource(uint32) { c.record("unref") }

func (c *recorder) TransferWrite(uint32, *Resource, Transfer3D) error {
	c.record("transfer_write")
	return nil
}

func (c *recorder) CreateBlob(_, id uint32, args ResourceCreateBlob, _ []Iovec, h *handle.Handle) (*Resource, error) {
	c.record("create_blob")
	res := &Resource{ResourceID: id, Blob: true, BlobMem: args.BlobMem, BlobFlags: args.BlobFlags}
	if h != nil {
		res.Handle = handle.NewRef(h)
	}
	return res, nil
}

func (c *recorder) CreateContext(ctxID, _ uint32, _ string, _ FenceHandler) (Context, error) {
	c.record("create_context")
	ctx := &recordingContext{ct: c.ct, id: ctxID}
	c.contexts = append(c.contexts, ctx)
	return ctx, nil
}

func (c *recorder) Close() error {
	c.closed = true
	return nil
}

type recordingContext struct {
	BaseContext
	ct     ComponentType
	id     uint32
	calls  []string
	fences []Fence
	closed bool
}

func (x *recordingContext) SubmitCmd([]byte) error {
	x.calls = append(x.calls, "submit")
	return nil
}

func (x *recordingContext) Attach(*Resource) { x.calls = append(x.calls, "attach") }
func (x *recordingContext) Detach(*Resource) { x.calls = append(x.calls, "detach") }

func (x *recordingContext) CreateFence(f Fence) error {
	x.calls = append(x.calls, "create_fence")
	x.fences = append(x.fences, f)
	return nil
}

func (x *recordingContext) CreateBlob(id uint32, args ResourceCreateBlob, h *handle.Handle) (*Resource, error) {
	x.calls = append(x.calls, "create_blob")
	res := &Resource{ResourceID: id, Blob: true, BlobMem: args.BlobMem, BlobFlags: args.BlobFlags}
	if h != nil {
		res.Handle = handle.NewRef(h)
	}
	return res, nil
}

func (x *recordingContext) ComponentType() ComponentType { return x.ct }

func (x *recordingContext) Close() error {
	x.closed = true
	return nil
}

// newTestRutabaga wires components directly, bypassing the registry.
func newTestRutabaga(def ComponentType, comps ...*recorder) *Rutabaga {
	r := &Rutabaga{
		resources:        newTable[*Resource](),
		contexts:         newTable[Context](),
		components:       make(map[ComponentType]Component),
		defaultComponent: def,
		fenceHandler:     func(Fence) {},
		metrics:          NewMetrics(nil),
	}
	for _, c := range comps {
		r.components[c.ct] = c
		r.pushCapsets(c.ct, 0)
	}
	return r
}
