package virgl

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rutabaga"
	"github.com/gogpu/rutabaga/handle"
	"github.com/gogpu/rutabaga/internal/gpudev"
)

type pendingFence struct {
	fence   rutabaga.Fence
	gpu     hal.Fence
	handler rutabaga.FenceHandler
}

// fenceQueue tracks submitted fences in order. The event descriptor is
// signalled while any fence is pending.
type fenceQueue struct {
	dev     *gpudev.Device
	event   *handle.Handle
	pending []pendingFence
}

func (q *fenceQueue) push(f rutabaga.Fence, fh rutabaga.FenceHandler) error {
	gpu, err := q.dev.Device.CreateFence()
	if err != nil {
		return fmt.Errorf("virgl: create fence: %w", err)
	}
	if err := q.dev.Queue.Submit(nil, gpu, 1); err != nil {
		q.dev.Device.DestroyFence(gpu)
		return fmt.Errorf("virgl: submit fence %d: %w", f.FenceID, err)
	}
	q.pending = append(q.pending, pendingFence{fence: f, gpu: gpu, handler: fh})
	return q.event.Signal()
}

// poll retires fences in submission order up to the first incomplete one.
func (q *fenceQueue) poll() {
	if _, err := q.event.Drain(); err != nil {
		rutabaga.Logger().Warn("virgl: drain fence event", "err", err)
	}
	done := 0
	for _, p := range q.pending {
		ok, err := q.dev.Device.Wait(p.gpu, 1, 0)
		if err != nil {
			rutabaga.Logger().Warn("virgl: wait fence", "fence", p.fence.FenceID, "err", err)
			break
		}
		if !ok {
			break
		}
		q.dev.Device.DestroyFence(p.gpu)
		p.handler(p.fence)
		done++
	}
	q.pending = q.pending[done:]
	if len(q.pending) > 0 {
		_ = q.event.Signal()
	}
}

func (q *fenceQueue) close() {
	for _, p := range q.pending {
		q.dev.Device.DestroyFence(p.gpu)
	}
	q.pending = nil
	q.event.Close()
}
