package gfxstream

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rutabaga"
)

const ringSize = 64 << 10

type context struct {
	rutabaga.BaseContext

	comp *Component
	id   uint32
	fh   rutabaga.FenceHandler
	ring hal.Buffer
	head uint64
}

func (x *context) ComponentType() rutabaga.ComponentType { return rutabaga.Gfxstream }

// SubmitCmd streams the encoded commands into the context ring.
func (x *context) SubmitCmd(commands []byte) error {
	if len(commands)%4 != 0 {
		return fmt.Errorf("%w: stream of %d bytes is not 4 byte aligned", rutabaga.ErrSpecViolation, len(commands))
	}
	for len(commands) > 0 {
		n := min(uint64(len(commands)), ringSize-x.head)
		x.comp.dev.Queue.WriteBuffer(x.ring, x.head, commands[:n])
		commands = commands[n:]
		x.head = (x.head + n) % ringSize
	}
	return nil
}

// Attach records that the resource is visible to the stream decoder.
func (x *context) Attach(res *rutabaga.Resource) {
	if !res.Imported(rutabaga.Gfxstream) {
		res.MarkImported(rutabaga.Gfxstream)
	}
}

func (x *context) Detach(*rutabaga.Resource) {}

// CreateFence completes a ring fence once the device is idle.
func (x *context) CreateFence(f rutabaga.Fence) error {
	if err := x.comp.submitAndWait(); err != nil {
		return err
	}
	x.fh(f)
	return nil
}

// Close releases the command ring.
func (x *context) Close() error {
	if x.ring != nil {
		x.comp.dev.Device.DestroyBuffer(x.ring)
		x.ring = nil
	}
	return nil
}
