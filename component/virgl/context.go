package virgl

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rutabaga"
)

// Command stream opcodes. Each command is a header dword
// (cmd | object<<8 | length<<16) followed by length payload dwords.
const (
	cmdNop           = 0
	cmdCreateObject  = 1
	cmdBindObject    = 2
	cmdDestroyObject = 3
)

const objShader = 4

type context struct {
	rutabaga.BaseContext

	comp     *Component
	id       uint32
	capsetID uint32
	name     string
	fh       rutabaga.FenceHandler
	attached map[uint32]*rutabaga.Resource
	shaders  map[uint32]hal.ShaderModule
}

func (x *context) ComponentType() rutabaga.ComponentType { return rutabaga.VirglRenderer }

// SubmitCmd decodes the command stream. Shader objects carry WGSL and are
// compiled into shader modules; everything else is accepted as is.
func (x *context) SubmitCmd(commands []byte) error {
	if len(commands)%4 != 0 {
		return fmt.Errorf("%w: command stream of %d bytes is not dword aligned", rutabaga.ErrSpecViolation, len(commands))
	}
	for len(commands) > 0 {
		hdr := binary.LittleEndian.Uint32(commands)
		cmd, obj, n := hdr&0xff, (hdr>>8)&0xff, int(hdr>>16)
		commands = commands[4:]
		if n*4 > len(commands) {
			return fmt.Errorf("%w: command %d wants %d dwords, %d left", rutabaga.ErrSpecViolation, cmd, n, len(commands)/4)
		}
		payload := commands[:n*4]
		commands = commands[n*4:]

		switch {
		case cmd == cmdCreateObject && obj == objShader:
			if err := x.createShader(payload); err != nil {
				return err
			}
		case cmd == cmdDestroyObject && obj == objShader:
			if err := x.destroyShader(payload); err != nil {
				return err
			}
		case cmd == cmdNop, cmd == cmdBindObject:
		default:
			rutabaga.Logger().Debug("virgl: opaque command", "ctx", x.id, "cmd", cmd, "object", obj, "dwords", n)
		}
	}
	return nil
}

func (x *context) createShader(payload []byte) error {
	if len(payload) < 4 {
		return fmt.Errorf("%w: shader object without handle", rutabaga.ErrSpecViolation)
	}
	id := binary.LittleEndian.Uint32(payload)
	if _, ok := x.shaders[id]; ok {
		return fmt.Errorf("%w: shader %d", rutabaga.ErrAlreadyExists, id)
	}
	source := string(bytes.TrimRight(payload[4:], "\x00"))
	module, err := x.comp.dev.CreateShaderModule(fmt.Sprintf("virgl_ctx%d_shader%d", x.id, id), source)
	if err != nil {
		return fmt.Errorf("virgl: shader %d: %w", id, err)
	}
	x.shaders[id] = module
	return nil
}

func (x *context) destroyShader(payload []byte) error {
	if len(payload) < 4 {
		return fmt.Errorf("%w: destroy without handle", rutabaga.ErrSpecViolation)
	}
	id := binary.LittleEndian.Uint32(payload)
	module, ok := x.shaders[id]
	if !ok {
		return fmt.Errorf("%w: shader %d", rutabaga.ErrNotFound, id)
	}
	delete(x.shaders, id)
	x.comp.dev.Device.DestroyShaderModule(module)
	return nil
}

// Attach imports foreign resources once and tracks the resource.
func (x *context) Attach(res *rutabaga.Resource) {
	if res.Handle != nil && !res.Imported(rutabaga.VirglRenderer) {
		if _, ok := x.comp.resources[res.ResourceID]; !ok {
			rutabaga.Logger().Debug("virgl: importing resource", "ctx", x.id, "resource", res.ResourceID)
			x.comp.resources[res.ResourceID] = &resource{}
		}
		res.MarkImported(rutabaga.VirglRenderer)
	}
	x.attached[res.ResourceID] = res
}

func (x *context) Detach(res *rutabaga.Resource) {
	delete(x.attached, res.ResourceID)
}

// CreateFence queues a fence on the context's ring.
func (x *context) CreateFence(f rutabaga.Fence) error {
	return x.comp.fences.push(f, x.fh)
}

// Close destroys the context's shader modules.
func (x *context) Close() error {
	for id, m := range x.shaders {
		delete(x.shaders, id)
		x.comp.dev.Device.DestroyShaderModule(m)
	}
	return nil
}
