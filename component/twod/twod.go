// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package twod implements the 2D software component. Resources are plain
// host memory; transfers copy rectangles between guest backing and host
// memory and flushes scale the result onto the configured display.
//
// Importing the package registers the component:
//
//	import _ "github.com/gogpu/rutabaga/component/twod"
package twod

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/rutabaga"
	"github.com/gogpu/rutabaga/internal/iovec"
)

// All virtio-gpu 2D formats use 4 bytes per pixel.
const bytesPerPixel = 4

func init() {
	rutabaga.Register(rutabaga.Rutabaga2D, New)
}

// Component is the 2D software component.
type Component struct {
	rutabaga.BaseComponent

	fenceHandler  rutabaga.FenceHandler
	display       rutabaga.Display
	displayWidth  uint32
	displayHeight uint32
}

// New creates a 2D component.
func New(cfg *rutabaga.Config, fh rutabaga.FenceHandler) (rutabaga.Component, error) {
	return &Component{
		fenceHandler:  fh,
		display:       cfg.Display,
		displayWidth:  cfg.DisplayWidth,
		displayHeight: cfg.DisplayHeight,
	}, nil
}

// CreateFence completes the fence immediately; there is no GPU work.
func (c *Component) CreateFence(f rutabaga.Fence) error {
	c.fenceHandler(f)
	return nil
}

// Create3D allocates host memory for a width by height resource.
func (c *Component) Create3D(resourceID uint32, args rutabaga.ResourceCreate3D) (*rutabaga.Resource, error) {
	size := uint64(args.Width) * uint64(args.Height) * bytesPerPixel
	if size > 1<<31 {
		return nil, fmt.Errorf("%w: 2D resource %dx%d too large", rutabaga.ErrSpecViolation, args.Width, args.Height)
	}
	return &rutabaga.Resource{
		ResourceID: resourceID,
		Size:       size,
		Info2D: &rutabaga.Info2D{
			Width:   args.Width,
			Height:  args.Height,
			Format:  args.Format,
			HostMem: make([]byte, size),
		},
	}, nil
}

func checkRect(info *rutabaga.Info2D, t rutabaga.Transfer3D) error {
	if uint64(t.X)+uint64(t.W) > uint64(info.Width) || uint64(t.Y)+uint64(t.H) > uint64(info.Height) {
		return fmt.Errorf("%w: transfer %dx%d+%d+%d outside %dx%d resource",
			rutabaga.ErrSpecViolation, t.W, t.H, t.X, t.Y, info.Width, info.Height)
	}
	return nil
}

// TransferWrite copies a rectangle from the guest backing into host
// memory. The guest rectangle starts at t.Offset with a stride of one
// resource row.
func (c *Component) TransferWrite(_ uint32, res *rutabaga.Resource, t rutabaga.Transfer3D) error {
	if t.IsEmpty() {
		return nil
	}
	info := res.Info2D
	if info == nil {
		return fmt.Errorf("%w: resource %d is not 2D", rutabaga.ErrUnsupported, res.ResourceID)
	}
	if res.Backing == nil {
		return fmt.Errorf("%w: resource %d has no backing", rutabaga.ErrInvalidIovec, res.ResourceID)
	}
	if err := checkRect(info, t); err != nil {
		return err
	}

	stride := uint64(info.Width) * bytesPerPixel
	line := uint64(t.W) * bytesPerPixel
	for row := range uint64(t.H) {
		src := t.Offset + row*stride
		dst := (uint64(t.Y)+row)*stride + uint64(t.X)*bytesPerPixel
		if n := iovec.ReadAt(res.Backing, src, info.HostMem[dst:dst+line]); uint64(n) != line {
			return fmt.Errorf("%w: backing too short for row %d", rutabaga.ErrInvalidIovec, row)
		}
	}
	return nil
}

// TransferRead copies a rectangle from host memory into buf, or into the
// guest backing when buf is nil.
func (c *Component) TransferRead(_ uint32, res *rutabaga.Resource, t rutabaga.Transfer3D, buf []byte) error {
	if t.IsEmpty() {
		return nil
	}
	info := res.Info2D
	if info == nil {
		return fmt.Errorf("%w: resource %d is not 2D", rutabaga.ErrUnsupported, res.ResourceID)
	}
	if buf == nil && res.Backing == nil {
		return fmt.Errorf("%w: resource %d has no backing", rutabaga.ErrInvalidIovec, res.ResourceID)
	}
	if err := checkRect(info, t); err != nil {
		return err
	}

	stride := uint64(info.Width) * bytesPerPixel
	line := uint64(t.W) * bytesPerPixel
	for row := range uint64(t.H) {
		src := info.HostMem[(uint64(t.Y)+row)*stride+uint64(t.X)*bytesPerPixel:][:line]
		dst := t.Offset + row*stride
		var n int
		if buf != nil {
			if dst >= uint64(len(buf)) {
				return fmt.Errorf("%w: buffer too short for row %d", rutabaga.ErrSpecViolation, row)
			}
			n = copy(buf[dst:], src)
		} else {
			n = iovec.WriteAt(res.Backing, dst, src)
		}
		if uint64(n) != line {
			return fmt.Errorf("%w: destination too short for row %d", rutabaga.ErrSpecViolation, row)
		}
	}
	return nil
}

// ResourceFlush converts the resource to RGBA, scales it to the display
// size and presents it.
func (c *Component) ResourceFlush(res *rutabaga.Resource) error {
	if c.display == nil {
		return fmt.Errorf("%w: no display configured", rutabaga.ErrUnsupported)
	}
	info := res.Info2D
	if info == nil {
		return fmt.Errorf("%w: resource %d is not 2D", rutabaga.ErrUnsupported, res.ResourceID)
	}
	img, err := toRGBA(info)
	if err != nil {
		return err
	}

	w, h := c.displayWidth, c.displayHeight
	if w == 0 || h == 0 || (w == info.Width && h == info.Height) {
		return c.display.Present(img)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return c.display.Present(dst)
}

func toRGBA(info *rutabaga.Info2D) (*image.RGBA, error) {
	if rutabaga.BytesPerPixel(info.Format) == 0 {
		return nil, fmt.Errorf("%w: format %d", rutabaga.ErrUnsupported, info.Format)
	}
	img := image.NewRGBA(image.Rect(0, 0, int(info.Width), int(info.Height)))
	for i := 0; i+bytesPerPixel <= len(info.HostMem); i += bytesPerPixel {
		r, g, b, a, _ := rutabaga.ToRGBA(info.Format, info.HostMem[i:i+bytesPerPixel])
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, a
	}
	return img, nil
}
