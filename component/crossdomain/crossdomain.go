// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

// Package crossdomain implements the cross-domain component. A guest
// context connects to one of the configured host sockets (for example a
// Wayland compositor) and forwards messages and shared memory descriptors
// over it.
package crossdomain

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/rutabaga"
	"github.com/gogpu/rutabaga/handle"
	"github.com/gogpu/rutabaga/internal/iovec"
)

func init() {
	rutabaga.Register(rutabaga.CrossDomain, New)
}

type blob struct {
	mapping []byte
	mapped  bool
}

// Component is the cross-domain component.
type Component struct {
	rutabaga.BaseComponent

	channels     []rutabaga.Channel
	fenceHandler rutabaga.FenceHandler
	blobs        map[uint32]*blob
}

// New creates the component. Channels are dialled lazily per context.
func New(cfg *rutabaga.Config, fh rutabaga.FenceHandler) (rutabaga.Component, error) {
	return &Component{
		channels:     cfg.Channels,
		fenceHandler: fh,
		blobs:        make(map[uint32]*blob),
	}, nil
}

func (c *Component) supportedChannels() uint32 {
	var mask uint32
	for _, ch := range c.channels {
		mask |= 1 << ch.ChannelType
	}
	return mask
}

func (c *Component) channel(channelType uint32) (rutabaga.Channel, bool) {
	for _, ch := range c.channels {
		if ch.ChannelType == channelType {
			return ch, true
		}
	}
	return rutabaga.Channel{}, false
}

// CapsetInfo reports the cross-domain capset.
func (c *Component) CapsetInfo(capsetID uint32) (uint32, uint32) {
	if capsetID != rutabaga.CapsetCrossDomain {
		return 0, 0
	}
	return protocolVersion, uint32(binary.Size(capabilities{}))
}

// Capset returns the protocol version and the configured channel types.
func (c *Component) Capset(capsetID, _ uint32) []byte {
	if capsetID != rutabaga.CapsetCrossDomain {
		return nil
	}
	out, err := binary.Append(nil, binary.LittleEndian, capabilities{
		Version:           protocolVersion,
		SupportedChannels: c.supportedChannels(),
	})
	if err != nil {
		return nil
	}
	return out
}

// CreateFence signals immediately; the global timeline carries no work.
func (c *Component) CreateFence(f rutabaga.Fence) error {
	c.fenceHandler(f)
	return nil
}

// CreateBlob accepts guest memory blobs only. Host blobs are created by a
// cross-domain context.
func (c *Component) CreateBlob(_, resourceID uint32, args rutabaga.ResourceCreateBlob, vecs []rutabaga.Iovec, _ *handle.Handle) (*rutabaga.Resource, error) {
	if args.BlobMem != rutabaga.BlobMemGuest {
		return nil, fmt.Errorf("%w: cross-domain host blob without context", rutabaga.ErrUnsupported)
	}
	if iovec.Len(vecs) < args.Size {
		return nil, fmt.Errorf("%w: guest blob %d too short", rutabaga.ErrInvalidIovec, resourceID)
	}
	return &rutabaga.Resource{
		ResourceID: resourceID,
		Blob:       true,
		BlobMem:    args.BlobMem,
		BlobFlags:  args.BlobFlags,
		Size:       args.Size,
		Backing:    vecs,
	}, nil
}

// Map returns the mapping of a context blob.
func (c *Component) Map(resourceID uint32) (rutabaga.Mapping, error) {
	b, ok := c.blobs[resourceID]
	if !ok || b.mapping == nil {
		return rutabaga.Mapping{}, fmt.Errorf("%w: resource %d is not mappable", rutabaga.ErrSpecViolation, resourceID)
	}
	b.mapped = true
	return rutabaga.Mapping{Data: b.mapping}, nil
}

// Unmap ends the guest mapping.
func (c *Component) Unmap(resourceID uint32) error {
	b, ok := c.blobs[resourceID]
	if !ok || !b.mapped {
		return fmt.Errorf("%w: resource %d is not mapped", rutabaga.ErrSpecViolation, resourceID)
	}
	b.mapped = false
	return nil
}

// UnrefResource drops the mapping of a context blob.
func (c *Component) UnrefResource(resourceID uint32) {
	b, ok := c.blobs[resourceID]
	if !ok {
		return
	}
	delete(c.blobs, resourceID)
	if err := handle.Unmap(b.mapping); err != nil {
		rutabaga.Logger().Warn("crossdomain: unmap blob", "resource", resourceID, "err", err)
	}
}

// CreateContext creates an unconnected context. The guest picks the
// channel with an init command.
func (c *Component) CreateContext(ctxID, _ uint32, name string, fh rutabaga.FenceHandler) (rutabaga.Context, error) {
	rutabaga.Logger().Debug("crossdomain: context created", "ctx", ctxID, "name", name)
	return &context{
		comp:     c,
		id:       ctxID,
		fh:       fh,
		attached: make(map[uint32]*rutabaga.Resource),
	}, nil
}

// Close drops every remaining mapping.
func (c *Component) Close() error {
	for id := range c.blobs {
		c.UnrefResource(id)
	}
	return nil
}
