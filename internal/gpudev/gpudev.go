// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpudev opens the hal device shared by the GPU-backed components.
package gpudev

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoAdapter is returned when the instance exposes no adapters.
var ErrNoAdapter = errors.New("gpudev: no GPU adapters found")

// API creates hal instances.
type API interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Device is an open hal device and its queue.
type Device struct {
	Device      hal.Device
	Queue       hal.Queue
	AdapterName string
	DeviceIdx   uint32
	Limits      gputypes.Limits

	instance hal.Instance
}

// Open creates an instance from api and opens the first discrete or
// integrated adapter, or the first adapter if there is neither. A nil api
// selects the Vulkan backend.
func Open(api API) (*Device, error) {
	if api == nil {
		backend, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, fmt.Errorf("gpudev: vulkan backend not available")
		}
		api = backend
	}

	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpudev: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	idx := 0
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			idx = i
			break
		}
	}
	selected := &adapters[idx]

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpudev: open device: %w", err)
	}

	return &Device{
		Device:      openDev.Device,
		Queue:       openDev.Queue,
		AdapterName: selected.Info.Name,
		DeviceIdx:   uint32(idx),
		Limits:      limits,
		instance:    instance,
	}, nil
}

// Close destroys the device and its instance.
func (d *Device) Close() {
	if d.Device != nil {
		d.Device.Destroy()
		d.Device = nil
		d.Queue = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
}
