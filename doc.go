// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rutabaga is the core of a paravirtualized GPU device. It routes
// guest requests (resource creation, transfers, blob mapping, rendering
// contexts and fences) to a set of backend components built once at
// start-up:
//
//   - Rutabaga2D: host-memory resources and CPU transfers, presented on a
//     Display.
//   - VirglRenderer: the 3D command-stream component on a wgpu device.
//   - Gfxstream: the Vulkan-stream component.
//   - CrossDomain: forwards guest messages and shared memory to host
//     sockets such as a Wayland compositor.
//
// Components register themselves from their package's init function.
// Import the ones you need, or all of them:
//
//	import _ "github.com/gogpu/rutabaga/component/all"
//
//	r, err := rutabaga.Build(rutabaga.Config{
//		ContextMask: rutabaga.ParseContextTypes("virgl2:cross-domain"),
//	}, onFence)
//
// Build is atomic. Either every planned component is created or none is
// left running.
//
// # Capsets
//
// Each component advertises capability sets. Guests enumerate them with
// NumCapsets and CapsetInfo and pick one per context with the low byte of
// the context_init value passed to CreateContext.
//
// # Handles
//
// Blob memory and fences are backed by OS descriptors from package handle.
// ExportBlob duplicates the descriptor of shareable blobs and moves it out
// of exclusive ones.
//
// # Logging
//
// The package is silent by default. Enable logging with SetLogger.
//
// # Concurrency
//
// A Rutabaga is not safe for concurrent use. The device model serializes
// guest requests; fence callbacks run on the goroutine that calls
// CreateFence or EventPoll.
package rutabaga
