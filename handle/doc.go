// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package handle wraps the OS-level descriptors that GPU resources and
// fences are shared through: anonymous shared memory, dma-bufs, opaque
// driver fds and eventfds.
//
// A [Handle] owns exactly one file descriptor. A [Ref] counts the places a
// handle is reachable from and decides whether it may be handed out:
// a [Shared] export duplicates the descriptor, an [Exclusive] export moves
// the only reference out.
//
// The package targets unix systems. Shared memory and event descriptors
// are allocated with memfd_create and eventfd on Linux.
package handle
