// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package handle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// TryClone duplicates the descriptor. The clone is independent of h and
// must be closed separately.
func (h *Handle) TryClone() (*Handle, error) {
	if h.fd < 0 {
		return nil, ErrClosed
	}
	fd, err := unix.FcntlInt(uintptr(h.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("handle: dup %s: %w", h.typ, err)
	}
	return &Handle{fd: fd, typ: h.typ, size: h.size}, nil
}

// Close releases the descriptor. Closing twice is a no-op.
func (h *Handle) Close() error {
	if h.fd < 0 {
		return nil
	}
	fd := h.fd
	h.fd = -1
	return unix.Close(fd)
}

// Map maps size bytes of the memory object read-write and shared.
func (h *Handle) Map(size uint64) ([]byte, error) {
	if h.fd < 0 {
		return nil, ErrClosed
	}
	if !h.typ.IsMemory() {
		return nil, fmt.Errorf("handle: cannot map %s", h.typ)
	}
	data, err := unix.Mmap(h.fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("handle: mmap %d bytes: %w", size, err)
	}
	return data, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// Signal increments an eventfd counter.
func (h *Handle) Signal() error {
	if h.typ != TypeSignalEventFD {
		return ErrNotEvent
	}
	if h.fd < 0 {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(h.fd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("handle: signal: %w", err)
	}
	return nil
}

// Drain resets an eventfd counter and returns its previous value.
// A counter that is already zero yields 0 without blocking.
func (h *Handle) Drain() (uint64, error) {
	if h.typ != TypeSignalEventFD {
		return 0, ErrNotEvent
	}
	if h.fd < 0 {
		return 0, ErrClosed
	}
	var buf [8]byte
	if _, err := unix.Read(h.fd, buf[:]); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, fmt.Errorf("handle: drain: %w", err)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}
