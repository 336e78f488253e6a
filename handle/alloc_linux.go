package handle

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewShm allocates an anonymous shared memory object of size bytes.
// name only shows up in /proc and debugging tools.
func NewShm(name string, size uint64) (*Handle, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("handle: memfd_create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("handle: truncate %q to %d: %w", name, size, err)
	}
	return &Handle{fd: fd, typ: TypeMemShm, size: size}, nil
}

// NewEvent allocates a non-blocking eventfd with a zero counter.
func NewEvent() (*Handle, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("handle: eventfd: %w", err)
	}
	return &Handle{fd: fd, typ: TypeSignalEventFD}, nil
}
