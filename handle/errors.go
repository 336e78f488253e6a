package handle

import "errors"

var (
	// ErrClosed is returned when a handle is used after Close.
	ErrClosed = errors.New("handle: handle is closed")

	// ErrShared is returned when exclusive ownership is requested while
	// other references to the handle are still alive.
	ErrShared = errors.New("handle: handle has outstanding references")

	// ErrReleased is returned when a reference is used after Release.
	ErrReleased = errors.New("handle: reference already released")

	// ErrNotEvent is returned when Signal or Drain is called on a handle
	// that is not an eventfd.
	ErrNotEvent = errors.New("handle: not an event handle")

	// ErrUnsupported is returned when the platform cannot allocate the
	// requested kind of handle.
	ErrUnsupported = errors.New("handle: unsupported on this platform")
)
