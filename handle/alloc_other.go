//go:build !linux

package handle

// NewShm is only implemented on Linux.
func NewShm(string, uint64) (*Handle, error) { return nil, ErrUnsupported }

// NewEvent is only implemented on Linux.
func NewEvent() (*Handle, error) { return nil, ErrUnsupported }
