//go:build !unix

package handle

// Descriptors can be carried on this platform but not duplicated, mapped
// or signalled.

func (h *Handle) TryClone() (*Handle, error) {
	if h.fd < 0 {
		return nil, ErrClosed
	}
	return nil, ErrUnsupported
}

// Close forgets the descriptor. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.fd = -1
	return nil
}

func (h *Handle) Map(uint64) ([]byte, error) { return nil, ErrUnsupported }

// Unmap accepts only the empty mapping.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return ErrUnsupported
}

func (h *Handle) Signal() error {
	if h.typ != TypeSignalEventFD {
		return ErrNotEvent
	}
	return ErrUnsupported
}

func (h *Handle) Drain() (uint64, error) {
	if h.typ != TypeSignalEventFD {
		return 0, ErrNotEvent
	}
	return 0, ErrUnsupported
}
