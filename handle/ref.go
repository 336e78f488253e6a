package handle

import (
	"fmt"
	"sync"
)

// Ownership describes how a handle may leave its owner.
type Ownership uint8

const (
	// Exclusive moves the handle out. Only possible with a single reference.
	Exclusive Ownership = iota
	// Shared hands out a duplicate and keeps the original.
	Shared
)

// String returns "exclusive" or "shared".
func (o Ownership) String() string {
	switch o {
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	default:
		return fmt.Sprintf("Ownership(%d)", uint8(o))
	}
}

type refState struct {
	mu    sync.Mutex
	h     *Handle
	count int
}

// Ref is one counted reference to a Handle. The handle is closed when
// the last reference is released.
type Ref struct {
	st       *refState
	released bool
}

// NewRef wraps h in a reference with a count of one.
func NewRef(h *Handle) *Ref {
	return &Ref{st: &refState{h: h, count: 1}}
}

// Acquire returns a new reference to the same handle.
func (r *Ref) Acquire() (*Ref, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	if r.st.h == nil {
		return nil, ErrClosed
	}
	r.st.count++
	return &Ref{st: r.st}, nil
}

// Release drops this reference, closing the handle if it was the last one.
func (r *Ref) Release() error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.released {
		return ErrReleased
	}
	r.released = true
	if r.st.count > 0 {
		r.st.count--
	}
	if r.st.count == 0 && r.st.h != nil {
		h := r.st.h
		r.st.h = nil
		return h.Close()
	}
	return nil
}

// Count returns the number of live references.
func (r *Ref) Count() int {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.count
}

// Handle borrows the underlying handle. It returns nil once the handle has
// been taken or closed. The caller must not close it.
func (r *Ref) Handle() *Handle {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.released {
		return nil
	}
	return r.st.h
}

// Take moves the handle out of the reference. It fails with ErrShared if
// any other reference is alive; the handle stays in place in that case.
func (r *Ref) Take() (*Handle, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	if r.st.h == nil {
		return nil, ErrClosed
	}
	if r.st.count != 1 {
		return nil, fmt.Errorf("%w: %d live", ErrShared, r.st.count)
	}
	h := r.st.h
	r.st.h = nil
	r.st.count = 0
	r.released = true
	return h, nil
}

// Export hands out the handle according to o.
func (r *Ref) Export(o Ownership) (*Handle, error) {
	if o == Exclusive {
		return r.Take()
	}
	h := r.Handle()
	if h == nil {
		return nil, ErrClosed
	}
	return h.TryClone()
}
