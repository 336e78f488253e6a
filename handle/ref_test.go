//go:build linux

package handle

import (
	"errors"
	"testing"
)

func newTestRef(t *testing.T) *Ref {
	t.Helper()
	h, err := NewShm("test-ref", 64)
	if err != nil {
		t.Fatalf("NewShm: %v", err)
	}
	return NewRef(h)
}

func TestRefSharedExport(t *testing.T) {
	r := newTestRef(t)
	defer r.Release()

	for i := range 2 {
		h, err := r.Export(Shared)
		if err != nil {
			t.Fatalf("export %d: %v", i, err)
		}
		if h.FD() == r.Handle().FD() {
			t.Fatalf("export %d returned the original descriptor", i)
		}
		h.Close()
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRefExclusiveWithOutstandingReference(t *testing.T) {
	r := newTestRef(t)
	other, err := r.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := r.Export(Exclusive); !errors.Is(err, ErrShared) {
		t.Fatalf("Export with 2 refs = %v, want ErrShared", err)
	}
	if r.Handle() == nil {
		t.Fatal("handle lost after failed exclusive export")
	}

	if err := other.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h, err := r.Export(Exclusive)
	if err != nil {
		t.Fatalf("Export with 1 ref: %v", err)
	}
	defer h.Close()
	if h.FD() < 0 {
		t.Error("exported handle is closed")
	}

	if _, err := r.Export(Exclusive); err == nil {
		t.Error("second exclusive export succeeded")
	}
}

func TestRefReleaseClosesLast(t *testing.T) {
	r := newTestRef(t)
	h := r.Handle()
	other, err := r.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := r.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if h.FD() < 0 {
		t.Fatal("handle closed while a reference is alive")
	}
	if err := r.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("double Release = %v, want ErrReleased", err)
	}
	if err := other.Release(); err != nil {
		t.Fatalf("Release last: %v", err)
	}
	if h.FD() != -1 {
		t.Error("handle still open after last release")
	}
}

func TestOwnershipString(t *testing.T) {
	if Exclusive.String() != "exclusive" || Shared.String() != "shared" {
		t.Errorf("got %q %q", Exclusive, Shared)
	}
}
