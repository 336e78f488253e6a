package rutabaga

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rutabaga/handle"
)

func TestBlobOwnership(t *testing.T) {
	tests := []struct {
		name  string
		blob  bool
		flags uint32
		want  handle.Ownership
	}{
		{"non-blob", false, 0, handle.Shared},
		{"non-blob ignores flags", false, BlobFlagMappable, handle.Shared},
		{"blob no flags", true, 0, handle.Exclusive},
		{"blob mappable", true, BlobFlagMappable, handle.Exclusive},
		{"blob shareable", true, BlobFlagShareable, handle.Shared},
		{"blob cross-device", true, BlobFlagCrossDevice, handle.Shared},
		{"blob all", true, BlobFlagMappable | BlobFlagShareable | BlobFlagCrossDevice, handle.Shared},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BlobOwnership(tt.blob, tt.flags); got != tt.want {
				t.Errorf("BlobOwnership(%v, %#x) = %v, want %v", tt.blob, tt.flags, got, tt.want)
			}
		})
	}
}

func TestImportMask(t *testing.T) {
	r := &Resource{ResourceID: 1}
	if r.Imported(VirglRenderer) {
		t.Fatal("fresh resource reports imported")
	}
	r.MarkImported(VirglRenderer)
	r.MarkImported(VirglRenderer)
	if !r.Imported(VirglRenderer) {
		t.Error("VirglRenderer not recorded")
	}
	if r.Imported(Gfxstream) || r.Imported(CrossDomain) {
		t.Error("unrelated component marked")
	}
	if r.ImportMask != 1<<VirglRenderer {
		t.Errorf("ImportMask = %#x", r.ImportMask)
	}
}

func TestResourceValidate(t *testing.T) {
	r := &Resource{ResourceID: 9, Info2D: &Info2D{}, Info3D: &Resource3DInfo{}}
	if err := r.validate(); !errors.Is(err, ErrSpecViolation) {
		t.Errorf("validate = %v, want ErrSpecViolation", err)
	}
	r.Info3D = nil
	if err := r.validate(); err != nil {
		t.Errorf("validate 2D only = %v", err)
	}
}

func TestParseComponentType(t *testing.T) {
	for _, c := range []ComponentType{Rutabaga2D, VirglRenderer, Gfxstream, CrossDomain} {
		got, err := ParseComponentType(c.String())
		if err != nil || got != c {
			t.Errorf("ParseComponentType(%q) = %v, %v", c, got, err)
		}
	}
	if _, err := ParseComponentType("vulkan"); !errors.Is(err, ErrInvalidComponent) {
		t.Errorf("unknown name: %v", err)
	}
}

func TestToRGBA(t *testing.T) {
	px := []byte{0x10, 0x20, 0x30, 0x40}
	tests := []struct {
		format     uint32
		r, g, b, a uint8
	}{
		{FormatB8G8R8A8Unorm, 0x30, 0x20, 0x10, 0x40},
		{FormatB8G8R8X8Unorm, 0x30, 0x20, 0x10, 0xff},
		{FormatR8G8B8A8Unorm, 0x10, 0x20, 0x30, 0x40},
		{FormatA8R8G8B8Unorm, 0x20, 0x30, 0x40, 0x10},
		{FormatX8B8G8R8Unorm, 0x40, 0x30, 0x20, 0xff},
	}
	for _, tt := range tests {
		r, g, b, a, ok := ToRGBA(tt.format, px)
		if !ok || r != tt.r || g != tt.g || b != tt.b || a != tt.a {
			t.Errorf("format %d: got %#x %#x %#x %#x %v", tt.format, r, g, b, a, ok)
		}
	}
	if _, _, _, _, ok := ToRGBA(999, px); ok {
		t.Error("unknown format accepted")
	}
	if BytesPerPixel(999) != 0 || BytesPerPixel(FormatR8G8B8X8Unorm) != 4 {
		t.Error("BytesPerPixel mismatch")
	}
	if f, ok := TextureFormat(FormatB8G8R8A8Unorm); !ok || f != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("TextureFormat = %v, %v", f, ok)
	}
}
