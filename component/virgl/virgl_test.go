//go:build linux && !nogpu

package virgl_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/rutabaga"
	_ "github.com/gogpu/rutabaga/component/virgl"
)

func build(t *testing.T, flags rutabaga.VirglFlags, fh rutabaga.FenceHandler) *rutabaga.Rutabaga {
	t.Helper()
	r, err := rutabaga.Build(rutabaga.Config{
		DefaultComponent: rutabaga.VirglRenderer,
		Virgl:            flags,
		GPU:              noop.API{},
	}, fh)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCapsets(t *testing.T) {
	r := build(t, rutabaga.VirglFlags{UseVenus: true}, nil)

	if n := r.NumCapsets(); n != 4 {
		t.Fatalf("NumCapsets = %d, want 4", n)
	}
	tests := []struct {
		index       uint32
		wantID      uint32
		wantVersion uint32
	}{
		{0, rutabaga.CapsetVirgl, 1},
		{1, rutabaga.CapsetVirgl2, 2},
		{2, rutabaga.CapsetVenus, 1},
		{3, rutabaga.CapsetDrm, 0},
	}
	for _, tt := range tests {
		id, version, size, err := r.CapsetInfo(tt.index)
		if err != nil {
			t.Fatalf("CapsetInfo(%d): %v", tt.index, err)
		}
		if id != tt.wantID || version != tt.wantVersion {
			t.Errorf("CapsetInfo(%d) = id %d version %d, want %d %d", tt.index, id, version, tt.wantID, tt.wantVersion)
		}
		if (version == 0) != (size == 0) {
			t.Errorf("CapsetInfo(%d) size %d for version %d", tt.index, size, version)
		}
	}

	blob, err := r.Capset(rutabaga.CapsetVirgl2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) < 8 || binary.LittleEndian.Uint32(blob[4:]) != rutabaga.CapsetVirgl2 {
		t.Errorf("virgl2 capset = %x", blob)
	}
	if blob, _ := r.Capset(rutabaga.CapsetDrm, 1); blob != nil {
		t.Errorf("disabled drm capset = %x", blob)
	}
}

func TestTextureUpload(t *testing.T) {
	r := build(t, rutabaga.VirglFlags{}, nil)

	err := r.ResourceCreate3D(1, rutabaga.ResourceCreate3D{
		Target: 2,
		Format: rutabaga.FormatB8G8R8A8Unorm,
		Width:  16,
		Height: 16,
		Depth:  1,
	})
	if err != nil {
		t.Fatalf("ResourceCreate3D: %v", err)
	}
	info, err := r.Query(1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if info.Width != 16 || info.Strides[0] != 64 || info.DrmFourcc != 0x34325241 {
		t.Errorf("Query = %+v", info)
	}

	if err := r.AttachBacking(1, []rutabaga.Iovec{make([]byte, 16*16*4)}); err != nil {
		t.Fatal(err)
	}
	if err := r.TransferWrite(1, 1, rutabaga.Transfer3D{W: 16, H: 16, D: 1, Stride: 64}); err != nil {
		t.Fatalf("TransferWrite: %v", err)
	}
	if err := r.TransferWrite(1, 1, rutabaga.Transfer3D{W: 16, H: 16, D: 1, Stride: 128}); !errors.Is(err, rutabaga.ErrInvalidIovec) {
		t.Errorf("short backing = %v", err)
	}
	if err := r.TransferRead(1, 1, rutabaga.Transfer3D{W: 1, H: 1, D: 1}, make([]byte, 4)); !errors.Is(err, rutabaga.ErrUnsupported) {
		t.Errorf("texture readback = %v", err)
	}

	err = r.ResourceCreate3D(2, rutabaga.ResourceCreate3D{Target: 2, Format: 999, Width: 1, Height: 1})
	if !errors.Is(err, rutabaga.ErrUnsupported) {
		t.Errorf("unknown format = %v", err)
	}
}

func TestBufferResource(t *testing.T) {
	r := build(t, rutabaga.VirglFlags{}, nil)
	if err := r.ResourceCreate3D(1, rutabaga.ResourceCreate3D{Target: 0, Width: 256, Height: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Query(1); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("Query on buffer = %v", err)
	}
	if err := r.AttachBacking(1, []rutabaga.Iovec{make([]byte, 256)}); err != nil {
		t.Fatal(err)
	}
	if err := r.TransferWrite(0, 1, rutabaga.Transfer3D{X: 16, W: 64, H: 1, D: 1}); err != nil {
		t.Errorf("buffer write: %v", err)
	}
	if err := r.TransferRead(0, 1, rutabaga.Transfer3D{W: 64, H: 1, D: 1}, make([]byte, 64)); err != nil {
		t.Errorf("buffer read: %v", err)
	}
	if err := r.UnrefResource(1); err != nil {
		t.Fatal(err)
	}
}

func TestTransferOutsideResource(t *testing.T) {
	r := build(t, rutabaga.VirglFlags{}, nil)
	err := r.ResourceCreate3D(1, rutabaga.ResourceCreate3D{
		Target:    2,
		Format:    rutabaga.FormatB8G8R8A8Unorm,
		Width:     4,
		Height:    4,
		Depth:     1,
		LastLevel: 1,
	})
	if err != nil {
		t.Fatalf("ResourceCreate3D: %v", err)
	}
	if err := r.ResourceCreate3D(2, rutabaga.ResourceCreate3D{Target: 0, Width: 64, Height: 1}); err != nil {
		t.Fatalf("ResourceCreate3D buffer: %v", err)
	}
	for _, id := range []uint32{1, 2} {
		if err := r.AttachBacking(id, []rutabaga.Iovec{make([]byte, 64)}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		id   uint32
		box  rutabaga.Transfer3D
	}{
		{"origin outside", 1, rutabaga.Transfer2D(100, 100, 4, 1, 0)},
		{"width overflows", 1, rutabaga.Transfer2D(1, 0, 4, 1, 0)},
		{"height overflows", 1, rutabaga.Transfer2D(0, 3, 1, 2, 0)},
		{"huge width", 1, rutabaga.Transfer2D(0, 0, 1<<30, 1, 0)},
		{"extra layer", 1, rutabaga.Transfer3D{W: 1, H: 1, D: 2}},
		{"missing level", 1, rutabaga.Transfer3D{W: 1, H: 1, D: 1, Level: 2}},
		{"level extent", 1, rutabaga.Transfer3D{W: 3, H: 1, D: 1, Level: 1}},
		{"buffer range", 2, rutabaga.Transfer3D{X: 60, W: 8, H: 1, D: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.TransferWrite(0, tt.id, tt.box); !errors.Is(err, rutabaga.ErrSpecViolation) {
				t.Errorf("TransferWrite = %v, want ErrSpecViolation", err)
			}
		})
	}

	if err := r.TransferWrite(0, 1, rutabaga.Transfer3D{W: 2, H: 2, D: 1, Level: 1}); err != nil {
		t.Errorf("level 1 write: %v", err)
	}
	if err := r.TransferRead(0, 2, rutabaga.Transfer3D{X: 60, W: 8, H: 1, D: 1}, make([]byte, 8)); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("buffer read outside = %v", err)
	}
}

func TestHostBlob(t *testing.T) {
	r := build(t, rutabaga.VirglFlags{}, nil)
	args := rutabaga.ResourceCreateBlob{
		BlobMem:   rutabaga.BlobMemHost3D,
		BlobFlags: rutabaga.BlobFlagMappable | rutabaga.BlobFlagShareable,
		Size:      4096,
	}
	if err := r.ResourceCreateBlob(0, 1, args, nil, nil); err != nil {
		t.Fatalf("ResourceCreateBlob: %v", err)
	}
	if mi, err := r.MapInfo(1); err != nil || mi != rutabaga.MapCacheCached {
		t.Errorf("MapInfo = %d, %v", mi, err)
	}

	m, err := r.Map(1)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(m.Data) != 4096 {
		t.Fatalf("mapping is %d bytes", len(m.Data))
	}
	m.Data[0] = 0x5a

	h, err := r.ExportBlob(1)
	if err != nil {
		t.Fatalf("ExportBlob: %v", err)
	}
	defer h.Close()
	other, err := h.Map(4096)
	if err != nil {
		t.Fatalf("map exported handle: %v", err)
	}
	if other[0] != 0x5a {
		t.Error("exported handle does not alias the blob")
	}

	if err := r.Unmap(1); err != nil {
		t.Errorf("Unmap: %v", err)
	}
	if err := r.Unmap(1); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("double Unmap = %v", err)
	}
	if err := r.UnrefResource(1); err != nil {
		t.Fatal(err)
	}
}

func TestGuestBlob(t *testing.T) {
	r := build(t, rutabaga.VirglFlags{}, nil)
	args := rutabaga.ResourceCreateBlob{BlobMem: rutabaga.BlobMemGuest, Size: 128}
	if err := r.ResourceCreateBlob(0, 1, args, []rutabaga.Iovec{make([]byte, 64)}, nil); !errors.Is(err, rutabaga.ErrInvalidIovec) {
		t.Errorf("short guest blob = %v", err)
	}
	if err := r.ResourceCreateBlob(0, 1, args, []rutabaga.Iovec{make([]byte, 64), make([]byte, 64)}, nil); err != nil {
		t.Fatalf("guest blob: %v", err)
	}
	if _, err := r.ExportBlob(1); !errors.Is(err, rutabaga.ErrInvalidHandle) {
		t.Errorf("export guest blob = %v", err)
	}
	if _, err := r.Map(1); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("map guest blob = %v", err)
	}
	args.BlobMem = 9
	if err := r.ResourceCreateBlob(0, 2, args, nil, nil); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("bad blob mem = %v", err)
	}
}

func TestFences(t *testing.T) {
	var done []uint64
	r := build(t, rutabaga.VirglFlags{}, func(f rutabaga.Fence) { done = append(done, f.FenceID) })

	poll := r.PollDescriptor()
	if poll == nil {
		t.Fatal("no poll descriptor")
	}
	defer poll.Close()

	for id := uint64(1); id <= 3; id++ {
		if err := r.CreateFence(rutabaga.Fence{Flags: rutabaga.FlagFence, FenceID: id}); err != nil {
			t.Fatalf("CreateFence: %v", err)
		}
	}
	if n, err := poll.Drain(); err != nil || n == 0 {
		t.Fatalf("poll descriptor not signalled: %d, %v", n, err)
	}
	r.EventPoll()
	if len(done) != 3 || done[0] != 1 || done[2] != 3 {
		t.Errorf("completed fences = %v", done)
	}
}

func TestContext(t *testing.T) {
	var ring []rutabaga.Fence
	r := build(t, rutabaga.VirglFlags{}, func(f rutabaga.Fence) {
		if f.PerRing() {
			ring = append(ring, f)
		}
	})

	if err := r.CreateContext(1, rutabaga.CapsetVirgl2, "test"); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if err := r.CreateContext(2, rutabaga.CapsetVenus, ""); !errors.Is(err, rutabaga.ErrUnsupported) {
		t.Errorf("venus context without flag = %v", err)
	}

	const wgsl = "@compute @workgroup_size(1)\nfn main() {}\n"
	if err := r.SubmitCommand(1, shaderPacket(7, wgsl)); err != nil {
		t.Fatalf("submit shader: %v", err)
	}
	if err := r.SubmitCommand(1, shaderPacket(7, wgsl)); !errors.Is(err, rutabaga.ErrAlreadyExists) {
		t.Errorf("duplicate shader = %v", err)
	}
	destroy := make([]byte, 8)
	binary.LittleEndian.PutUint32(destroy, 3|4<<8|1<<16)
	binary.LittleEndian.PutUint32(destroy[4:], 7)
	if err := r.SubmitCommand(1, destroy); err != nil {
		t.Errorf("destroy shader: %v", err)
	}
	if err := r.SubmitCommand(1, []byte{1, 2, 3}); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("unaligned stream = %v", err)
	}
	truncated := make([]byte, 4)
	binary.LittleEndian.PutUint32(truncated, 1|4<<8|10<<16)
	if err := r.SubmitCommand(1, truncated); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("truncated command = %v", err)
	}

	fence := rutabaga.Fence{Flags: rutabaga.FlagFence | rutabaga.FlagInfoRingIdx, FenceID: 9, CtxID: 1, RingIdx: 1}
	if err := r.CreateFence(fence); err != nil {
		t.Fatalf("ring fence: %v", err)
	}
	r.EventPoll()
	if len(ring) != 1 || ring[0].RingIdx != 1 {
		t.Errorf("ring fences = %v", ring)
	}
	if err := r.DestroyContext(1); err != nil {
		t.Fatal(err)
	}
}

func shaderPacket(id uint32, source string) []byte {
	payload := make([]byte, 4, 4+len(source)+4)
	binary.LittleEndian.PutUint32(payload, id)
	payload = append(payload, source...)
	for len(payload)%4 != 0 {
		payload = append(payload, 0)
	}
	out := binary.LittleEndian.AppendUint32(nil, 1|4<<8|uint32(len(payload)/4)<<16)
	return append(out, payload...)
}
