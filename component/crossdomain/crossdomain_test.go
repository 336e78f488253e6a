//go:build linux

package crossdomain_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/gogpu/rutabaga"
	_ "github.com/gogpu/rutabaga/component/crossdomain"
)

const (
	cmdInit = 1
	cmdPoll = 3
	cmdSend = 4
	cmdRead = 6
)

type header struct {
	Cmd         uint8
	FenceCtxIdx uint8
	CmdSize     uint16
	Pad         uint32
}

type initCmd struct {
	Hdr           header
	QueryRingID   uint32
	ChannelRingID uint32
	ChannelType   uint32
}

type sendCmd struct {
	Hdr             header
	NumIdentifiers  uint32
	Pad             uint32
	Identifiers     [4]uint32
	IdentifierTypes [4]uint32
	IdentifierSizes [4]uint32
	OpaqueDataSize  uint32
	Pad2            uint32
}

func encode(t *testing.T, v any, tail []byte) []byte {
	t.Helper()
	out, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out = append(out, tail...)
	binary.LittleEndian.PutUint16(out[2:], uint16(len(out)))
	return out
}

type received struct {
	data []byte
	fds  []int
	err  error
}

// listen serves one connection and reports the first message on it.
func listen(t *testing.T) (string, <-chan received) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wayland-0")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	ch := make(chan received, 1)
	go func() {
		conn, err := l.AcceptUnix()
		if err != nil {
			ch <- received{err: err}
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		oob := make([]byte, unix.CmsgSpace(4*4))
		n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
		if err != nil {
			ch <- received{err: err}
			return
		}
		msg := received{data: buf[:n]}
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			ch <- received{err: err}
			return
		}
		for _, scm := range scms {
			fds, err := unix.ParseUnixRights(&scm)
			if err != nil {
				ch <- received{err: err}
				return
			}
			msg.fds = append(msg.fds, fds...)
		}
		ch <- msg
	}()
	return path, ch
}

func newCrossDomain(t *testing.T, channels []rutabaga.Channel, fh rutabaga.FenceHandler) *rutabaga.Rutabaga {
	t.Helper()
	r, err := rutabaga.Build(rutabaga.Config{
		DefaultComponent: rutabaga.CrossDomain,
		Channels:         channels,
	}, fh)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCapsetAdvertisesChannels(t *testing.T) {
	r := newCrossDomain(t, []rutabaga.Channel{
		{BasePath: "/run/wayland-0", ChannelType: rutabaga.ChannelTypeWayland},
	}, nil)

	if n := r.NumCapsets(); n != 1 {
		t.Fatalf("NumCapsets = %d, want 1", n)
	}
	id, version, size, err := r.CapsetInfo(0)
	if err != nil {
		t.Fatalf("CapsetInfo: %v", err)
	}
	if id != rutabaga.CapsetCrossDomain || version != 1 || size != 16 {
		t.Fatalf("CapsetInfo = (%d, %d, %d), want (%d, 1, 16)", id, version, size, rutabaga.CapsetCrossDomain)
	}
	blob, err := r.Capset(rutabaga.CapsetCrossDomain, version)
	if err != nil {
		t.Fatalf("Capset: %v", err)
	}
	if got := binary.LittleEndian.Uint32(blob[4:]); got != 1<<rutabaga.ChannelTypeWayland {
		t.Errorf("supported channels = %#x, want %#x", got, 1<<rutabaga.ChannelTypeWayland)
	}
}

func TestSendPassesBlobDescriptors(t *testing.T) {
	path, msgs := listen(t)
	var fences []rutabaga.Fence
	r := newCrossDomain(t, []rutabaga.Channel{
		{BasePath: path, ChannelType: rutabaga.ChannelTypeWayland},
	}, func(f rutabaga.Fence) { fences = append(fences, f) })

	if err := r.CreateContext(1, rutabaga.CapsetCrossDomain, "wayland"); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if err := r.SubmitCommand(1, encode(t, initCmd{
		Hdr:         header{Cmd: cmdInit},
		ChannelType: rutabaga.ChannelTypeWayland,
	}, nil)); err != nil {
		t.Fatalf("init: %v", err)
	}

	args := rutabaga.ResourceCreateBlob{
		BlobMem:   rutabaga.BlobMemHost3D,
		BlobFlags: rutabaga.BlobFlagMappable | rutabaga.BlobFlagShareable,
		Size:      4096,
	}
	if err := r.ResourceCreateBlob(1, 10, args, nil, nil); err != nil {
		t.Fatalf("ResourceCreateBlob: %v", err)
	}
	if info, err := r.MapInfo(10); err != nil || info != rutabaga.MapCacheCached {
		t.Fatalf("MapInfo = %d, %v", info, err)
	}
	m, err := r.Map(10)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	copy(m.Data, "frame")
	if err := r.ContextAttachResource(1, 10); err != nil {
		t.Fatalf("ContextAttachResource: %v", err)
	}

	send := sendCmd{Hdr: header{Cmd: cmdSend}, NumIdentifiers: 1, OpaqueDataSize: 5}
	send.Identifiers[0] = 10
	send.IdentifierTypes[0] = 1
	if err := r.SubmitCommand(1, encode(t, send, []byte("hello"))); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := <-msgs
	if msg.err != nil {
		t.Fatalf("server: %v", msg.err)
	}
	if !bytes.Equal(msg.data, []byte("hello")) {
		t.Errorf("data = %q, want %q", msg.data, "hello")
	}
	if len(msg.fds) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(msg.fds))
	}
	defer unix.Close(msg.fds[0])

	peer, err := unix.Mmap(msg.fds[0], 0, 4096, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("mmap received descriptor: %v", err)
	}
	defer unix.Munmap(peer)
	if !bytes.HasPrefix(peer, []byte("frame")) {
		t.Errorf("received memory does not alias the blob")
	}

	if err := r.CreateFence(rutabaga.Fence{Flags: rutabaga.FlagFence | rutabaga.FlagInfoRingIdx, CtxID: 1, RingIdx: 2, FenceID: 7}); err != nil {
		t.Fatalf("CreateFence: %v", err)
	}
	if len(fences) != 1 || fences[0].FenceID != 7 {
		t.Errorf("fences = %+v, want fence 7", fences)
	}
}

func TestSubmitErrors(t *testing.T) {
	r := newCrossDomain(t, []rutabaga.Channel{
		{BasePath: filepath.Join(t.TempDir(), "missing"), ChannelType: rutabaga.ChannelTypeWayland},
	}, nil)
	if err := r.CreateContext(1, rutabaga.CapsetCrossDomain, ""); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	send := sendCmd{Hdr: header{Cmd: cmdSend}}
	tests := []struct {
		name string
		cmd  []byte
		want error
	}{
		{"short header", []byte{1, 0}, rutabaga.ErrSpecViolation},
		{"unknown command", encode(t, header{Cmd: 0x42}, nil), rutabaga.ErrSpecViolation},
		{"read unsupported", encode(t, header{Cmd: cmdRead}, nil), rutabaga.ErrUnsupported},
		{"send before init", encode(t, send, nil), rutabaga.ErrSpecViolation},
		{"unconfigured channel", encode(t, initCmd{Hdr: header{Cmd: cmdInit}, ChannelType: rutabaga.ChannelTypeCamera}, nil), rutabaga.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.SubmitCommand(1, tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("SubmitCommand = %v, want %v", err, tt.want)
			}
		})
	}

	if err := r.SubmitCommand(1, encode(t, header{Cmd: cmdPoll}, nil)); err != nil {
		t.Errorf("poll: %v", err)
	}
	if err := r.SubmitCommand(1, encode(t, initCmd{Hdr: header{Cmd: cmdInit}, ChannelType: rutabaga.ChannelTypeWayland}, nil)); err == nil {
		t.Error("init against a missing socket succeeded")
	}
}

func TestHostBlobNeedsContext(t *testing.T) {
	r := newCrossDomain(t, nil, nil)
	args := rutabaga.ResourceCreateBlob{BlobMem: rutabaga.BlobMemHost3D, Size: 4096}
	if err := r.ResourceCreateBlob(0, 1, args, nil, nil); !errors.Is(err, rutabaga.ErrUnsupported) {
		t.Fatalf("ResourceCreateBlob = %v, want ErrUnsupported", err)
	}

	guest := rutabaga.ResourceCreateBlob{BlobMem: rutabaga.BlobMemGuest, Size: 64}
	if err := r.ResourceCreateBlob(0, 2, guest, []rutabaga.Iovec{make([]byte, 64)}, nil); err != nil {
		t.Fatalf("guest blob: %v", err)
	}
	if _, err := r.Map(2); !errors.Is(err, rutabaga.ErrSpecViolation) {
		t.Errorf("Map guest blob = %v, want ErrSpecViolation", err)
	}
}
