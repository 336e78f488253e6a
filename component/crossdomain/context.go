//go:build unix

package crossdomain

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/gogpu/rutabaga"
	"github.com/gogpu/rutabaga/handle"
)

type context struct {
	rutabaga.BaseContext

	comp     *Component
	id       uint32
	fh       rutabaga.FenceHandler
	conn     *net.UnixConn
	attached map[uint32]*rutabaga.Resource
}

func (x *context) ComponentType() rutabaga.ComponentType { return rutabaga.CrossDomain }

// SubmitCmd executes one cross-domain command.
func (x *context) SubmitCmd(commands []byte) error {
	var hdr header
	if _, err := binary.Decode(commands, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: short cross-domain header", rutabaga.ErrSpecViolation)
	}
	if int(hdr.CmdSize) > len(commands) {
		return fmt.Errorf("%w: command size %d exceeds %d", rutabaga.ErrSpecViolation, hdr.CmdSize, len(commands))
	}
	commands = commands[:hdr.CmdSize]

	switch hdr.Cmd {
	case cmdInit:
		return x.init(commands)
	case cmdSend:
		return x.send(commands)
	case cmdPoll:
		return nil
	case cmdGetImageRequirements, cmdReceive, cmdRead, cmdWrite:
		return fmt.Errorf("%w: cross-domain command %d", rutabaga.ErrUnsupported, hdr.Cmd)
	default:
		return fmt.Errorf("%w: unknown cross-domain command %d", rutabaga.ErrSpecViolation, hdr.Cmd)
	}
}

func (x *context) init(commands []byte) error {
	var cmd initCmd
	if _, err := binary.Decode(commands, binary.LittleEndian, &cmd); err != nil {
		return fmt.Errorf("%w: short init command", rutabaga.ErrSpecViolation)
	}
	if x.conn != nil {
		return fmt.Errorf("%w: context %d already initialized", rutabaga.ErrSpecViolation, x.id)
	}
	ch, ok := x.comp.channel(cmd.ChannelType)
	if !ok {
		return fmt.Errorf("%w: channel type %d", rutabaga.ErrNotFound, cmd.ChannelType)
	}
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: ch.BasePath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("crossdomain: connect %s: %w", ch.BasePath, err)
	}
	x.conn = conn
	rutabaga.Logger().Debug("crossdomain: channel connected", "ctx", x.id, "path", ch.BasePath)
	return nil
}

func (x *context) send(commands []byte) error {
	var cmd sendCmd
	n, err := binary.Decode(commands, binary.LittleEndian, &cmd)
	if err != nil {
		return fmt.Errorf("%w: short send command", rutabaga.ErrSpecViolation)
	}
	if x.conn == nil {
		return fmt.Errorf("%w: context %d not initialized", rutabaga.ErrSpecViolation, x.id)
	}
	if cmd.NumIdentifiers > maxIdentifiers {
		return fmt.Errorf("%w: %d identifiers", rutabaga.ErrSpecViolation, cmd.NumIdentifiers)
	}
	data := commands[n:]
	if uint64(cmd.OpaqueDataSize) > uint64(len(data)) {
		return fmt.Errorf("%w: opaque data size %d exceeds %d", rutabaga.ErrSpecViolation, cmd.OpaqueDataSize, len(data))
	}
	data = data[:cmd.OpaqueDataSize]

	fds := make([]int, 0, cmd.NumIdentifiers)
	for i := range cmd.NumIdentifiers {
		if cmd.IdentifierTypes[i] != idTypeVirtgpuBlob {
			return fmt.Errorf("%w: identifier type %d", rutabaga.ErrUnsupported, cmd.IdentifierTypes[i])
		}
		res, ok := x.attached[cmd.Identifiers[i]]
		if !ok {
			return fmt.Errorf("%w: %d not attached", rutabaga.ErrInvalidResourceID, cmd.Identifiers[i])
		}
		if res.Handle == nil || res.Handle.Handle() == nil {
			return fmt.Errorf("%w: resource %d", rutabaga.ErrInvalidHandle, res.ResourceID)
		}
		fds = append(fds, res.Handle.Handle().FD())
	}

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	if _, _, err := x.conn.WriteMsgUnix(data, oob, nil); err != nil {
		return fmt.Errorf("crossdomain: send: %w", err)
	}
	return nil
}

// CreateBlob allocates shared memory for a host blob, or imports h.
func (x *context) CreateBlob(resourceID uint32, args rutabaga.ResourceCreateBlob, h *handle.Handle) (*rutabaga.Resource, error) {
	if args.BlobMem != rutabaga.BlobMemHost3D {
		return nil, fmt.Errorf("%w: blob mem %d on cross-domain context", rutabaga.ErrUnsupported, args.BlobMem)
	}
	if _, ok := x.comp.blobs[resourceID]; ok {
		return nil, fmt.Errorf("%w: %d", rutabaga.ErrResourceExists, resourceID)
	}
	if h == nil {
		var err error
		h, err = handle.NewShm(fmt.Sprintf("crossdomain-blob-%d", resourceID), args.Size)
		if err != nil {
			return nil, fmt.Errorf("crossdomain: %w", err)
		}
	} else if !h.Type().IsMemory() {
		return nil, fmt.Errorf("%w: cannot import %s as memory", rutabaga.ErrInvalidHandle, h.Type())
	}

	b := &blob{}
	if args.BlobFlags&rutabaga.BlobFlagMappable != 0 {
		data, err := h.Map(args.Size)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("crossdomain: map blob %d: %w", resourceID, err)
		}
		b.mapping = data
	}
	x.comp.blobs[resourceID] = b

	mapInfo := rutabaga.MapCacheCached
	return &rutabaga.Resource{
		ResourceID: resourceID,
		Handle:     handle.NewRef(h),
		Blob:       true,
		BlobMem:    args.BlobMem,
		BlobFlags:  args.BlobFlags,
		MapInfo:    &mapInfo,
		Size:       args.Size,
	}, nil
}

func (x *context) Attach(res *rutabaga.Resource) {
	x.attached[res.ResourceID] = res
}

func (x *context) Detach(res *rutabaga.Resource) {
	delete(x.attached, res.ResourceID)
}

// CreateFence signals ring fences immediately.
func (x *context) CreateFence(f rutabaga.Fence) error {
	x.fh(f)
	return nil
}

// Close disconnects the channel.
func (x *context) Close() error {
	if x.conn == nil {
		return nil
	}
	err := x.conn.Close()
	x.conn = nil
	return err
}
