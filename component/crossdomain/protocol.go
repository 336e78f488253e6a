package crossdomain

// Protocol version advertised in the capset.
const protocolVersion = 1

// Commands.
const (
	cmdInit                 = 1
	cmdGetImageRequirements = 2
	cmdPoll                 = 3
	cmdSend                 = 4
	cmdReceive              = 5
	cmdRead                 = 6
	cmdWrite                = 7
)

// Identifier types in send/receive.
const (
	idTypeVirtgpuBlob = 1
)

const maxIdentifiers = 4

// header starts every command.
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

// sendCmd is followed by OpaqueDataSize bytes of payload.
type sendCmd struct {
	Hdr             header
	NumIdentifiers  uint32
	Pad             uint32
	Identifiers     [maxIdentifiers]uint32
	IdentifierTypes [maxIdentifiers]uint32
	IdentifierSizes [maxIdentifiers]uint32
	OpaqueDataSize  uint32
	Pad2            uint32
}

// capabilities is the capset blob.
type capabilities struct {
	Version                   uint32
	SupportedChannels         uint32
	SupportsDmabuf            uint32
	SupportsExternalGPUMemory uint32
}
