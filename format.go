package rutabaga

import "github.com/gogpu/gputypes"

// virtio-gpu 2D formats.
const (
	FormatB8G8R8A8Unorm uint32 = 1
	FormatB8G8R8X8Unorm uint32 = 2
	FormatA8R8G8B8Unorm uint32 = 3
	FormatX8R8G8B8Unorm uint32 = 4
	FormatR8G8B8A8Unorm uint32 = 67
	FormatX8B8G8R8Unorm uint32 = 68
	FormatA8B8G8R8Unorm uint32 = 121
	FormatR8G8B8X8Unorm uint32 = 134
)

// pixelLayout gives the byte offsets of each channel in a 4 byte pixel.
// An alpha offset of -1 means the pixel is opaque.
type pixelLayout struct {
	r, g, b, a int
	gpu        gputypes.TextureFormat
}

// Byte order in memory, little endian.
var formats = map[uint32]pixelLayout{
	FormatB8G8R8A8Unorm: {r: 2, g: 1, b: 0, a: 3, gpu: gputypes.TextureFormatBGRA8Unorm},
	FormatB8G8R8X8Unorm: {r: 2, g: 1, b: 0, a: -1, gpu: gputypes.TextureFormatBGRA8Unorm},
	FormatA8R8G8B8Unorm: {r: 1, g: 2, b: 3, a: 0, gpu: gputypes.TextureFormatBGRA8Unorm},
	FormatX8R8G8B8Unorm: {r: 1, g: 2, b: 3, a: -1, gpu: gputypes.TextureFormatBGRA8Unorm},
	FormatR8G8B8A8Unorm: {r: 0, g: 1, b: 2, a: 3, gpu: gputypes.TextureFormatRGBA8Unorm},
	FormatX8B8G8R8Unorm: {r: 3, g: 2, b: 1, a: -1, gpu: gputypes.TextureFormatRGBA8Unorm},
	FormatA8B8G8R8Unorm: {r: 3, g: 2, b: 1, a: 0, gpu: gputypes.TextureFormatRGBA8Unorm},
	FormatR8G8B8X8Unorm: {r: 0, g: 1, b: 2, a: -1, gpu: gputypes.TextureFormatRGBA8Unorm},
}

// BytesPerPixel returns the pixel size of a virtio-gpu 2D format, or 0 if
// the format is unknown.
func BytesPerPixel(format uint32) uint32 {
	if _, ok := formats[format]; ok {
		return 4
	}
	return 0
}

// TextureFormat maps a virtio-gpu format onto a GPU texture format.
func TextureFormat(format uint32) (gputypes.TextureFormat, bool) {
	l, ok := formats[format]
	return l.gpu, ok
}

// ToRGBA converts one pixel in format to straight RGBA bytes.
func ToRGBA(format uint32, px []byte) (r, g, b, a uint8, ok bool) {
	l, ok := formats[format]
	if !ok || len(px) < 4 {
		return 0, 0, 0, 0, false
	}
	a = 0xff
	if l.a >= 0 {
		a = px[l.a]
	}
	return px[l.r], px[l.g], px[l.b], a, true
}
