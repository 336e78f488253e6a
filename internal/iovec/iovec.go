// Package iovec copies between scattered guest memory segments and
// linear buffers.
package iovec

// Len returns the total length of vecs.
func Len[V ~[]byte](vecs []V) uint64 {
	var n uint64
	for _, v := range vecs {
		n += uint64(len(v))
	}
	return n
}

// ReadAt copies from the concatenation of vecs, starting at off, into
// dst. It returns the number of bytes copied, which is short when vecs
// end first.
func ReadAt[V ~[]byte](vecs []V, off uint64, dst []byte) int {
	n := 0
	for _, v := range vecs {
		if len(dst) == n {
			break
		}
		if off >= uint64(len(v)) {
			off -= uint64(len(v))
			continue
		}
		n += copy(dst[n:], v[off:])
		off = 0
	}
	return n
}

// WriteAt copies src into the concatenation of vecs starting at off and
// returns the number of bytes copied.
func WriteAt[V ~[]byte](vecs []V, off uint64, src []byte) int {
	n := 0
	for _, v := range vecs {
		if len(src) == n {
			break
		}
		if off >= uint64(len(v)) {
			off -= uint64(len(v))
			continue
		}
		n += copy(v[off:], src[n:])
		off = 0
	}
	return n
}
