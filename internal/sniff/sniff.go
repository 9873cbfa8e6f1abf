// Package sniff classifies upload content by magic bytes.
package sniff

import "bytes"

// signature is one magic-byte pattern at a fixed offset within the stream.
type signature struct {
	magic []byte
	off   int
	ext   string
}

// signatures is tested in order, so order encodes priority: more specific
// patterns come before broader ones (the ftyp brands before the bare "moov"
// atom, for example).
var signatures = []signature{
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, 0, "png"},
	{[]byte{0xFF, 0xD8, 0xFF}, 0, "jpg"},
	{[]byte{0x00, 0x00, 0x00, 0x0C, 0x4A, 0x58, 0x4C, 0x20, 0x0D, 0x0A, 0x87, 0x0A}, 0, "jxl"},
	{[]byte("GIF87a"), 0, "gif"},
	{[]byte("GIF89a"), 0, "gif"},
	{[]byte{0x1A, 0x45, 0xDF, 0xA3}, 0, "webm"},
	{[]byte("ftypMSNV"), 4, "mp4"},
	{[]byte("ftypisom"), 4, "mp4"},
	{[]byte("WEBP"), 8, "webp"},
	{[]byte("ftypavif"), 4, "avif"},
	{[]byte("ftypheic"), 4, "heic"},
	{[]byte("ftypqt"), 4, "mov"},
	{[]byte("moov"), 4, "mov"},
}

// BytesNeeded is the minimum prefix length required to test every signature.
var BytesNeeded = func() int {
	max := 0
	for _, s := range signatures {
		if n := s.off + len(s.magic); n > max {
			max = n
		}
	}
	return max
}()

// DetectExt returns the file extension matching the given content prefix.
// A prefix shorter than BytesNeeded is never classified: callers hand in the
// first read from the transport, and a transport that cannot produce even
// that much in one read is not worth buffering for.
func DetectExt(b []byte) (string, bool) {
	if len(b) < BytesNeeded {
		return "", false
	}
	for _, s := range signatures {
		if bytes.HasPrefix(b[s.off:], s.magic) {
			return s.ext, true
		}
	}
	return "", false
}
