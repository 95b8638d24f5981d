package persistence

import "unsafe"

// The arena starts 64 bytes into the file, so float32 alignment holds for
// both heap buffers and page-aligned mappings. Reinterpreting the raw bytes
// assumes a little-endian host, which matches the on-disk layout.

func asFloat32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func asInt8(b []byte) []int8 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), len(b))
}
