package common

import (
	"encoding/binary"
	"sync"
)

// ProtectedBool is a boolean protected by RW lock
type ProtectedBool struct {
	m     sync.RWMutex
	value bool
}

// Set sets the value (surprise surprise!)
func (b *ProtectedBool) Set(nvalue bool) {
	b.m.Lock()
	defer b.m.Unlock()
	b.value = nvalue
}

// Get gets the value
func (b *ProtectedBool) Get() bool {
	b.m.RLock()
	defer b.m.RUnlock()
	return b.value
}

// U64ToByte encodes n as 8 big endian bytes.
// Big endian keeps the byte order equal to the numeric order, which the stores rely on for key ranges.
func U64ToByte(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// ByteToU64 decodes the first 8 bytes of b written by U64ToByte.
func ByteToU64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b[:8])
}

// U32ToByte encodes n as 4 big endian bytes.
func U32ToByte(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

// ByteToU32 decodes the first 4 bytes of b written by U32ToByte.
func ByteToU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[:4])
}

// BoolToByte converts a bool to a single byte.
func BoolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ByteToBool converts a byte written by BoolToByte.
func ByteToBool(b byte) bool {
	return b != 0
}
