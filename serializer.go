package bptree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scigolib/bptree/internal/core"
)

// Serializer converts logical keys to and from their fixed-width on-disk
// form and defines the ordering the tree sorts by. The tree never compares
// raw key bytes, so encodings only need to be faithful codecs, not
// order-preserving.
type Serializer = core.Serializer

// IntSerializer stores non-negative integer keys as fixed-width
// little-endian unsigned values occupying the full key size.
type IntSerializer struct{}

// Serialize implements Serializer.
func (IntSerializer) Serialize(key any, maxLen int) ([]byte, error) {
	v, err := intKey(key)
	if err != nil {
		return nil, err
	}
	if maxLen < 8 && v >= uint64(1)<<(8*maxLen) {
		return nil, core.ErrKeyTooLarge
	}
	data := make([]byte, maxLen)
	for i := 0; i < maxLen && i < 8; i++ {
		data[i] = byte(v >> (8 * i))
	}
	return data, nil
}

// Deserialize implements Serializer.
func (IntSerializer) Deserialize(data []byte) (any, error) {
	var v uint64
	for i := 0; i < len(data) && i < 8; i++ {
		v |= uint64(data[i]) << (8 * i)
	}
	return int(v), nil
}

// Compare implements Serializer.
func (IntSerializer) Compare(a, b any) int {
	av, _ := intKey(a)
	bv, _ := intKey(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	}
	return 0
}

func intKey(key any) (uint64, error) {
	switch k := key.(type) {
	case int:
		if k < 0 {
			return 0, fmt.Errorf("integer keys must not be negative, got %d", k)
		}
		return uint64(k), nil
	case int64:
		if k < 0 {
			return 0, fmt.Errorf("integer keys must not be negative, got %d", k)
		}
		return uint64(k), nil
	case uint64:
		return k, nil
	case uint32:
		return uint64(k), nil
	}
	return 0, fmt.Errorf("unsupported integer key type %T", key)
}

// StrSerializer stores string keys as UTF-8 bytes. Keys longer than the
// configured key size are rejected, never truncated.
type StrSerializer struct{}

// Serialize implements Serializer.
func (StrSerializer) Serialize(key any, maxLen int) ([]byte, error) {
	s, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("unsupported string key type %T", key)
	}
	if len(s) > maxLen {
		return nil, core.ErrKeyTooLarge
	}
	return []byte(s), nil
}

// Deserialize implements Serializer.
func (StrSerializer) Deserialize(data []byte) (any, error) {
	return string(data), nil
}

// Compare implements Serializer.
func (StrSerializer) Compare(a, b any) int {
	return strings.Compare(a.(string), b.(string))
}

// UUIDSerializer stores 128-bit identifier keys as their 16 raw bytes.
type UUIDSerializer struct{}

// Serialize implements Serializer.
func (UUIDSerializer) Serialize(key any, maxLen int) ([]byte, error) {
	u, ok := key.(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("unsupported identifier key type %T", key)
	}
	if maxLen < len(u) {
		return nil, core.ErrKeyTooLarge
	}
	return u[:], nil
}

// Deserialize implements Serializer.
func (UUIDSerializer) Deserialize(data []byte) (any, error) {
	u, err := uuid.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Compare implements Serializer.
func (UUIDSerializer) Compare(a, b any) int {
	au := a.(uuid.UUID)
	bu := b.(uuid.UUID)
	return bytes.Compare(au[:], bu[:])
}

// TimeSerializer stores UTC instants as a little-endian count of
// nanoseconds since the Unix epoch. Instants before the epoch are
// rejected.
type TimeSerializer struct{}

// Serialize implements Serializer.
func (TimeSerializer) Serialize(key any, maxLen int) ([]byte, error) {
	t, ok := key.(time.Time)
	if !ok {
		return nil, fmt.Errorf("unsupported time key type %T", key)
	}
	if maxLen < 8 {
		return nil, core.ErrKeyTooLarge
	}
	nanos := t.UnixNano()
	if nanos < 0 {
		return nil, fmt.Errorf("time keys must not predate the Unix epoch, got %v", t)
	}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(nanos))
	return data, nil
}

// Deserialize implements Serializer.
func (TimeSerializer) Deserialize(data []byte) (any, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("time key has %d bytes, expected 8", len(data))
	}
	nanos := binary.LittleEndian.Uint64(data)
	return time.Unix(0, int64(nanos)).UTC(), nil
}

// Compare implements Serializer.
func (TimeSerializer) Compare(a, b any) int {
	return a.(time.Time).Compare(b.(time.Time))
}
