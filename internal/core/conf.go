// Package core implements the on-disk format of the tree: entry and node
// codecs, the metadata page, and the free-list page. Every multi-byte
// integer on disk is little-endian.
package core

import "errors"

// Byte widths of the fixed on-disk fields.
const (
	// NodeTypeBytes stores the node type tag in the page header.
	NodeTypeBytes = 1
	// UsedPageLengthBytes stores the used length of a page in its header.
	UsedPageLengthBytes = 3
	// PageReferenceBytes stores a reference to a page. Can address 16 TB
	// of data with 4 KB pages.
	PageReferenceBytes = 4
	// UsedKeyLengthBytes and UsedValueLengthBytes limit keys and values
	// to 64 KB each.
	UsedKeyLengthBytes   = 2
	UsedValueLengthBytes = 2
	// FrameTypeBytes stores the type of a WAL frame.
	FrameTypeBytes = 1
	// OthersBytes stores general purpose integers such as file metadata.
	OthersBytes = 4
)

// NodeHeaderBytes is the size of the full node page header:
// type, used length and next page.
const NodeHeaderBytes = NodeTypeBytes + UsedPageLengthBytes + PageReferenceBytes

// Condition errors reported by the codec layer.
var (
	// ErrKeyNotFound reports a key absent from a node.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyTooLarge reports a key whose serialized form exceeds the
	// configured key size.
	ErrKeyTooLarge = errors.New("key exceeds maximum key size")
	// ErrValueTooLarge reports a value that does not fit inline and has
	// no overflow page.
	ErrValueTooLarge = errors.New("value exceeds maximum value size")
	// ErrCorruptPage reports a page that cannot be decoded.
	ErrCorruptPage = errors.New("corrupt page")
)

// Serializer converts logical keys to and from their fixed-width on-disk
// form and defines the ordering the tree sorts by. Implementations must be
// deterministic codecs; the tree never compares raw key bytes.
type Serializer interface {
	// Serialize encodes key into at most maxLen bytes.
	Serialize(key any, maxLen int) ([]byte, error)
	// Deserialize decodes a key previously produced by Serialize.
	Deserialize(data []byte) (any, error)
	// Compare orders two logical keys: negative, zero or positive when
	// a is less than, equal to or greater than b.
	Compare(a, b any) int
}

// TreeConf carries the immutable geometry of an open tree. It is persisted
// on page 0 and adopted from there on reopen.
type TreeConf struct {
	PageSize   int // size of a page in bytes
	Order      int // branching factor
	KeySize    int // maximum serialized key size in bytes
	ValueSize  int // maximum inline value size in bytes
	Serializer Serializer
}

// RecordBytes returns the fixed length of a serialized Record.
func (c *TreeConf) RecordBytes() int {
	return UsedKeyLengthBytes + c.KeySize +
		UsedValueLengthBytes + c.ValueSize +
		PageReferenceBytes
}

// ReferenceBytes returns the fixed length of a serialized Reference.
func (c *TreeConf) ReferenceBytes() int {
	return 2*PageReferenceBytes + UsedKeyLengthBytes + c.KeySize
}

// Validate checks that the sizes are positive, the order is at least 3, a
// serializer is set, and a page can hold both a full record node (order-1
// records) and a full reference node (order references).
func (c *TreeConf) Validate() error {
	if c.PageSize <= 0 || c.Order < 3 || c.KeySize <= 0 || c.ValueSize <= 0 {
		return errors.New("invalid tree configuration")
	}
	if c.Serializer == nil {
		return errors.New("tree configuration needs a serializer")
	}
	needed := NodeHeaderBytes + (c.Order-1)*c.RecordBytes()
	if refs := NodeHeaderBytes + c.Order*c.ReferenceBytes(); refs > needed {
		needed = refs
	}
	if needed > c.PageSize {
		return errors.New("page size too small for order and key/value sizes")
	}
	return nil
}
