package core

import (
	"fmt"
	"sort"

	"github.com/scigolib/bptree/internal/utils"
)

// NodeKind is the 1-byte type tag stored at offset 0 of every page.
type NodeKind uint8

// Node type tags.
const (
	// KindLonelyRoot is a root holding records directly, used while the
	// tree consists of a single node.
	KindLonelyRoot NodeKind = 1
	// KindRoot is an internal root holding references.
	KindRoot NodeKind = 2
	// KindInternal is a non-root internal node holding references.
	KindInternal NodeKind = 3
	// KindLeaf holds records and a pointer to the next leaf.
	KindLeaf NodeKind = 4
	// KindFreelist marks a recycled page linked into the free list.
	KindFreelist NodeKind = 5
)

func (k NodeKind) String() string {
	switch k {
	case KindLonelyRoot:
		return "lonely root"
	case KindRoot:
		return "root"
	case KindInternal:
		return "internal"
	case KindLeaf:
		return "leaf"
	case KindFreelist:
		return "freelist"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Node is a page-sized container of sorted entries. The kind decides the
// entry type (records or references) and the occupancy bounds. NextPage is
// meaningful for leaves, where it threads the in-order leaf chain, and for
// freelist nodes, where it links the next free page; zero means none.
type Node struct {
	conf     *TreeConf
	Kind     NodeKind
	Page     uint32
	NextPage uint32
	Entries  []Entry
}

// NewNode creates an empty node of the given kind.
func NewNode(conf *TreeConf, kind NodeKind, page uint32) *Node {
	return &Node{conf: conf, Kind: kind, Page: page}
}

// NodeFromPageData decodes a page into a node, dispatching on the type tag.
func NodeFromPageData(conf *TreeConf, data []byte, page uint32) (*Node, error) {
	if len(data) != conf.PageSize {
		return nil, fmt.Errorf("%w: page %d has %d bytes, expected %d",
			ErrCorruptPage, page, len(data), conf.PageSize)
	}

	kind := NodeKind(data[0])
	switch kind {
	case KindLonelyRoot, KindRoot, KindInternal, KindLeaf, KindFreelist:
	default:
		return nil, fmt.Errorf("%w: page %d has unknown node type %d",
			ErrCorruptPage, page, data[0])
	}

	n := NewNode(conf, kind, page)
	usedLength := int(utils.Uint24(data[NodeTypeBytes : NodeTypeBytes+UsedPageLengthBytes]))
	if usedLength+PageReferenceBytes > conf.PageSize {
		return nil, fmt.Errorf("%w: page %d used length %d exceeds page size %d",
			ErrCorruptPage, page, usedLength, conf.PageSize)
	}
	n.NextPage = utils.Uint32(data[NodeTypeBytes+UsedPageLengthBytes : NodeHeaderBytes])

	if kind == KindFreelist {
		return n, nil
	}

	// The used length covers the 4-byte type+length prefix plus the entry
	// bytes; the next page field is not counted, so entries span
	// [NodeHeaderBytes, usedLength+PageReferenceBytes).
	entryLength := n.entryBytes()
	for offset := NodeHeaderBytes; offset < usedLength+PageReferenceBytes; offset += entryLength {
		entry := n.newEntry()
		if err := entry.Load(conf, data[offset:offset+entryLength]); err != nil {
			return nil, err
		}
		n.Entries = append(n.Entries, entry)
	}
	return n, nil
}

// Dump serializes the node header and entries, zero-padded to the page size.
func (n *Node) Dump() ([]byte, error) {
	data := make([]byte, n.conf.PageSize)

	offset := NodeHeaderBytes
	for _, entry := range n.Entries {
		entryData, err := entry.Dump(n.conf)
		if err != nil {
			return nil, err
		}
		if offset+len(entryData) > n.conf.PageSize {
			return nil, fmt.Errorf("%w: %s node %d overflows its page",
				ErrCorruptPage, n.Kind, n.Page)
		}
		copy(data[offset:], entryData)
		offset += len(entryData)
	}

	usedLength := offset - PageReferenceBytes
	data[0] = byte(n.Kind)
	utils.PutUint24(data[NodeTypeBytes:], uint32(usedLength))
	utils.PutUint32(data[NodeTypeBytes+UsedPageLengthBytes:], n.NextPage)
	return data, nil
}

// HoldsRecords reports whether the node stores records rather than
// references.
func (n *Node) HoldsRecords() bool {
	return n.Kind == KindLonelyRoot || n.Kind == KindLeaf
}

func (n *Node) entryBytes() int {
	if n.HoldsRecords() {
		return n.conf.RecordBytes()
	}
	return n.conf.ReferenceBytes()
}

func (n *Node) newEntry() Entry {
	if n.HoldsRecords() {
		return &Record{}
	}
	return &Reference{}
}

// MinChildren returns the lower occupancy bound of the node kind.
func (n *Node) MinChildren() int {
	switch n.Kind {
	case KindRoot:
		return 2
	case KindInternal:
		return (n.conf.Order + 1) / 2
	case KindLeaf:
		return (n.conf.Order+1)/2 - 1
	}
	return 0
}

// MaxChildren returns the upper occupancy bound of the node kind.
func (n *Node) MaxChildren() int {
	switch n.Kind {
	case KindRoot, KindInternal:
		return n.conf.Order
	case KindLonelyRoot, KindLeaf:
		return n.conf.Order - 1
	}
	return 0
}

// NumChildren counts children: entries for record nodes, entries plus one
// for non-empty reference nodes.
func (n *Node) NumChildren() int {
	if n.HoldsRecords() {
		return len(n.Entries)
	}
	if len(n.Entries) == 0 {
		return 0
	}
	return len(n.Entries) + 1
}

// CanAddEntry reports whether an entry fits without exceeding the maximum.
func (n *Node) CanAddEntry() bool {
	return n.NumChildren() < n.MaxChildren()
}

// CanDeleteEntry reports whether an entry can go without underflowing.
func (n *Node) CanDeleteEntry() bool {
	return n.NumChildren() > n.MinChildren()
}

func (n *Node) compare(a, b any) int {
	return n.conf.Serializer.Compare(a, b)
}

// searchKey returns the index of the first entry whose key is >= key.
func (n *Node) searchKey(key any) int {
	return sort.Search(len(n.Entries), func(i int) bool {
		return n.compare(n.Entries[i].EntryKey(), key) >= 0
	})
}

// InsertEntry inserts the entry in sorted position. For reference nodes the
// adjacent fences are patched so that neighbouring entries keep sharing a
// child page.
func (n *Node) InsertEntry(entry Entry) {
	i := n.searchKey(entry.EntryKey())
	n.Entries = append(n.Entries, nil)
	copy(n.Entries[i+1:], n.Entries[i:])
	n.Entries[i] = entry

	ref, ok := entry.(*Reference)
	if !ok {
		return
	}
	if i > 0 {
		n.Entries[i-1].(*Reference).After = ref.Before
	}
	if i+1 < len(n.Entries) {
		n.Entries[i+1].(*Reference).Before = ref.After
	}
}

// InsertEntryAtEnd appends the entry without a sort check. Callers must
// only append keys greater than the current biggest key.
func (n *Node) InsertEntryAtEnd(entry Entry) {
	n.Entries = append(n.Entries, entry)
}

// GetEntry returns the entry with the given key, or ErrKeyNotFound.
func (n *Node) GetEntry(key any) (Entry, error) {
	i := n.searchKey(key)
	if i < len(n.Entries) && n.compare(n.Entries[i].EntryKey(), key) == 0 {
		return n.Entries[i], nil
	}
	return nil, ErrKeyNotFound
}

// RemoveEntry removes the entry with the given key, or reports
// ErrKeyNotFound.
func (n *Node) RemoveEntry(key any) error {
	i := n.searchKey(key)
	if i >= len(n.Entries) || n.compare(n.Entries[i].EntryKey(), key) != 0 {
		return ErrKeyNotFound
	}
	n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
	return nil
}

// PopSmallest removes and returns the smallest entry.
func (n *Node) PopSmallest() Entry {
	entry := n.Entries[0]
	n.Entries = n.Entries[1:]
	return entry
}

// SmallestEntry returns the entry with the smallest key.
func (n *Node) SmallestEntry() Entry { return n.Entries[0] }

// SmallestKey returns the smallest key.
func (n *Node) SmallestKey() any { return n.Entries[0].EntryKey() }

// BiggestEntry returns the entry with the biggest key.
func (n *Node) BiggestEntry() Entry { return n.Entries[len(n.Entries)-1] }

// BiggestKey returns the biggest key.
func (n *Node) BiggestKey() any { return n.Entries[len(n.Entries)-1].EntryKey() }

// SplitEntries keeps the lower half of the entries and returns the upper
// half.
func (n *Node) SplitEntries() []Entry {
	mid := len(n.Entries) / 2
	upper := append([]Entry(nil), n.Entries[mid:]...)
	n.Entries = n.Entries[:mid]
	return upper
}

// FindNextNodePage applies the fence rule of a reference node: keys smaller
// than the first fence go before it, keys greater or equal to the last fence
// go after it, and any other key follows the after pointer of the last fence
// not greater than it.
func (n *Node) FindNextNodePage(key any) uint32 {
	if n.compare(key, n.SmallestKey()) < 0 {
		return n.SmallestEntry().(*Reference).Before
	}
	// Index of the first fence strictly greater than key.
	i := sort.Search(len(n.Entries), func(i int) bool {
		return n.compare(n.Entries[i].EntryKey(), key) > 0
	})
	return n.Entries[i-1].(*Reference).After
}

// ConvertToLeaf relabels a lonely root as a leaf on the same page, keeping
// its entries.
func (n *Node) ConvertToLeaf() *Node {
	leaf := NewNode(n.conf, KindLeaf, n.Page)
	leaf.NextPage = n.NextPage
	leaf.Entries = n.Entries
	return leaf
}

// ConvertToInternal relabels a root as an internal node on the same page,
// keeping its entries.
func (n *Node) ConvertToInternal() *Node {
	internal := NewNode(n.conf, KindInternal, n.Page)
	internal.Entries = n.Entries
	return internal
}
