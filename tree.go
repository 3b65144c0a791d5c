// Package bptree provides a single-writer, multi-reader, on-disk persistent
// ordered key→value store backed by a B+Tree of fixed-size pages with
// write-ahead logging for crash-atomic durability. Keys are typed through a
// pluggable serializer; values are opaque byte payloads that may exceed a
// page via chained overflow pages.
package bptree

import (
	"errors"

	"github.com/scigolib/bptree/internal/core"
	"github.com/scigolib/bptree/internal/storage"
)

// initialRootPage is where the root lives when a tree is created; page 0
// holds the metadata.
const initialRootPage = 1

// BPlusTree is an open tree. It is safe for concurrent use: every public
// operation runs inside a read or write transaction on the storage layer.
type BPlusTree struct {
	filename string
	conf     *core.TreeConf
	mem      *storage.FileMemory
}

// Item is a key/value pair for BatchInsert.
type Item struct {
	Key   any
	Value []byte
}

// Open opens the tree file, creating it when absent. On reopen the
// geometry stored in the file replaces the one in opts; the serializer is
// always taken from opts.
func Open(filename string, opts *Options) (*BPlusTree, error) {
	o := opts.withDefaults()
	conf := &core.TreeConf{
		PageSize:   o.PageSize,
		Order:      o.Order,
		KeySize:    o.KeySize,
		ValueSize:  o.ValueSize,
		Serializer: o.Serializer,
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	mem, err := storage.Open(filename, conf, o.CacheSize)
	if err != nil {
		return nil, err
	}
	// The stored geometry may differ from the requested one.
	if err := conf.Validate(); err != nil {
		_ = mem.Close()
		return nil, err
	}

	t := &BPlusTree{filename: filename, conf: conf, mem: mem}
	if mem.Created() {
		if err := t.initialize(); err != nil {
			_ = mem.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *BPlusTree) initialize() error {
	if err := t.mem.SetMetadata(initialRootPage); err != nil {
		return err
	}
	return t.mem.WriteTransaction(func() error {
		return t.mem.SetNode(core.NewNode(t.conf, core.KindLonelyRoot, initialRootPage))
	})
}

// With opens the tree, hands it to fn and closes it on the way out,
// whether fn succeeds or not.
func With(filename string, opts *Options, fn func(*BPlusTree) error) error {
	t, err := Open(filename, opts)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()
	return fn(t)
}

// Close checkpoints the WAL into the tree file and releases the file
// descriptors. It is safe to call Close more than once.
func (t *BPlusTree) Close() error {
	return t.mem.Close()
}

// Checkpoint migrates all committed WAL frames into the tree file and
// starts a fresh WAL.
func (t *BPlusTree) Checkpoint() error {
	return t.mem.Checkpoint()
}

// Get returns the value stored under key, or def when the key is absent.
func (t *BPlusTree) Get(key any, def []byte) ([]byte, error) {
	var value []byte
	err := t.mem.ReadTransaction(func() error {
		leaf, _, err := t.searchLeaf(key)
		if err != nil {
			return err
		}
		entry, err := leaf.GetEntry(key)
		if errors.Is(err, core.ErrKeyNotFound) {
			value = def
			return nil
		}
		if err != nil {
			return err
		}
		value, err = t.recordValue(entry.(*core.Record))
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Contains reports whether the key is present.
func (t *BPlusTree) Contains(key any) (bool, error) {
	found := false
	err := t.mem.ReadTransaction(func() error {
		leaf, _, err := t.searchLeaf(key)
		if err != nil {
			return err
		}
		if _, err := leaf.GetEntry(key); err == nil {
			found = true
		} else if !errors.Is(err, core.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	return found, err
}

// Insert stores a new key/value pair and fails with ErrDuplicateKey when
// the key already exists.
func (t *BPlusTree) Insert(key any, value []byte) error {
	return t.insert(key, value, false)
}

// Replace stores the key/value pair, overwriting any existing value. A
// value previously stored in an overflow chain has its chain retired to
// the free list.
func (t *BPlusTree) Replace(key any, value []byte) error {
	return t.insert(key, value, true)
}

func (t *BPlusTree) insert(key any, value []byte, replace bool) error {
	return t.mem.WriteTransaction(func() error {
		leaf, ancestors, err := t.searchLeaf(key)
		if err != nil {
			return err
		}

		existing, err := leaf.GetEntry(key)
		switch {
		case err == nil:
			if !replace {
				return ErrDuplicateKey
			}
			rec := existing.(*core.Record)
			if rec.OverflowPage != 0 {
				if err := t.freeOverflowChain(rec.OverflowPage); err != nil {
					return err
				}
				rec.OverflowPage = 0
			}
			if err := t.setRecordValue(rec, value); err != nil {
				return err
			}
			return t.mem.SetNode(leaf)
		case !errors.Is(err, core.ErrKeyNotFound):
			return err
		}

		rec := &core.Record{Key: key}
		if err := t.setRecordValue(rec, value); err != nil {
			return err
		}

		if leaf.CanAddEntry() {
			leaf.InsertEntry(rec)
			return t.mem.SetNode(leaf)
		}
		leaf.InsertEntry(rec)
		return t.splitLeaf(leaf, ancestors)
	})
}

// BatchInsert inserts a strictly ascending sequence of key/value pairs in
// a single transaction, appending to the rightmost leaf in constant time
// and splitting only when a leaf fills up. Any key not strictly greater
// than the current biggest key fails the whole batch with ErrOutOfOrder.
func (t *BPlusTree) BatchInsert(items []Item) error {
	return t.mem.WriteTransaction(func() error {
		leaf, ancestors, err := t.rightmostLeaf()
		if err != nil {
			return err
		}

		for _, item := range items {
			if len(leaf.Entries) > 0 &&
				t.conf.Serializer.Compare(item.Key, leaf.BiggestKey()) <= 0 {
				return ErrOutOfOrder
			}

			rec := &core.Record{Key: item.Key}
			if err := t.setRecordValue(rec, item.Value); err != nil {
				return err
			}

			if leaf.CanAddEntry() {
				leaf.InsertEntryAtEnd(rec)
				continue
			}
			leaf.InsertEntryAtEnd(rec)
			if err := t.splitLeaf(leaf, ancestors); err != nil {
				return err
			}
			if leaf, ancestors, err = t.rightmostLeaf(); err != nil {
				return err
			}
		}
		return t.mem.SetNode(leaf)
	})
}

// setRecordValue stores the value inline when it fits, otherwise in a
// fresh overflow chain.
func (t *BPlusTree) setRecordValue(rec *core.Record, value []byte) error {
	if len(value) <= t.conf.ValueSize {
		rec.Value = append([]byte(nil), value...)
		rec.OverflowPage = 0
		return nil
	}
	head, err := t.writeOverflowChain(value)
	if err != nil {
		return err
	}
	rec.Value = nil
	rec.OverflowPage = head
	return nil
}

// recordValue resolves the record's value, following the overflow chain
// when the value is not inline.
func (t *BPlusTree) recordValue(rec *core.Record) ([]byte, error) {
	if rec.OverflowPage != 0 {
		return t.readOverflowChain(rec.OverflowPage)
	}
	return append([]byte(nil), rec.Value...), nil
}

// searchLeaf descends from the root to the record node responsible for
// key, returning the node and the chain of reference nodes above it, root
// first. The chain replaces a persisted parent pointer: it only lives for
// the duration of one operation.
func (t *BPlusTree) searchLeaf(key any) (*core.Node, []*core.Node, error) {
	node, err := t.mem.GetNode(t.mem.RootPage())
	if err != nil {
		return nil, nil, err
	}
	var ancestors []*core.Node
	for !node.HoldsRecords() {
		ancestors = append(ancestors, node)
		if node, err = t.mem.GetNode(node.FindNextNodePage(key)); err != nil {
			return nil, nil, err
		}
	}
	return node, ancestors, nil
}

// leftmostLeaf descends along the smallest child pointers.
func (t *BPlusTree) leftmostLeaf() (*core.Node, error) {
	node, err := t.mem.GetNode(t.mem.RootPage())
	if err != nil {
		return nil, err
	}
	for !node.HoldsRecords() {
		page := node.SmallestEntry().(*core.Reference).Before
		if node, err = t.mem.GetNode(page); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// rightmostLeaf descends along the biggest child pointers, keeping the
// ancestor chain for splits.
func (t *BPlusTree) rightmostLeaf() (*core.Node, []*core.Node, error) {
	node, err := t.mem.GetNode(t.mem.RootPage())
	if err != nil {
		return nil, nil, err
	}
	var ancestors []*core.Node
	for !node.HoldsRecords() {
		ancestors = append(ancestors, node)
		page := node.BiggestEntry().(*core.Reference).After
		if node, err = t.mem.GetNode(page); err != nil {
			return nil, nil, err
		}
	}
	return node, ancestors, nil
}

// splitLeaf moves the upper half of the leaf's records into a fresh leaf,
// threads it into the leaf chain and pushes a reference keyed by the new
// leaf's smallest key into the parent, cascading when the parent is full.
// A splitting lonely root is relabeled as a leaf and a new root is created
// above the pair.
func (t *BPlusTree) splitLeaf(old *core.Node, ancestors []*core.Node) error {
	page, err := t.mem.NextAvailablePage()
	if err != nil {
		return err
	}
	newNode := core.NewNode(t.conf, core.KindLeaf, page)
	newNode.Entries = old.SplitEntries()
	newNode.NextPage = old.NextPage
	old.NextPage = page

	ref := &core.Reference{Key: newNode.SmallestKey(), Before: old.Page, After: page}

	switch {
	case old.Kind == core.KindLonelyRoot:
		old = old.ConvertToLeaf()
		if err := t.createNewRoot(ref); err != nil {
			return err
		}
	default:
		parent := ancestors[len(ancestors)-1]
		if parent.CanAddEntry() {
			parent.InsertEntry(ref)
			if err := t.mem.SetNode(parent); err != nil {
				return err
			}
		} else {
			parent.InsertEntry(ref)
			if err := t.splitParent(parent, ancestors[:len(ancestors)-1]); err != nil {
				return err
			}
		}
	}

	if err := t.mem.SetNode(old); err != nil {
		return err
	}
	return t.mem.SetNode(newNode)
}

// splitParent splits an overfull reference node. The smallest entry of the
// upper half is popped and promoted: its key moves to the level above with
// the split pair as its child pages, B+Tree style.
func (t *BPlusTree) splitParent(old *core.Node, ancestors []*core.Node) error {
	page, err := t.mem.NextAvailablePage()
	if err != nil {
		return err
	}
	newNode := core.NewNode(t.conf, core.KindInternal, page)
	newNode.Entries = old.SplitEntries()

	ref := newNode.PopSmallest().(*core.Reference)
	ref.Before = old.Page
	ref.After = page

	switch {
	case old.Kind == core.KindRoot:
		old = old.ConvertToInternal()
		if err := t.createNewRoot(ref); err != nil {
			return err
		}
	default:
		parent := ancestors[len(ancestors)-1]
		if parent.CanAddEntry() {
			parent.InsertEntry(ref)
			if err := t.mem.SetNode(parent); err != nil {
				return err
			}
		} else {
			parent.InsertEntry(ref)
			if err := t.splitParent(parent, ancestors[:len(ancestors)-1]); err != nil {
				return err
			}
		}
	}

	if err := t.mem.SetNode(old); err != nil {
		return err
	}
	return t.mem.SetNode(newNode)
}

// createNewRoot installs a fresh root above a freshly split pair and
// points the metadata at it.
func (t *BPlusTree) createNewRoot(ref *core.Reference) error {
	page, err := t.mem.NextAvailablePage()
	if err != nil {
		return err
	}
	root := core.NewNode(t.conf, core.KindRoot, page)
	root.InsertEntry(ref)
	if err := t.mem.SetNode(root); err != nil {
		return err
	}
	return t.mem.SetMetadata(page)
}
