package bptree

import (
	"errors"
	"fmt"

	"github.com/scigolib/bptree/internal/core"
)

// Remove deletes the key and its value, failing with ErrKeyNotFound when
// the key is absent. An underflowing node first borrows from a sibling,
// then merges with one, cascading up to the root; leaf merges fix the leaf
// chain and retire the emptied page to the free list.
func (t *BPlusTree) Remove(key any) error {
	return t.mem.WriteTransaction(func() error {
		leaf, ancestors, err := t.searchLeaf(key)
		if err != nil {
			return err
		}

		entry, err := leaf.GetEntry(key)
		if errors.Is(err, core.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		if rec := entry.(*core.Record); rec.OverflowPage != 0 {
			if err := t.freeOverflowChain(rec.OverflowPage); err != nil {
				return err
			}
		}
		if err := leaf.RemoveEntry(key); err != nil {
			return err
		}

		if len(ancestors) == 0 || leaf.NumChildren() >= leaf.MinChildren() {
			return t.mem.SetNode(leaf)
		}
		return t.rebalanceLeaf(leaf, ancestors)
	})
}

// refChildren flattens a reference node into its child pages and fence
// keys: keys[i] separates pages[i] from pages[i+1].
func refChildren(n *core.Node) (pages []uint32, keys []any) {
	for i, entry := range n.Entries {
		ref := entry.(*core.Reference)
		if i == 0 {
			pages = append(pages, ref.Before)
		}
		pages = append(pages, ref.After)
		keys = append(keys, ref.Key)
	}
	return pages, keys
}

// setRefChildren rebuilds the node's entries from child pages and fence
// keys, restoring the shared-fence invariant by construction.
func setRefChildren(n *core.Node, pages []uint32, keys []any) {
	n.Entries = n.Entries[:0]
	for i, key := range keys {
		n.Entries = append(n.Entries, &core.Reference{
			Key:    key,
			Before: pages[i],
			After:  pages[i+1],
		})
	}
}

func indexOfPage(pages []uint32, page uint32) (int, error) {
	for i, p := range pages {
		if p == page {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: page %d missing from its parent", ErrCorruptPage, page)
}

// rebalanceLeaf restores the occupancy of an underflowing leaf.
func (t *BPlusTree) rebalanceLeaf(leaf *core.Node, ancestors []*core.Node) error {
	parent := ancestors[len(ancestors)-1]
	pages, keys := refChildren(parent)
	idx, err := indexOfPage(pages, leaf.Page)
	if err != nil {
		return err
	}

	// Borrow the biggest record of the left sibling; the fence between
	// the two becomes the moved key.
	if idx > 0 {
		left, err := t.mem.GetNode(pages[idx-1])
		if err != nil {
			return err
		}
		if left.CanDeleteEntry() {
			moved := left.BiggestEntry()
			left.Entries = left.Entries[:len(left.Entries)-1]
			leaf.Entries = append([]core.Entry{moved}, leaf.Entries...)
			keys[idx-1] = moved.EntryKey()
			setRefChildren(parent, pages, keys)
			return t.setNodes(left, leaf, parent)
		}
	}

	// Borrow the smallest record of the right sibling; the fence between
	// the two becomes the sibling's new smallest key.
	if idx < len(pages)-1 {
		right, err := t.mem.GetNode(pages[idx+1])
		if err != nil {
			return err
		}
		if right.CanDeleteEntry() {
			leaf.InsertEntryAtEnd(right.PopSmallest())
			keys[idx] = right.SmallestKey()
			setRefChildren(parent, pages, keys)
			return t.setNodes(right, leaf, parent)
		}
	}

	// No sibling can lend: merge the pair into its left node, thread the
	// leaf chain past the emptied page and retire it.
	if idx > 0 {
		left, err := t.mem.GetNode(pages[idx-1])
		if err != nil {
			return err
		}
		left.Entries = append(left.Entries, leaf.Entries...)
		left.NextPage = leaf.NextPage
		if err := t.mem.SetNode(left); err != nil {
			return err
		}
		if err := t.mem.FreePage(leaf.Page); err != nil {
			return err
		}
		return t.removeChild(parent, ancestors[:len(ancestors)-1], idx)
	}

	right, err := t.mem.GetNode(pages[idx+1])
	if err != nil {
		return err
	}
	leaf.Entries = append(leaf.Entries, right.Entries...)
	leaf.NextPage = right.NextPage
	if err := t.mem.SetNode(leaf); err != nil {
		return err
	}
	if err := t.mem.FreePage(right.Page); err != nil {
		return err
	}
	return t.removeChild(parent, ancestors[:len(ancestors)-1], idx+1)
}

// removeChild drops the child at removedIdx and its separating fence from
// the parent after a merge, then deals with the parent's own occupancy.
func (t *BPlusTree) removeChild(parent *core.Node, ancestors []*core.Node, removedIdx int) error {
	pages, keys := refChildren(parent)
	pages = append(pages[:removedIdx], pages[removedIdx+1:]...)
	keys = append(keys[:removedIdx-1], keys[removedIdx:]...)

	if len(ancestors) == 0 {
		if len(keys) > 0 {
			setRefChildren(parent, pages, keys)
			return t.mem.SetNode(parent)
		}
		// The root is down to a single child, which takes its place.
		return t.collapseRoot(parent, pages[0])
	}

	if len(keys) >= parent.MinChildren()-1 {
		setRefChildren(parent, pages, keys)
		return t.mem.SetNode(parent)
	}
	return t.rebalanceReference(parent, ancestors, pages, keys)
}

// rebalanceReference restores the occupancy of an underflowing non-root
// reference node whose children and fences are given as flattened lists.
func (t *BPlusTree) rebalanceReference(node *core.Node, ancestors []*core.Node, pages []uint32, keys []any) error {
	parent := ancestors[len(ancestors)-1]
	ppages, pkeys := refChildren(parent)
	idx, err := indexOfPage(ppages, node.Page)
	if err != nil {
		return err
	}

	// Borrow through the parent from the left sibling: the separator
	// comes down in front of the node, the sibling's biggest key goes up.
	if idx > 0 {
		left, err := t.mem.GetNode(ppages[idx-1])
		if err != nil {
			return err
		}
		if left.CanDeleteEntry() {
			lpages, lkeys := refChildren(left)
			keys = append([]any{pkeys[idx-1]}, keys...)
			pages = append([]uint32{lpages[len(lpages)-1]}, pages...)
			pkeys[idx-1] = lkeys[len(lkeys)-1]
			setRefChildren(left, lpages[:len(lpages)-1], lkeys[:len(lkeys)-1])
			setRefChildren(node, pages, keys)
			setRefChildren(parent, ppages, pkeys)
			return t.setNodes(left, node, parent)
		}
	}

	// Borrow from the right sibling: the separator comes down at the end
	// of the node, the sibling's smallest key goes up.
	if idx < len(ppages)-1 {
		right, err := t.mem.GetNode(ppages[idx+1])
		if err != nil {
			return err
		}
		if right.CanDeleteEntry() {
			rpages, rkeys := refChildren(right)
			keys = append(keys, pkeys[idx])
			pages = append(pages, rpages[0])
			pkeys[idx] = rkeys[0]
			setRefChildren(right, rpages[1:], rkeys[1:])
			setRefChildren(node, pages, keys)
			setRefChildren(parent, ppages, pkeys)
			return t.setNodes(right, node, parent)
		}
	}

	// Merge the pair into its left node, pulling the separator down as
	// the glue fence, and retire the emptied page.
	if idx > 0 {
		left, err := t.mem.GetNode(ppages[idx-1])
		if err != nil {
			return err
		}
		lpages, lkeys := refChildren(left)
		lkeys = append(append(lkeys, pkeys[idx-1]), keys...)
		lpages = append(lpages, pages...)
		setRefChildren(left, lpages, lkeys)
		if err := t.mem.SetNode(left); err != nil {
			return err
		}
		if err := t.mem.FreePage(node.Page); err != nil {
			return err
		}
		return t.removeChild(parent, ancestors[:len(ancestors)-1], idx)
	}

	right, err := t.mem.GetNode(ppages[idx+1])
	if err != nil {
		return err
	}
	rpages, rkeys := refChildren(right)
	keys = append(append(keys, pkeys[idx]), rkeys...)
	pages = append(pages, rpages...)
	setRefChildren(node, pages, keys)
	if err := t.mem.SetNode(node); err != nil {
		return err
	}
	if err := t.mem.FreePage(right.Page); err != nil {
		return err
	}
	return t.removeChild(parent, ancestors[:len(ancestors)-1], idx+1)
}

// collapseRoot makes the root's only remaining child the new root: a leaf
// child is relabeled lonely root, an internal child becomes the root. The
// old root page is retired.
func (t *BPlusTree) collapseRoot(oldRoot *core.Node, childPage uint32) error {
	child, err := t.mem.GetNode(childPage)
	if err != nil {
		return err
	}

	kind := core.KindRoot
	if child.HoldsRecords() {
		kind = core.KindLonelyRoot
	}
	newRoot := core.NewNode(t.conf, kind, childPage)
	newRoot.Entries = child.Entries
	if err := t.mem.SetNode(newRoot); err != nil {
		return err
	}

	if err := t.mem.FreePage(oldRoot.Page); err != nil {
		return err
	}
	return t.mem.SetMetadata(childPage)
}

func (t *BPlusTree) setNodes(nodes ...*core.Node) error {
	for _, n := range nodes {
		if err := t.mem.SetNode(n); err != nil {
			return err
		}
	}
	return nil
}
