package bptree

import "github.com/scigolib/bptree/internal/core"

// RangeOpts bounds a scan to the half-open key range [Start, Stop); a nil
// bound is open. Reverse iteration and steps above one are not supported
// and fail with ErrUnsupportedRange.
type RangeOpts struct {
	Start   any
	Stop    any
	Reverse bool
	Step    int
}

// Range iterates records within opts in ascending key order, calling fn
// for each until fn returns false or the range is exhausted. The whole
// scan runs inside one read transaction.
func (t *BPlusTree) Range(opts RangeOpts, fn func(key any, value []byte) bool) error {
	if opts.Reverse || opts.Step > 1 || opts.Step < 0 {
		return ErrUnsupportedRange
	}

	return t.mem.ReadTransaction(func() error {
		var leaf *core.Node
		var err error
		if opts.Start == nil {
			leaf, err = t.leftmostLeaf()
		} else {
			leaf, _, err = t.searchLeaf(opts.Start)
		}
		if err != nil {
			return err
		}

		for {
			for _, entry := range leaf.Entries {
				rec := entry.(*core.Record)
				if opts.Start != nil && t.conf.Serializer.Compare(rec.Key, opts.Start) < 0 {
					continue
				}
				if opts.Stop != nil && t.conf.Serializer.Compare(rec.Key, opts.Stop) >= 0 {
					return nil
				}
				value, err := t.recordValue(rec)
				if err != nil {
					return err
				}
				if !fn(rec.Key, value) {
					return nil
				}
			}
			if leaf.NextPage == 0 {
				return nil
			}
			if leaf, err = t.mem.GetNode(leaf.NextPage); err != nil {
				return err
			}
		}
	})
}

// Items iterates every key/value pair in ascending key order.
func (t *BPlusTree) Items(fn func(key any, value []byte) bool) error {
	return t.Range(RangeOpts{}, fn)
}

// Keys iterates every key in ascending order.
func (t *BPlusTree) Keys(fn func(key any) bool) error {
	return t.Range(RangeOpts{}, func(key any, _ []byte) bool {
		return fn(key)
	})
}

// Values iterates every value in ascending key order.
func (t *BPlusTree) Values(fn func(value []byte) bool) error {
	return t.Range(RangeOpts{}, func(_ any, value []byte) bool {
		return fn(value)
	})
}

// Len counts the records by walking the leaf chain.
func (t *BPlusTree) Len() (int, error) {
	count := 0
	err := t.mem.ReadTransaction(func() error {
		leaf, err := t.leftmostLeaf()
		if err != nil {
			return err
		}
		for {
			count += len(leaf.Entries)
			if leaf.NextPage == 0 {
				return nil
			}
			if leaf, err = t.mem.GetNode(leaf.NextPage); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// LenHint cheaply estimates the number of records: a lonely root is
// assumed half full; otherwise 70% of allocated pages are assumed to be
// half-full leaves.
func (t *BPlusTree) LenHint() (int, error) {
	hint := 0
	err := t.mem.ReadTransaction(func() error {
		root, err := t.mem.GetNode(t.mem.RootPage())
		if err != nil {
			return err
		}
		if root.Kind == core.KindLonelyRoot {
			hint = root.MaxChildren() / 2
			return nil
		}
		numLeaves := int(float64(t.mem.LastPage()) * 0.70)
		hint = numLeaves * ((root.MaxChildren() + 1) / 2)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return hint, nil
}
