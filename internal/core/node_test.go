package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRoundTrip(t *testing.T) {
	conf := testConf()

	tests := []struct {
		name string
		node func() *Node
	}{
		{"empty lonely root", func() *Node {
			return NewNode(conf, KindLonelyRoot, 1)
		}},
		{"lonely root with records", func() *Node {
			n := NewNode(conf, KindLonelyRoot, 1)
			n.InsertEntry(&Record{Key: 2, Value: []byte("b")})
			n.InsertEntry(&Record{Key: 1, Value: []byte("a")})
			return n
		}},
		{"leaf with next page", func() *Node {
			n := NewNode(conf, KindLeaf, 7)
			n.NextPage = 9
			n.InsertEntry(&Record{Key: 4, Value: []byte("d")})
			return n
		}},
		{"root with references", func() *Node {
			n := NewNode(conf, KindRoot, 3)
			n.InsertEntry(&Reference{Key: 10, Before: 1, After: 2})
			return n
		}},
		{"internal with references", func() *Node {
			n := NewNode(conf, KindInternal, 5)
			n.InsertEntry(&Reference{Key: 10, Before: 1, After: 2})
			n.InsertEntry(&Reference{Key: 20, Before: 2, After: 4})
			return n
		}},
		{"freelist node", func() *Node {
			n := NewNode(conf, KindFreelist, 8)
			n.NextPage = 12
			return n
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := tt.node()
			data, err := node.Dump()
			require.NoError(t, err)
			require.Len(t, data, conf.PageSize)

			loaded, err := NodeFromPageData(conf, data, node.Page)
			require.NoError(t, err)
			assert.Equal(t, node.Kind, loaded.Kind)
			assert.Equal(t, node.Page, loaded.Page)
			assert.Equal(t, node.NextPage, loaded.NextPage)
			require.Len(t, loaded.Entries, len(node.Entries))
			for i := range node.Entries {
				assert.Equal(t, node.Entries[i], loaded.Entries[i])
			}

			// Dumping the loaded node reproduces the page byte for byte.
			again, err := loaded.Dump()
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestNodeFromPageDataErrors(t *testing.T) {
	conf := testConf()

	t.Run("wrong page length", func(t *testing.T) {
		_, err := NodeFromPageData(conf, make([]byte, 10), 1)
		assert.ErrorIs(t, err, ErrCorruptPage)
	})

	t.Run("unknown node type", func(t *testing.T) {
		data := make([]byte, conf.PageSize)
		data[0] = 77
		_, err := NodeFromPageData(conf, data, 1)
		assert.ErrorIs(t, err, ErrCorruptPage)
	})

	t.Run("used length beyond page", func(t *testing.T) {
		data := make([]byte, conf.PageSize)
		data[0] = byte(KindLeaf)
		data[1] = 0xff
		data[2] = 0xff
		data[3] = 0x00
		_, err := NodeFromPageData(conf, data, 1)
		assert.ErrorIs(t, err, ErrCorruptPage)
	})
}

func TestNodeInsertEntryKeepsOrder(t *testing.T) {
	conf := testConf()
	n := NewNode(conf, KindLonelyRoot, 1)
	for _, key := range []int{5, 1, 3, 2, 4} {
		n.InsertEntry(&Record{Key: key, Value: []byte("x")})
	}

	keys := make([]int, 0, len(n.Entries))
	for _, e := range n.Entries {
		keys = append(keys, e.EntryKey().(int))
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, keys)
}

func TestReferenceInsertFixesFences(t *testing.T) {
	conf := testConf()
	n := NewNode(conf, KindInternal, 1)
	n.InsertEntry(&Reference{Key: 10, Before: 1, After: 2})
	n.InsertEntry(&Reference{Key: 30, Before: 2, After: 4})

	// Splitting the middle child pushes a new fence whose neighbours
	// must be repointed at its pages.
	n.InsertEntry(&Reference{Key: 20, Before: 5, After: 6})

	first := n.Entries[0].(*Reference)
	second := n.Entries[1].(*Reference)
	third := n.Entries[2].(*Reference)
	assert.Equal(t, second.Before, first.After)
	assert.Equal(t, third.Before, second.After)
	assert.Equal(t, uint32(5), first.After)
	assert.Equal(t, uint32(6), third.Before)
}

func TestNodeGetRemoveEntry(t *testing.T) {
	conf := testConf()
	n := NewNode(conf, KindLeaf, 1)
	n.InsertEntry(&Record{Key: 1, Value: []byte("a")})
	n.InsertEntry(&Record{Key: 2, Value: []byte("b")})

	entry, err := n.GetEntry(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), entry.(*Record).Value)

	_, err = n.GetEntry(3)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, n.RemoveEntry(1))
	assert.ErrorIs(t, n.RemoveEntry(1), ErrKeyNotFound)
	assert.Len(t, n.Entries, 1)
}

func TestNodeSplitEntries(t *testing.T) {
	conf := testConf()
	n := NewNode(conf, KindLeaf, 1)
	for key := 1; key <= 5; key++ {
		n.InsertEntry(&Record{Key: key, Value: []byte("x")})
	}

	upper := n.SplitEntries()
	assert.Len(t, n.Entries, 2)
	assert.Len(t, upper, 3)
	assert.Equal(t, 2, n.BiggestKey())
	assert.Equal(t, 3, upper[0].EntryKey())
}

func TestNodeOccupancyBounds(t *testing.T) {
	conf := testConf() // order 4

	tests := []struct {
		kind NodeKind
		min  int
		max  int
	}{
		{KindLonelyRoot, 0, 3},
		{KindRoot, 2, 4},
		{KindInternal, 2, 4},
		{KindLeaf, 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			n := NewNode(conf, tt.kind, 1)
			assert.Equal(t, tt.min, n.MinChildren())
			assert.Equal(t, tt.max, n.MaxChildren())
		})
	}
}

func TestFindNextNodePage(t *testing.T) {
	conf := testConf()
	n := NewNode(conf, KindRoot, 1)
	n.InsertEntry(&Reference{Key: 10, Before: 2, After: 3})
	n.InsertEntry(&Reference{Key: 20, Before: 3, After: 4})

	tests := []struct {
		key  int
		page uint32
	}{
		{5, 2},   // below the smallest fence
		{10, 3},  // equal to a fence goes right of it
		{15, 3},  // between fences
		{20, 4},  // equal to the biggest fence
		{100, 4}, // above the biggest fence
	}

	for _, tt := range tests {
		assert.Equal(t, tt.page, n.FindNextNodePage(tt.key), "key %d", tt.key)
	}
}

func TestConvertKeepsPageAndEntries(t *testing.T) {
	conf := testConf()

	lonely := NewNode(conf, KindLonelyRoot, 1)
	lonely.InsertEntry(&Record{Key: 1, Value: []byte("a")})
	lonely.NextPage = 6
	leaf := lonely.ConvertToLeaf()
	assert.Equal(t, KindLeaf, leaf.Kind)
	assert.Equal(t, uint32(1), leaf.Page)
	assert.Equal(t, uint32(6), leaf.NextPage)
	assert.Equal(t, lonely.Entries, leaf.Entries)

	root := NewNode(conf, KindRoot, 2)
	root.InsertEntry(&Reference{Key: 1, Before: 3, After: 4})
	internal := root.ConvertToInternal()
	assert.Equal(t, KindInternal, internal.Kind)
	assert.Equal(t, uint32(2), internal.Page)
	assert.Equal(t, root.Entries, internal.Entries)
}
