package bptree

// Default geometry of a new tree. Reopening an existing file ignores the
// caller-supplied geometry in favour of the stored one.
const (
	DefaultPageSize  = 4096
	DefaultOrder     = 100
	DefaultKeySize   = 8
	DefaultValueSize = 16
	DefaultCacheSize = 512
)

// Options configures Open. The zero value selects the defaults above with
// an IntSerializer.
type Options struct {
	// PageSize is the size in bytes of a page, data and WAL alike.
	PageSize int
	// Order is the branching factor of the tree.
	Order int
	// KeySize is the maximum serialized key size in bytes.
	KeySize int
	// ValueSize is the maximum inline value size in bytes; larger values
	// go to overflow pages.
	ValueSize int
	// CacheSize is the number of decoded nodes kept in the page cache.
	// Zero selects DefaultCacheSize; a negative value disables caching.
	CacheSize int
	// Serializer encodes, decodes and orders keys. Defaults to
	// IntSerializer.
	Serializer Serializer
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.PageSize == 0 {
		out.PageSize = DefaultPageSize
	}
	if out.Order == 0 {
		out.Order = DefaultOrder
	}
	if out.KeySize == 0 {
		out.KeySize = DefaultKeySize
	}
	if out.ValueSize == 0 {
		out.ValueSize = DefaultValueSize
	}
	switch {
	case out.CacheSize == 0:
		out.CacheSize = DefaultCacheSize
	case out.CacheSize < 0:
		out.CacheSize = 0
	}
	if out.Serializer == nil {
		out.Serializer = IntSerializer{}
	}
	return out
}
