package bptree

import (
	"errors"

	"github.com/scigolib/bptree/internal/core"
	"github.com/scigolib/bptree/internal/storage"
)

// Errors surfaced by the public API. Lower layers report condition codes;
// the tree translates them into this taxonomy.
var (
	// ErrDuplicateKey reports an Insert of a key that already exists.
	ErrDuplicateKey = errors.New("key already exists")
	// ErrKeyNotFound reports a Remove of a key that does not exist.
	ErrKeyNotFound = core.ErrKeyNotFound
	// ErrOutOfOrder reports a batch insert whose keys do not strictly
	// ascend above the current biggest key.
	ErrOutOfOrder = errors.New("batch keys must be strictly ascending")
	// ErrUnsupportedRange reports a reverse or stepped range scan.
	ErrUnsupportedRange = errors.New("reverse and stepped ranges are not supported")
	// ErrKeyTooLarge reports a key whose serialized form exceeds the
	// configured key size.
	ErrKeyTooLarge = core.ErrKeyTooLarge
	// ErrValueTooLarge reports a value that can be stored neither inline
	// nor in an overflow chain.
	ErrValueTooLarge = core.ErrValueTooLarge
	// ErrCorruptPage reports a page that cannot be decoded; fatal to the
	// open handle.
	ErrCorruptPage = core.ErrCorruptPage
	// ErrReachedEndOfFile reports a page read beyond the end of the file.
	ErrReachedEndOfFile = storage.ErrReachedEndOfFile
	// ErrNoSuchDirectory reports a tree path in a missing directory.
	ErrNoSuchDirectory = storage.ErrNoSuchDirectory
	// ErrClosed reports an operation on a closed tree.
	ErrClosed = storage.ErrClosed
)
