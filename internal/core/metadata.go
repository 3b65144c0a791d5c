package core

import (
	"errors"
	"fmt"

	"github.com/scigolib/bptree/internal/utils"
)

// MetadataBytes is the number of meaningful bytes on page 0; the rest of
// the page is zero padding.
const MetadataBytes = PageReferenceBytes + 4*OthersBytes + PageReferenceBytes

// Metadata is the content of page 0: the root page, the tree geometry and
// the head of the free list. It is rewritten on root change, free list head
// change or tree creation.
type Metadata struct {
	RootPage     uint32
	PageSize     uint32
	Order        uint32
	KeySize      uint32
	ValueSize    uint32
	FreelistHead uint32 // zero when the free list is empty
}

// LoadMetadata decodes page 0.
func LoadMetadata(data []byte) (*Metadata, error) {
	if len(data) < MetadataBytes {
		return nil, fmt.Errorf("%w: metadata page has %d bytes", ErrCorruptPage, len(data))
	}
	m := &Metadata{
		RootPage:     utils.Uint32(data[0:]),
		PageSize:     utils.Uint32(data[4:]),
		Order:        utils.Uint32(data[8:]),
		KeySize:      utils.Uint32(data[12:]),
		ValueSize:    utils.Uint32(data[16:]),
		FreelistHead: utils.Uint32(data[20:]),
	}
	if m.PageSize == 0 || m.Order == 0 {
		return nil, errors.New("metadata not set yet")
	}
	return m, nil
}

// Dump encodes the metadata, zero-padded to the page size.
func (m *Metadata) Dump() []byte {
	data := make([]byte, m.PageSize)
	utils.PutUint32(data[0:], m.RootPage)
	utils.PutUint32(data[4:], m.PageSize)
	utils.PutUint32(data[8:], m.Order)
	utils.PutUint32(data[12:], m.KeySize)
	utils.PutUint32(data[16:], m.ValueSize)
	utils.PutUint32(data[20:], m.FreelistHead)
	return data
}
