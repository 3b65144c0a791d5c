package bptree

import (
	"github.com/scigolib/bptree/internal/core"
	"github.com/scigolib/bptree/internal/utils"
)

// Overflow page layout: [next_overflow_page:4][payload_length:3][payload],
// zero-padded to the page size and chained until next is zero.
const overflowHeaderBytes = core.PageReferenceBytes + core.UsedPageLengthBytes

func (t *BPlusTree) overflowChunkSize() int {
	return t.conf.PageSize - overflowHeaderBytes
}

// writeOverflowChain slices the value into page-sized chunks and writes
// them as a linked chain, returning the head page.
func (t *BPlusTree) writeOverflowChain(value []byte) (uint32, error) {
	chunkSize := t.overflowChunkSize()
	numPages := (len(value) + chunkSize - 1) / chunkSize

	pages := make([]uint32, numPages)
	for i := range pages {
		page, err := t.mem.NextAvailablePage()
		if err != nil {
			return 0, err
		}
		pages[i] = page
	}

	for i, page := range pages {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(value) {
			end = len(value)
		}

		data := make([]byte, t.conf.PageSize)
		var next uint32
		if i+1 < len(pages) {
			next = pages[i+1]
		}
		utils.PutUint32(data[0:], next)
		utils.PutUint24(data[core.PageReferenceBytes:], uint32(end-start))
		copy(data[overflowHeaderBytes:], value[start:end])

		if err := t.mem.SetPageData(page, data); err != nil {
			return 0, err
		}
	}
	return pages[0], nil
}

// readOverflowChain follows the chain from head, accumulating the payload.
func (t *BPlusTree) readOverflowChain(head uint32) ([]byte, error) {
	var value []byte
	for page := head; page != 0; {
		data, err := t.mem.GetPageData(page)
		if err != nil {
			return nil, err
		}
		next := utils.Uint32(data[0:])
		length := int(utils.Uint24(data[core.PageReferenceBytes:]))
		value = append(value, data[overflowHeaderBytes:overflowHeaderBytes+length]...)
		page = next
	}
	return value, nil
}

// freeOverflowChain retires every page of the chain to the free list.
func (t *BPlusTree) freeOverflowChain(head uint32) error {
	for page := head; page != 0; {
		data, err := t.mem.GetPageData(page)
		if err != nil {
			return err
		}
		next := utils.Uint32(data[0:])
		if err := t.mem.FreePage(page); err != nil {
			return err
		}
		page = next
	}
	return nil
}
