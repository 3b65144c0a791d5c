// Package storage owns the tree file: page I/O, the decoded-node cache,
// the free list, the metadata page and the write-ahead log, all behind a
// single-writer multiple-reader transaction lock.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/scigolib/bptree/internal/core"
	"github.com/scigolib/bptree/internal/utils"
)

// ErrClosed reports an operation on a closed FileMemory.
var ErrClosed = errors.New("tree is closed")

// FileMemory mediates every page access of the tree. Reads go cache → WAL
// → tree file; writes go to the WAL and become visible in the tree file at
// checkpoint time. Page 0 is special: metadata reads and writes bypass the
// WAL and hit the tree file directly, with an fsync on every write.
type FileMemory struct {
	filename string
	dirPath  string
	file     *os.File
	conf     *core.TreeConf
	wal      *WAL
	cache    *nodeCache

	// lock is the transaction lock: one writer, any number of readers.
	lock sync.RWMutex

	lastPage     uint32
	freelistHead uint32
	rootPage     uint32
	created      bool
	closed       bool
}

// Open opens or creates the tree file. On reopen the stored geometry on
// page 0 replaces the caller-supplied one in conf (the serializer is kept).
// A WAL left behind by a crash is checkpointed before Open returns.
func Open(filename string, conf *core.TreeConf, cacheSize int) (*FileMemory, error) {
	dirPath := filepath.Dir(filename)
	if fi, err := os.Stat(dirPath); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDirectory, dirPath)
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, utils.WrapError("tree file open failed", err)
	}

	m := &FileMemory{
		filename: filename,
		dirPath:  dirPath,
		file:     file,
		conf:     conf,
	}

	fi, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, utils.WrapError("tree file stat failed", err)
	}
	m.created = fi.Size() == 0

	if !m.created {
		// The stored configuration wins over the caller-supplied one.
		meta, err := m.readMetadataFromFile()
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		conf.PageSize = int(meta.PageSize)
		conf.Order = int(meta.Order)
		conf.KeySize = int(meta.KeySize)
		conf.ValueSize = int(meta.ValueSize)
		m.rootPage = meta.RootPage
		m.freelistHead = meta.FreelistHead
	}

	m.cache, err = newNodeCache(cacheSize)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	m.wal, err = OpenWAL(filename, conf.PageSize)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	if m.wal.NeedsRecovery() {
		if err := m.performCheckpoint(true); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	if err := m.resetLastPage(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return m, nil
}

// Created reports whether Open created a fresh, empty tree file.
func (m *FileMemory) Created() bool { return m.created }

// RootPage returns the page of the current root node.
func (m *FileMemory) RootPage() uint32 { return m.rootPage }

// LastPage returns the highest page number handed out so far.
func (m *FileMemory) LastPage() uint32 { return m.lastPage }

// resetLastPage derives the highest allocated page from the tree file
// size. Only valid right after a checkpoint, when the WAL holds no pages.
func (m *FileMemory) resetLastPage() error {
	fi, err := m.file.Stat()
	if err != nil {
		return utils.WrapError("tree file stat failed", err)
	}
	pages := fi.Size() / int64(m.conf.PageSize)
	if fi.Size()%int64(m.conf.PageSize) != 0 {
		pages++
	}
	m.lastPage = uint32(pages)
	if m.lastPage < 2 {
		// Page 0 is metadata, page 1 the initial root.
		m.lastPage = 2
	}
	m.lastPage--
	return nil
}

// GetNode returns the decoded node at the page, trying the cache, then the
// WAL, then the tree file.
func (m *FileMemory) GetNode(page uint32) (*core.Node, error) {
	if node, ok := m.cache.Get(page); ok {
		return node, nil
	}

	data, err := m.wal.GetPage(page)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data, err = m.readPage(page)
		if err != nil {
			return nil, err
		}
	}

	node, err := core.NodeFromPageData(m.conf, data, page)
	if err != nil {
		return nil, err
	}
	m.cache.Add(node)
	return node, nil
}

// SetNode serializes the node into a WAL page frame and refreshes the
// cache. Safe under the writer lock: a reader either took its snapshot
// before the write transaction started or is blocked until it ends.
func (m *FileMemory) SetNode(node *core.Node) error {
	data, err := node.Dump()
	if err != nil {
		return err
	}
	if err := m.wal.SetPage(node.Page, data); err != nil {
		return err
	}
	m.cache.Add(node)
	return nil
}

// GetPageData returns raw page bytes (WAL first), for pages that are not
// nodes, such as overflow pages.
func (m *FileMemory) GetPageData(page uint32) ([]byte, error) {
	data, err := m.wal.GetPage(page)
	if err != nil {
		return nil, err
	}
	if data != nil {
		return data, nil
	}
	return m.readPage(page)
}

// SetPageData writes raw page bytes through the WAL.
func (m *FileMemory) SetPageData(page uint32, data []byte) error {
	return m.wal.SetPage(page, data)
}

// NextAvailablePage pops the free list head, or extends the file by one
// page when the free list is empty.
func (m *FileMemory) NextAvailablePage() (uint32, error) {
	if m.freelistHead == 0 {
		m.lastPage++
		return m.lastPage, nil
	}

	page := m.freelistHead
	node, err := m.GetNode(page)
	if err != nil {
		return 0, err
	}
	if node.Kind != core.KindFreelist {
		return 0, fmt.Errorf("%w: free list head %d is a %s node",
			core.ErrCorruptPage, page, node.Kind)
	}
	m.freelistHead = node.NextPage
	return page, nil
}

// FreePage links the page into the free list. The freelist node goes
// through the WAL like any other page; the metadata head is flushed when
// the surrounding transaction commits.
func (m *FileMemory) FreePage(page uint32) error {
	node := core.NewNode(m.conf, core.KindFreelist, page)
	node.NextPage = m.freelistHead
	if err := m.SetNode(node); err != nil {
		return err
	}
	m.freelistHead = page
	return nil
}

// GetMetadata reads page 0 directly from the tree file.
func (m *FileMemory) GetMetadata() (*core.Metadata, error) {
	return m.readMetadataFromFile()
}

// SetMetadata writes page 0 directly to the tree file with an fsync,
// bypassing the WAL.
func (m *FileMemory) SetMetadata(rootPage uint32) error {
	m.rootPage = rootPage
	return m.writeMetadata()
}

func (m *FileMemory) writeMetadata() error {
	meta := &core.Metadata{
		RootPage:     m.rootPage,
		PageSize:     uint32(m.conf.PageSize),
		Order:        uint32(m.conf.Order),
		KeySize:      uint32(m.conf.KeySize),
		ValueSize:    uint32(m.conf.ValueSize),
		FreelistHead: m.freelistHead,
	}
	if err := m.writePage(0, meta.Dump()); err != nil {
		return err
	}
	if err := syncFile(m.file); err != nil {
		return utils.WrapError("metadata sync failed", err)
	}
	return nil
}

func (m *FileMemory) readMetadataFromFile() (*core.Metadata, error) {
	data := make([]byte, core.MetadataBytes)
	if _, err := m.file.ReadAt(data, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrReachedEndOfFile
		}
		return nil, utils.WrapError("metadata read failed", err)
	}
	return core.LoadMetadata(data)
}

// ReadTransaction runs fn under the reader lock. Reads inside fn observe
// either the full pre-transaction state or the full post-commit state of
// any writer.
func (m *FileMemory) ReadTransaction(fn func() error) error {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn()
}

// WriteTransaction runs fn under the writer lock. When fn succeeds the WAL
// commits and then a changed free-list head is flushed to page 0; when it
// fails the WAL rolls back, the cache is purged because decoded nodes may
// carry mutations the WAL cannot undo, the allocation counters and root
// page are restored to their values at the start of the transaction, and
// page 0 is rewritten if fn had changed the root or free-list head.
func (m *FileMemory) WriteTransaction(fn func() error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrClosed
	}

	lastPage, freelistHead, rootPage := m.lastPage, m.freelistHead, m.rootPage

	if err := fn(); err != nil {
		rollbackErr := m.wal.Rollback()
		m.cache.Purge()
		changed := m.rootPage != rootPage || m.freelistHead != freelistHead
		m.lastPage, m.freelistHead, m.rootPage = lastPage, freelistHead, rootPage
		if changed {
			// fn wrote page 0 for a root or free list change that the
			// rollback just undid; point the metadata back at the
			// committed state.
			if metaErr := m.writeMetadata(); metaErr != nil {
				rollbackErr = errors.Join(rollbackErr, metaErr)
			}
		}
		if rollbackErr != nil {
			return errors.Join(err, rollbackErr)
		}
		return err
	}

	if err := m.wal.Commit(); err != nil {
		return err
	}
	if m.freelistHead != freelistHead {
		if err := m.writeMetadata(); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint drains committed WAL frames into the tree file under the
// writer lock and opens a fresh WAL.
func (m *FileMemory) Checkpoint() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.performCheckpoint(true)
}

func (m *FileMemory) performCheckpoint(reopenWAL bool) error {
	err := m.wal.Checkpoint(func(page uint32, data []byte) error {
		return m.writePage(page, data)
	})
	if err != nil {
		return err
	}
	if err := syncFile(m.file); err != nil {
		return utils.WrapError("tree file sync failed", err)
	}
	if !reopenWAL {
		return nil
	}
	m.wal, err = OpenWAL(m.filename, m.conf.PageSize)
	return err
}

// Close checkpoints the WAL and releases the file descriptors.
func (m *FileMemory) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.performCheckpoint(false); err != nil {
		return err
	}
	return m.file.Close()
}

func (m *FileMemory) readPage(page uint32) ([]byte, error) {
	data := make([]byte, m.conf.PageSize)
	offset := int64(page) * int64(m.conf.PageSize)
	if _, err := m.file.ReadAt(data, offset); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: page %d", ErrReachedEndOfFile, page)
		}
		return nil, utils.WrapError("page read failed", err)
	}
	return data, nil
}

func (m *FileMemory) writePage(page uint32, data []byte) error {
	if len(data) > m.conf.PageSize {
		return fmt.Errorf("%w: page write of %d bytes", core.ErrCorruptPage, len(data))
	}
	offset := int64(page) * int64(m.conf.PageSize)
	if _, err := m.file.WriteAt(data, offset); err != nil {
		return utils.WrapError("page write failed", err)
	}
	return nil
}
