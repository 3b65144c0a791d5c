package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scigolib/bptree/internal/core"
	"github.com/scigolib/bptree/internal/utils"
)

// WALSuffix is appended to the tree file name to form the WAL file name.
const WALSuffix = "-wal"

type frameType uint8

// WAL frame types. PAGE frames carry a full page payload; COMMIT and
// ROLLBACK frames have no payload and a zero page field.
const (
	framePage     frameType = 1
	frameCommit   frameType = 2
	frameRollback frameType = 3
)

const frameHeaderBytes = core.FrameTypeBytes + core.PageReferenceBytes

// walHeaderBytes is the fixed file header holding the page size.
const walHeaderBytes = 4

// WAL is the append-only frame log backing atomic commit and crash
// recovery. Page frames are buffered by offset in two maps: pages written
// since the last commit, and pages made durable by a COMMIT frame. PAGE
// frames are not synced; COMMIT and ROLLBACK frames sync the file and its
// directory.
type WAL struct {
	file     *os.File
	filename string
	dirPath  string
	pageSize int

	committedPages    map[uint32]int64
	notCommittedPages map[uint32]int64
	committedOrder    []uint32
	notCommittedOrder []uint32

	appendOffset  int64
	needsRecovery bool
}

// OpenWAL opens or creates the WAL next to the tree file. A non-empty WAL
// is replayed frame by frame: trailing frames without a COMMIT are
// discarded, and the WAL is flagged for an immediate checkpoint.
func OpenWAL(treeFilename string, pageSize int) (*WAL, error) {
	filename := treeFilename + WALSuffix
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, utils.WrapError("wal open failed", err)
	}

	w := &WAL{
		file:              f,
		filename:          filename,
		dirPath:           filepath.Dir(filename),
		pageSize:          pageSize,
		committedPages:    make(map[uint32]int64),
		notCommittedPages: make(map[uint32]int64),
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError("wal stat failed", err)
	}

	if fi.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
		return w, nil
	}

	if err := w.replay(fi.Size()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAL) writeHeader() error {
	header := make([]byte, walHeaderBytes)
	utils.PutUint32(header, uint32(w.pageSize))
	if _, err := w.file.WriteAt(header, 0); err != nil {
		return utils.WrapError("wal header write failed", err)
	}
	if err := syncFile(w.file); err != nil {
		return utils.WrapError("wal header sync failed", err)
	}
	if err := syncDir(w.dirPath); err != nil {
		return utils.WrapError("wal directory sync failed", err)
	}
	w.appendOffset = walHeaderBytes
	return nil
}

// replay rebuilds the committed and uncommitted page maps from an
// existing WAL file. A partial trailing frame is treated like any other
// uncommitted tail and discarded.
func (w *WAL) replay(size int64) error {
	header := make([]byte, walHeaderBytes)
	if _, err := w.file.ReadAt(header, 0); err != nil {
		return utils.WrapError("wal header read failed", err)
	}
	if got := int(utils.Uint32(header)); got != w.pageSize {
		return fmt.Errorf("%w: wal page size %d does not match tree page size %d",
			core.ErrCorruptPage, got, w.pageSize)
	}

	offset := int64(walHeaderBytes)
	frame := make([]byte, frameHeaderBytes)
	for offset+frameHeaderBytes <= size {
		if _, err := w.file.ReadAt(frame, offset); err != nil {
			return utils.WrapError("wal frame read failed", err)
		}
		page := utils.Uint32(frame[core.FrameTypeBytes:])

		switch frameType(frame[0]) {
		case framePage:
			payload := offset + frameHeaderBytes
			if payload+int64(w.pageSize) > size {
				// Torn tail from a crash mid-append.
				offset = size
				continue
			}
			w.recordPage(page, payload)
			offset = payload + int64(w.pageSize)
		case frameCommit:
			w.promoteNotCommitted()
			offset += frameHeaderBytes
		case frameRollback:
			w.dropNotCommitted()
			offset += frameHeaderBytes
		default:
			return fmt.Errorf("%w: unknown wal frame type %d", core.ErrCorruptPage, frame[0])
		}
	}

	// Frames after the last COMMIT never became durable.
	w.dropNotCommitted()
	w.appendOffset = size
	w.needsRecovery = true
	return nil
}

func (w *WAL) recordPage(page uint32, payloadOffset int64) {
	if _, seen := w.notCommittedPages[page]; !seen {
		w.notCommittedOrder = append(w.notCommittedOrder, page)
	}
	w.notCommittedPages[page] = payloadOffset
}

func (w *WAL) promoteNotCommitted() {
	for _, page := range w.notCommittedOrder {
		if _, seen := w.committedPages[page]; !seen {
			w.committedOrder = append(w.committedOrder, page)
		}
		w.committedPages[page] = w.notCommittedPages[page]
	}
	w.dropNotCommitted()
}

func (w *WAL) dropNotCommitted() {
	w.notCommittedPages = make(map[uint32]int64)
	w.notCommittedOrder = w.notCommittedOrder[:0]
}

// NeedsRecovery reports whether the WAL held frames at open time, in which
// case the owner must checkpoint immediately.
func (w *WAL) NeedsRecovery() bool { return w.needsRecovery }

// SetPage appends a PAGE frame without syncing.
func (w *WAL) SetPage(page uint32, data []byte) error {
	if len(data) != w.pageSize {
		return fmt.Errorf("%w: page frame payload has %d bytes, expected %d",
			core.ErrCorruptPage, len(data), w.pageSize)
	}

	buf := utils.GetBuffer(frameHeaderBytes + w.pageSize)
	defer utils.ReleaseBuffer(buf)
	buf[0] = byte(framePage)
	utils.PutUint32(buf[core.FrameTypeBytes:], page)
	copy(buf[frameHeaderBytes:], data)

	if _, err := w.file.WriteAt(buf, w.appendOffset); err != nil {
		return utils.WrapError("wal page frame write failed", err)
	}
	w.recordPage(page, w.appendOffset+frameHeaderBytes)
	w.appendOffset += int64(frameHeaderBytes + w.pageSize)
	return nil
}

// GetPage returns the most recent payload logged for the page, looking at
// uncommitted frames first, or nil when the WAL holds nothing for it.
func (w *WAL) GetPage(page uint32) ([]byte, error) {
	offset, ok := w.notCommittedPages[page]
	if !ok {
		if offset, ok = w.committedPages[page]; !ok {
			return nil, nil
		}
	}
	data := make([]byte, w.pageSize)
	if _, err := w.file.ReadAt(data, offset); err != nil {
		return nil, utils.WrapError("wal payload read failed", err)
	}
	return data, nil
}

func (w *WAL) appendBareFrame(t frameType) error {
	frame := make([]byte, frameHeaderBytes)
	frame[0] = byte(t)
	if _, err := w.file.WriteAt(frame, w.appendOffset); err != nil {
		return utils.WrapError("wal frame write failed", err)
	}
	w.appendOffset += frameHeaderBytes
	if err := syncFile(w.file); err != nil {
		return utils.WrapError("wal sync failed", err)
	}
	if err := syncDir(w.dirPath); err != nil {
		return utils.WrapError("wal directory sync failed", err)
	}
	return nil
}

// Commit makes every page frame since the last commit durable. A commit
// with no pending frames is a no-op.
func (w *WAL) Commit() error {
	if len(w.notCommittedPages) == 0 {
		return nil
	}
	if err := w.appendBareFrame(frameCommit); err != nil {
		return err
	}
	w.promoteNotCommitted()
	return nil
}

// Rollback discards every page frame since the last commit. A rollback
// with no pending frames is a no-op.
func (w *WAL) Rollback() error {
	if len(w.notCommittedPages) == 0 {
		return nil
	}
	if err := w.appendBareFrame(frameRollback); err != nil {
		return err
	}
	w.dropNotCommitted()
	return nil
}

// Checkpoint feeds every committed page, in first-write order with
// duplicates collapsed to the latest payload, to apply; it then closes and
// unlinks the WAL file and syncs the directory. The WAL must not be used
// afterwards.
func (w *WAL) Checkpoint(apply func(page uint32, data []byte) error) error {
	for _, page := range w.committedOrder {
		data := make([]byte, w.pageSize)
		if _, err := w.file.ReadAt(data, w.committedPages[page]); err != nil {
			return utils.WrapError("wal payload read failed", err)
		}
		if err := apply(page, data); err != nil {
			return err
		}
	}

	if err := w.file.Close(); err != nil {
		return utils.WrapError("wal close failed", err)
	}
	if err := os.Remove(w.filename); err != nil {
		return utils.WrapError("wal unlink failed", err)
	}
	if err := syncDir(w.dirPath); err != nil {
		return utils.WrapError("wal directory sync failed", err)
	}

	w.file = nil
	w.committedPages = make(map[uint32]int64)
	w.committedOrder = nil
	w.dropNotCommitted()
	w.needsRecovery = false
	return nil
}

// Close releases the WAL file descriptor without checkpointing. Committed
// frames stay on disk and are recovered on the next open.
func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ErrReachedEndOfFile reports a page read beyond the end of the tree file.
var ErrReachedEndOfFile = errors.New("read past the end of the file")

// ErrNoSuchDirectory reports a tree path whose directory does not exist.
var ErrNoSuchDirectory = errors.New("directory of the tree file does not exist")
