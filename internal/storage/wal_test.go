package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWALPageSize = 64

func testPage(fill byte) []byte {
	data := make([]byte, testWALPageSize)
	for i := range data {
		data[i] = fill
	}
	return data
}

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	treeFile := filepath.Join(t.TempDir(), "index.db")
	w, err := OpenWAL(treeFile, testWALPageSize)
	require.NoError(t, err)
	return w, treeFile
}

func TestWALSetGetPage(t *testing.T) {
	w, _ := openTestWAL(t)
	defer func() { _ = w.Close() }()

	data, err := w.GetPage(3)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, w.SetPage(3, testPage('a')))
	data, err = w.GetPage(3)
	require.NoError(t, err)
	assert.Equal(t, testPage('a'), data)

	// Last write wins before commit.
	require.NoError(t, w.SetPage(3, testPage('b')))
	data, err = w.GetPage(3)
	require.NoError(t, err)
	assert.Equal(t, testPage('b'), data)
}

func TestWALRejectsShortPayload(t *testing.T) {
	w, _ := openTestWAL(t)
	defer func() { _ = w.Close() }()

	assert.Error(t, w.SetPage(1, []byte("short")))
}

func TestWALCommitAndRollback(t *testing.T) {
	w, _ := openTestWAL(t)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.SetPage(1, testPage('a')))
	require.NoError(t, w.Commit())

	require.NoError(t, w.SetPage(1, testPage('b')))
	require.NoError(t, w.SetPage(2, testPage('c')))
	require.NoError(t, w.Rollback())

	// The rollback dropped page 2 and restored page 1.
	data, err := w.GetPage(1)
	require.NoError(t, err)
	assert.Equal(t, testPage('a'), data)

	data, err = w.GetPage(2)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestWALEmptyCommitIsNoop(t *testing.T) {
	w, treeFile := openTestWAL(t)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.Commit())
	require.NoError(t, w.Rollback())

	fi, err := os.Stat(treeFile + WALSuffix)
	require.NoError(t, err)
	assert.Equal(t, int64(walHeaderBytes), fi.Size())
}

func TestWALRecovery(t *testing.T) {
	w, treeFile := openTestWAL(t)

	require.NoError(t, w.SetPage(1, testPage('a')))
	require.NoError(t, w.SetPage(2, testPage('b')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.SetPage(2, testPage('z'))) // never committed
	require.NoError(t, w.Close())                   // crash: no checkpoint

	w, err := OpenWAL(treeFile, testWALPageSize)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.True(t, w.NeedsRecovery())

	data, err := w.GetPage(1)
	require.NoError(t, err)
	assert.Equal(t, testPage('a'), data)

	// The trailing uncommitted frame was discarded.
	data, err = w.GetPage(2)
	require.NoError(t, err)
	assert.Equal(t, testPage('b'), data)
}

func TestWALRecoveryTornTail(t *testing.T) {
	w, treeFile := openTestWAL(t)
	require.NoError(t, w.SetPage(1, testPage('a')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	// Append a torn page frame, as a crash mid-write would leave.
	f, err := os.OpenFile(treeFile+WALSuffix, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(framePage), 9, 0, 0, 0, 'x', 'x'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = OpenWAL(treeFile, testWALPageSize)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	data, err := w.GetPage(1)
	require.NoError(t, err)
	assert.Equal(t, testPage('a'), data)

	data, err = w.GetPage(9)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestWALRecoveryPageSizeMismatch(t *testing.T) {
	w, treeFile := openTestWAL(t)
	require.NoError(t, w.SetPage(1, testPage('a')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	_, err := OpenWAL(treeFile, testWALPageSize*2)
	assert.Error(t, err)
}

func TestWALCheckpoint(t *testing.T) {
	w, treeFile := openTestWAL(t)

	require.NoError(t, w.SetPage(2, testPage('a')))
	require.NoError(t, w.SetPage(5, testPage('b')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.SetPage(2, testPage('c')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.SetPage(7, testPage('d'))) // uncommitted, must not appear

	applied := map[uint32][]byte{}
	var order []uint32
	require.NoError(t, w.Checkpoint(func(page uint32, data []byte) error {
		applied[page] = data
		order = append(order, page)
		return nil
	}))

	assert.Equal(t, []uint32{2, 5}, order)
	assert.Equal(t, testPage('c'), applied[2]) // duplicates collapsed to the latest write
	assert.Equal(t, testPage('b'), applied[5])

	_, err := os.Stat(treeFile + WALSuffix)
	assert.True(t, os.IsNotExist(err))
}
