//go:build unix

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile flushes file contents to stable storage.
func syncFile(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}

// syncDir flushes directory entries after a file create or unlink.
func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return unix.Fsync(int(d.Fd()))
}
