//go:build !unix

package storage

import "os"

func syncFile(f *os.File) error {
	return f.Sync()
}

// Platforms without directory file descriptors skip the directory sync;
// the file sync on commit is still performed.
func syncDir(string) error {
	return nil
}
