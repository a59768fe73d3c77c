// Package realfs backs ports.FileSystem with the os package.
package realfs

import (
	"io/fs"
	"os"

	"github.com/acolita/sshkeeper/internal/ports"
)

// FS is the process filesystem and environment.
type FS struct{}

var _ ports.FileSystem = (*FS)(nil)

func New() *FS { return &FS{} }

func (*FS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (*FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (*FS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (*FS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

func (*FS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (*FS) Remove(name string) error { return os.Remove(name) }

func (*FS) UserHomeDir() (string, error) { return os.UserHomeDir() }

func (*FS) Getenv(key string) string { return os.Getenv(key) }
