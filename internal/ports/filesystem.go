package ports

import "io/fs"

// FileSystem is the slice of the OS that config loading, the state file
// and key lookup touch. Getenv lives here too so secret resolution can be
// faked alongside the files it reads.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
	// Rename replaces newpath atomically where the platform allows it.
	Rename(oldpath, newpath string) error
	Remove(name string) error
	UserHomeDir() (string, error)
	Getenv(key string) string
}
