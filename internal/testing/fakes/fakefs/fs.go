// Package fakefs is an in-memory ports.FileSystem with an environment map
// and per-operation fault injection.
package fakefs

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Op names an operation that can be made to fail with FailOn.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpRename Op = "rename"
	OpRemove Op = "remove"
	OpMkdir  Op = "mkdir"
)

type file struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

// FS is safe for concurrent use. Paths are slash-separated and cleaned.
type FS struct {
	mu     sync.RWMutex
	files  map[string]*file
	dirs   map[string]bool
	env    map[string]string
	home   string
	now    func() time.Time
	faults map[Op]error
}

var _ ports.FileSystem = (*FS)(nil)

func New() *FS {
	return &FS{
		files:  make(map[string]*file),
		dirs:   map[string]bool{"/": true},
		env:    make(map[string]string),
		home:   "/home/test",
		now:    func() time.Time { return time.Unix(0, 0).UTC() },
		faults: make(map[Op]error),
	}
}

// WithClock stamps written files with clk's time.
func (f *FS) WithClock(clk ports.Clock) *FS {
	f.mu.Lock()
	f.now = clk.Now
	f.mu.Unlock()
	return f
}

// FailOn makes every later op return err until cleared with a nil err.
func (f *FS) FailOn(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.faults, op)
		return
	}
	f.faults[op] = err
}

func (f *FS) fault(op Op, name string) error {
	if err, ok := f.faults[op]; ok {
		return &fs.PathError{Op: string(op), Path: name, Err: err}
	}
	return nil
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	name = path.Clean(name)
	if err := f.fault(OpRead, name); err != nil {
		return nil, err
	}
	fl, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), fl.data...), nil
}

// WriteFile creates missing parent directories, unlike os.WriteFile.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = path.Clean(name)
	if err := f.fault(OpWrite, name); err != nil {
		return err
	}
	f.addDirs(path.Dir(name))
	f.files[name] = &file{data: append([]byte(nil), data...), mode: perm, modTime: f.now()}
	return nil
}

func (f *FS) addDirs(dir string) {
	for dir != "/" && dir != "." && !f.dirs[dir] {
		f.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	name = path.Clean(name)
	if f.dirs[name] {
		return info{name: path.Base(name), mode: fs.ModeDir | 0755, modTime: f.now()}, nil
	}
	fl, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return info{name: path.Base(name), size: int64(len(fl.data)), mode: fl.mode, modTime: fl.modTime}, nil
}

func (f *FS) MkdirAll(dir string, _ fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir = path.Clean(dir)
	if err := f.fault(OpMkdir, dir); err != nil {
		return err
	}
	f.addDirs(dir)
	return nil
}

func (f *FS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	oldpath, newpath = path.Clean(oldpath), path.Clean(newpath)
	if err := f.fault(OpRename, oldpath); err != nil {
		return err
	}
	fl, ok := f.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	f.addDirs(path.Dir(newpath))
	f.files[newpath] = fl
	delete(f.files, oldpath)
	return nil
}

// Remove deletes a file or an empty directory.
func (f *FS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = path.Clean(name)
	if err := f.fault(OpRemove, name); err != nil {
		return err
	}
	if _, ok := f.files[name]; ok {
		delete(f.files, name)
		return nil
	}
	if !f.dirs[name] {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	prefix := name + "/"
	for p := range f.files {
		if strings.HasPrefix(p, prefix) {
			return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrExist}
		}
	}
	for d := range f.dirs {
		if strings.HasPrefix(d, prefix) {
			return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrExist}
		}
	}
	delete(f.dirs, name)
	return nil
}

func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.home, nil
}

func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// AddFile seeds a file, bypassing any injected write fault.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = path.Clean(name)
	f.addDirs(path.Dir(name))
	f.files[name] = &file{data: append([]byte(nil), data...), mode: mode, modTime: f.now()}
}

func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	f.home = dir
	f.mu.Unlock()
}

func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	f.env[key] = value
	f.mu.Unlock()
}

// Files lists every file path in sorted order.
func (f *FS) Files() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type info struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (i info) Name() string       { return i.name }
func (i info) Size() int64        { return i.size }
func (i info) Mode() fs.FileMode  { return i.mode }
func (i info) ModTime() time.Time { return i.modTime }
func (i info) IsDir() bool        { return i.mode.IsDir() }
func (i info) Sys() any           { return nil }
