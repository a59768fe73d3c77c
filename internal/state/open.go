package state

import (
	"fmt"
	"path/filepath"

	"github.com/acolita/sshkeeper/internal/adapters/realfs"
	"github.com/acolita/sshkeeper/internal/ports"
)

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// OpenOptions selects and configures a store.
type OpenOptions struct {
	Driver string // "file" (default) or "sqlite"
	Path   string // empty selects the default under ~/.cache/sshkeeper
	FS     ports.FileSystem
	Clock  ports.Clock
}

// Open returns the store named by opts.Driver.
func Open(opts OpenOptions) (Store, error) {
	switch opts.Driver {
	case "", DriverFile:
		fileOpts := []FileStoreOption{}
		if opts.FS != nil {
			fileOpts = append(fileOpts, WithFileSystem(opts.FS))
		}
		if opts.Clock != nil {
			fileOpts = append(fileOpts, WithClock(opts.Clock))
		}
		if opts.Path != "" {
			fileOpts = append(fileOpts, WithPath(opts.Path))
		}
		return NewFileStore(fileOpts...), nil

	case DriverSQLite:
		path := opts.Path
		if path == "" {
			fsys := opts.FS
			if fsys == nil {
				fsys = realfs.New()
			}
			home, err := fsys.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolve home dir: %w", err)
			}
			path = filepath.Join(home, ".cache", "sshkeeper", "connections.db")
		}
		return OpenSQLite(path, opts.Clock)

	default:
		return nil, fmt.Errorf("unknown state driver %q", opts.Driver)
	}
}
