package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
)

// File is an [Interface] implementation that keeps the state in memory and
// writes it to a JSON file on every change.
type File struct {
	*Memory

	// path is the path to the state file.
	path string
}

// NewFile returns a new file storage.  If the file at path exists, the state
// is loaded from it.
func NewFile(path string) (f *File, err error) {
	f = &File{
		Memory: NewMemory(),
		path:   path,
	}

	f.Memory.flush = f.write

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	if len(data) == 0 {
		return f, nil
	}

	err = json.Unmarshal(data, f.Memory.st)
	if err != nil {
		return nil, fmt.Errorf("decoding state file %q: %w", path, err)
	}

	return f, nil
}

// type check
var _ Interface = (*File)(nil)

// write atomically replaces the state file with st.
func (f *File) write(st *state) (err error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir, base := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, os.Remove(tmpName))
		}
	}()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}

	err = errors.WithDeferred(err, tmp.Close())
	if err != nil {
		return fmt.Errorf("writing temporary state file: %w", err)
	}

	return os.Rename(tmpName, f.path)
}
