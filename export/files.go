package export

import (
	"os"
	"path/filepath"

	"github.com/hb9tf/iqdump/iq"
)

// Files writes one binary file per record into Dir.
type Files struct {
	Dir    string
	Layout iq.Layout
}

// Prepare creates the output directory.
func (f *Files) Prepare() error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return &StorageError{Path: f.Dir, Err: err}
	}
	return nil
}

func (f *Files) Put(rec *iq.Record) (string, error) {
	path := filepath.Join(f.Dir, rec.Filename())
	if err := iq.WriteFile(path, rec.Samples, f.Layout); err != nil {
		return "", &StorageError{Path: path, Err: err}
	}
	return path, nil
}
