package export

import (
	"context"
	"fmt"

	"github.com/hb9tf/iqdump/iq"
)

// Store persists single IQ records and returns where each one was written.
type Store interface {
	Put(rec *iq.Record) (string, error)
}

// Indexer keeps track of persisted records, e.g. in a database.
type Indexer interface {
	IndexBatch(ctx context.Context, recs []*iq.Record, paths []string) error
}

// StorageError is returned when a record could not be persisted.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("unable to write %q: %s", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
