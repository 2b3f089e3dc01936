package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"

	"github.com/hb9tf/iqdump/iq"
)

// CSV indexes persisted records as CSV lines, e.g. on stdout.
type CSV struct {
	W     io.Writer
	RunID string

	mu     sync.Mutex
	w      *csv.Writer
	header bool
}

func (c *CSV) IndexBatch(ctx context.Context, recs []*iq.Record, paths []string) error {
	if len(recs) != len(paths) {
		return fmt.Errorf("got %d records but %d paths", len(recs), len(paths))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		c.w = csv.NewWriter(c.W)
	}
	if !c.header {
		c.w.Write([]string{
			"RunID",
			"Seq",
			"AcquiredUnixMicro",
			"Path",
			"Samples",
		})
		c.header = true
	}
	for i, r := range recs {
		if err := c.w.Write([]string{
			c.RunID,
			fmt.Sprintf("%d", r.Seq),
			fmt.Sprintf("%d", r.Time.UnixMicro()),
			paths[i],
			fmt.Sprintf("%d", len(r.Samples)),
		}); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}
