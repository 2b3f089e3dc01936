package export

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/iqdump/queue"
	"github.com/hb9tf/iqdump/stats"
)

const batchCountInfo = 100

// Writer drains batches from the queue and persists them one record at a time,
// in the order they were queued. It returns once it pops the shutdown message.
type Writer struct {
	Queue *queue.Queue
	Store Store
	// Index is optional.
	Index    Indexer
	Progress *stats.Progress

	stats *stats.Collector
}

func NewWriter(q *queue.Queue, store Store, m *stats.Metrics) *Writer {
	return &Writer{
		Queue: q,
		Store: store,
		stats: stats.NewCollector(m),
	}
}

// Run consumes batches until the shutdown message. A storage error stops the
// writer immediately and is returned.
func (w *Writer) Run(ctx context.Context) error {
	if w.stats == nil {
		w.stats = stats.NewCollector(nil)
	}

	counts := map[string]int{
		"batches":      0,
		"records":      0,
		"index_errors": 0,
	}
	for {
		m := w.Queue.Pop()
		if m.Shutdown {
			glog.V(1).Infof("Writer received shutdown, export counts: %+v", counts)
			return nil
		}

		start := time.Now()
		paths := make([]string, 0, m.Batch.Len())
		for _, rec := range m.Batch.Records {
			path, err := w.Store.Put(rec)
			if err != nil {
				return err
			}
			paths = append(paths, path)
		}
		w.stats.Observe(stats.StageWrite, time.Since(start))

		counts["batches"] += 1
		counts["records"] += len(paths)
		if w.Progress != nil {
			w.Progress.BatchWritten(len(paths))
		}
		if w.Index != nil {
			if err := w.Index.IndexBatch(ctx, m.Batch.Records, paths); err != nil {
				counts["index_errors"] += 1
				glog.Warningf("error indexing batch %d: %s\n", m.Batch.Seq, err)
			}
		}
		if counts["batches"]%batchCountInfo == 0 {
			glog.Infof("Batch export counts: %+v\n", counts)
		}
	}
}

func (w *Writer) Stats() *stats.Collector {
	return w.stats
}
