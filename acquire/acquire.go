// Package acquire pulls fixed-length IQ records from a device session and
// hands them to the writer in batches.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/iqdump/iq"
	"github.com/hb9tf/iqdump/queue"
	"github.com/hb9tf/iqdump/sdr"
	"github.com/hb9tf/iqdump/stats"
)

// ErrNoData is returned in single-shot mode when the device had no data within the timeout.
var ErrNoData = errors.New("no IQ data acquired")

type Mode int

const (
	// Continuous skips attempts which time out and keeps acquiring.
	Continuous Mode = iota
	// SingleShot stops on the first attempt which times out.
	SingleShot
)

func (m Mode) String() string {
	if m == SingleShot {
		return "single"
	}
	return "continuous"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "continuous", "":
		return Continuous, nil
	case "single", "single-shot":
		return SingleShot, nil
	}
	return 0, fmt.Errorf("%q is not a supported acquisition mode, pick one of: continuous, single", s)
}

type Acquirer struct {
	Session sdr.Session
	Queue   *queue.Queue

	RecordLength int
	BatchSize    int
	Timeout      time.Duration
	Mode         Mode
	// MaxRecords stops the loop after that many records. 0 means no limit.
	MaxRecords int

	Progress *stats.Progress
	// Now defaults to time.Now.
	Now func() time.Time

	stats      *stats.Collector
	start      time.Time
	seq        uint64
	notReady   int
	batchSeq   uint64
	batch      *iq.Batch
	last       time.Time
	timestamps []time.Time
}

// New returns an acquirer for an already configured session.
func New(s sdr.Session, q *queue.Queue, m *stats.Metrics) *Acquirer {
	return &Acquirer{
		Session: s,
		Queue:   q,
		Now:     time.Now,
		stats:   stats.NewCollector(m),
	}
}

// Run acquires records until ctx is done, MaxRecords is reached or an error occurs.
// A partially filled batch is kept until Flush is called.
func (a *Acquirer) Run(ctx context.Context) error {
	if a.RecordLength <= 0 || a.BatchSize <= 0 {
		return fmt.Errorf("invalid record length %d or batch size %d", a.RecordLength, a.BatchSize)
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.stats == nil {
		a.stats = stats.NewCollector(nil)
	}
	if a.start.IsZero() {
		a.start = a.Now()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if a.MaxRecords > 0 && int(a.seq) >= a.MaxRecords {
			return nil
		}

		err := a.acquireOne()
		switch {
		case errors.Is(err, sdr.ErrNotReady):
			a.notReady++
			if a.Progress != nil {
				a.Progress.NotReady()
			}
			if a.Mode == SingleShot {
				return ErrNoData
			}
			glog.Warningf("no IQ data within %s, skipping", a.Timeout)
			continue
		case err != nil:
			return err
		}
	}
}

// acquireOne times every attempt as an acquisition, including attempts which
// time out or fail.
func (a *Acquirer) acquireOne() error {
	t0 := a.Now()
	err := a.attempt(t0)
	a.stats.Observe(stats.StageAcquire, a.Now().Sub(t0))
	return err
}

func (a *Acquirer) attempt(t0 time.Time) error {
	if err := a.Session.Run(); err != nil {
		return err
	}
	t1 := a.Now()
	a.stats.Observe(stats.StageDeviceRun, t1.Sub(t0))

	ready, err := a.Session.WaitForIQ(a.Timeout)
	if err != nil {
		return err
	}
	t2 := a.Now()
	a.stats.Observe(stats.StageDataReady, t2.Sub(t1))
	if !ready {
		return sdr.ErrNotReady
	}

	samples := make([]complex64, a.RecordLength)
	n, err := a.Session.ReadIQ(samples)
	if err != nil {
		return err
	}
	t3 := a.Now()
	a.stats.Observe(stats.StageDataGet, t3.Sub(t2))
	if n != a.RecordLength {
		return fmt.Errorf("short IQ record: got %d of %d samples", n, a.RecordLength)
	}

	rec := &iq.Record{
		Seq:     a.seq,
		Time:    a.stamp(t3),
		Elapsed: t3.Sub(a.start),
		Samples: samples,
	}
	a.seq++
	a.timestamps = append(a.timestamps, rec.Time)
	if a.Progress != nil {
		a.Progress.Acquired()
	}
	if a.batch == nil {
		a.batch = &iq.Batch{Seq: a.batchSeq}
	}
	a.batch.Records = append(a.batch.Records, rec)

	var pushErr error
	if a.batch.Len() >= a.BatchSize {
		pushErr = a.seal()
	}
	a.stats.Observe(stats.StageBookkeeping, a.Now().Sub(t3))
	return pushErr
}

// stamp truncates t to microseconds and keeps it strictly after the previous
// stamp, so file names never collide.
func (a *Acquirer) stamp(t time.Time) time.Time {
	t = t.Truncate(time.Microsecond)
	if !a.last.IsZero() && !t.After(a.last) {
		t = a.last.Add(time.Microsecond)
	}
	a.last = t
	return t
}

func (a *Acquirer) seal() error {
	b := a.batch
	a.batch = nil
	a.batchSeq++
	return a.Queue.Push(b)
}

// Flush pushes the partially filled batch, if any, and returns its size.
func (a *Acquirer) Flush() (int, error) {
	if a.batch == nil || a.batch.Len() == 0 {
		return 0, nil
	}
	n := a.batch.Len()
	return n, a.seal()
}

// Timestamps returns the acquisition timestamps of all records in order.
func (a *Acquirer) Timestamps() []time.Time {
	return a.timestamps
}

func (a *Acquirer) Stats() *stats.Collector {
	return a.stats
}

// Count returns the number of records acquired so far.
func (a *Acquirer) Count() int {
	return int(a.seq)
}

// NotReady returns the number of attempts which timed out.
func (a *Acquirer) NotReady() int {
	return a.notReady
}
