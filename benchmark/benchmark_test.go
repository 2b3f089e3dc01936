package benchmark

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hb9tf/iqdump/sdr"
)

// fakeStreamer finishes streaming at a speed given by rate (ms of data per second).
type fakeStreamer struct {
	now    time.Time
	end    time.Time
	active bool
	params *sdr.StreamParams
	rate   func(length time.Duration) float64
	failOn time.Duration

	runs, stops int
}

func (f *fakeStreamer) Name() string { return "fake" }

func (f *fakeStreamer) ConfigureStream(p *sdr.StreamParams) error {
	f.params = p
	return nil
}

func (f *fakeStreamer) Run() error {
	if f.params.FileLength == f.failOn {
		return &sdr.DeviceError{Op: "DEVICE_Run", Code: -4, Msg: "transfer error"}
	}
	f.runs++
	return nil
}

func (f *fakeStreamer) SetStreamEnabled(enable bool) error {
	if enable {
		data := float64(f.params.FileLength.Milliseconds() * int64(f.params.FileCount))
		secs := data / f.rate(f.params.FileLength)
		f.end = f.now.Add(time.Duration(secs * float64(time.Second)))
		f.active = true
	}
	return nil
}

func (f *fakeStreamer) StreamActive() (bool, error) {
	if f.active && !f.now.Before(f.end) {
		f.active = false
	}
	return f.active, nil
}

func (f *fakeStreamer) Stop() error {
	f.stops++
	return nil
}

func (f *fakeStreamer) clock() time.Time { return f.now }

// sleep never oversleeps the end of the stream so elapsed time is exact.
func (f *fakeStreamer) sleep(d time.Duration) {
	next := f.now.Add(d)
	if f.active && next.After(f.end) {
		next = f.end
	}
	f.now = next
}

func newSweeper(t *testing.T, f *fakeStreamer, lengths []time.Duration) *Sweeper {
	return &Sweeper{
		Streamer: f,
		Dir:      t.TempDir(),
		Total:    30 * time.Second,
		Lengths:  lengths,
		Now:      f.clock,
		Sleep:    f.sleep,
	}
}

func TestSweepFindsMaximumRate(t *testing.T) {
	f := &fakeStreamer{
		now: time.Unix(1700000000, 0),
		rate: func(l time.Duration) float64 {
			d := l.Seconds() - 1.2
			return 1000 - 300*d*d
		},
	}
	s := newSweeper(t, f, Linspace(200*time.Millisecond, 3*time.Second, 15))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %s", err)
	}
	if len(res.Points) != 15 {
		t.Fatalf("points = %d, want 15", len(res.Points))
	}
	if res.Best.FileLength != 1200*time.Millisecond {
		t.Fatalf("best file length = %s, want 1.2s", res.Best.FileLength)
	}
	if math.Abs(res.Best.Rate-1000) > 1e-6 {
		t.Fatalf("best rate = %f, want 1000", res.Best.Rate)
	}
	for _, p := range res.Points {
		want := f.rate(p.FileLength)
		if math.Abs(p.Rate-want) > 1e-6 {
			t.Errorf("rate at %s = %f, want %f", p.FileLength, p.Rate, want)
		}
	}
	if f.runs != 15 || f.stops != 15 {
		t.Fatalf("runs/stops = %d/%d, want 15/15", f.runs, f.stops)
	}
}

func TestFailedPointContinues(t *testing.T) {
	f := &fakeStreamer{
		now:    time.Unix(1700000000, 0),
		rate:   func(l time.Duration) float64 { return 500 + l.Seconds() },
		failOn: time.Second,
	}
	s := newSweeper(t, f, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second})

	var seen []Point
	s.OnPoint = func(p Point) { seen = append(seen, p) }
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %s", err)
	}
	if len(seen) != 3 {
		t.Fatalf("OnPoint calls = %d, want 3", len(seen))
	}
	failed := res.Points[1]
	var devErr *sdr.DeviceError
	if !errors.As(failed.Err, &devErr) || failed.Rate != 0 {
		t.Fatalf("failed point = %+v", failed)
	}
	if res.Best.FileLength != 2*time.Second {
		t.Fatalf("best = %s, want 2s", res.Best.FileLength)
	}
}

func TestStateTransitions(t *testing.T) {
	f := &fakeStreamer{now: time.Unix(0, 0), rate: func(time.Duration) float64 { return 1000 }}
	s := newSweeper(t, f, []time.Duration{time.Second})
	var states []State
	s.OnState = func(st State, _ time.Duration) { states = append(states, st) }

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %s", err)
	}
	want := []State{Idle, Configuring, Streaming, Measuring, NextConfig, Done}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestFileCountAndScratchDir(t *testing.T) {
	f := &fakeStreamer{now: time.Unix(0, 0), rate: func(time.Duration) float64 { return 1000 }}
	s := newSweeper(t, f, []time.Duration{700 * time.Millisecond})
	leftover := filepath.Join(s.Dir, "if_capture-old.r3f")
	if err := os.WriteFile(leftover, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %s", err)
	}
	// round(30 / 0.7) = 43
	if got := res.Points[0].FileCount; got != 43 {
		t.Fatalf("file count = %d, want 43", got)
	}
	if f.params.FileLength != 700*time.Millisecond || f.params.Dir != s.Dir {
		t.Fatalf("stream params = %+v", f.params)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("leftover file still present: %v", err)
	}
}

func TestCancelledSweep(t *testing.T) {
	f := &fakeStreamer{now: time.Unix(0, 0), rate: func(time.Duration) float64 { return 1000 }}
	s := newSweeper(t, f, []time.Duration{time.Second, 2 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	s.OnPoint = func(Point) { cancel() }

	res, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if len(res.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(res.Points))
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(50*time.Millisecond, 3*time.Second, 60)
	if len(got) != 60 {
		t.Fatalf("len = %d, want 60", len(got))
	}
	if got[0] != 50*time.Millisecond || got[59] != 3*time.Second {
		t.Fatalf("range = %s..%s", got[0], got[59])
	}
	if got[1] != 100*time.Millisecond {
		t.Fatalf("step = %s, want 50ms", got[1]-got[0])
	}
	if Linspace(time.Second, 2*time.Second, 0) != nil {
		t.Fatal("Linspace(n=0) should be nil")
	}
}

func TestBest(t *testing.T) {
	pts := []Point{{FileLength: 1, Rate: 5}, {FileLength: 2, Rate: 9}, {FileLength: 3, Rate: 9}}
	if b := Best(pts); b.FileLength != 2 {
		t.Fatalf("Best() = %+v, want first maximum", b)
	}
}
