// Package benchmark sweeps the per-file duration of device side IF streaming
// and finds the one which captures the most data per wall clock second.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/iqdump/sdr"
)

type State int

const (
	Idle State = iota
	Configuring
	Streaming
	Measuring
	NextConfig
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Streaming:
		return "streaming"
	case Measuring:
		return "measuring"
	case NextConfig:
		return "next"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Point is the outcome of streaming with one file length.
type Point struct {
	FileLength time.Duration
	FileCount  int
	Elapsed    time.Duration
	// Rate is the captured data in milliseconds per wall clock second.
	Rate float64
	Err  error
}

type Result struct {
	Points []Point
	Best   Point
}

type Sweeper struct {
	Streamer sdr.IFStreamer
	// Dir is a scratch directory. It is emptied before every point.
	Dir          string
	FilenameBase string
	// Total is the amount of data captured per point, split into files of each length.
	Total   time.Duration
	Lengths []time.Duration

	// OnPoint is called after every measured point.
	OnPoint func(Point)
	// OnState is called on every state transition.
	OnState func(State, time.Duration)

	// Now and Sleep default to time.Now and time.Sleep.
	Now   func() time.Time
	Sleep func(time.Duration)

	state State
}

// Linspace returns n durations evenly spaced from lo to hi inclusive.
func Linspace(lo, hi time.Duration, n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []time.Duration{lo}
	}
	secs := floats.Span(make([]float64, n), lo.Seconds(), hi.Seconds())
	out := make([]time.Duration, n)
	for i, s := range secs {
		out[i] = time.Duration(math.Round(s*1000)) * time.Millisecond
	}
	return out
}

// Best returns the point with the highest rate. Ties go to the earlier point.
func Best(points []Point) Point {
	var best Point
	for i, p := range points {
		if i == 0 || p.Rate > best.Rate {
			best = p
		}
	}
	return best
}

// Run measures every configured file length. A failing point gets a rate of
// zero and the sweep continues. If ctx is done the points measured so far are
// returned together with the context error.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Sleep == nil {
		s.Sleep = time.Sleep
	}
	if len(s.Lengths) == 0 {
		return nil, errors.New("no file lengths to sweep")
	}
	if s.Total <= 0 {
		return nil, fmt.Errorf("total capture duration must be positive, got %s", s.Total)
	}

	res := &Result{}
	s.transition(Idle, 0)
	for _, length := range s.Lengths {
		if err := ctx.Err(); err != nil {
			res.Best = Best(res.Points)
			s.transition(Done, 0)
			return res, err
		}
		p := s.measure(ctx, length)
		if p.Err != nil {
			glog.Warningf("file length %s failed: %s", length, p.Err)
		}
		res.Points = append(res.Points, p)
		if s.OnPoint != nil {
			s.OnPoint(p)
		}
		s.transition(NextConfig, length)
	}
	res.Best = Best(res.Points)
	s.transition(Done, 0)
	return res, nil
}

func (s *Sweeper) measure(ctx context.Context, length time.Duration) Point {
	p := Point{
		FileLength: length,
		FileCount:  int(math.Round(s.Total.Seconds() / length.Seconds())),
	}
	if p.FileCount < 1 {
		p.FileCount = 1
	}
	obs := length.Truncate(time.Millisecond)
	if obs <= 0 {
		p.Err = fmt.Errorf("file length %s is below 1ms", length)
		return p
	}

	s.transition(Configuring, length)
	if err := clearDir(s.Dir); err != nil {
		p.Err = err
		return p
	}
	if err := s.Streamer.ConfigureStream(&sdr.StreamParams{
		Dir:          s.Dir,
		FilenameBase: s.FilenameBase,
		FileLength:   obs,
		FileCount:    p.FileCount,
	}); err != nil {
		p.Err = err
		return p
	}

	s.transition(Streaming, length)
	if err := s.Streamer.Run(); err != nil {
		p.Err = err
		return p
	}
	defer func() {
		if err := s.Streamer.Stop(); err != nil {
			glog.Warningf("unable to stop %s: %s", s.Streamer.Name(), err)
		}
	}()
	start := s.Now()
	if err := s.Streamer.SetStreamEnabled(true); err != nil {
		p.Err = err
		return p
	}

	poll := obs / 10
	for {
		s.Sleep(poll)
		active, err := s.Streamer.StreamActive()
		if err != nil {
			p.Err = err
			break
		}
		if !active {
			break
		}
		if ctx.Err() != nil {
			p.Err = ctx.Err()
			break
		}
	}
	p.Elapsed = s.Now().Sub(start)
	if err := s.Streamer.SetStreamEnabled(false); err != nil && p.Err == nil {
		p.Err = err
	}

	s.transition(Measuring, length)
	if p.Err == nil && p.Elapsed > 0 {
		p.Rate = float64(obs.Milliseconds()) * float64(p.FileCount) / p.Elapsed.Seconds()
	}
	return p
}

func (s *Sweeper) transition(to State, length time.Duration) {
	glog.V(2).Infof("benchmark %s -> %s (%s)", s.state, to, length)
	s.state = to
	if s.OnState != nil {
		s.OnState(to, length)
	}
}

// clearDir removes everything inside dir, creating it if needed.
func clearDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
