package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hb9tf/iqdump/acquire"
	"github.com/hb9tf/iqdump/config"
	"github.com/hb9tf/iqdump/export"
	"github.com/hb9tf/iqdump/iq"
	"github.com/hb9tf/iqdump/sdr"
	"github.com/hb9tf/iqdump/stats"
)

// scriptedSession produces records whose samples carry their sequence number.
type scriptedSession struct {
	params    *sdr.Params
	records   int
	onRecord  func(n int)
	failAfter int
	notReady  bool

	configureErr error
	calls        []string
}

func (s *scriptedSession) Name() string { return "scripted" }

func (s *scriptedSession) Configure(p *sdr.Params) error {
	s.calls = append(s.calls, "configure")
	s.params = p
	return s.configureErr
}

func (s *scriptedSession) Run() error {
	if s.failAfter > 0 && s.records >= s.failAfter {
		return &sdr.DeviceError{Op: "DEVICE_Run", Code: -4, Msg: "transfer error"}
	}
	return nil
}

func (s *scriptedSession) WaitForIQ(timeout time.Duration) (bool, error) {
	return !s.notReady, nil
}

func (s *scriptedSession) ReadIQ(samples []complex64) (int, error) {
	for i := range samples {
		samples[i] = complex(float32(s.records), float32(i))
	}
	s.records++
	if s.onRecord != nil {
		s.onRecord(s.records)
	}
	return len(samples), nil
}

func (s *scriptedSession) Stop() error {
	s.calls = append(s.calls, "stop")
	return nil
}

func (s *scriptedSession) Disconnect() error {
	s.calls = append(s.calls, "disconnect")
	return nil
}

func testConfig(dir string, recordLength, batchSize int) *config.Config {
	cfg := config.Default()
	cfg.Device.RecordLength = recordLength
	cfg.Pipeline.BatchSize = batchSize
	cfg.Output.Dir = dir
	return &cfg
}

func listRecords(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestInterruptFlushesEverything(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &scriptedSession{onRecord: func(n int) {
		if n == 123 {
			cancel()
		}
	}}
	p := &Pipeline{
		RunID:    "scenario",
		Config:   testConfig(dir, 1000, 50),
		Session:  s,
		Store:    &export.Files{Dir: dir, Layout: iq.Interleaved},
		Progress: stats.NewProgress("scenario", nil),
	}
	var console bytes.Buffer
	p.Console = &console

	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %s", err)
	}
	if report.Records != 123 {
		t.Fatalf("report records = %d, want 123", report.Records)
	}
	if report.Batches != 3 {
		t.Fatalf("report batches = %d, want 3", report.Batches)
	}
	if got := report.Stage(stats.StageWrite).Count; got != 3 {
		t.Fatalf("write observations = %d, want 3", got)
	}
	if report.Intervals.Count != 122 {
		t.Fatalf("interval count = %d, want 122", report.Intervals.Count)
	}

	names := listRecords(t, dir)
	if len(names) != 123 {
		t.Fatalf("wrote %d files, want 123", len(names))
	}
	// Lexical file order must be acquisition order.
	for i, name := range names {
		samples, err := iq.ReadFile(filepath.Join(dir, name), iq.Interleaved)
		if err != nil {
			t.Fatalf("ReadFile(%s) error: %s", name, err)
		}
		if len(samples) != 1000 {
			t.Fatalf("%s has %d samples, want 1000", name, len(samples))
		}
		if int(real(samples[0])) != i {
			t.Fatalf("file %d (%s) holds record %d", i, name, int(real(samples[0])))
		}
	}

	want := []string{"configure", "stop", "disconnect"}
	if len(s.calls) != len(want) {
		t.Fatalf("session calls = %v, want %v", s.calls, want)
	}
	for i := range want {
		if s.calls[i] != want[i] {
			t.Fatalf("session calls = %v, want %v", s.calls, want)
		}
	}
	if snap := p.Progress.Snapshot(); snap.Written != 123 || snap.Queued != 0 {
		t.Fatalf("progress = %+v", snap)
	}

	wantLines := []string{
		"Interrupted, stopping acquisition",
		"Writing remaining 23 records to queue",
		"Waiting for writer to finish",
		"Writer finished",
		"Stopping device",
		"Disconnecting device",
		"Device disconnected",
	}
	gotLines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(gotLines) != len(wantLines) {
		t.Fatalf("console output:\n%s\nwant %d lines", console.String(), len(wantLines))
	}
	for i := range wantLines {
		if gotLines[i] != wantLines[i] {
			t.Fatalf("console line %d = %q, want %q", i, gotLines[i], wantLines[i])
		}
	}
}

func TestRecordLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 16, 7)
	cfg.Pipeline.MaxRecords = 20
	cfg.Pipeline.QueueCapacity = 1
	p := &Pipeline{Config: cfg, Session: &scriptedSession{}, Store: &export.Files{Dir: dir}}

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %s", err)
	}
	if report.Records != 20 || report.Batches != 3 {
		t.Fatalf("report = %d records in %d batches, want 20 in 3", report.Records, report.Batches)
	}
	if n := len(listRecords(t, dir)); n != 20 {
		t.Fatalf("wrote %d files, want 20", n)
	}
}

func TestDeviceErrorStillDrains(t *testing.T) {
	dir := t.TempDir()
	s := &scriptedSession{failAfter: 12}
	p := &Pipeline{Config: testConfig(dir, 8, 5), Session: s, Store: &export.Files{Dir: dir}}

	report, err := p.Run(context.Background())
	var devErr *sdr.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Run() = %v, want device error", err)
	}
	if report == nil || report.Records != 12 {
		t.Fatalf("report = %+v, want 12 records", report)
	}
	if n := len(listRecords(t, dir)); n != 12 {
		t.Fatalf("wrote %d files, want 12", n)
	}
	if last := s.calls[len(s.calls)-1]; last != "disconnect" {
		t.Fatalf("last session call = %q, want disconnect", last)
	}
}

func TestStorageErrorStopsPipeline(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	p := &Pipeline{Config: testConfig(dir, 8, 2), Session: &scriptedSession{}, Store: &export.Files{Dir: dir}}

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		var serr *export.StorageError
		if !errors.As(err, &serr) {
			t.Fatalf("Run() = %v, want StorageError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after a storage error")
	}
}

func TestConfigureErrorReleasesDevice(t *testing.T) {
	s := &scriptedSession{configureErr: &sdr.DeviceError{Op: "CONFIG_SetCenterFreq", Code: -2, Msg: "parameter error"}}
	p := &Pipeline{Config: testConfig(t.TempDir(), 8, 2), Session: s, Store: &export.Files{Dir: t.TempDir()}}

	report, err := p.Run(context.Background())
	if err == nil || report != nil {
		t.Fatalf("Run() = %v, %v, want error and no report", report, err)
	}
	want := []string{"configure", "stop", "disconnect"}
	for i := range want {
		if s.calls[i] != want[i] {
			t.Fatalf("session calls = %v, want %v", s.calls, want)
		}
	}
}

func TestSingleShotNoData(t *testing.T) {
	cfg := testConfig(t.TempDir(), 8, 2)
	cfg.Pipeline.Mode = "single"
	p := &Pipeline{Config: cfg, Session: &scriptedSession{notReady: true}, Store: &export.Files{Dir: cfg.Output.Dir}}

	report, err := p.Run(context.Background())
	if !errors.Is(err, acquire.ErrNoData) {
		t.Fatalf("Run() = %v, want ErrNoData", err)
	}
	if report.Records != 0 || report.NotReady != 1 {
		t.Fatalf("report = %+v", report)
	}
}
