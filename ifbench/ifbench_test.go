package main

import (
	"errors"
	"testing"
	"time"

	"github.com/hb9tf/iqdump/sdr"
	"github.com/hb9tf/iqdump/sim"
)

type recordingStreamer struct {
	calls     []string
	presetErr error
}

func (r *recordingStreamer) Name() string { return "recording" }
func (r *recordingStreamer) ConfigureStream(*sdr.StreamParams) error {
	r.calls = append(r.calls, "stream")
	return nil
}
func (r *recordingStreamer) Run() error { return nil }
func (r *recordingStreamer) SetStreamEnabled(bool) error { return nil }
func (r *recordingStreamer) StreamActive() (bool, error) { return false, nil }
func (r *recordingStreamer) Stop() error { return nil }
func (r *recordingStreamer) Disconnect() error { return nil }

func (r *recordingStreamer) Preset() error {
	r.calls = append(r.calls, "preset")
	return r.presetErr
}

func (r *recordingStreamer) Configure(*sdr.Params) error {
	r.calls = append(r.calls, "configure")
	return nil
}

func TestPreparePresetsFirst(t *testing.T) {
	r := &recordingStreamer{}
	if err := prepare(r, &sdr.Params{CenterFreq: 1.42e9, Bandwidth: 40e6, RecordLength: 1000}); err != nil {
		t.Fatalf("prepare() error: %s", err)
	}
	if len(r.calls) != 2 || r.calls[0] != "preset" || r.calls[1] != "configure" {
		t.Fatalf("calls = %v, want [preset configure]", r.calls)
	}
}

func TestPrepareStopsOnPresetError(t *testing.T) {
	devErr := &sdr.DeviceError{Op: "CONFIG_Preset", Code: -1, Msg: "not connected"}
	r := &recordingStreamer{presetErr: devErr}
	err := prepare(r, &sdr.Params{})
	var got *sdr.DeviceError
	if !errors.As(err, &got) {
		t.Fatalf("prepare() = %v, want device error", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("calls = %v, want only preset", r.calls)
	}
}

func TestPrepareSimulator(t *testing.T) {
	s := &sim.Session{}
	if err := prepare(s, &sdr.Params{CenterFreq: 1.42e9, Bandwidth: 40e6, RecordLength: 1000}); err != nil {
		t.Fatalf("prepare() error: %s", err)
	}
	if err := s.ConfigureStream(&sdr.StreamParams{Dir: t.TempDir(), FileLength: 10 * time.Millisecond, FileCount: 1}); err != nil {
		t.Fatalf("ConfigureStream() error: %s", err)
	}
}
