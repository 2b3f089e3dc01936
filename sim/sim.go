// Package sim provides a simulated spectrum analyzer. It produces a tone in
// noise at the configured record length and paces records at the sample rate
// a real device would deliver them at.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/iqdump/sdr"
)

const (
	SourceName = "sim"
	// DefaultSerial is reported when no Identifier is set.
	DefaultSerial = "SIM0001"

	// bandwidthToSampleRate mirrors the analyzer's IQ sample rate for a given bandwidth.
	bandwidthToSampleRate = 1.4
	// ifSampleRate is the fixed rate of the simulated IF stream in samples per second.
	ifSampleRate = 112e6
)

var errNotConfigured = errors.New("sim: session not configured")

type Session struct {
	// Identifier is reported as the serial number.
	Identifier string
	// ToneOffset is the offset of the simulated carrier from the center frequency in Hz.
	ToneOffset float64
	// NotReadyEvery makes every n-th wait time out. 0 disables it.
	NotReadyEvery int
	// FileOverhead is the extra time spent per IF stream file.
	FileOverhead time.Duration

	mu       sync.Mutex
	params   *sdr.Params
	rate     float64
	running  bool
	attempts int
	phase    float64
	rng      *rand.Rand

	stream   *sdr.StreamParams
	enabled  bool
	active   bool
	streamWG sync.WaitGroup
}

func (s *Session) Name() string {
	return SourceName
}

// Device describes the simulated analyzer as a device search would list it.
func (s *Session) Device() sdr.Device {
	serial := s.Identifier
	if serial == "" {
		serial = DefaultSerial
	}
	return sdr.Device{ID: 0, Serial: serial, Type: "SIM"}
}

// Preset drops the IQ and IF stream configuration and stops any running stream.
func (s *Session) Preset() error {
	s.mu.Lock()
	s.running = false
	s.enabled = false
	s.params = nil
	s.stream = nil
	s.attempts = 0
	s.mu.Unlock()
	s.streamWG.Wait()
	return nil
}

func (s *Session) Configure(p *sdr.Params) error {
	if p.RecordLength <= 0 {
		return &sdr.DeviceError{Op: "IQBLK_SetIQRecordLength", Code: -2, Msg: "Parameter error"}
	}
	if p.Bandwidth <= 0 {
		return &sdr.DeviceError{Op: "IQBLK_SetIQBandwidth", Code: -2, Msg: "Parameter error"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.params = &cp
	s.rate = p.Bandwidth * bandwidthToSampleRate
	s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	glog.V(1).Infof("sim: configured %+v, sample rate %.0f S/s", cp, s.rate)
	return nil
}

func (s *Session) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

// WaitForIQ sleeps for the duration of one record, bounded by timeout.
func (s *Session) WaitForIQ(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	if s.params == nil {
		s.mu.Unlock()
		return false, errNotConfigured
	}
	if !s.running {
		s.mu.Unlock()
		return false, &sdr.DeviceError{Op: "IQBLK_WaitForIQDataReady", Code: -5, Msg: "Data not ready"}
	}
	s.attempts++
	skip := s.NotReadyEvery > 0 && s.attempts%s.NotReadyEvery == 0
	record := time.Duration(float64(s.params.RecordLength) / s.rate * float64(time.Second))
	s.mu.Unlock()

	if skip || record > timeout {
		time.Sleep(timeout)
		return false, nil
	}
	time.Sleep(record)
	return true, nil
}

func (s *Session) ReadIQ(samples []complex64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params == nil {
		return 0, errNotConfigured
	}
	n := len(samples)
	if n > s.params.RecordLength {
		n = s.params.RecordLength
	}
	step := 2 * math.Pi * s.ToneOffset / s.rate
	for i := 0; i < n; i++ {
		sin, cos := math.Sincos(s.phase)
		samples[i] = complex(
			float32(0.5*cos+0.05*s.rng.NormFloat64()),
			float32(0.5*sin+0.05*s.rng.NormFloat64()),
		)
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
	return n, nil
}

func (s *Session) Stop() error {
	s.mu.Lock()
	s.running = false
	s.enabled = false
	s.mu.Unlock()
	s.streamWG.Wait()
	return nil
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = nil
	return nil
}

func (s *Session) ConfigureStream(p *sdr.StreamParams) error {
	if p.FileLength <= 0 || p.FileCount <= 0 {
		return &sdr.DeviceError{Op: "IFSTREAM_SetDiskFileLength", Code: -2, Msg: "Parameter error"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.stream = &cp
	return nil
}

// SetStreamEnabled starts writing FileCount raw files of FileLength each in real time.
func (s *Session) SetStreamEnabled(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !enable {
		s.enabled = false
		return nil
	}
	if s.stream == nil {
		return errNotConfigured
	}
	if !s.running {
		return &sdr.DeviceError{Op: "IFSTREAM_SetEnable", Code: -1, Msg: "Not running"}
	}
	s.enabled = true
	s.active = true
	s.streamWG.Add(1)
	go s.streamFiles(*s.stream)
	return nil
}

func (s *Session) StreamActive() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *Session) streamFiles(p sdr.StreamParams) {
	defer s.streamWG.Done()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	base := p.FilenameBase
	if base == "" {
		base = "if_capture"
	}
	// 16 bit samples, stored at a reduced size to keep the scratch dir small.
	size := int(p.FileLength.Seconds()*ifSampleRate) * 2 / 1000
	buf := make([]byte, size)
	for i := 0; i < p.FileCount; i++ {
		s.mu.Lock()
		enabled := s.enabled
		s.mu.Unlock()
		if !enabled {
			return
		}
		time.Sleep(p.FileLength + s.FileOverhead)
		name := filepath.Join(p.Dir, fmt.Sprintf("%s-%s.r3f", base, time.Now().Format("2006.01.02.15.04.05.000")))
		if err := os.WriteFile(name, buf, 0o644); err != nil {
			glog.Warningf("sim: unable to write %q: %s", name, err)
			return
		}
	}
}

var (
	_ sdr.Session    = (*Session)(nil)
	_ sdr.IFStreamer = (*Session)(nil)
)
