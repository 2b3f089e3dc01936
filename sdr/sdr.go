package sdr

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned when no IQ data arrived within the data-ready timeout.
var ErrNotReady = errors.New("IQ data not ready")

// DeviceError carries a nonzero status returned by the device driver.
type DeviceError struct {
	// Op is the driver call that failed, e.g. "DEVICE_Run".
	Op   string
	Code int
	// Msg is the driver's own description of Code.
	Msg string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s failed: %s (%d)", e.Op, e.Msg, e.Code)
}

type Device struct {
	ID     int
	Serial string
	Type   string
}

type Params struct {
	// CenterFreq is the center frequency in Hz.
	CenterFreq float64
	// RefLevel is the reference level in dBm.
	RefLevel float64
	// Bandwidth is the IQ bandwidth in Hz.
	Bandwidth float64

	// RecordLength is the number of complex samples returned per record.
	// It is fixed for the lifetime of a configured session.
	RecordLength int
}

// Session is an exclusively owned connection to an IQ capable analyzer.
// All calls block until the driver returns.
type Session interface {
	Name() string
	Configure(p *Params) error
	Run() error
	// WaitForIQ blocks until a record is ready or the timeout expires.
	WaitForIQ(timeout time.Duration) (bool, error)
	// ReadIQ copies the pending record into samples and returns the number of samples read.
	ReadIQ(samples []complex64) (int, error)
	Stop() error
	Disconnect() error
}

type StreamParams struct {
	Dir          string
	FilenameBase string
	// FileLength is the duration of IF data stored per file.
	FileLength time.Duration
	FileCount  int
}

// IFStreamer is implemented by devices that can stream IF data to disk on their own.
type IFStreamer interface {
	Name() string
	ConfigureStream(p *StreamParams) error
	Run() error
	SetStreamEnabled(enable bool) error
	StreamActive() (bool, error)
	Stop() error
}

// AcquireRecord runs the device and reads one record into buf.
func AcquireRecord(s Session, buf []complex64, timeout time.Duration) ([]complex64, error) {
	if err := s.Run(); err != nil {
		return nil, err
	}
	ready, err := s.WaitForIQ(timeout)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrNotReady
	}
	n, err := s.ReadIQ(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
