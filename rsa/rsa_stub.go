//go:build !rsaapi

package rsa

import (
	"errors"
	"time"

	"github.com/hb9tf/iqdump/sdr"
)

var errNoAPI = errors.New("rsa: built without RSA API support, rebuild with -tags rsaapi")

// Session is never returned by Open in this build.
type Session struct {
	Device sdr.Device
}

func APIVersion() (string, error) { return "", errNoAPI }
func Search() ([]sdr.Device, error) { return nil, errNoAPI }
func Open(index int) (*Session, error) { return nil, errNoAPI }

func (s *Session) Name() string { return "rsa" }
func (s *Session) Preset() error { return errNoAPI }
func (s *Session) Configure(*sdr.Params) error { return errNoAPI }
func (s *Session) Run() error { return errNoAPI }
func (s *Session) WaitForIQ(time.Duration) (bool, error) { return false, errNoAPI }
func (s *Session) ReadIQ([]complex64) (int, error) { return 0, errNoAPI }
func (s *Session) Stop() error { return nil }
func (s *Session) Disconnect() error { return nil }
func (s *Session) ConfigureStream(*sdr.StreamParams) error { return errNoAPI }
func (s *Session) SetStreamEnabled(bool) error { return errNoAPI }
func (s *Session) StreamActive() (bool, error) { return false, errNoAPI }

var (
	_ sdr.Session    = (*Session)(nil)
	_ sdr.IFStreamer = (*Session)(nil)
)
