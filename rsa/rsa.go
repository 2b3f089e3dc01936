//go:build rsaapi

// Package rsa drives Tektronix RSA spectrum analyzers through the vendor's
// RSA API shared library. Build with -tags rsaapi; RSA_API.h and
// libRSA_API.so / libcyusb_shared.so must be installed where cgo finds them.
package rsa

/*
#cgo LDFLAGS: -lRSA_API -lcyusb_shared
#include <stdbool.h>
#include <stdlib.h>
#include <RSA_API.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/golang/glog"

	"github.com/hb9tf/iqdump/sdr"
)

// The API keeps one global device connection per process.
var (
	connMu    sync.Mutex
	connected bool
)

func check(op string, status C.ReturnStatus) error {
	if status == C.noError {
		return nil
	}
	return &sdr.DeviceError{
		Op:   op,
		Code: int(status),
		Msg:  C.GoString(C.DEVICE_GetErrorString(status)),
	}
}

func APIVersion() (string, error) {
	buf := make([]C.char, C.DEVINFO_MAX_STRLEN)
	if err := check("DEVICE_GetAPIVersion", C.DEVICE_GetAPIVersion(&buf[0])); err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

// Search lists all analyzers attached to the host.
func Search() ([]sdr.Device, error) {
	var (
		num     C.int
		ids     [C.DEVSRCH_MAX_NUM_DEVICES]C.int
		serials [C.DEVSRCH_MAX_NUM_DEVICES][C.DEVSRCH_SERIAL_MAX_STRLEN]C.char
		types   [C.DEVSRCH_MAX_NUM_DEVICES][C.DEVSRCH_TYPE_MAX_STRLEN]C.char
	)
	if err := check("DEVICE_Search", C.DEVICE_Search(&num, &ids[0], &serials[0], &types[0])); err != nil {
		return nil, err
	}
	devices := make([]sdr.Device, 0, int(num))
	for i := 0; i < int(num); i++ {
		devices = append(devices, sdr.Device{
			ID:     int(ids[i]),
			Serial: C.GoString(&serials[i][0]),
			Type:   C.GoString(&types[i][0]),
		})
	}
	return devices, nil
}

// Session is the connection to one analyzer. Only one may be open at a time.
type Session struct {
	Device sdr.Device
	params *sdr.Params
}

// Open searches for analyzers and connects to the index-th one found.
func Open(index int) (*Session, error) {
	connMu.Lock()
	defer connMu.Unlock()
	if connected {
		return nil, fmt.Errorf("an RSA device is already connected")
	}

	version, err := APIVersion()
	if err != nil {
		return nil, err
	}
	glog.Infof("RSA API version %s", version)

	devices, err := Search()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no RSA devices found")
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("device index %d out of range, found %d device(s)", index, len(devices))
	}
	dev := devices[index]
	if err := check("DEVICE_Connect", C.DEVICE_Connect(C.int(dev.ID))); err != nil {
		return nil, err
	}
	connected = true

	sn := make([]C.char, C.DEVINFO_MAX_STRLEN)
	if err := check("DEVICE_GetSerialNumber", C.DEVICE_GetSerialNumber(&sn[0])); err != nil {
		glog.Warningf("unable to read serial number: %s", err)
	} else {
		dev.Serial = C.GoString(&sn[0])
	}
	glog.Infof("Connected to %s, serial %s", dev.Type, dev.Serial)
	return &Session{Device: dev}, nil
}

func (s *Session) Name() string {
	return "rsa"
}

// Preset restores the analyzer's default configuration.
func (s *Session) Preset() error {
	return check("CONFIG_Preset", C.CONFIG_Preset())
}

func (s *Session) Configure(p *sdr.Params) error {
	if err := check("CONFIG_SetCenterFreq", C.CONFIG_SetCenterFreq(C.double(p.CenterFreq))); err != nil {
		return err
	}
	if err := check("CONFIG_SetReferenceLevel", C.CONFIG_SetReferenceLevel(C.double(p.RefLevel))); err != nil {
		return err
	}
	if err := check("IQBLK_SetIQRecordLength", C.IQBLK_SetIQRecordLength(C.int(p.RecordLength))); err != nil {
		return err
	}
	if err := check("IQBLK_SetIQBandwidth", C.IQBLK_SetIQBandwidth(C.double(p.Bandwidth))); err != nil {
		return err
	}
	var rate C.double
	if err := check("IQBLK_GetIQSampleRate", C.IQBLK_GetIQSampleRate(&rate)); err == nil {
		glog.Infof("IQ sample rate %.0f S/s", float64(rate))
	}
	cp := *p
	s.params = &cp
	return nil
}

func (s *Session) Run() error {
	return check("DEVICE_Run", C.DEVICE_Run())
}

func (s *Session) WaitForIQ(timeout time.Duration) (bool, error) {
	var ready C.bool
	if err := check("IQBLK_WaitForIQDataReady", C.IQBLK_WaitForIQDataReady(C.int(timeout.Milliseconds()), &ready)); err != nil {
		return false, err
	}
	return bool(ready), nil
}

// ReadIQ reads the pending record. complex64 has the same memory layout as Cplx32.
func (s *Session) ReadIQ(samples []complex64) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	var out C.int
	status := C.IQBLK_GetIQDataCplx((*C.Cplx32)(unsafe.Pointer(&samples[0])), &out, C.int(len(samples)))
	if err := check("IQBLK_GetIQDataCplx", status); err != nil {
		return 0, err
	}
	return int(out), nil
}

func (s *Session) Stop() error {
	return check("DEVICE_Stop", C.DEVICE_Stop())
}

func (s *Session) Disconnect() error {
	connMu.Lock()
	defer connMu.Unlock()
	if !connected {
		return nil
	}
	connected = false
	return check("DEVICE_Disconnect", C.DEVICE_Disconnect())
}

// ConfigureStream sets up IF streaming to R3F files with timestamped names.
func (s *Session) ConfigureStream(p *sdr.StreamParams) error {
	dir := C.CString(p.Dir)
	defer C.free(unsafe.Pointer(dir))
	base := p.FilenameBase
	if base == "" {
		base = "if_capture"
	}
	cbase := C.CString(base)
	defer C.free(unsafe.Pointer(cbase))

	if err := check("IFSTREAM_SetDiskFilePath", C.IFSTREAM_SetDiskFilePath(dir)); err != nil {
		return err
	}
	if err := check("IFSTREAM_SetDiskFilenameBase", C.IFSTREAM_SetDiskFilenameBase(cbase)); err != nil {
		return err
	}
	if err := check("IFSTREAM_SetDiskFilenameSuffix", C.IFSTREAM_SetDiskFilenameSuffix(C.IFSSDFN_SUFFIX_TIMESTAMP)); err != nil {
		return err
	}
	if err := check("IFSTREAM_SetDiskFileMode", C.IFSTREAM_SetDiskFileMode(C.int(C.StreamingModeFormatted))); err != nil {
		return err
	}
	if err := check("IFSTREAM_SetDiskFileLength", C.IFSTREAM_SetDiskFileLength(C.long(p.FileLength.Milliseconds()))); err != nil {
		return err
	}
	return check("IFSTREAM_SetDiskFileCount", C.IFSTREAM_SetDiskFileCount(C.int(p.FileCount)))
}

func (s *Session) SetStreamEnabled(enable bool) error {
	return check("IFSTREAM_SetEnable", C.IFSTREAM_SetEnable(C.bool(enable)))
}

func (s *Session) StreamActive() (bool, error) {
	var active C.bool
	if err := check("IFSTREAM_GetActiveStatus", C.IFSTREAM_GetActiveStatus(&active)); err != nil {
		return false, err
	}
	return bool(active), nil
}

var (
	_ sdr.Session    = (*Session)(nil)
	_ sdr.IFStreamer = (*Session)(nil)
)
