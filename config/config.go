package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"

	"github.com/hb9tf/iqdump/acquire"
	"github.com/hb9tf/iqdump/iq"
	"github.com/hb9tf/iqdump/sdr"
)

const (
	ProfileEnvVar = "IQDUMP_PROFILE"

	// maxRecordLength is the largest IQ block the RSA API accepts.
	maxRecordLength = 104857600
)

var errNoProfileFound = errors.New("unable to find acquisition profile")

type Device struct {
	// CenterFreq in Hz.
	CenterFreq float64
	// RefLevel in dBm.
	RefLevel float64
	// Bandwidth in Hz.
	Bandwidth    float64
	RecordLength int
	// Timeout bounds the wait for a single record.
	Timeout time.Duration
}

type Pipeline struct {
	BatchSize int
	// QueueCapacity limits the number of waiting batches. 0 means unbounded.
	QueueCapacity int
	Mode          string
	MaxRecords    int
}

type Output struct {
	Dir    string
	Layout string
}

// Config holds everything a pipeline run needs. It is validated once at
// startup and not modified afterwards.
type Config struct {
	Device   Device
	Pipeline Pipeline
	Output   Output
}

func Default() Config {
	return Config{
		Device: Device{
			CenterFreq:   1.42e9,
			RefLevel:     -10,
			Bandwidth:    40e6,
			RecordLength: 1000,
			Timeout:      time.Second,
		},
		Pipeline: Pipeline{
			BatchSize: 50,
			Mode:      acquire.Continuous.String(),
		},
		Output: Output{
			Dir:    "IQ_data_dump",
			Layout: iq.Interleaved.String(),
		},
	}
}

// ProfileLocation picks the profile path from the flag or the environment.
func ProfileLocation(cliFlag string) string {
	if cliFlag != "" {
		return cliFlag
	}
	return os.Getenv(ProfileEnvVar)
}

// LoadProfile overlays the INI profile at path onto cfg. Keys missing from
// the profile keep their current value.
func LoadProfile(path string, cfg *Config) error {
	if err := ini.MapToWithMapper(cfg, ini.TitleUnderscore, path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", errNoProfileFound, path)
		}
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.Device.CenterFreq <= 0:
		return fmt.Errorf("center frequency must be positive, got %g", c.Device.CenterFreq)
	case c.Device.Bandwidth <= 0:
		return fmt.Errorf("bandwidth must be positive, got %g", c.Device.Bandwidth)
	case c.Device.RecordLength <= 0 || c.Device.RecordLength > maxRecordLength:
		return fmt.Errorf("record length must be within 1..%d, got %d", maxRecordLength, c.Device.RecordLength)
	case c.Device.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", c.Device.Timeout)
	case c.Pipeline.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.Pipeline.BatchSize)
	case c.Pipeline.QueueCapacity < 0:
		return fmt.Errorf("queue capacity must not be negative, got %d", c.Pipeline.QueueCapacity)
	case c.Pipeline.MaxRecords < 0:
		return fmt.Errorf("max records must not be negative, got %d", c.Pipeline.MaxRecords)
	case c.Output.Dir == "":
		return errors.New("output directory is required")
	}
	if _, err := acquire.ParseMode(c.Pipeline.Mode); err != nil {
		return err
	}
	if _, err := iq.ParseLayout(c.Output.Layout); err != nil {
		return err
	}
	return nil
}

func (c *Config) Params() *sdr.Params {
	return &sdr.Params{
		CenterFreq:   c.Device.CenterFreq,
		RefLevel:     c.Device.RefLevel,
		Bandwidth:    c.Device.Bandwidth,
		RecordLength: c.Device.RecordLength,
	}
}

// Mode returns the parsed acquisition mode. Only valid after Validate.
func (c *Config) Mode() acquire.Mode {
	m, _ := acquire.ParseMode(c.Pipeline.Mode)
	return m
}

// Layout returns the parsed sample layout. Only valid after Validate.
func (c *Config) Layout() iq.Layout {
	l, _ := iq.ParseLayout(c.Output.Layout)
	return l
}
