package iq

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	FilePrefix = "IQ_"
	FileSuffix = ".bin"

	timeFmt = "20060102_150405"
)

// Layout defines how complex samples are laid out on disk.
type Layout int

const (
	// Interleaved stores I0 Q0 I1 Q1 ...
	Interleaved Layout = iota
	// Split stores all I values followed by all Q values.
	Split
)

func (l Layout) String() string {
	switch l {
	case Interleaved:
		return "interleaved"
	case Split:
		return "split"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "interleaved", "":
		return Interleaved, nil
	case "split":
		return Split, nil
	}
	return 0, fmt.Errorf("%q is not a supported sample layout, pick one of: interleaved, split", s)
}

// Record is one fixed-length IQ capture. It must not be modified once handed to a Batch.
type Record struct {
	// Seq is the zero based acquisition index within a run.
	Seq uint64
	// Time is the wall clock acquisition timestamp at microsecond resolution.
	Time time.Time
	// Elapsed is the monotonic time since the start of the run.
	Elapsed time.Duration
	Samples []complex64
}

// Filename returns the file name the record is persisted under.
func (r *Record) Filename() string {
	return Filename(r.Time)
}

// Batch is an ordered group of records handed from the acquirer to the writer.
type Batch struct {
	Seq     uint64
	Records []*Record
}

func (b *Batch) Len() int {
	return len(b.Records)
}

// Filename builds IQ_<YYYYMMDD_HHMMSS_ffffff>.bin for t in UTC. Names sort
// lexically in time order, also across DST changes.
func Filename(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%s_%06d%s", FilePrefix, t.Format(timeFmt), t.Nanosecond()/1000, FileSuffix)
}

// ParseFilename extracts the timestamp from a name produced by Filename.
// The result is in UTC.
func ParseFilename(name string) (time.Time, error) {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if !strings.HasPrefix(base, FilePrefix) || !strings.HasSuffix(base, FileSuffix) {
		return time.Time{}, fmt.Errorf("%q is not an IQ record file name", name)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, FilePrefix), FileSuffix)
	i := strings.LastIndex(stamp, "_")
	if i < 0 || len(stamp)-i-1 != 6 {
		return time.Time{}, fmt.Errorf("%q has no microsecond field", name)
	}
	t, err := time.ParseInLocation(timeFmt, stamp[:i], time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	us, err := strconv.Atoi(stamp[i+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid microseconds in %q: %s", name, err)
	}
	return t.Add(time.Duration(us) * time.Microsecond), nil
}

// Encode writes samples as little endian float32 values in the given layout.
func Encode(w io.Writer, samples []complex64, layout Layout) error {
	buf := make([]byte, 8*len(samples))
	switch layout {
	case Interleaved:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(buf[8*i:], math.Float32bits(real(s)))
			binary.LittleEndian.PutUint32(buf[8*i+4:], math.Float32bits(imag(s)))
		}
	case Split:
		q := 4 * len(samples)
		for i, s := range samples {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(real(s)))
			binary.LittleEndian.PutUint32(buf[q+4*i:], math.Float32bits(imag(s)))
		}
	default:
		return fmt.Errorf("unknown layout %s", layout)
	}
	_, err := w.Write(buf)
	return err
}

// Decode reads back data written by Encode.
func Decode(r io.Reader, layout Layout) ([]complex64, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("IQ data length %d is not a multiple of 8 bytes", len(raw))
	}
	n := len(raw) / 8
	samples := make([]complex64, n)
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
	}
	switch layout {
	case Interleaved:
		for i := range samples {
			samples[i] = complex(f(8*i), f(8*i+4))
		}
	case Split:
		for i := range samples {
			samples[i] = complex(f(4*i), f(4*n+4*i))
		}
	default:
		return nil, fmt.Errorf("unknown layout %s", layout)
	}
	return samples, nil
}

// WriteFile persists samples to path.
func WriteFile(path string, samples []complex64, layout Layout) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := Encode(w, samples, layout); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ReadFile(path string, layout Layout) ([]complex64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f), layout)
}
