package stats

import (
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Pipeline stages timed during a run.
const (
	StageAcquire     = "acquire"
	StageWrite       = "write"
	StageDeviceRun   = "device_run"
	StageDataReady   = "data_ready"
	StageDataGet     = "data_get"
	StageBookkeeping = "bookkeeping"
)

var stageLabels = map[string]string{
	StageAcquire:     "Acquisition",
	StageWrite:       "Write",
	StageDeviceRun:   "Device run",
	StageDataReady:   "Data ready wait",
	StageDataGet:     "IQ data get",
	StageBookkeeping: "Bookkeeping",
}

// reportOrder is the order stages are listed in a Report.
var reportOrder = []string{StageAcquire, StageWrite, StageDeviceRun, StageDataReady, StageDataGet, StageBookkeeping}

// Collector records stage durations. It is owned by a single goroutine;
// collectors of different stages are merged once all of them are done.
type Collector struct {
	series  map[string][]float64
	metrics *Metrics
}

// NewCollector returns an empty collector. Observations are mirrored to m if it is not nil.
func NewCollector(m *Metrics) *Collector {
	return &Collector{
		series:  map[string][]float64{},
		metrics: m,
	}
}

func (c *Collector) Observe(stage string, d time.Duration) {
	c.series[stage] = append(c.series[stage], d.Seconds())
	if c.metrics != nil {
		c.metrics.Stage.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// Values returns the recorded durations for stage in seconds.
func (c *Collector) Values(stage string) []float64 {
	return c.series[stage]
}

// Merge appends all observations of other to c.
func (c *Collector) Merge(other *Collector) {
	for stage, vals := range other.series {
		c.series[stage] = append(c.series[stage], vals...)
	}
}

type Summary struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Total  float64 `json:"total"`
}

// Summarize computes count, mean, population standard deviation, min, max and total of values.
func Summarize(name string, values []float64) Summary {
	s := Summary{Name: name, Count: len(values)}
	if len(values) == 0 {
		return s
	}
	s.Mean, s.StdDev = stat.PopMeanStdDev(values, nil)
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.Total = floats.Sum(values)
	return s
}

// Intervals summarizes the gaps in seconds between consecutive timestamps.
func Intervals(timestamps []time.Time) Summary {
	if len(timestamps) < 2 {
		return Summary{Name: "interval"}
	}
	gaps := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		gaps = append(gaps, timestamps[i].Sub(timestamps[i-1]).Seconds())
	}
	return Summarize("interval", gaps)
}

type Report struct {
	RunID   string        `json:"runId"`
	Runtime time.Duration `json:"runtime"`
	Records int           `json:"records"`
	Batches int           `json:"batches"`
	// NotReady counts acquisition attempts that timed out waiting for data.
	NotReady int `json:"notReady"`

	Stages    []Summary `json:"stages"`
	Intervals Summary   `json:"intervals"`
}

// NewReport summarizes a finished run.
func NewReport(runtime time.Duration, c *Collector, timestamps []time.Time) *Report {
	r := &Report{
		Runtime:   runtime,
		Records:   len(timestamps),
		Intervals: Intervals(timestamps),
	}
	for _, stage := range reportOrder {
		r.Stages = append(r.Stages, Summarize(stage, c.Values(stage)))
	}
	return r
}

func (r *Report) Stage(name string) Summary {
	for _, s := range r.Stages {
		if s.Name == name {
			return s
		}
	}
	return Summary{Name: name}
}

// AcquireFraction is the share of the runtime spent inside acquisition calls.
func (r *Report) AcquireFraction() float64 {
	if r.Runtime <= 0 {
		return 0
	}
	return r.Stage(StageAcquire).Total / r.Runtime.Seconds()
}

func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "\nRun %s: %d records in %d batches, %d not ready\n", r.RunID, r.Records, r.Batches, r.NotReady)
	for _, name := range []string{StageAcquire, StageWrite} {
		s := r.Stage(name)
		if s.Count == 0 {
			continue
		}
		label := stageLabels[name]
		fmt.Fprintf(w, "%s calls: %d\n", label, s.Count)
		fmt.Fprintf(w, "  Avg %s time: %.6f s\n", name, s.Mean)
		fmt.Fprintf(w, "  Stddev %s time: %.6f s\n", name, s.StdDev)
	}

	fmt.Fprintf(w, "Total runtime: %.2f seconds\n", r.Runtime.Seconds())
	fmt.Fprintf(w, "Percentage of runtime spent acquiring data: %.2f%%\n", 100*r.AcquireFraction())

	for _, name := range []string{StageDeviceRun, StageDataReady, StageDataGet, StageBookkeeping} {
		s := r.Stage(name)
		fmt.Fprintf(w, "%s times: %d calls, Avg: %.6f s, Stddev: %.6f s\n", stageLabels[name], s.Count, s.Mean, s.StdDev)
	}

	if r.Intervals.Count == 0 {
		fmt.Fprintln(w, "\nNot enough timestamps for interval analysis.")
		return
	}
	fmt.Fprintln(w, "\nTime intervals between consecutive file timestamps:")
	fmt.Fprintf(w, "  Count:  %d\n", r.Intervals.Count)
	fmt.Fprintf(w, "  Mean:   %.6f s\n", r.Intervals.Mean)
	fmt.Fprintf(w, "  Stddev: %.6f s\n", r.Intervals.StdDev)
	fmt.Fprintf(w, "  Max:    %.6f s\n", r.Intervals.Max)
	fmt.Fprintf(w, "  Min:    %.6f s\n", r.Intervals.Min)
}
