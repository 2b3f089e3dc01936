// Package pipeline runs the acquirer and the writer against one device session
// and shuts both down in an order which never loses an acquired record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/iqdump/acquire"
	"github.com/hb9tf/iqdump/config"
	"github.com/hb9tf/iqdump/export"
	"github.com/hb9tf/iqdump/queue"
	"github.com/hb9tf/iqdump/sdr"
	"github.com/hb9tf/iqdump/stats"
)

type Pipeline struct {
	RunID   string
	Config  *config.Config
	Session sdr.Session
	Store   export.Store

	// Optional.
	Index    export.Indexer
	Metrics  *stats.Metrics
	Progress *stats.Progress
	// Console receives the shutdown progress lines meant for the operator.
	Console io.Writer
}

// status logs a lifecycle step and echoes it to the console.
func (p *Pipeline) status(format string, args ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
	if p.Console != nil {
		fmt.Fprintf(p.Console, format+"\n", args...)
	}
}

// Run configures the session, starts the writer and acquires until ctx is
// done, the record limit is reached or an error occurs. Afterwards the
// remaining batch is flushed, the writer drained and the session stopped and
// disconnected, in that order. The session is released on every return path.
//
// A report is returned whenever acquisition started, also together with an error.
// In single-shot mode acquire.ErrNoData is returned if the device had no data.
func (p *Pipeline) Run(ctx context.Context) (*stats.Report, error) {
	defer p.release()

	cfg := p.Config
	glog.Infof("Configuring %s: center %.0f Hz, bandwidth %.0f Hz, reference level %.1f dBm, record length %d",
		p.Session.Name(), cfg.Device.CenterFreq, cfg.Device.Bandwidth, cfg.Device.RefLevel, cfg.Device.RecordLength)
	if err := p.Session.Configure(cfg.Params()); err != nil {
		return nil, err
	}

	q := queue.New(cfg.Pipeline.QueueCapacity)
	if p.Progress != nil {
		q.OnLen = p.Progress.SetQueueLen
	}

	acqCtx, stopAcquisition := context.WithCancel(ctx)
	defer stopAcquisition()

	w := export.NewWriter(q, p.Store, p.Metrics)
	w.Index = p.Index
	w.Progress = p.Progress
	var writerErr error
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Catalog writes must still go through while draining after an interrupt.
		writerErr = w.Run(context.WithoutCancel(ctx))
		if writerErr != nil {
			// Nothing will drain the queue anymore: stop the acquirer and unblock pushes.
			stopAcquisition()
			q.Shutdown()
		}
	}()
	glog.V(1).Info("Writer started")

	a := acquire.New(p.Session, q, p.Metrics)
	a.RecordLength = cfg.Device.RecordLength
	a.BatchSize = cfg.Pipeline.BatchSize
	a.Timeout = cfg.Device.Timeout
	a.Mode = cfg.Mode()
	a.MaxRecords = cfg.Pipeline.MaxRecords
	a.Progress = p.Progress

	glog.Infof("Starting %s IQ acquisition into %s", a.Mode, cfg.Output.Dir)
	start := time.Now()
	acqErr := a.Run(acqCtx)
	runtime := time.Since(start)
	switch {
	case ctx.Err() != nil:
		p.status("Interrupted, stopping acquisition")
	case acqErr != nil:
		glog.Warningf("Acquisition stopped: %s", acqErr)
	default:
		glog.Infof("Acquisition finished after %d records", a.Count())
	}

	if n, err := a.Flush(); err != nil {
		glog.Warningf("unable to queue remaining %d records: %s", n, err)
	} else if n > 0 {
		p.status("Writing remaining %d records to queue", n)
	}
	q.Shutdown()
	p.status("Waiting for writer to finish")
	<-writerDone
	p.status("Writer finished")

	c := a.Stats()
	c.Merge(w.Stats())
	report := stats.NewReport(runtime, c, a.Timestamps())
	report.RunID = p.RunID
	report.Batches = len(w.Stats().Values(stats.StageWrite))
	report.NotReady = a.NotReady()

	if writerErr != nil {
		return report, writerErr
	}
	if acqErr != nil && !errors.Is(acqErr, acquire.ErrNoData) {
		return report, acqErr
	}
	if a.Count() == 0 && errors.Is(acqErr, acquire.ErrNoData) {
		return report, acqErr
	}
	return report, nil
}

// release always attempts to stop and disconnect the device.
func (p *Pipeline) release() {
	p.status("Stopping device")
	if err := p.Session.Stop(); err != nil {
		glog.Warningf("unable to stop %s: %s", p.Session.Name(), err)
	}
	p.status("Disconnecting device")
	if err := p.Session.Disconnect(); err != nil {
		glog.Warningf("unable to disconnect %s: %s", p.Session.Name(), err)
	}
	p.status("Device disconnected")
}
