package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/hb9tf/iqdump/benchmark"
	"github.com/hb9tf/iqdump/export"
	"github.com/hb9tf/iqdump/rsa"
	"github.com/hb9tf/iqdump/sdr"
	"github.com/hb9tf/iqdump/sim"

	// Blind import support for sqlite3 used by the catalog.
	_ "github.com/mattn/go-sqlite3"
)

var (
	identifier  = flag.String("id", "", "unique identifier of this sweep (defaults to a random UUID)")
	sdrType     = flag.String("sdr", "rsa", "SDR to use (one of: rsa, sim)")
	deviceIndex = flag.Int("device", 0, "index of the device to connect to when several are found")
	dir         = flag.String("dir", "/mnt/ramdisk2/IF_data_temp", "scratch directory for the streamed files, emptied before every point")
	total       = flag.Duration("total", 30*time.Second, "amount of IF data captured per point")
	minLength   = flag.Duration("minLength", 50*time.Millisecond, "shortest file length to try")
	maxLength   = flag.Duration("maxLength", 3*time.Second, "longest file length to try")
	steps       = flag.Int("steps", 60, "number of file lengths between minLength and maxLength")
	centerFreq  = flag.Float64("centerFreq", 1.42e9, "center frequency in Hz")
	refLevel    = flag.Float64("refLevel", -10, "reference level in dBm")

	// Catalog
	catalog           = flag.String("catalog", "none", "Catalog to store sweep points in (one of: none, sqlite, mysql)")
	sqliteFile        = flag.String("sqliteFile", "/tmp/iqdump", "File path of the sqlite DB file to use.")
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "iqdump", "Name of the DB to use.")
)

// streamer is a device which can both be configured and stream IF data.
type streamer interface {
	sdr.IFStreamer
	Preset() error
	Configure(p *sdr.Params) error
	Disconnect() error
}

// prepare resets the analyzer to its defaults before tuning it, so every sweep
// starts from the same device state.
func prepare(dev streamer, p *sdr.Params) error {
	if err := dev.Preset(); err != nil {
		return fmt.Errorf("unable to preset %s: %w", dev.Name(), err)
	}
	if err := dev.Configure(p); err != nil {
		return fmt.Errorf("unable to configure %s: %w", dev.Name(), err)
	}
	return nil
}

func openStreamer() (streamer, error) {
	switch strings.ToLower(*sdrType) {
	case "rsa":
		return rsa.Open(*deviceIndex)
	case sim.SourceName:
		return &sim.Session{Identifier: *identifier, FileOverhead: 20 * time.Millisecond}, nil
	}
	return nil, fmt.Errorf("%q is not a supported SDR type, pick one of: rsa, sim", *sdrType)
}

func openCatalog(runID string) (*export.Catalog, error) {
	var db *sql.DB
	var dialect string
	var err error
	switch strings.ToLower(*catalog) {
	case "", "none":
		return nil, nil
	case "sqlite":
		dialect = export.DialectSQLite
		db, err = sql.Open("sqlite3", *sqliteFile)
	case "mysql":
		dialect = export.DialectMySQL
		pass, perr := os.ReadFile(*mysqlPasswordFile)
		if perr != nil {
			return nil, fmt.Errorf("unable to read MySQL password file %q: %s", *mysqlPasswordFile, perr)
		}
		cfg := mysql.Config{
			User:   *mysqlUser,
			Passwd: strings.TrimSpace(string(pass)),
			Net:    "tcp",
			Addr:   *mysqlServer,
			DBName: *mysqlDBName,
		}
		db, err = sql.Open("mysql", cfg.FormatDSN())
	default:
		return nil, fmt.Errorf("%q is not a supported catalog, pick one of: none, sqlite, mysql", *catalog)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open %s catalog: %s", dialect, err)
	}
	return &export.Catalog{DB: db, Dialect: dialect, RunID: runID}, nil
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	runID := *identifier
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(runID)
	if err != nil {
		glog.Exit(err)
	}
	if cat != nil {
		defer cat.DB.Close()
		if err := cat.Init(ctx); err != nil {
			glog.Exitf("unable to initialize catalog: %s", err)
		}
	}

	dev, err := openStreamer()
	if err != nil {
		glog.Exitf("unable to open %s device: %s", *sdrType, err)
	}
	defer func() {
		if err := dev.Disconnect(); err != nil {
			glog.Warningf("unable to disconnect %s: %s", dev.Name(), err)
		}
	}()
	// IF streaming ignores the IQ block settings but the analyzer still needs a tuning.
	if err := prepare(dev, &sdr.Params{CenterFreq: *centerFreq, RefLevel: *refLevel, Bandwidth: 40e6, RecordLength: 1000}); err != nil {
		glog.Error(err)
		return
	}

	s := &benchmark.Sweeper{
		Streamer: dev,
		Dir:      *dir,
		Total:    *total,
		Lengths:  benchmark.Linspace(*minLength, *maxLength, *steps),
	}
	fmt.Printf("%10s %6s %12s %14s\n", "file (s)", "files", "elapsed (s)", "rate (ms/s)")
	s.OnPoint = func(p benchmark.Point) {
		fmt.Printf("%10.3f %6d %12.3f %14.3f\n", p.FileLength.Seconds(), p.FileCount, p.Elapsed.Seconds(), p.Rate)
		if cat != nil {
			if err := cat.AddBenchmarkPoint(context.Background(), p.FileLength, p.FileCount, p.Elapsed, p.Rate, p.Err); err != nil {
				glog.Warningf("unable to store benchmark point: %s", err)
			}
		}
	}

	res, err := s.Run(ctx)
	if err != nil && res == nil {
		glog.Errorf("benchmark failed: %s", err)
		return
	}
	if err != nil {
		glog.Warningf("benchmark interrupted after %d points: %s", len(res.Points), err)
	}
	if len(res.Points) > 0 {
		fmt.Printf("\nOptimal file length: %.3f s (%d files) at %.3f ms of data per second\n",
			res.Best.FileLength.Seconds(), res.Best.FileCount, res.Best.Rate)
	}
}
