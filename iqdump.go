package main

import (
	"context"
	"database/sql"
	"errors"
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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hb9tf/iqdump/acquire"
	"github.com/hb9tf/iqdump/config"
	"github.com/hb9tf/iqdump/export"
	"github.com/hb9tf/iqdump/pipeline"
	"github.com/hb9tf/iqdump/rsa"
	"github.com/hb9tf/iqdump/sdr"
	"github.com/hb9tf/iqdump/server"
	"github.com/hb9tf/iqdump/sim"
	"github.com/hb9tf/iqdump/stats"

	// Blind import support for sqlite3 used by the catalog.
	_ "github.com/mattn/go-sqlite3"
)

var defaults = config.Default()

// Flags
var (
	identifier  = flag.String("id", "", "unique identifier of this run (defaults to a random UUID)")
	sdrType     = flag.String("sdr", "rsa", "SDR to use (one of: rsa, sim)")
	deviceIndex = flag.Int("device", 0, "index of the device to connect to when several are found")
	listDevices = flag.Bool("list", false, "list the devices found and exit")
	profile     = flag.String("profile", "", "Path to an INI acquisition profile (defaults to $"+config.ProfileEnvVar+").")

	// Acquisition, these override the profile when set.
	centerFreq    = flag.Float64("centerFreq", defaults.Device.CenterFreq, "center frequency in Hz")
	refLevel      = flag.Float64("refLevel", defaults.Device.RefLevel, "reference level in dBm")
	bandwidth     = flag.Float64("bandwidth", defaults.Device.Bandwidth, "IQ bandwidth in Hz")
	recordLength  = flag.Int("recordLength", defaults.Device.RecordLength, "complex samples per record")
	timeout       = flag.Duration("timeout", defaults.Device.Timeout, "time to wait for a record before giving up on it")
	batchSize     = flag.Int("batchSize", defaults.Pipeline.BatchSize, "records per batch handed to the writer")
	queueCapacity = flag.Int("queueCapacity", defaults.Pipeline.QueueCapacity, "maximum number of batches waiting for the writer (0: unbounded)")
	mode          = flag.String("mode", defaults.Pipeline.Mode, "acquisition mode (one of: continuous, single)")
	maxRecords    = flag.Int("records", defaults.Pipeline.MaxRecords, "stop after this many records (0: until interrupted)")
	dir           = flag.String("dir", defaults.Output.Dir, "directory to write the IQ records to")
	layout        = flag.String("layout", defaults.Output.Layout, "sample layout on disk (one of: interleaved, split)")

	// Catalog
	catalog = flag.String("catalog", "none", "Catalog to index records in (one of: none, csv, sqlite, mysql)")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/iqdump", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "iqdump", "Name of the DB to use.")

	// Status server
	listen   = flag.String("listen", "", "Address to serve live statistics on, e.g. :8443 (disabled if empty).")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := config.ProfileLocation(*profile); path != "" {
		if err := config.LoadProfile(path, &cfg); err != nil {
			return nil, err
		}
		glog.Infof("Loaded acquisition profile %q", path)
	}
	// Explicitly set flags win over the profile.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "centerFreq":
			cfg.Device.CenterFreq = *centerFreq
		case "refLevel":
			cfg.Device.RefLevel = *refLevel
		case "bandwidth":
			cfg.Device.Bandwidth = *bandwidth
		case "recordLength":
			cfg.Device.RecordLength = *recordLength
		case "timeout":
			cfg.Device.Timeout = *timeout
		case "batchSize":
			cfg.Pipeline.BatchSize = *batchSize
		case "queueCapacity":
			cfg.Pipeline.QueueCapacity = *queueCapacity
		case "mode":
			cfg.Pipeline.Mode = *mode
		case "records":
			cfg.Pipeline.MaxRecords = *maxRecords
		case "dir":
			cfg.Output.Dir = *dir
		case "layout":
			cfg.Output.Layout = *layout
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func openSession() (sdr.Session, error) {
	switch strings.ToLower(*sdrType) {
	case "rsa":
		return rsa.Open(*deviceIndex)
	case sim.SourceName:
		return &sim.Session{Identifier: *identifier, ToneOffset: 1e6}, nil
	}
	return nil, fmt.Errorf("%q is not a supported SDR type, pick one of: rsa, sim", *sdrType)
}

func printDevices() error {
	var devices []sdr.Device
	switch strings.ToLower(*sdrType) {
	case "rsa":
		version, err := rsa.APIVersion()
		if err != nil {
			return err
		}
		fmt.Printf("RSA API version %s\n", version)
		if devices, err = rsa.Search(); err != nil {
			return err
		}
	case sim.SourceName:
		devices = []sdr.Device{(&sim.Session{Identifier: *identifier}).Device()}
	default:
		return fmt.Errorf("%q is not a supported SDR type, pick one of: rsa, sim", *sdrType)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return nil
	}
	fmt.Println("Devices found:")
	for i, d := range devices {
		fmt.Printf("  %d: id %d, serial %s, type %s\n", i, d.ID, d.Serial, d.Type)
	}
	return nil
}

func openCatalog(runID string) (*export.Catalog, error) {
	switch strings.ToLower(*catalog) {
	case "", "none", "csv":
		return nil, nil
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			return nil, fmt.Errorf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		return &export.Catalog{DB: db, Dialect: export.DialectSQLite, RunID: runID}, nil
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read MySQL password file %q: %s", *mysqlPasswordFile, err)
		}
		cfg := mysql.Config{
			User:   *mysqlUser,
			Passwd: strings.TrimSpace(string(pass)),
			Net:    "tcp",
			Addr:   *mysqlServer,
			DBName: *mysqlDBName,
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		return &export.Catalog{DB: db, Dialect: export.DialectMySQL, RunID: runID}, nil
	}
	return nil, fmt.Errorf("%q is not a supported catalog, pick one of: none, csv, sqlite, mysql", *catalog)
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	if *listDevices {
		if err := printDevices(); err != nil {
			glog.Exitf("unable to list devices: %s", err)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		glog.Exitf("invalid configuration: %s", err)
	}
	runID := *identifier
	if runID == "" {
		runID = uuid.NewString()
	}

	store := &export.Files{Dir: cfg.Output.Dir, Layout: cfg.Layout()}
	if err := store.Prepare(); err != nil {
		glog.Exitf("unable to prepare output directory: %s", err)
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

	reg := prometheus.NewRegistry()
	metrics := stats.NewMetrics(reg)
	progress := stats.NewProgress(runID, metrics)

	var status *server.StatusServer
	if *listen != "" {
		status = server.New(*listen, *certFile, *keyFile, progress, reg)
		go func() {
			if err := status.ListenAndServe(); err != nil {
				glog.Warningf("status server stopped: %s", err)
			}
		}()
	}

	session, err := openSession()
	if err != nil {
		glog.Exitf("unable to open %s device: %s", *sdrType, err)
	}

	p := &pipeline.Pipeline{
		RunID:    runID,
		Config:   cfg,
		Session:  session,
		Store:    store,
		Metrics:  metrics,
		Progress: progress,
		Console:  os.Stdout,
	}
	if strings.ToLower(*catalog) == "csv" {
		p.Index = &export.CSV{W: os.Stdout, RunID: runID}
	}
	if cat != nil {
		p.Index = cat
		if err := cat.StartRun(ctx, &export.RunInfo{
			Source:       session.Name(),
			Mode:         cfg.Pipeline.Mode,
			CenterFreq:   cfg.Device.CenterFreq,
			RefLevel:     cfg.Device.RefLevel,
			Bandwidth:    cfg.Device.Bandwidth,
			RecordLength: cfg.Device.RecordLength,
			BatchSize:    cfg.Pipeline.BatchSize,
			OutputDir:    cfg.Output.Dir,
			Started:      time.Now(),
		}); err != nil {
			glog.Warningf("unable to register run %s in catalog: %s", runID, err)
		}
	}

	report, runErr := p.Run(ctx)
	stop()
	if report != nil {
		report.Print(os.Stdout)
		if cat != nil {
			if err := cat.FinishRun(context.Background(), time.Now(), report); err != nil {
				glog.Warningf("unable to finish run %s in catalog: %s", runID, err)
			}
		}
	}

	if status != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := status.Shutdown(sctx); err != nil {
			glog.Warningf("unable to shut down status server: %s", err)
		}
		cancel()
	}

	switch {
	case errors.Is(runErr, acquire.ErrNoData):
		fmt.Println("No data.")
	case runErr != nil:
		if cat != nil {
			cat.DB.Close()
		}
		glog.Exitf("capture failed: %s", runErr)
	}
}
