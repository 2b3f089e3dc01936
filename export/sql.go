package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hb9tf/iqdump/iq"
	"github.com/hb9tf/iqdump/stats"
)

const (
	DialectSQLite = "sqlite3"
	DialectMySQL  = "mysql"

	insertRunTmpl = `INSERT INTO runs (
		RunID,
		Source,
		Mode,
		CenterFreq,
		RefLevel,
		Bandwidth,
		RecordLength,
		BatchSize,
		OutputDir,
		Started
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	finishRunTmpl = `UPDATE runs SET
		Ended = ?,
		Records = ?,
		Batches = ?,
		NotReady = ?,
		IntervalMean = ?,
		IntervalStdDev = ?
	WHERE RunID = ?;`
	insertRecordTmpl = `INSERT INTO records (
		RunID,
		Seq,
		AcquiredAt,
		Path,
		Samples
	) VALUES (?, ?, ?, ?, ?);`
	insertBenchmarkTmpl = `INSERT INTO benchmark (
		RunID,
		FileSeconds,
		FileCount,
		ElapsedSeconds,
		RateMsPerSec,
		Error
	) VALUES (?, ?, ?, ?, ?, ?);`
)

var schemas = map[string][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS runs (
			RunID          VARCHAR(36) NOT NULL PRIMARY KEY,
			Source         TEXT NOT NULL,
			Mode           TEXT,
			CenterFreq     REAL,
			RefLevel       REAL,
			Bandwidth      REAL,
			RecordLength   INTEGER,
			BatchSize      INTEGER,
			OutputDir      TEXT,
			Started        INTEGER,
			Ended          INTEGER,
			Records        INTEGER,
			Batches        INTEGER,
			NotReady       INTEGER,
			IntervalMean   REAL,
			IntervalStdDev REAL
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			ID         INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
			RunID      VARCHAR(36) NOT NULL,
			Seq        INTEGER,
			AcquiredAt INTEGER,
			Path       TEXT,
			Samples    INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS benchmark (
			ID             INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
			RunID          VARCHAR(36) NOT NULL,
			FileSeconds    REAL,
			FileCount      INTEGER,
			ElapsedSeconds REAL,
			RateMsPerSec   REAL,
			Error          TEXT
		);`,
	},
	DialectMySQL: {
		`CREATE TABLE IF NOT EXISTS runs (
			RunID          VARCHAR(36) NOT NULL PRIMARY KEY,
			Source         VARCHAR(64) NOT NULL,
			Mode           VARCHAR(16),
			CenterFreq     DOUBLE,
			RefLevel       DOUBLE,
			Bandwidth      DOUBLE,
			RecordLength   INT,
			BatchSize      INT,
			OutputDir      TEXT,
			Started        BIGINT,
			Ended          BIGINT,
			Records        BIGINT,
			Batches        BIGINT,
			NotReady       BIGINT,
			IntervalMean   DOUBLE,
			IntervalStdDev DOUBLE
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			ID         BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
			RunID      VARCHAR(36) NOT NULL,
			Seq        BIGINT,
			AcquiredAt BIGINT,
			Path       TEXT,
			Samples    INT,
			INDEX (RunID, Seq)
		);`,
		`CREATE TABLE IF NOT EXISTS benchmark (
			ID             BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
			RunID          VARCHAR(36) NOT NULL,
			FileSeconds    DOUBLE,
			FileCount      INT,
			ElapsedSeconds DOUBLE,
			RateMsPerSec   DOUBLE,
			Error          TEXT
		);`,
	},
}

// RunInfo describes a run when it is registered in the catalog.
type RunInfo struct {
	Source       string
	Mode         string
	CenterFreq   float64
	RefLevel     float64
	Bandwidth    float64
	RecordLength int
	BatchSize    int
	OutputDir    string
	Started      time.Time
}

// Catalog indexes runs, persisted records and benchmark points in a SQL database.
type Catalog struct {
	DB      *sql.DB
	Dialect string
	RunID   string
}

// Init creates the catalog tables if they don't exist yet.
func (c *Catalog) Init(ctx context.Context) error {
	stmts, ok := schemas[c.Dialect]
	if !ok {
		return fmt.Errorf("%q is not a supported catalog dialect", c.Dialect)
	}
	for _, stmt := range stmts {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("unable to create table: %s", err)
		}
	}
	return nil
}

func (c *Catalog) StartRun(ctx context.Context, info *RunInfo) error {
	_, err := c.DB.ExecContext(ctx, insertRunTmpl, c.RunID, info.Source, info.Mode, info.CenterFreq, info.RefLevel, info.Bandwidth, info.RecordLength, info.BatchSize, info.OutputDir, info.Started.UnixMicro())
	return err
}

// IndexBatch stores the path of every record of a batch in one transaction.
func (c *Catalog) IndexBatch(ctx context.Context, recs []*iq.Record, paths []string) error {
	if len(recs) != len(paths) {
		return fmt.Errorf("got %d records but %d paths", len(recs), len(paths))
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	statement, err := tx.PrepareContext(ctx, insertRecordTmpl)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer statement.Close()
	for i, r := range recs {
		if _, err := statement.ExecContext(ctx, c.RunID, r.Seq, r.Time.UnixMicro(), paths[i], len(r.Samples)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// FinishRun stores the final counts of a run.
func (c *Catalog) FinishRun(ctx context.Context, ended time.Time, r *stats.Report) error {
	_, err := c.DB.ExecContext(ctx, finishRunTmpl, ended.UnixMicro(), r.Records, r.Batches, r.NotReady, r.Intervals.Mean, r.Intervals.StdDev, c.RunID)
	return err
}

// AddBenchmarkPoint stores one point of an IF stream file length sweep.
func (c *Catalog) AddBenchmarkPoint(ctx context.Context, fileLength time.Duration, fileCount int, elapsed time.Duration, rate float64, pointErr error) error {
	var errStr string
	if pointErr != nil {
		errStr = pointErr.Error()
	}
	_, err := c.DB.ExecContext(ctx, insertBenchmarkTmpl, c.RunID, fileLength.Seconds(), fileCount, elapsed.Seconds(), rate, errStr)
	return err
}
