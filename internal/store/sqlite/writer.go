// Package sqlite stores live candles captured by the service so a chart
// reload can extend upstream history with them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"tradedash/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushEvery = 200 * time.Millisecond
	defaultQueueSize  = 4096
)

// WriterConfig configures the SQLite writer. Zero values take the defaults.
type WriterConfig struct {
	DBPath string // e.g. "data/candles.db"

	QueueSize  int           // SaveCandle buffer, 4096
	BatchSize  int           // records per transaction, 100
	FlushEvery time.Duration // max age of a partial batch, 200ms
}

func (c *WriterConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultFlushEvery
	}
}

// Record is one finalized candle of a series.
type Record struct {
	Key    model.SeriesKey
	Candle model.Candle
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db  *sql.DB
	in  chan Record
	cfg WriterConfig

	// OnCommit is called after each batch commit (optional).
	OnCommit func(n int, elapsed time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates the database directory if needed, opens the database in WAL
// mode and creates the candles table.
func New(cfg WriterConfig) (*Writer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// one connection: every write goes through the Run goroutine
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	cfg.defaults()
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, in: make(chan Record, cfg.QueueSize), cfg: cfg}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			instrument TEXT    NOT NULL,
			tf         TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL,
			PRIMARY KEY (instrument, tf, ts)
		);
	`)
	return err
}

// SaveCandle queues a finalized candle for the next batch. It never blocks:
// when the queue is full the candle is dropped and logged.
func (w *Writer) SaveCandle(key model.SeriesKey, c model.Candle) {
	select {
	case w.in <- Record{Key: key, Candle: c}:
	default:
		log.Printf("[sqlite] queue full, dropping candle %s ts=%d", key, c.Time)
	}
}

// Run drains the SaveCandle queue until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	w.RunFrom(ctx, w.in)
}

// RunFrom writes records from ch in transactions of up to BatchSize, and
// commits whatever is pending every FlushEvery. It returns when ch is
// closed or ctx is cancelled; on cancel the records already queued are
// still written.
func (w *Writer) RunFrom(ctx context.Context, ch <-chan Record) {
	batch := make([]Record, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.commit(drain(ch, batch))
			return
		case rec, ok := <-ch:
			if !ok {
				w.commit(batch)
				return
			}
			if batch = append(batch, rec); len(batch) >= w.cfg.BatchSize {
				w.commit(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			w.commit(batch)
			batch = batch[:0]
		}
	}
}

// drain appends what is already buffered in ch without blocking.
func drain(ch <-chan Record, batch []Record) []Record {
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return batch
			}
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

// commit writes recs and reports the timing. Failed batches are logged and
// discarded.
func (w *Writer) commit(recs []Record) {
	if len(recs) == 0 {
		return
	}
	// cancellation must not abort the final flush
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := w.insert(ctx, recs); err != nil {
		log.Printf("[sqlite] dropped batch of %d candles: %v", len(recs), err)
		return
	}
	if w.OnCommit != nil {
		w.OnCommit(len(recs), time.Since(start))
	}
}

const upsertCandle = `INSERT OR REPLACE INTO candles
	(instrument, tf, ts, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// insert upserts recs in one transaction, keyed by series and time.
func (w *Writer) insert(ctx context.Context, recs []Record) (err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertCandle)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		c := r.Candle
		if _, err = stmt.ExecContext(ctx, r.Key.InstrumentKey, string(r.Key.Timeframe),
			c.Time, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("insert %s ts=%d: %w", r.Key, c.Time, err)
		}
	}
	return tx.Commit()
}

// LastTimestamp returns the last stored candle time of a series, 0 if none.
func (w *Writer) LastTimestamp(ctx context.Context, key model.SeriesKey) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE instrument = ? AND tf = ?`,
		key.InstrumentKey, string(key.Timeframe),
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
