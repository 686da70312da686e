package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"tradedash/internal/model"
)

// Reader provides read-only access to stored candles.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns the candles of a series with time after afterTS,
// ordered by time.
func (r *Reader) ReadCandles(ctx context.Context, key model.SeriesKey, afterTS int64) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, key.InstrumentKey, string(key.Timeframe), afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var vol sql.NullFloat64
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Store pairs a Writer and a Reader on the same database file.
type Store struct {
	*Writer
	*Reader
}

// Open creates the schema if needed and returns a Store.
func Open(cfg WriterConfig) (*Store, error) {
	w, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(cfg.DBPath)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Store{Writer: w, Reader: r}, nil
}

// Close closes both connections.
func (s *Store) Close() error {
	rerr := s.Reader.Close()
	if err := s.Writer.Close(); err != nil {
		return err
	}
	return rerr
}
