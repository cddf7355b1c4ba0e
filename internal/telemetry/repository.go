package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const maxPendingBatches = 10

type repository struct {
	db            *sql.DB
	log           logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []Record
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

// NewRepository opens the database at cfg.DBPath and brings its schema up to
// date.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	return newRepository(db, cfg, log), nil
}

func newRepository(db *sql.DB, cfg Config, log logger.Logger) *repository {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	r := &repository{
		db:            db,
		log:           log,
		cfg:           cfg,
		buffer:        make([]Record, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchTimeout > 0 {
		r.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go r.flusher()
	} else {
		close(r.flushDoneChan)
	}

	return r
}

// Record buffers rec and writes the buffer once it holds BatchSize records.
// A failed write keeps the buffer for the next attempt, up to
// maxPendingBatches batches; beyond that the oldest batch is discarded.
func (r *repository) Record(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, rec)

	if len(r.buffer) < r.cfg.BatchSize {
		return nil
	}

	err := r.flush()
	if err != nil && len(r.buffer) >= maxPendingBatches*r.cfg.BatchSize {
		r.log.Warn().Int("records", r.cfg.BatchSize).Msg("Discarding oldest unflushed telemetry")
		r.buffer = append(r.buffer[:0], r.buffer[r.cfg.BatchSize:]...)
	}

	return err
}

func (r *repository) Close() error {
	var err error
	r.closeOnce.Do(func() { err = r.close() })
	return err
}

func (r *repository) close() error {
	close(r.shutdownChan)

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	r.mu.Lock()
	flushErr := r.flush()
	r.mu.Unlock()
	if flushErr != nil {
		r.log.Warn().Err(flushErr).Int("records", len(r.buffer)).Msg("Dropping unflushed telemetry")
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.log.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.log.Info().Msg("Telemetry repository closed")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.log.Warn().Err(err).Msg("Periodic telemetry flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush must be called with mu held.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		r.rollback(tx)
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range r.buffer {
		if _, err := stmt.Exec(
			rec.Timestamp.UnixMilli(),
			rec.Temperature, rec.Humidity, rec.SoilMoisture,
			rec.Mode, rec.Status, rec.Phase, rec.Source,
			rec.Fan, rec.Light, rec.Ventilation,
			boolToInt(rec.ManualOverride),
		); err != nil {
			r.rollback(tx)
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.log.Debug().Int("records", len(r.buffer)).Msg("Flushed telemetry to database")
	r.buffer = r.buffer[:0]

	return nil
}

func (r *repository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		r.log.Error().Err(err).Msg("Failed to roll back transaction")
	}
}
