package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/observability/metrics"
)

// ledger implements Ledger. The same struct serves the root connection and
// transactions; only db differs.
type ledger struct {
	db       *gorm.DB
	isMySQL  bool
	recorder metrics.Recorder
}

// NewLedger creates a Ledger over db. isMySQL selects dialect specific SQL.
// A nil recorder disables metrics.
func NewLedger(db *gorm.DB, isMySQL bool, recorder metrics.Recorder) Ledger {
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	return &ledger{db: db, isMySQL: isMySQL, recorder: recorder}
}

// WithTx returns a Ledger bound to an existing transaction.
func WithTx(l Ledger, tx *gorm.DB) Ledger {
	if base, ok := l.(*ledger); ok {
		return &ledger{db: tx, isMySQL: base.isMySQL, recorder: base.recorder}
	}
	return NewLedger(tx, false, nil)
}

func (l *ledger) Albums() AlbumRepository {
	return &albumRepository{ledger: l}
}

func (l *ledger) Artwork() ArtworkRepository {
	return &artworkRepository{ledger: l}
}

func (l *ledger) Transaction(ctx context.Context, fn func(tx Ledger) error) error {
	start := time.Now()
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledger{db: tx, isMySQL: l.isMySQL, recorder: l.recorder})
	})
	l.observe(metrics.OpTransaction, "", start, err)
	return err
}

// randomFunc is the dialect's random ordering function.
func (l *ledger) randomFunc() string {
	if l.isMySQL {
		return "RAND()"
	}
	return "RANDOM()"
}

// observe records one operation against table.
func (l *ledger) observe(op, table string, start time.Time, err error) {
	name := op
	if table != "" {
		name = op + ":" + table
	}
	l.recorder.RecordDuration(name, time.Since(start).Seconds())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.recorder.RecordError(name, "database")
		return
	}
	l.recorder.RecordOperation(name, metrics.StatusSuccess)
}

// dbError wraps a database failure with context.
func dbError(err error, op string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
