package sessionlog

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/gamelink/internal/record"
)

// Mirror receives every record after it has been appended.
// Implemented by Journal.
type Mirror interface {
	Write(ctx context.Context, logID string, rec record.Record) error
}

// Log is an append-only ordered store of records.
type Log struct {
	id      string
	records []record.Record
	seq     int64
	now     func() time.Time
	mirror  Mirror
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the function used to stamp CapturedAt.
// Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithMirror forwards appended records to m.
func WithMirror(m Mirror) Option {
	return func(l *Log) {
		l.mirror = m
	}
}

// New creates an empty log with a fresh UUIDv7 identity.
func New(opts ...Option) *Log {
	l := &Log{
		id:      uuid.Must(uuid.NewV7()).String(),
		records: make([]record.Record, 0, 64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID identifies this log instance in the journal.
func (l *Log) ID() string {
	return l.id
}

// Append stamps attrs with the next sequence number and capture time and
// appends the resulting record. Append never fails; mirror errors are logged.
func (l *Log) Append(attrs record.Attributes) record.Record {
	l.seq++
	rec := record.Record{
		Seq:        l.seq,
		Kind:       attrs.Kind(),
		Attributes: attrs,
		CapturedAt: l.now(),
	}
	l.records = append(l.records, rec)

	slog.Debug("record appended",
		"log_id", l.id,
		"seq", rec.Seq,
		"kind", rec.Kind,
	)

	if l.mirror != nil {
		if err := l.mirror.Write(context.Background(), l.id, rec); err != nil {
			slog.Warn("journal write failed",
				"log_id", l.id,
				"seq", rec.Seq,
				"kind", rec.Kind,
				"error", err,
			)
		}
	}

	return rec
}

// LatestMatching returns the most recently appended record of the given kind
// that satisfies pred. The second result is false when none does yet.
func (l *Log) LatestMatching(kind record.Kind, pred record.Predicate) (record.Record, bool) {
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if rec.Kind == kind && pred(rec) {
			return rec, true
		}
	}
	return record.Record{}, false
}

// Latest returns the most recently appended record of any kind that
// satisfies pred.
func (l *Log) Latest(pred record.Predicate) (record.Record, bool) {
	for i := len(l.records) - 1; i >= 0; i-- {
		if pred(l.records[i]) {
			return l.records[i], true
		}
	}
	return record.Record{}, false
}

// All returns the records of the given kind in insertion order.
// The sequence is restartable and reflects the log at call time.
func (l *Log) All(kind record.Kind) iter.Seq[record.Record] {
	snapshot := l.records[:len(l.records):len(l.records)]
	return func(yield func(record.Record) bool) {
		for _, rec := range snapshot {
			if rec.Kind != kind {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Session derives the current session state: each field comes from the
// latest record carrying it.
func (l *Log) Session() record.Session {
	var s record.Session
	if rec, ok := l.Latest(record.HasOrganisation); ok {
		s.OrganisationID = rec.Session().OrganisationID
	}
	if rec, ok := l.Latest(record.HasUser); ok {
		s.UserID = rec.Session().UserID
	}
	if rec, ok := l.Latest(record.HasLanguage); ok {
		s.Language = rec.Session().Language
	}
	if rec, ok := l.Latest(record.HasSubdomain); ok {
		s.Subdomain = rec.Session().Subdomain
	}
	return s
}

// Count returns the number of records of the given kind satisfying pred.
func (l *Log) Count(kind record.Kind, pred record.Predicate) int {
	n := 0
	for _, rec := range l.records {
		if rec.Kind == kind && pred(rec) {
			n++
		}
	}
	return n
}

// Seq returns the sequence number of the last appended record, or zero for
// an empty log.
func (l *Log) Seq() int64 {
	return l.seq
}

// Len returns the total number of records.
func (l *Log) Len() int {
	return len(l.records)
}

// Snapshot returns a copy of every record in insertion order.
func (l *Log) Snapshot() []record.Record {
	out := make([]record.Record, len(l.records))
	copy(out, l.records)
	return out
}
