// Package ingest loads newline-delimited JSON activity events and persons into the record store.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/touchpoints/internal/domain"
	"example.com/touchpoints/internal/observability"
)

// DefaultBatchSize is the number of records inserted per transaction.
const DefaultBatchSize = 1000

// Record kinds reported by the Importer.
const (
	KindEvents  = "events"
	KindPersons = "persons"
)

// Logger is the logging surface used by the Importer; *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// LineError reports a line that could not be turned into a record.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// BatchError reports a batch the store rejected. None of its lines were stored.
type BatchError struct {
	FirstLine int
	LastLine  int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch lines %d-%d: %v", e.FirstLine, e.LastLine, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Report summarises one import run. On failure it still counts the batches
// that committed before the error.
type Report struct {
	RunID    uuid.UUID
	Kind     string
	Imported int
	Skipped  int
	Batches  int
	Duration time.Duration
}

// Option configures optional behaviour for the Importer.
type Option func(*Importer)

// WithBatchSize sets the records per transaction. Values below one keep the default.
func WithBatchSize(n int) Option {
	return func(i *Importer) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithIgnoreErrors makes malformed lines log and skip instead of aborting the run.
// Store rejections still abort.
func WithIgnoreErrors(ignore bool) Option {
	return func(i *Importer) {
		i.ignoreErrors = ignore
	}
}

// WithLogger overrides the logger used to report progress and skipped lines.
func WithLogger(logger Logger) Option {
	return func(i *Importer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// Importer reads records from a Source and stores them in atomic batches.
type Importer struct {
	store        domain.Transactor
	batchSize    int
	ignoreErrors bool
	logger       Logger
}

// NewImporter constructs an Importer writing through store.
func NewImporter(store domain.Transactor, opts ...Option) *Importer {
	i := &Importer{
		store:     store,
		batchSize: DefaultBatchSize,
		logger:    log.New(log.Writer(), "[ingest] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ImportEvents loads ActivityEvent lines from src.
func (i *Importer) ImportEvents(ctx context.Context, src Source) (Report, error) {
	return run(ctx, i, src, KindEvents, DecodeEvent,
		func(ctx context.Context, tx domain.Tx, batch []domain.ActivityEvent) error {
			return tx.InsertEvents(ctx, batch)
		},
		func(batch []domain.ActivityEvent) {
			var newest time.Time
			for _, ev := range batch {
				if ev.Timestamp.After(newest) {
					newest = ev.Timestamp
				}
			}
			observability.RecordEventImported(newest)
		},
	)
}

// ImportPersons loads Person lines from src.
func (i *Importer) ImportPersons(ctx context.Context, src Source) (Report, error) {
	return run(ctx, i, src, KindPersons, DecodePerson,
		func(ctx context.Context, tx domain.Tx, batch []domain.Person) error {
			return tx.InsertPersons(ctx, batch)
		},
		nil,
	)
}

func run[T any](
	ctx context.Context,
	imp *Importer,
	src Source,
	kind string,
	decode func([]byte) (T, error),
	insert func(context.Context, domain.Tx, []T) error,
	committed func([]T),
) (report Report, err error) {
	report = Report{RunID: uuid.New(), Kind: kind}
	started := time.Now()
	defer func() {
		report.Duration = time.Since(started)
		observability.RecordImported(kind, report.Imported)
		observability.RecordSkipped(kind, report.Skipped)
	}()

	imp.logger.Printf("run=%s starting %s import (batch size %d)", report.RunID, kind, imp.batchSize)

	var (
		pending     = make([]T, 0, imp.batchSize)
		lineNo      int
		firstLine   int
		lastLine    int
		uncommitted bool
	)

	flush := func() error {
		err := imp.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return insert(ctx, tx, pending)
		})
		if err != nil {
			return &BatchError{FirstLine: firstLine, LastLine: lastLine, Err: err}
		}
		report.Imported += len(pending)
		report.Batches++
		if committed != nil {
			committed(pending)
		}
		pending = pending[:0]
		if err := src.Commit(ctx); err != nil {
			return fmt.Errorf("commit source after line %d: %w", lineNo, err)
		}
		uncommitted = false
		return nil
	}

	for {
		line, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read line %d: %w", lineNo+1, err)
		}
		lineNo++
		uncommitted = true

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		record, err := decode(line)
		if err != nil {
			lineErr := &LineError{Line: lineNo, Err: err}
			if !imp.ignoreErrors {
				return report, lineErr
			}
			imp.logger.Printf("run=%s skipping %v", report.RunID, lineErr)
			report.Skipped++
			continue
		}

		if len(pending) == 0 {
			firstLine = lineNo
		}
		pending = append(pending, record)
		lastLine = lineNo
		if len(pending) >= imp.batchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}

	if len(pending) > 0 {
		if err := flush(); err != nil {
			return report, err
		}
	} else if uncommitted {
		if err := src.Commit(ctx); err != nil {
			return report, fmt.Errorf("commit source: %w", err)
		}
	}

	imp.logger.Printf("run=%s imported %d %s in %d batches (%d skipped)", report.RunID, report.Imported, kind, report.Batches, report.Skipped)
	return report, nil
}
