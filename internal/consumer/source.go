// Package consumer streams NDJSON records from Kafka into the batch loader.
package consumer

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/touchpoints/internal/ingest"
)

// DefaultIdleTimeout ends a drain when no message arrives for this long.
const DefaultIdleTimeout = 10 * time.Second

// Reader exposes the minimal kafka.Reader interface needed by the Source.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// ReaderConfig describes the consumer group a Source reads from.
type ReaderConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// NewReader builds a kafka-go reader that commits synchronously, so offsets
// only move when the loader commits a batch.
func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  0,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
}

// Option configures optional behaviour for the Source.
type Option func(*Source)

// WithLogger overrides the logger used to report commits.
func WithLogger(logger *log.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithIdleTimeout sets how long Next waits for a message before reporting io.EOF.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.idle = d
		}
	}
}

// Source adapts a Kafka consumer to ingest.Source. Each message value is one record.
type Source struct {
	reader  Reader
	idle    time.Duration
	logger  *log.Logger
	pending []kafka.Message
}

// NewSource constructs a Source over reader.
func NewSource(reader Reader, opts ...Option) *Source {
	s := &Source{
		reader: reader,
		idle:   DefaultIdleTimeout,
		logger: log.New(log.Writer(), "[kafka-source] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next message value. It reports io.EOF once the topic has
// been idle for the configured timeout.
func (s *Source) Next(ctx context.Context) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.idle)
	defer cancel()

	msg, err := s.reader.FetchMessage(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, io.EOF
		}
		return nil, err
	}
	s.pending = append(s.pending, msg)
	recordFetched(msg)
	return msg.Value, nil
}

// Commit acknowledges every message returned by Next since the last commit.
func (s *Source) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, s.pending...); err != nil {
		recordCommitError(s.pending[0].Topic)
		return err
	}
	last := s.pending[len(s.pending)-1]
	s.logger.Printf("committed %d messages (topic=%s, partition=%d, offset=%d)", len(s.pending), last.Topic, last.Partition, last.Offset)
	recordCommitted(s.pending)
	s.pending = s.pending[:0]
	return nil
}

// Close closes the underlying reader. Uncommitted messages are redelivered to the group.
func (s *Source) Close() error {
	return s.reader.Close()
}

var _ ingest.Source = (*Source)(nil)
