package domain

import (
	"context"
	"time"
)

// EventRepository captures the read side used by the query engine. Every
// method is scoped by organization, and by account where events are involved.
type EventRepository interface {
	EventIDs(ctx context.Context, orgID, accountID string) ([]int64, error)
	EventsByIDs(ctx context.Context, orgID, accountID string, ids []int64) ([]ActivityEvent, error)
	CountEvents(ctx context.Context, orgID, accountID string) (int, error)
	// CountEventsBefore counts events whose timestamp is strictly before cutoff.
	CountEventsBefore(ctx context.Context, orgID, accountID string, cutoff time.Time) (int, error)
	// ListEvents returns events ordered by timestamp descending.
	ListEvents(ctx context.Context, orgID, accountID string, offset, limit int) ([]ActivityEvent, error)
	// DailyCounts groups events with the given direction by UTC date, ascending.
	DailyCounts(ctx context.Context, orgID, accountID, direction string) ([]DailyCount, error)
	// EventsWithPeople returns events with a non-empty people array, oldest first.
	EventsWithPeople(ctx context.Context, orgID, accountID string) ([]ActivityEvent, error)
	PersonIDs(ctx context.Context, orgID string) ([]string, error)
	PersonsByIDs(ctx context.Context, orgID string, ids []string) ([]Person, error)
}

// Tx is the write surface available inside a unit of work.
type Tx interface {
	InsertEvents(ctx context.Context, events []ActivityEvent) error
	InsertPersons(ctx context.Context, persons []Person) error
}

// Transactor runs fn in a single transaction: it commits when fn returns nil
// and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
