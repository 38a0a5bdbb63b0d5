// Package postgres provides the PostgreSQL record store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/touchpoints/internal/domain"
)

// Repository provides Postgres-backed persistence for activity events and persons.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open connects to url, applies migrations and returns a Repository owning the pool.
func Open(ctx context.Context, url string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewRepository(pool), nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx runs fn in a single transaction.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type txRepository struct {
	tx pgx.Tx
}

const insertEvent = `INSERT INTO activity_events (customer_org_id, account_id, touchpoint_id, occurred_at, activity, channel, status, record_type,
        source_record_type, source_record_id, campaign_id, campaign_name, direction, people, involved_team_ids, related_opportunity_ids, activity_grouping_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14::jsonb,$15::jsonb,$16::jsonb,$17)`

func (t *txRepository) InsertEvents(ctx context.Context, events []domain.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEvent,
			ev.CustomerOrgID,
			ev.AccountID,
			ev.TouchpointID,
			ev.Timestamp.UTC(),
			ev.Activity,
			ev.Channel,
			ev.Status,
			ev.RecordType,
			ev.SourceRecordType,
			ev.SourceRecordID,
			ev.CampaignID,
			ev.CampaignName,
			ev.Direction,
			jsonText(ev.People),
			jsonText(ev.InvolvedTeamIDs),
			jsonText(ev.RelatedOpportunityIDs),
			ev.ActivityGroupingID,
		)
	}
	return t.sendBatch(ctx, batch, len(events), "insert events")
}

const insertPerson = `INSERT INTO persons (id, customer_org_id, first_name, last_name, email_address, job_title)
        VALUES ($1,$2,$3,$4,$5,$6)`

func (t *txRepository) InsertPersons(ctx context.Context, persons []domain.Person) error {
	if len(persons) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range persons {
		batch.Queue(insertPerson, p.ID, p.CustomerOrgID, p.FirstName, p.LastName, p.EmailAddress, p.JobTitle)
	}
	return t.sendBatch(ctx, batch, len(persons), "insert persons")
}

func (t *txRepository) sendBatch(ctx context.Context, batch *pgx.Batch, n int, op string) (err error) {
	results := t.tx.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil && err == nil {
			err = classify(fmt.Errorf("%s: %w", op, closeErr))
		}
	}()
	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			return classify(fmt.Errorf("%s: row %d: %w", op, i+1, err))
		}
	}
	return nil
}

const eventColumns = `id, customer_org_id, account_id, touchpoint_id, occurred_at, activity, channel, status, record_type,
        source_record_type, source_record_id, campaign_id, campaign_name, direction, people, involved_team_ids, related_opportunity_ids, activity_grouping_id`

// EventIDs returns the ids of every event in scope.
func (r *Repository) EventIDs(ctx context.Context, orgID, accountID string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM activity_events WHERE customer_org_id=$1 AND account_id=$2 ORDER BY id`, orgID, accountID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// EventsByIDs fetches the given events, ignoring ids outside the scope.
func (r *Repository) EventsByIDs(ctx context.Context, orgID, accountID string, ids []int64) ([]domain.ActivityEvent, error) {
	if len(ids) == 0 {
		return []domain.ActivityEvent{}, nil
	}
	query := `SELECT ` + eventColumns + `
        FROM activity_events WHERE customer_org_id=$1 AND account_id=$2 AND id = ANY($3)`
	return r.queryEvents(ctx, query, orgID, accountID, ids)
}

func (r *Repository) CountEvents(ctx context.Context, orgID, accountID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity_events WHERE customer_org_id=$1 AND account_id=$2`, orgID, accountID).Scan(&n)
	return n, err
}

func (r *Repository) CountEventsBefore(ctx context.Context, orgID, accountID string, cutoff time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_events WHERE customer_org_id=$1 AND account_id=$2 AND occurred_at < $3`,
		orgID, accountID, cutoff.UTC(),
	).Scan(&n)
	return n, err
}

// ListEvents returns one page of events, newest first.
func (r *Repository) ListEvents(ctx context.Context, orgID, accountID string, offset, limit int) ([]domain.ActivityEvent, error) {
	query := `SELECT ` + eventColumns + `
        FROM activity_events WHERE customer_org_id=$1 AND account_id=$2
        ORDER BY occurred_at DESC, id DESC LIMIT $3 OFFSET $4`
	return r.queryEvents(ctx, query, orgID, accountID, limit, offset)
}

// DailyCounts groups events by their UTC calendar date.
func (r *Repository) DailyCounts(ctx context.Context, orgID, accountID, direction string) ([]domain.DailyCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT (occurred_at AT TIME ZONE 'UTC')::date AS day, COUNT(*)
        FROM activity_events WHERE customer_org_id=$1 AND account_id=$2 AND direction=$3
        GROUP BY day ORDER BY day`, orgID, accountID, direction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]domain.DailyCount, 0)
	for rows.Next() {
		var (
			day   time.Time
			count int
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		counts = append(counts, domain.DailyCount{
			Day:   time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			Count: count,
		})
	}
	return counts, rows.Err()
}

// EventsWithPeople returns events whose people array is non-empty, oldest first.
func (r *Repository) EventsWithPeople(ctx context.Context, orgID, accountID string) ([]domain.ActivityEvent, error) {
	query := `SELECT ` + eventColumns + `
        FROM activity_events WHERE customer_org_id=$1 AND account_id=$2
        AND jsonb_typeof(people) = 'array' AND jsonb_array_length(people) > 0
        ORDER BY occurred_at ASC, id ASC`
	return r.queryEvents(ctx, query, orgID, accountID)
}

func (r *Repository) PersonIDs(ctx context.Context, orgID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM persons WHERE customer_org_id=$1 ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// PersonsByIDs fetches persons of the organization, ordered by last then first name.
func (r *Repository) PersonsByIDs(ctx context.Context, orgID string, ids []string) ([]domain.Person, error) {
	if len(ids) == 0 {
		return []domain.Person{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, customer_org_id, first_name, last_name, email_address, job_title
        FROM persons WHERE customer_org_id=$1 AND id = ANY($2)
        ORDER BY last_name, first_name`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	persons := make([]domain.Person, 0, len(ids))
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.CustomerOrgID, &p.FirstName, &p.LastName, &p.EmailAddress, &p.JobTitle); err != nil {
			return nil, err
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]domain.ActivityEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ActivityEvent, 0)
	for rows.Next() {
		var (
			ev                           domain.ActivityEvent
			people, teams, opportunities []byte
		)
		if err := rows.Scan(&ev.ID, &ev.CustomerOrgID, &ev.AccountID, &ev.TouchpointID, &ev.Timestamp, &ev.Activity, &ev.Channel,
			&ev.Status, &ev.RecordType, &ev.SourceRecordType, &ev.SourceRecordID, &ev.CampaignID, &ev.CampaignName, &ev.Direction,
			&people, &teams, &opportunities, &ev.ActivityGroupingID); err != nil {
			return nil, err
		}
		ev.Timestamp = ev.Timestamp.UTC()
		ev.People = json.RawMessage(people)
		ev.InvolvedTeamIDs = json.RawMessage(teams)
		ev.RelatedOpportunityIDs = json.RawMessage(opportunities)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

// Postgres SQLSTATEs treated as constraint violations.
const (
	uniqueViolation  = "23505"
	notNullViolation = "23502"
)

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation, notNullViolation:
			return fmt.Errorf("%w: %s: %w", domain.ErrConstraintViolation, pgErr.ConstraintName, err)
		}
	}
	return err
}

var (
	_ domain.EventRepository = (*Repository)(nil)
	_ domain.Transactor      = (*Repository)(nil)
)
