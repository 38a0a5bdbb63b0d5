// Package sqlite provides a SQLite-backed record store for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"example.com/touchpoints/internal/domain"
	"example.com/touchpoints/internal/persistence/sqlite/migrations"
)

const dayLayout = "2006-01-02"

// Store persists activity events and persons in a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx runs fn inside one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

const insertEvent = `INSERT INTO activity_events (
    customer_org_id, account_id, touchpoint_id, occurred_at_us, occurred_on, activity,
    channel, status, record_type, source_record_type, source_record_id, campaign_id,
    campaign_name, direction, people, involved_team_ids, related_opportunity_ids,
    activity_grouping_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (t *txStore) InsertEvents(ctx context.Context, events []domain.ActivityEvent) error {
	stmt, err := t.tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare insert event: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		ts := ev.Timestamp.UTC()
		if _, err := stmt.ExecContext(ctx,
			ev.CustomerOrgID,
			ev.AccountID,
			ev.TouchpointID,
			ts.UnixMicro(),
			ts.Format(dayLayout),
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
		); err != nil {
			return classify(fmt.Errorf("insert event %s/%s/%s: %w", ev.CustomerOrgID, ev.AccountID, ev.TouchpointID, err))
		}
	}
	return nil
}

const insertPerson = `INSERT INTO persons (id, customer_org_id, first_name, last_name, email_address, job_title)
VALUES (?, ?, ?, ?, ?, ?)`

func (t *txStore) InsertPersons(ctx context.Context, persons []domain.Person) error {
	stmt, err := t.tx.PrepareContext(ctx, insertPerson)
	if err != nil {
		return fmt.Errorf("prepare insert person: %w", err)
	}
	defer stmt.Close()

	for _, p := range persons {
		if _, err := stmt.ExecContext(ctx, p.ID, p.CustomerOrgID, p.FirstName, p.LastName, p.EmailAddress, p.JobTitle); err != nil {
			return classify(fmt.Errorf("insert person %s: %w", p.ID, err))
		}
	}
	return nil
}

const eventColumns = `id, customer_org_id, account_id, touchpoint_id, occurred_at_us, activity,
    channel, status, record_type, source_record_type, source_record_id, campaign_id,
    campaign_name, direction, people, involved_team_ids, related_opportunity_ids,
    activity_grouping_id`

const scope = `customer_org_id = ? AND account_id = ?`

func (s *Store) EventIDs(ctx context.Context, orgID, accountID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM activity_events WHERE `+scope+` ORDER BY id`, orgID, accountID)
	if err != nil {
		return nil, fmt.Errorf("query event ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) EventsByIDs(ctx context.Context, orgID, accountID string, ids []int64) ([]domain.ActivityEvent, error) {
	if len(ids) == 0 {
		return []domain.ActivityEvent{}, nil
	}
	args := []any{orgID, accountID}
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT ` + eventColumns + ` FROM activity_events WHERE ` + scope +
		` AND id IN (` + placeholders(len(ids)) + `)`
	return s.queryEvents(ctx, query, args...)
}

func (s *Store) CountEvents(ctx context.Context, orgID, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_events WHERE `+scope, orgID, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *Store) CountEventsBefore(ctx context.Context, orgID, accountID string, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_events WHERE `+scope+` AND occurred_at_us < ?`,
		orgID, accountID, cutoff.UTC().UnixMicro(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events before: %w", err)
	}
	return n, nil
}

func (s *Store) ListEvents(ctx context.Context, orgID, accountID string, offset, limit int) ([]domain.ActivityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM activity_events WHERE ` + scope +
		` ORDER BY occurred_at_us DESC, id DESC LIMIT ? OFFSET ?`
	return s.queryEvents(ctx, query, orgID, accountID, limit, offset)
}

func (s *Store) DailyCounts(ctx context.Context, orgID, accountID, direction string) ([]domain.DailyCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurred_on, COUNT(*) FROM activity_events WHERE `+scope+` AND direction = ?
GROUP BY occurred_on ORDER BY occurred_on`,
		orgID, accountID, direction,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily counts: %w", err)
	}
	defer rows.Close()

	counts := make([]domain.DailyCount, 0)
	for rows.Next() {
		var (
			day   string
			count int
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		parsed, err := time.Parse(dayLayout, day)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		counts = append(counts, domain.DailyCount{Day: parsed, Count: count})
	}
	return counts, rows.Err()
}

func (s *Store) EventsWithPeople(ctx context.Context, orgID, accountID string) ([]domain.ActivityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM activity_events WHERE ` + scope + `
    AND CASE WHEN json_valid(people) THEN json_array_length(people) ELSE 0 END > 0
ORDER BY occurred_at_us ASC, id ASC`
	return s.queryEvents(ctx, query, orgID, accountID)
}

func (s *Store) PersonIDs(ctx context.Context, orgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM persons WHERE customer_org_id = ? ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query person ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan person id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) PersonsByIDs(ctx context.Context, orgID string, ids []string) ([]domain.Person, error) {
	if len(ids) == 0 {
		return []domain.Person{}, nil
	}
	args := []any{orgID}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_org_id, first_name, last_name, email_address, job_title
FROM persons WHERE customer_org_id = ? AND id IN (`+placeholders(len(ids))+`)
ORDER BY last_name, first_name`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	persons := make([]domain.Person, 0, len(ids))
	for rows.Next() {
		var (
			p        domain.Person
			jobTitle sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.CustomerOrgID, &p.FirstName, &p.LastName, &p.EmailAddress, &jobTitle); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		p.JobTitle = stringPtr(jobTitle)
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.ActivityEvent, 0)
	for rows.Next() {
		var (
			ev                                              domain.ActivityEvent
			micros                                          int64
			activity, srcType, srcID, campID, campName, grp sql.NullString
			people, teams, opportunities                    string
		)
		if err := rows.Scan(
			&ev.ID, &ev.CustomerOrgID, &ev.AccountID, &ev.TouchpointID, &micros, &activity,
			&ev.Channel, &ev.Status, &ev.RecordType, &srcType, &srcID, &campID,
			&campName, &ev.Direction, &people, &teams, &opportunities, &grp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = time.UnixMicro(micros).UTC()
		ev.Activity = stringPtr(activity)
		ev.SourceRecordType = stringPtr(srcType)
		ev.SourceRecordID = stringPtr(srcID)
		ev.CampaignID = stringPtr(campID)
		ev.CampaignName = stringPtr(campName)
		ev.ActivityGroupingID = stringPtr(grp)
		ev.People = json.RawMessage(people)
		ev.InvolvedTeamIDs = json.RawMessage(teams)
		ev.RelatedOpportunityIDs = json.RawMessage(opportunities)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

// classify maps SQLite constraint failures onto domain.ErrConstraintViolation.
func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT,
			sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3lib.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3lib.SQLITE_CONSTRAINT_NOTNULL:
			return fmt.Errorf("%w: %w", domain.ErrConstraintViolation, err)
		}
	}
	return err
}

var (
	_ domain.EventRepository = (*Store)(nil)
	_ domain.Transactor      = (*Store)(nil)
)
