// Package domain defines the activity timeline query engine.
package domain

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"example.com/touchpoints/internal/observability"
)

const (
	// EventSampleSize caps SampleEvents.
	EventSampleSize = 10
	// PersonSampleSize caps SamplePersons.
	PersonSampleSize = 5
	// DefaultPageSize applies when the caller does not ask for one.
	DefaultPageSize = 50
	// MaxPageSize bounds a single listing page.
	MaxPageSize = 500
)

const (
	msgOrgAndAccountRequired = "Both 'customer_org_id' and 'account_id' query parameters are required."
	msgOrgRequired           = "'customer_org_id' query parameter is required."
)

func init() {
	observability.SetErrorClassifier(ErrorKind)
}

// Service answers timeline queries for an (organization, account) scope.
type Service struct {
	repo EventRepository
	intn func(n int) int
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithRandom overrides the source used for sampling. intn must return a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(s *Service) {
		s.intn = intn
	}
}

// NewService constructs a Service.
func NewService(repo EventRepository, opts ...Option) *Service {
	s := &Service{repo: repo, intn: rand.IntN}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListEventsInput captures the listing request.
type ListEventsInput struct {
	OrgID     string
	AccountID string
	Page      int
	PageSize  int
	// TargetDate is a YYYY-MM-DD calendar date; when it parses, the page is
	// recomputed from the number of events on or before that date.
	TargetDate string
}

// EventPage is one page of events plus the persons they reference.
type EventPage struct {
	Events     []ActivityEvent
	Persons    map[string]PersonSummary
	Pagination Pagination
}

// DailyCount is the number of events on one UTC calendar day.
type DailyCount struct {
	Day   time.Time
	Count int
}

// FirstTouchpoint records the earliest event a person appears in.
type FirstTouchpoint struct {
	PersonID  string
	Timestamp time.Time
}

// Date returns the UTC calendar date of the touchpoint.
func (f FirstTouchpoint) Date() string {
	return f.Timestamp.UTC().Format(time.DateOnly)
}

// Timeline aggregates an account's activity for the minimap.
type Timeline struct {
	DailyCounts      []DailyCount
	FirstTouchpoints []FirstTouchpoint
}

// SampleEvents returns up to EventSampleSize random events of the account.
func (s *Service) SampleEvents(ctx context.Context, orgID, accountID string) (events []ActivityEvent, err error) {
	defer observability.ObserveQuery("sample_events", time.Now(), &err)

	if blank(orgID) || blank(accountID) {
		return nil, badRequest(msgOrgAndAccountRequired)
	}

	ids, err := s.repo.EventIDs(ctx, orgID, accountID)
	if err != nil {
		return nil, storageError("list event ids", err)
	}
	picked := sample(ids, EventSampleSize, s.intn)
	if len(picked) == 0 {
		return []ActivityEvent{}, nil
	}

	found, err := s.repo.EventsByIDs(ctx, orgID, accountID, picked)
	if err != nil {
		return nil, storageError("fetch sampled events", err)
	}
	byID := make(map[int64]ActivityEvent, len(found))
	for _, ev := range found {
		byID[ev.ID] = ev
	}
	events = make([]ActivityEvent, 0, len(picked))
	for _, id := range picked {
		if ev, ok := byID[id]; ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// SamplePersons returns up to PersonSampleSize random persons of the organization.
func (s *Service) SamplePersons(ctx context.Context, orgID string) (persons []Person, err error) {
	defer observability.ObserveQuery("sample_persons", time.Now(), &err)

	if blank(orgID) {
		return nil, badRequest(msgOrgRequired)
	}

	ids, err := s.repo.PersonIDs(ctx, orgID)
	if err != nil {
		return nil, storageError("list person ids", err)
	}
	picked := sample(ids, PersonSampleSize, s.intn)
	if len(picked) == 0 {
		return []Person{}, nil
	}

	found, err := s.repo.PersonsByIDs(ctx, orgID, picked)
	if err != nil {
		return nil, storageError("fetch sampled persons", err)
	}
	byID := make(map[string]Person, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	persons = make([]Person, 0, len(picked))
	for _, id := range picked {
		if p, ok := byID[id]; ok {
			persons = append(persons, p)
		}
	}
	return persons, nil
}

// ListEvents returns a page of the account's events, newest first, enriched
// with the persons referenced on that page.
func (s *Service) ListEvents(ctx context.Context, input ListEventsInput) (page *EventPage, err error) {
	defer observability.ObserveQuery("list_events", time.Now(), &err)

	if blank(input.OrgID) || blank(input.AccountID) {
		return nil, badRequest(msgOrgAndAccountRequired)
	}

	size := normalizePageSize(input.PageSize)
	number := input.Page
	if day, ok := ParseTargetDate(input.TargetDate); ok {
		onOrBefore, err := s.repo.CountEventsBefore(ctx, input.OrgID, input.AccountID, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, storageError("count events before date", err)
		}
		number = max(1, onOrBefore/size+1)
	}

	total, err := s.repo.CountEvents(ctx, input.OrgID, input.AccountID)
	if err != nil {
		return nil, storageError("count events", err)
	}
	pagination := NewPagination(number, size, total)

	events, err := s.repo.ListEvents(ctx, input.OrgID, input.AccountID, pagination.Offset(size), size)
	if err != nil {
		return nil, storageError("list events", err)
	}

	persons := make(map[string]PersonSummary)
	if ids := referencedPersonIDs(events); len(ids) > 0 {
		found, err := s.repo.PersonsByIDs(ctx, input.OrgID, ids)
		if err != nil {
			return nil, storageError("fetch referenced persons", err)
		}
		for _, p := range found {
			persons[p.ID] = p.Summary()
		}
	}

	return &EventPage{Events: events, Persons: persons, Pagination: pagination}, nil
}

// Timeline returns the inbound daily counts and each person's first touchpoint.
func (s *Service) Timeline(ctx context.Context, orgID, accountID string) (timeline Timeline, err error) {
	defer observability.ObserveQuery("timeline", time.Now(), &err)

	if blank(orgID) || blank(accountID) {
		return Timeline{}, badRequest(msgOrgAndAccountRequired)
	}

	counts, err := s.repo.DailyCounts(ctx, orgID, accountID, DirectionInbound)
	if err != nil {
		return Timeline{}, storageError("daily counts", err)
	}

	events, err := s.repo.EventsWithPeople(ctx, orgID, accountID)
	if err != nil {
		return Timeline{}, storageError("events with people", err)
	}

	return Timeline{
		DailyCounts:      counts,
		FirstTouchpoints: firstTouchpoints(events),
	}, nil
}

// firstTouchpoints expects events in ascending timestamp order.
func firstTouchpoints(events []ActivityEvent) []FirstTouchpoint {
	seen := make(map[string]struct{})
	out := make([]FirstTouchpoint, 0)
	for _, ev := range events {
		for _, ref := range ev.PersonRefs() {
			if _, ok := seen[ref.ID]; ok {
				continue
			}
			seen[ref.ID] = struct{}{}
			out = append(out, FirstTouchpoint{PersonID: ref.ID, Timestamp: ev.Timestamp})
		}
	}
	return out
}

func referencedPersonIDs(events []ActivityEvent) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, ev := range events {
		for _, ref := range ev.PersonRefs() {
			if _, ok := seen[ref.ID]; ok {
				continue
			}
			seen[ref.ID] = struct{}{}
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// sample picks min(k, len(items)) items uniformly without replacement using a
// partial Fisher-Yates shuffle over a copy of items.
func sample[T any](items []T, k int, intn func(int) int) []T {
	if k > len(items) {
		k = len(items)
	}
	pool := append([]T(nil), items...)
	for i := 0; i < k; i++ {
		j := i + intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

func normalizePageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

func blank(value string) bool {
	return strings.TrimSpace(value) == ""
}
