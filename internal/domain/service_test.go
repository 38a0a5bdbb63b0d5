package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	events  []ActivityEvent
	persons []Person
	calls   int
	err     error
}

func (m *memoryRepo) scoped(orgID, accountID string) []ActivityEvent {
	out := make([]ActivityEvent, 0)
	for _, ev := range m.events {
		if ev.CustomerOrgID == orgID && ev.AccountID == accountID {
			out = append(out, ev)
		}
	}
	return out
}

func (m *memoryRepo) EventIDs(_ context.Context, orgID, accountID string) ([]int64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	ids := make([]int64, 0)
	for _, ev := range m.scoped(orgID, accountID) {
		ids = append(ids, ev.ID)
	}
	return ids, nil
}

func (m *memoryRepo) EventsByIDs(_ context.Context, orgID, accountID string, ids []int64) ([]ActivityEvent, error) {
	m.calls++
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]ActivityEvent, 0)
	for _, ev := range m.scoped(orgID, accountID) {
		if want[ev.ID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memoryRepo) CountEvents(_ context.Context, orgID, accountID string) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return len(m.scoped(orgID, accountID)), nil
}

func (m *memoryRepo) CountEventsBefore(_ context.Context, orgID, accountID string, cutoff time.Time) (int, error) {
	m.calls++
	n := 0
	for _, ev := range m.scoped(orgID, accountID) {
		if ev.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) ListEvents(_ context.Context, orgID, accountID string, offset, limit int) ([]ActivityEvent, error) {
	m.calls++
	events := m.scoped(orgID, accountID)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID > events[j].ID
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if offset >= len(events) {
		return []ActivityEvent{}, nil
	}
	end := min(offset+limit, len(events))
	return events[offset:end], nil
}

func (m *memoryRepo) DailyCounts(_ context.Context, orgID, accountID, direction string) ([]DailyCount, error) {
	m.calls++
	byDay := map[time.Time]int{}
	for _, ev := range m.scoped(orgID, accountID) {
		if ev.Direction != direction {
			continue
		}
		ts := ev.Timestamp.UTC()
		byDay[time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)]++
	}
	out := make([]DailyCount, 0, len(byDay))
	for day, n := range byDay {
		out = append(out, DailyCount{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (m *memoryRepo) EventsWithPeople(_ context.Context, orgID, accountID string) ([]ActivityEvent, error) {
	m.calls++
	out := make([]ActivityEvent, 0)
	for _, ev := range m.scoped(orgID, accountID) {
		var people []json.RawMessage
		if json.Unmarshal(ev.People, &people) == nil && len(people) > 0 {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *memoryRepo) PersonIDs(_ context.Context, orgID string) ([]string, error) {
	m.calls++
	ids := make([]string, 0)
	for _, p := range m.persons {
		if p.CustomerOrgID == orgID {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (m *memoryRepo) PersonsByIDs(_ context.Context, orgID string, ids []string) ([]Person, error) {
	m.calls++
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]Person, 0)
	for _, p := range m.persons {
		if p.CustomerOrgID == orgID && want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

var base = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

func event(id int64, org, account string, ts time.Time, people string) ActivityEvent {
	if people == "" {
		people = "[]"
	}
	return ActivityEvent{
		ID:                    id,
		CustomerOrgID:         org,
		AccountID:             account,
		TouchpointID:          fmt.Sprintf("tp-%d", id),
		Timestamp:             ts,
		Channel:               "email",
		Status:                "done",
		RecordType:            "task",
		Direction:             DirectionInbound,
		People:                json.RawMessage(people),
		InvolvedTeamIDs:       json.RawMessage("[]"),
		RelatedOpportunityIDs: json.RawMessage("[]"),
	}
}

func hourlyEvents(n int, org, account string) []ActivityEvent {
	events := make([]ActivityEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, event(int64(i+1), org, account, base.Add(time.Duration(i)*time.Hour), ""))
	}
	return events
}

func TestScopeIsRequiredBeforeStorage(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.SampleEvents(ctx, "org", "")
	require.ErrorIs(t, err, ErrBadRequest)
	require.EqualError(t, err, "Both 'customer_org_id' and 'account_id' query parameters are required.")

	_, err = svc.SamplePersons(ctx, "  ")
	require.ErrorIs(t, err, ErrBadRequest)
	require.EqualError(t, err, "'customer_org_id' query parameter is required.")

	_, err = svc.ListEvents(ctx, ListEventsInput{AccountID: "acct"})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Timeline(ctx, "", "acct")
	require.ErrorIs(t, err, ErrBadRequest)

	require.Zero(t, repo.calls)
}

func TestSampleEventsCapsAndScopes(t *testing.T) {
	events := hourlyEvents(25, "org", "acct")
	events = append(events, event(100, "org", "other", base, ""), event(101, "other", "acct", base, ""))
	svc := NewService(&memoryRepo{events: events})

	for range 20 {
		got, err := svc.SampleEvents(context.Background(), "org", "acct")
		require.NoError(t, err)
		require.Len(t, got, EventSampleSize)

		seen := map[int64]bool{}
		for _, ev := range got {
			require.Equal(t, "org", ev.CustomerOrgID)
			require.Equal(t, "acct", ev.AccountID)
			require.False(t, seen[ev.ID], "duplicate id %d", ev.ID)
			seen[ev.ID] = true
		}
	}
}

func TestSampleEventsReturnsAllWhenFewer(t *testing.T) {
	svc := NewService(&memoryRepo{events: hourlyEvents(3, "org", "acct")})

	got, err := svc.SampleEvents(context.Background(), "org", "acct")
	require.NoError(t, err)
	require.Len(t, got, 3)

	empty, err := svc.SampleEvents(context.Background(), "org", "nobody")
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestSampleEventsFollowsSelectionOrder(t *testing.T) {
	// Always swapping with the last candidate walks the ids from the end.
	last := func(n int) int { return n - 1 }
	svc := NewService(&memoryRepo{events: hourlyEvents(4, "org", "acct")}, WithRandom(last))

	got, err := svc.SampleEvents(context.Background(), "org", "acct")
	require.NoError(t, err)
	ids := make([]int64, 0, len(got))
	for _, ev := range got {
		ids = append(ids, ev.ID)
	}
	require.Equal(t, []int64{4, 1, 2, 3}, ids)
}

func TestSamplePersonsCapsAndScopes(t *testing.T) {
	var persons []Person
	for i := range 12 {
		persons = append(persons, Person{ID: fmt.Sprintf("p-%d", i), CustomerOrgID: "org", FirstName: "F", LastName: "L"})
	}
	persons = append(persons, Person{ID: "x", CustomerOrgID: "other"})
	svc := NewService(&memoryRepo{persons: persons})

	got, err := svc.SamplePersons(context.Background(), "org")
	require.NoError(t, err)
	require.Len(t, got, PersonSampleSize)
	for _, p := range got {
		require.Equal(t, "org", p.CustomerOrgID)
	}
}

func TestListEventsPagination(t *testing.T) {
	svc := NewService(&memoryRepo{events: hourlyEvents(120, "org", "acct")})
	ctx := context.Background()

	first, err := svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", Page: 1})
	require.NoError(t, err)
	require.Len(t, first.Events, 50)
	require.Equal(t, Pagination{CurrentPage: 1, TotalPages: 3, TotalCount: 120, HasNext: true, HasPrevious: false}, first.Pagination)
	require.Equal(t, int64(120), first.Events[0].ID, "newest first")

	third, err := svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", Page: 3, PageSize: 50})
	require.NoError(t, err)
	require.Len(t, third.Events, 20)
	require.False(t, third.Pagination.HasNext)
	require.True(t, third.Pagination.HasPrevious)

	overflow, err := svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", Page: 99})
	require.NoError(t, err)
	require.Equal(t, 3, overflow.Pagination.CurrentPage)

	negative, err := svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", Page: -4})
	require.NoError(t, err)
	require.Equal(t, 1, negative.Pagination.CurrentPage)
}

func TestListEventsEmptyAccount(t *testing.T) {
	svc := NewService(&memoryRepo{})

	page, err := svc.ListEvents(context.Background(), ListEventsInput{OrgID: "org", AccountID: "acct"})
	require.NoError(t, err)
	require.Empty(t, page.Events)
	require.NotNil(t, page.Persons)
	require.Equal(t, Pagination{CurrentPage: 1, TotalPages: 1}, page.Pagination)
}

func TestListEventsDateSeek(t *testing.T) {
	// Ten events per day across three days.
	var events []ActivityEvent
	id := int64(1)
	for day := range 3 {
		for i := range 10 {
			ts := base.AddDate(0, 0, day).Add(time.Duration(i) * time.Minute)
			events = append(events, event(id, "org", "acct", ts, ""))
			id++
		}
	}
	svc := NewService(&memoryRepo{events: events})
	ctx := context.Background()

	page, err := svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", PageSize: 4, TargetDate: "2024-01-02"})
	require.NoError(t, err)
	// 20 events fall on or before Jan 2: 20/4+1.
	require.Equal(t, 6, page.Pagination.CurrentPage)

	page, err = svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", PageSize: 4, TargetDate: "2023-12-01"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Pagination.CurrentPage)

	page, err = svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", Page: 2, PageSize: 4, TargetDate: "not-a-date"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Pagination.CurrentPage)

	page, err = svc.ListEvents(ctx, ListEventsInput{OrgID: "org", AccountID: "acct", PageSize: 4, TargetDate: "2030-01-01"})
	require.NoError(t, err)
	require.Equal(t, page.Pagination.TotalPages, page.Pagination.CurrentPage)
}

func TestListEventsEnrichesCurrentPageOnly(t *testing.T) {
	events := []ActivityEvent{
		event(1, "org", "acct", base, `[{"id":"old"}]`),
		event(2, "org", "acct", base.Add(time.Hour), `[{"id":"p1"},{"name":"no id"},"junk",{"id":7}]`),
		event(3, "org", "acct", base.Add(2*time.Hour), `{"id":"not-an-array"}`),
	}
	title := "VP"
	persons := []Person{
		{ID: "p1", CustomerOrgID: "org", FirstName: "Ada", LastName: "Lovelace", EmailAddress: "ada@example.com", JobTitle: &title},
		{ID: "7", CustomerOrgID: "org", FirstName: "Num", LastName: "Ber", EmailAddress: "n@example.com"},
		{ID: "old", CustomerOrgID: "org", FirstName: "Old", LastName: "Timer"},
		{ID: "p1", CustomerOrgID: "other", FirstName: "Wrong", LastName: "Org"},
	}
	svc := NewService(&memoryRepo{events: events, persons: persons})

	page, err := svc.ListEvents(context.Background(), ListEventsInput{OrgID: "org", AccountID: "acct", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, map[string]PersonSummary{
		"p1": {FirstName: "Ada", LastName: "Lovelace", EmailAddress: "ada@example.com", JobTitle: &title},
		"7":  {FirstName: "Num", LastName: "Ber", EmailAddress: "n@example.com"},
	}, page.Persons)
}

func TestTimelineFirstTouchpoints(t *testing.T) {
	out := event(4, "org", "acct", base.Add(-time.Hour), `[{"id":"b"}]`)
	out.Direction = "OUT"
	events := []ActivityEvent{
		event(1, "org", "acct", base.Add(48*time.Hour), `[{"id":"a"},{"id":"c"}]`),
		event(2, "org", "acct", base, `[{"id":"a"}]`),
		event(3, "org", "acct", base.Add(24*time.Hour), `[]`),
		out,
		event(5, "org", "other", base.Add(-48*time.Hour), `[{"id":"a"}]`),
	}
	svc := NewService(&memoryRepo{events: events})

	tl, err := svc.Timeline(context.Background(), "org", "acct")
	require.NoError(t, err)

	require.Equal(t, []FirstTouchpoint{
		{PersonID: "b", Timestamp: base.Add(-time.Hour)},
		{PersonID: "a", Timestamp: base},
		{PersonID: "c", Timestamp: base.Add(48 * time.Hour)},
	}, tl.FirstTouchpoints)
	require.Equal(t, "2024-01-01", tl.FirstTouchpoints[0].Date())

	require.Equal(t, []DailyCount{
		{Day: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Count: 1},
		{Day: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Count: 1},
		{Day: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Count: 1},
	}, tl.DailyCounts)
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(&memoryRepo{err: boom})

	_, err := svc.SampleEvents(context.Background(), "org", "acct")
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, boom)
	require.Equal(t, "storage_error", ErrorKind(err))

	_, err = svc.ListEvents(context.Background(), ListEventsInput{OrgID: "org", AccountID: "acct"})
	require.ErrorIs(t, err, ErrStorage)
}
