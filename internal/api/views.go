package api

import (
	"encoding/json"
	"time"

	"example.com/touchpoints/internal/domain"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// EventRecordView is the full stored event, as returned by the sampling endpoint.
type EventRecordView struct {
	ID                    int64           `json:"id"`
	CustomerOrgID         string          `json:"customer_org_id"`
	AccountID             string          `json:"account_id"`
	TouchpointID          string          `json:"touchpoint_id"`
	Timestamp             string          `json:"timestamp"`
	Activity              *string         `json:"activity"`
	Channel               string          `json:"channel"`
	Status                string          `json:"status"`
	RecordType            string          `json:"record_type"`
	SourceRecordType      *string         `json:"source_record_type"`
	SourceRecordID        *string         `json:"source_record_id"`
	CampaignID            *string         `json:"campaign_id"`
	CampaignName          *string         `json:"campaign_name"`
	Direction             string          `json:"direction"`
	People                json.RawMessage `json:"people"`
	InvolvedTeamIDs       json.RawMessage `json:"involved_team_ids"`
	RelatedOpportunityIDs json.RawMessage `json:"related_opportunity_ids"`
	ActivityGroupingID    *string         `json:"activity_grouping_id"`
}

// PersonView is a stored person.
type PersonView struct {
	ID            string  `json:"id"`
	CustomerOrgID string  `json:"customer_org_id"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	EmailAddress  string  `json:"email_address"`
	JobTitle      *string `json:"job_title"`
}

// EventView is the trimmed event shape used by the paginated listing.
type EventView struct {
	ID              int64           `json:"id"`
	Timestamp       string          `json:"timestamp"`
	Activity        *string         `json:"activity"`
	Channel         string          `json:"channel"`
	Status          string          `json:"status"`
	Direction       string          `json:"direction"`
	People          json.RawMessage `json:"people"`
	InvolvedTeamIDs json.RawMessage `json:"involved_team_ids"`
}

// PersonSummaryView enriches listed events.
type PersonSummaryView struct {
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	EmailAddress string  `json:"email_address"`
	JobTitle     *string `json:"job_title"`
}

// PaginationView describes the listing page.
type PaginationView struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// EventPageResponse is the body of GET /api/events/.
type EventPageResponse struct {
	Events     []EventView                  `json:"events"`
	Persons    map[string]PersonSummaryView `json:"persons"`
	Pagination PaginationView               `json:"pagination"`
}

// DailyCountView is one bar of the timeline minimap.
type DailyCountView struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// FirstTouchpointView marks when a person first appeared.
type FirstTouchpointView struct {
	PersonID  string `json:"person_id"`
	Timestamp string `json:"timestamp"`
	Date      string `json:"date"`
}

// TimelineResponse is the body of GET /api/timeline/.
type TimelineResponse struct {
	TimelineData     []DailyCountView      `json:"timeline_data"`
	FirstTouchpoints []FirstTouchpointView `json:"first_touchpoints"`
}

// isoTimestamp renders t as an ISO-8601 UTC instant with a numeric offset,
// keeping microseconds only when present.
func isoTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000000-07:00")
	}
	return t.Format("2006-01-02T15:04:05-07:00")
}

// recordTimestamp renders t with millisecond precision and a Z suffix.
func recordTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000Z07:00")
	}
	return t.Format(time.RFC3339)
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("[]")
	}
	return raw
}

func toEventRecordView(ev domain.ActivityEvent) EventRecordView {
	return EventRecordView{
		ID:                    ev.ID,
		CustomerOrgID:         ev.CustomerOrgID,
		AccountID:             ev.AccountID,
		TouchpointID:          ev.TouchpointID,
		Timestamp:             recordTimestamp(ev.Timestamp),
		Activity:              ev.Activity,
		Channel:               ev.Channel,
		Status:                ev.Status,
		RecordType:            ev.RecordType,
		SourceRecordType:      ev.SourceRecordType,
		SourceRecordID:        ev.SourceRecordID,
		CampaignID:            ev.CampaignID,
		CampaignName:          ev.CampaignName,
		Direction:             ev.Direction,
		People:                rawOrEmpty(ev.People),
		InvolvedTeamIDs:       rawOrEmpty(ev.InvolvedTeamIDs),
		RelatedOpportunityIDs: rawOrEmpty(ev.RelatedOpportunityIDs),
		ActivityGroupingID:    ev.ActivityGroupingID,
	}
}

func toPersonView(p domain.Person) PersonView {
	return PersonView{
		ID:            p.ID,
		CustomerOrgID: p.CustomerOrgID,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		EmailAddress:  p.EmailAddress,
		JobTitle:      p.JobTitle,
	}
}

func toEventPageResponse(page *domain.EventPage) EventPageResponse {
	resp := EventPageResponse{
		Events:  make([]EventView, 0, len(page.Events)),
		Persons: make(map[string]PersonSummaryView, len(page.Persons)),
		Pagination: PaginationView{
			CurrentPage: page.Pagination.CurrentPage,
			TotalPages:  page.Pagination.TotalPages,
			TotalCount:  page.Pagination.TotalCount,
			HasNext:     page.Pagination.HasNext,
			HasPrevious: page.Pagination.HasPrevious,
		},
	}
	for _, ev := range page.Events {
		resp.Events = append(resp.Events, EventView{
			ID:              ev.ID,
			Timestamp:       isoTimestamp(ev.Timestamp),
			Activity:        ev.Activity,
			Channel:         ev.Channel,
			Status:          ev.Status,
			Direction:       ev.Direction,
			People:          rawOrEmpty(ev.People),
			InvolvedTeamIDs: rawOrEmpty(ev.InvolvedTeamIDs),
		})
	}
	for id, p := range page.Persons {
		resp.Persons[id] = PersonSummaryView{
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			EmailAddress: p.EmailAddress,
			JobTitle:     p.JobTitle,
		}
	}
	return resp
}

func toTimelineResponse(tl domain.Timeline) TimelineResponse {
	resp := TimelineResponse{
		TimelineData:     make([]DailyCountView, 0, len(tl.DailyCounts)),
		FirstTouchpoints: make([]FirstTouchpointView, 0, len(tl.FirstTouchpoints)),
	}
	for _, c := range tl.DailyCounts {
		resp.TimelineData = append(resp.TimelineData, DailyCountView{Date: c.Day.Format(time.DateOnly), Count: c.Count})
	}
	for _, f := range tl.FirstTouchpoints {
		resp.FirstTouchpoints = append(resp.FirstTouchpoints, FirstTouchpointView{
			PersonID:  f.PersonID,
			Timestamp: isoTimestamp(f.Timestamp),
			Date:      f.Date(),
		})
	}
	return resp
}
