package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"example.com/touchpoints/internal/domain"
)

// eventRecord mirrors one NDJSON activity line. Required scalars are pointers so
// that absent and null values can be told apart from empty strings.
type eventRecord struct {
	CustomerOrgID         *string         `json:"customer_org_id"`
	AccountID             *string         `json:"account_id"`
	TouchpointID          *string         `json:"touchpoint_id"`
	Timestamp             json.RawMessage `json:"timestamp"`
	Activity              *string         `json:"activity"`
	Channel               *string         `json:"channel"`
	Status                *string         `json:"status"`
	RecordType            *string         `json:"record_type"`
	SourceRecordType      *string         `json:"source_record_type"`
	SourceRecordID        *string         `json:"source_record_id"`
	CampaignID            *string         `json:"campaign_id"`
	CampaignName          *string         `json:"campaign_name"`
	Direction             *string         `json:"direction"`
	People                json.RawMessage `json:"people"`
	InvolvedTeamIDs       json.RawMessage `json:"involved_team_ids"`
	RelatedOpportunityIDs json.RawMessage `json:"related_opportunity_ids"`
	ActivityGroupingID    *string         `json:"activity_grouping_id"`
}

type personRecord struct {
	ID            *string `json:"id"`
	CustomerOrgID *string `json:"customer_org_id"`
	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	EmailAddress  *string `json:"email_address"`
	JobTitle      *string `json:"job_title"`
}

// DecodeEvent builds an ActivityEvent from one JSON line.
func DecodeEvent(line []byte) (domain.ActivityEvent, error) {
	var rec eventRecord
	if err := decodeStrict(line, &rec); err != nil {
		return domain.ActivityEvent{}, err
	}

	// The timestamp is checked first so its absence reports as MissingField.
	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return domain.ActivityEvent{}, err
	}

	var missing fieldCheck
	missing.str("customer_org_id", rec.CustomerOrgID)
	missing.str("account_id", rec.AccountID)
	missing.str("touchpoint_id", rec.TouchpointID)
	missing.str("channel", rec.Channel)
	missing.str("status", rec.Status)
	missing.str("record_type", rec.RecordType)
	missing.str("direction", rec.Direction)
	missing.raw("people", rec.People)
	missing.raw("involved_team_ids", rec.InvolvedTeamIDs)
	missing.raw("related_opportunity_ids", rec.RelatedOpportunityIDs)
	if err := missing.err(); err != nil {
		return domain.ActivityEvent{}, err
	}

	return domain.ActivityEvent{
		CustomerOrgID:         *rec.CustomerOrgID,
		AccountID:             *rec.AccountID,
		TouchpointID:          *rec.TouchpointID,
		Timestamp:             ts,
		Activity:              rec.Activity,
		Channel:               *rec.Channel,
		Status:                *rec.Status,
		RecordType:            *rec.RecordType,
		SourceRecordType:      rec.SourceRecordType,
		SourceRecordID:        rec.SourceRecordID,
		CampaignID:            rec.CampaignID,
		CampaignName:          rec.CampaignName,
		Direction:             *rec.Direction,
		People:                compact(rec.People),
		InvolvedTeamIDs:       compact(rec.InvolvedTeamIDs),
		RelatedOpportunityIDs: compact(rec.RelatedOpportunityIDs),
		ActivityGroupingID:    rec.ActivityGroupingID,
	}, nil
}

// DecodePerson builds a Person from one JSON line.
func DecodePerson(line []byte) (domain.Person, error) {
	var rec personRecord
	if err := decodeStrict(line, &rec); err != nil {
		return domain.Person{}, err
	}

	var missing fieldCheck
	missing.str("id", rec.ID)
	missing.str("customer_org_id", rec.CustomerOrgID)
	missing.str("first_name", rec.FirstName)
	missing.str("last_name", rec.LastName)
	missing.str("email_address", rec.EmailAddress)
	if err := missing.err(); err != nil {
		return domain.Person{}, err
	}

	return domain.Person{
		ID:            *rec.ID,
		CustomerOrgID: *rec.CustomerOrgID,
		FirstName:     *rec.FirstName,
		LastName:      *rec.LastName,
		EmailAddress:  *rec.EmailAddress,
		JobTitle:      rec.JobTitle,
	}, nil
}

// decodeStrict rejects unknown fields, type mismatches and trailing data.
func decodeStrict(line []byte, into any) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrParse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON object", domain.ErrParse)
	}
	return nil
}

type fieldCheck struct {
	names []string
}

func (c *fieldCheck) str(name string, value *string) {
	if value == nil {
		c.names = append(c.names, name)
	}
}

func (c *fieldCheck) raw(name string, value json.RawMessage) {
	if isNull(bytes.TrimSpace(value)) {
		c.names = append(c.names, name)
	}
}

func (c *fieldCheck) err() error {
	if len(c.names) == 0 {
		return nil
	}
	return fmt.Errorf("%w: required fields %s", domain.ErrMissingField, strings.Join(c.names, ", "))
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
