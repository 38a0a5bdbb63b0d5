package domain

import (
	"encoding/json"
	"time"
)

// DirectionInbound marks touchpoints initiated by the account.
const DirectionInbound = "IN"

// ActivityEvent is a single touchpoint between the company and an account.
// People, InvolvedTeamIDs and RelatedOpportunityIDs are kept as the JSON the
// loader received so that they read back unchanged.
type ActivityEvent struct {
	ID                    int64
	CustomerOrgID         string
	AccountID             string
	TouchpointID          string
	Timestamp             time.Time
	Activity              *string
	Channel               string
	Status                string
	RecordType            string
	SourceRecordType      *string
	SourceRecordID        *string
	CampaignID            *string
	CampaignName          *string
	Direction             string
	People                json.RawMessage
	InvolvedTeamIDs       json.RawMessage
	RelatedOpportunityIDs json.RawMessage
	ActivityGroupingID    *string
}

// PersonRef is a reference to a Person found in an event's people array.
type PersonRef struct {
	ID string
}

// PersonRefs returns the well-formed person references of the event.
func (e ActivityEvent) PersonRefs() []PersonRef {
	return ParsePersonRefs(e.People)
}

// ParsePersonRefs decodes a people array leniently. Anything that is not an
// array of objects carrying a non-empty "id" is dropped.
func ParsePersonRefs(raw json.RawMessage) []PersonRef {
	if len(raw) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	refs := make([]PersonRef, 0, len(entries))
	for _, entry := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			continue
		}
		id, ok := refID(fields["id"])
		if !ok {
			continue
		}
		refs = append(refs, PersonRef{ID: id})
	}
	return refs
}

// refID accepts string ids verbatim and numeric ids by their literal text.
func refID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		return n.String(), true
	}
	return "", false
}

// Person is a contact at an account.
type Person struct {
	ID            string
	CustomerOrgID string
	FirstName     string
	LastName      string
	EmailAddress  string
	JobTitle      *string
}

// PersonSummary is the subset of Person used to enrich event listings.
type PersonSummary struct {
	FirstName    string
	LastName     string
	EmailAddress string
	JobTitle     *string
}

// Summary projects the person onto the listing lookup shape.
func (p Person) Summary() PersonSummary {
	return PersonSummary{
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		EmailAddress: p.EmailAddress,
		JobTitle:     p.JobTitle,
	}
}
