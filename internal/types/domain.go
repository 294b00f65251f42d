package types

import (
	"bytes"
	"encoding/json"
)

// DefaultEventTitle is shown for events whose feed entry has no usable title.
const DefaultEventTitle = "Evento"

// OptionalString is a feed field that may be absent. It distinguishes
// "not provided" from "provided" explicitly so rendering rules such as
// "show the metadata line only if any field is present" can be checked
// without comparing against magic zero values.
type OptionalString struct {
	Value string
	Valid bool
}

// Some returns a present OptionalString holding v.
func Some(v string) OptionalString {
	return OptionalString{Value: v, Valid: true}
}

// Get returns the value and whether it is present. An empty string counts
// as absent.
func (o OptionalString) Get() (string, bool) {
	if !o.Valid || o.Value == "" {
		return "", false
	}
	return o.Value, true
}

// Or returns the value if present, otherwise fallback.
func (o OptionalString) Or(fallback string) string {
	if v, ok := o.Get(); ok {
		return v
	}
	return fallback
}

// UnmarshalJSON accepts JSON strings and numbers. Numbers keep their
// literal text (feeds sometimes publish prices as bare numbers). null,
// booleans, arrays and objects leave the value absent.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	*o = OptionalString{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	switch c := trimmed[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*o = Some(s)
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
		*o = Some(n.String())
	}
	return nil
}

// MarshalJSON writes absent values as null.
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Event is one calendar entry from the events feed. It has no identity
// beyond its position within its day.
type Event struct {
	Title    OptionalString `json:"title"`
	URL      OptionalString `json:"url"`
	Time     OptionalString `json:"time"`
	Venue    OptionalString `json:"venue"`
	District OptionalString `json:"district"`
	Price    OptionalString `json:"price"`
}

// DisplayTitle returns the title, or DefaultEventTitle when absent.
func (e Event) DisplayTitle() string {
	return e.Title.Or(DefaultEventTitle)
}

// Place returns the venue, falling back to the district.
func (e Event) Place() (string, bool) {
	if v, ok := e.Venue.Get(); ok {
		return v, true
	}
	return e.District.Get()
}

// EventsByDay maps a YYYY-MM-DD date key to that day's events in display order.
type EventsByDay map[string][]Event

// Contact is a subscriber record from the contacts directory.
type Contact struct {
	ID           string `json:"id,omitempty"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// Eligible reports whether the contact should receive the digest.
func (c Contact) Eligible() bool {
	return !c.Unsubscribed && c.Email != ""
}

// DigestResult is the outcome of one digest run. Sent never exceeds Total.
type DigestResult struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

// Failed returns the number of recipients whose send did not succeed.
func (r DigestResult) Failed() int {
	return r.Total - r.Sent
}
