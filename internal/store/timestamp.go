package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is a time that reads both RFC 3339 values and the zone-less
// ISO 8601 values ("2024-03-01T09:15:02.123456") found in older data files.
// Zone-less values are interpreted in the local zone. It always writes RFC 3339.
//
// A string no layout accepts does not fail decoding: the value stays zero,
// the text is kept and written back unchanged, so one odd record cannot make
// a whole collection unreadable.
type Timestamp struct {
	time.Time
	raw string
}

var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses RFC 3339 or one of the legacy layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{Time: t}, nil
	}
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Unparsed returns the original text of a value no layout accepted, or "".
func (t Timestamp) Unparsed() string {
	return t.raw
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal(t.raw)
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		*t = Timestamp{raw: s}
		return nil
	}
	*t = parsed
	return nil
}
