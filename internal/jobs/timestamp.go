package jobs

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is a point in time that may be absent. Service payloads are not
// trusted: anything that fails to parse decodes to the zero Timestamp, which
// compares as epoch 0.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// UnixMilli returns 0 for absent or unparseable values.
func (t Timestamp) UnixMilli() int64 {
	if t.IsZero() {
		return 0
	}
	return t.Time.UnixMilli()
}

// ParseTimestamp accepts RFC 3339, SQL-style datetimes, plain dates and unix
// milliseconds. The bool is false when nothing matched.
func ParseTimestamp(raw string) (Timestamp, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Timestamp{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Timestamp{Time: t}, true
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Timestamp{Time: time.UnixMilli(ms)}, true
	}
	return Timestamp{}, false
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			*t = Timestamp{}
			return nil
		}
	} else {
		raw = string(data)
	}
	parsed, _ := ParseTimestamp(raw)
	*t = parsed
	return nil
}
