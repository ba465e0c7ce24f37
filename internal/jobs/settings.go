package jobs

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Well-known configuration sections. Services may add others; they merge the
// same way.
const (
	SectionParameters = "parameters"
	SectionProcessing = "processing"
	SectionAI         = "ai"
	SectionFilePaths  = "filePaths"
)

// Settings is a stored settings object keyed by top-level section.
type Settings map[string]json.RawMessage

type Configuration struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Settings  Settings  `json:"settings"`
	UpdatedAt Timestamp `json:"updatedAt"`
}

// MergeSettings replaces each section present in partial wholesale and keeps
// the rest of stored. Nested keys are never merged: a section the edit form
// sends without some key loses that key.
func MergeSettings(stored, partial Settings) Settings {
	ret := make(Settings, len(stored)+len(partial))
	for section, raw := range stored {
		ret[section] = cloneRaw(raw)
	}
	for section, raw := range partial {
		ret[section] = cloneRaw(raw)
	}
	return ret
}

// Sections lists section names in a stable order.
func (s Settings) Sections() []string {
	ret := make([]string, 0, len(s))
	for k := range s {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// Equal compares sections after compacting their JSON.
func (s Settings) Equal(other Settings) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok {
			return false
		}
		var a, b bytes.Buffer
		if json.Compact(&a, v) != nil || json.Compact(&b, ov) != nil {
			return bytes.Equal(v, ov)
		}
		if !bytes.Equal(a.Bytes(), b.Bytes()) {
			return false
		}
	}
	return true
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	ret := make(json.RawMessage, len(raw))
	copy(ret, raw)
	return ret
}
