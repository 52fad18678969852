package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Watermark is the creation time of the newest comment already processed for
// an MR. The zero value sorts before every real timestamp and serializes as "".
type Watermark struct {
	t time.Time
}

// NewWatermark returns a watermark at t, normalized to UTC.
func NewWatermark(t time.Time) Watermark {
	return Watermark{t: t.UTC()}
}

// ParseWatermark parses an RFC 3339 timestamp. The empty string is the zero watermark.
func ParseWatermark(s string) (Watermark, error) {
	if s == "" {
		return Watermark{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Watermark{}, fmt.Errorf("parsing watermark %q: %w", s, err)
	}
	return NewWatermark(t), nil
}

// IsZero reports whether no comment has been processed yet.
func (w Watermark) IsZero() bool { return w.t.IsZero() }

// Time returns the watermark instant.
func (w Watermark) Time() time.Time { return w.t }

// After reports whether w is strictly later than o.
func (w Watermark) After(o Watermark) bool { return w.t.After(o.t) }

func (w Watermark) String() string {
	if w.t.IsZero() {
		return ""
	}
	return w.t.Format(time.RFC3339Nano)
}

// MarshalText implements encoding.TextMarshaler.
func (w Watermark) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Watermark) UnmarshalText(text []byte) error {
	parsed, err := ParseWatermark(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// MRRecord is the persisted watch state of one merge request.
type MRRecord struct {
	Title       string    `json:"active_title" yaml:"active_title"`
	WebURL      string    `json:"web_url" yaml:"web_url"`
	LastSeen    Watermark `json:"last_seen" yaml:"last_seen"`
	LastNote    string    `json:"last_note" yaml:"last_note"`
	SkipRebuild bool      `json:"skip_rebuild" yaml:"skip_rebuild"`

	IID         int64     `json:"iid,omitempty" yaml:"iid,omitempty"`
	Project     string    `json:"project,omitempty" yaml:"project,omitempty"`
	LastChecked time.Time `json:"last_checked,omitzero" yaml:"last_checked,omitempty"`
}

// UnmarshalJSON accepts the current object form, the older object form that
// stored the note body under "last_note:", and the original bare-string form
// that held only the watermark.
func (r *MRRecord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var wm Watermark
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if err := wm.UnmarshalText([]byte(s)); err != nil {
			return err
		}
		*r = MRRecord{LastSeen: wm}
		return nil
	}

	type plain MRRecord
	var aux struct {
		plain
		LegacyLastNote string `json:"last_note:"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = MRRecord(aux.plain)
	if r.LastNote == "" {
		r.LastNote = aux.LegacyLastNote
	}
	return nil
}

// WatchState maps an MR key to its record. Keys are the platform-global MR
// identifier rendered as a decimal string.
type WatchState map[string]MRRecord

// NewWatchState returns an empty state.
func NewWatchState() WatchState {
	return make(WatchState)
}

// Keys returns the MR keys in sorted order.
func (s WatchState) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy that shares no map storage with s.
func (s WatchState) Clone() WatchState {
	out := make(WatchState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
