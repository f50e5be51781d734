package bucket

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Snapshot field names, shared by the JSON form and hash-based stores.
const (
	FieldCapacity    = "capacity"
	FieldTokens      = "tokens"
	FieldFillRate    = "fillRate"
	FieldWindow      = "window"
	FieldLastTouched = "lastTouched"
)

// Snapshot is the serializable state of a Bucket. It carries no behavior and
// no external references, so it can cross a process boundary.
type Snapshot struct {
	Capacity    float64 `json:"capacity"`
	Tokens      float64 `json:"tokens"`
	FillRate    float64 `json:"fillRate"`
	Window      float64 `json:"window"`      // milliseconds
	LastTouched int64   `json:"lastTouched"` // unix milliseconds
}

// Fields returns the snapshot as a flat field map, suitable for HSET.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		FieldCapacity:    s.Capacity,
		FieldTokens:      s.Tokens,
		FieldFillRate:    s.FillRate,
		FieldWindow:      s.Window,
		FieldLastTouched: s.LastTouched,
	}
}

// ParseFields coerces string-valued fields into a Snapshot. It never fails:
// a missing or malformed token count becomes NaN (a full bucket once
// reconstructed), any other malformed number becomes zero.
func ParseFields(fields map[string]string) Snapshot {
	return Snapshot{
		Capacity:    parseFloat(fields[FieldCapacity], 0),
		Tokens:      parseFloat(fields[FieldTokens], math.NaN()),
		FillRate:    parseFloat(fields[FieldFillRate], 0),
		Window:      parseFloat(fields[FieldWindow], 0),
		LastTouched: int64(parseFloat(fields[FieldLastTouched], 0)),
	}
}

// UnmarshalJSON accepts numbers as well as numeric-looking strings for every field.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case json.Number:
			fields[k] = v.String()
		case string:
			fields[k] = v
		case bool:
			if v {
				fields[k] = "1"
			} else {
				fields[k] = "0"
			}
		}
	}
	*s = ParseFields(fields)
	return nil
}

func parseFloat(v string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) {
		return def
	}
	return f
}
