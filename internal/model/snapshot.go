package model

import "time"

// Snapshot is one complete status report from the controller. It is never mutated after
// construction; a newer report replaces it wholesale.
type Snapshot struct {
	fields     map[string]any
	receivedAt time.Time
}

// NewSnapshot copies fields so later changes to the caller's map are not observed.
// Integer values are widened to float64 so JSON-decoded and hand-built snapshots read the same.
func NewSnapshot(fields map[string]any, receivedAt time.Time) *Snapshot {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = normalize(v)
	}
	return &Snapshot{fields: copied, receivedAt: receivedAt}
}

func (s *Snapshot) ReceivedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.receivedAt
}

func (s *Snapshot) Value(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.fields[name]
	return v, ok
}

func (s *Snapshot) Number(name string) (float64, bool) {
	v, ok := s.Value(name)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (s *Snapshot) Bool(name string) (bool, bool) {
	v, ok := s.Value(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Fields returns a copy of the raw field map.
func (s *Snapshot) Fields() map[string]any {
	if s == nil {
		return nil
	}
	out := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
