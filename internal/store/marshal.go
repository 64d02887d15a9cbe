package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/retrace/internal/object"
)

// Column encoding helpers. Variable maps, call lists and metadata are
// stored as JSON TEXT; json.Marshal sorts map keys, so equal maps produce
// identical column bytes (stable golden traces).

func marshalKeyMap(m map[string]object.Key) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal key map: %w", err)
	}
	return string(data), nil
}

func unmarshalKeyMap(data string) (map[string]object.Key, error) {
	m := map[string]object.Key{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal key map: %w", err)
	}
	return m, nil
}

func marshalStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal string map: %w", err)
	}
	return string(data), nil
}

func unmarshalStringMap(data string) (map[string]string, error) {
	m := map[string]string{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal string map: %w", err)
	}
	return m, nil
}

func marshalNameLists(m map[string][]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal name lists: %w", err)
	}
	return string(data), nil
}

func unmarshalNameLists(data string) (map[string][]string, error) {
	m := map[string][]string{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal name lists: %w", err)
	}
	return m, nil
}

// timeText formats a timestamp column. Stored as UTC RFC 3339 with
// nanoseconds so lexical order matches chronological order.
func timeText(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeText(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// nullableTime maps the zero time to NULL (pending end_time columns).
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return timeText(t)
}

func timeFromNull(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTimeText(ns.String)
}

// nullableString maps the empty string to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
