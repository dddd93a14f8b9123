package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter narrows a Query over an audit log file. Zero values match
// everything.
type Filter struct {
	UserID         string
	ConversationID string
	EventType      EventType
	LastHour       bool
}

func (f Filter) matches(r *Record, now time.Time) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.ConversationID != "" && r.ConversationID != f.ConversationID {
		return false
	}
	if f.EventType != "" && r.EventType != f.EventType {
		return false
	}
	if f.LastHour {
		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil || now.Sub(ts) > time.Hour {
			return false
		}
	}
	return true
}

// Query reads the named audit log, applies the filter and returns matching
// records in file order. Malformed lines are skipped.
func Query(destination string, filter Filter) ([]*Record, error) {
	f, err := os.Open(destination)
	if err != nil {
		return nil, fmt.Errorf("audit: opening log %s: %w", destination, err)
	}
	defer f.Close()

	now := time.Now().UTC()
	var out []*Record

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		if filter.matches(&r, now) {
			out = append(out, &r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: reading log: %w", err)
	}
	return out, nil
}
