package geotime

import (
	"strings"
	"sync"
	"time"

	"github.com/teranos/qntx-migrate/errors"
)

// LocalLayout is the wall-clock format used for user input and display
const LocalLayout = "2006-01-02 15:04:05"

var inputLayouts = []string{
	LocalLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// Normalizer converts user-entered wall-clock times, interpreted in the server
// timezone, to UTC instants with whole-second precision.
//
// DST gaps and overlaps are resolved the way time.Date resolves them.
type Normalizer struct {
	mu   sync.RWMutex
	loc  *time.Location
	name string
}

// NewNormalizer creates a normalizer for the given timezone ("" = UTC)
func NewNormalizer(timezone string) (*Normalizer, error) {
	n := &Normalizer{}
	if err := n.SetTimezone(timezone); err != nil {
		return nil, err
	}
	return n, nil
}

// SetTimezone swaps the server timezone. On error the previous zone stays in effect.
func (n *Normalizer) SetTimezone(timezone string) error {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.loc = loc
	n.name = loc.String()
	n.mu.Unlock()
	return nil
}

// Location returns the current server timezone
func (n *Normalizer) Location() *time.Location {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loc
}

// Timezone returns the IANA name of the current server timezone
func (n *Normalizer) Timezone() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Normalize treats t as a naive wall clock (its location is ignored).
// With alreadyUTC the wall clock is taken as UTC; otherwise it is interpreted in the
// server timezone. The result is UTC truncated to seconds.
func (n *Normalizer) Normalize(t time.Time, alreadyUTC bool) time.Time {
	loc := time.UTC
	if !alreadyUTC {
		loc = n.Location()
	}
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	return wall.UTC()
}

// ParseLocal parses a wall-clock string and normalizes it.
// RFC3339 input carries its own offset and is honoured as-is.
func (n *Normalizer) ParseLocal(s string, alreadyUTC bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Truncate(time.Second), nil
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return n.Normalize(t, alreadyUTC), nil
		}
	}
	return time.Time{}, errors.NewValidationError("cannot parse time %q, expected %s", s, LocalLayout)
}

// Render formats a UTC instant as a wall clock in the server timezone
func (n *Normalizer) Render(t time.Time) string {
	return t.In(n.Location()).Format(LocalLayout)
}
