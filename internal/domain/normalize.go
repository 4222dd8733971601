package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DateField is the upstream project start date, rewritten in place.
	DateField = "project_start_date"
	// DateTextField keeps the upstream value of DateField for audit.
	DateTextField = "project_start_date_text"

	upstreamDateLayout = "1/2/2006"
)

// ClampReason says what the normalizer did to a date.
type ClampReason string

const (
	DateUnchanged ClampReason = ""
	DateUnparsed  ClampReason = "unparsed"
	DateBeforeMin ClampReason = "before_min"
	DateAfterNow  ClampReason = "after_now"
)

// DateNormalizer bounds project start dates to [minDate, today].
type DateNormalizer struct {
	minDate time.Time
	clock   clockwork.Clock
}

// NewDateNormalizer creates a normalizer. A nil clock means wall-clock time.
func NewDateNormalizer(minDate time.Time, clock clockwork.Clock) *DateNormalizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DateNormalizer{
		minDate: truncateDay(minDate),
		clock:   clock,
	}
}

// MinDate returns the lower bound applied to every date.
func (n *DateNormalizer) MinDate() time.Time { return n.minDate }

// Normalize returns a copy of item with DateField replaced by a bounded
// time.Time and the original value stored under DateTextField.
func (n *DateNormalizer) Normalize(item Item) (Item, ClampReason) {
	out := item.Clone()
	raw := item[DateField]
	out[DateTextField] = raw

	when, reason := n.Clamp(raw)
	out[DateField] = when
	return out, reason
}

// Clamp resolves a raw upstream value to a date inside [minDate, today].
func (n *DateNormalizer) Clamp(raw any) (time.Time, ClampReason) {
	parsed, err := parseUpstreamDate(raw)
	if err != nil {
		return n.minDate, DateUnparsed
	}

	today := truncateDay(n.clock.Now())
	switch {
	case parsed.Before(n.minDate):
		return n.minDate, DateBeforeMin
	case parsed.After(today):
		return today, DateAfterNow
	default:
		return parsed, DateUnchanged
	}
}

func parseUpstreamDate(raw any) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %T", ErrDateParse, raw)
	}
	t, err := time.Parse(upstreamDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateParse, s)
	}
	return t, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
