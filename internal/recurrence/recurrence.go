// Package recurrence expands a recurrence rule into the concrete occurrence
// times of a series. Expansion is pure: no state, no clock, no I/O.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"remindd/internal/models"
)

var freqByType = map[models.RuleType]rrule.Frequency{
	models.RuleHourly:  rrule.HOURLY,
	models.RuleDaily:   rrule.DAILY,
	models.RuleWeekly:  rrule.WEEKLY,
	models.RuleMonthly: rrule.MONTHLY,
	models.RuleYearly:  rrule.YEARLY,
}

// Expand returns the ordered occurrence times for a reminder starting at
// start under the given rule. The result always begins with start and is
// strictly increasing. Generation stops at whichever bound is hit first:
// the rule's own end condition, models.MaxOccurrences, or horizon.
//
// An on_date end condition earlier than start is not an error: the series
// degrades to the anchor alone, which always fires.
//
// Times are truncated to whole seconds in UTC; sub-second precision is not
// meaningful for wall-clock scheduling.
func Expand(start time.Time, rule models.RecurrenceRule, horizon time.Time) ([]time.Time, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	start = start.UTC().Truncate(time.Second)
	if !rule.IsRecurring() {
		return []time.Time{start}, nil
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     freqByType[rule.Type],
		Interval: rule.Interval,
		Dtstart:  start,
	})
	if err != nil {
		return nil, fmt.Errorf("building rrule: %w", err)
	}

	limit := models.MaxOccurrences
	if n := rule.End.AfterOccurrences; n > 0 && n < limit {
		limit = n
	}

	occurrences := make([]time.Time, 0, limit)
	next := r.Iterator()
	for {
		t, ok := next()
		if !ok {
			break
		}
		t = t.UTC()
		// The anchor is exempt from the end-condition and horizon cuts.
		if len(occurrences) > 0 {
			if rule.End.OnDate != nil && t.After(rule.End.OnDate.UTC()) {
				break
			}
			if t.After(horizon) {
				break
			}
		}
		occurrences = append(occurrences, t)
		if len(occurrences) >= limit {
			break
		}
	}

	if len(occurrences) == 0 {
		occurrences = append(occurrences, start)
	}
	return occurrences, nil
}
