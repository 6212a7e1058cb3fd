package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/vsinha/aps/pkg/domain/entities"
)

// Interval is an online period [Start, End). Calendar intervals are half-open
// so that adjacent shifts join without double counting the boundary tick.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the online capacity of the interval
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// IntervalCalendar is an in-memory online calendar for one resource. All usage
// kinds consume the same online time.
type IntervalCalendar struct {
	intervals []Interval
}

// Verify interface compliance
var _ entities.CapacityFinder = (*IntervalCalendar)(nil)

// NewIntervalCalendar creates a calendar; overlapping or touching intervals are merged
func NewIntervalCalendar(intervals ...Interval) (*IntervalCalendar, error) {
	sorted := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.End.After(iv.Start) {
			return nil, fmt.Errorf("calendar interval end %v must be after start %v", iv.End, iv.Start)
		}
		sorted = append(sorted, iv)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := make([]Interval, 0, len(sorted))
	for _, iv := range sorted {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return &IntervalCalendar{intervals: merged}, nil
}

// Intervals returns a copy of the merged online intervals
func (c *IntervalCalendar) Intervals() []Interval {
	result := make([]Interval, len(c.intervals))
	copy(result, c.intervals)
	return result
}

// FirstOnlineStart is the start of the first online interval
func (c *IntervalCalendar) FirstOnlineStart() entities.OptionalTime {
	if len(c.intervals) == 0 {
		return entities.OptionalTime{}
	}
	return entities.TimeOf(c.intervals[0].Start)
}

// NextOnline returns the first online tick at or after t
func (c *IntervalCalendar) NextOnline(t time.Time) entities.OptionalTime {
	for _, iv := range c.intervals {
		if iv.End.After(t) {
			if iv.Start.After(t) {
				return entities.TimeOf(iv.Start)
			}
			return entities.TimeOf(t)
		}
	}
	return entities.OptionalTime{}
}

// NextOnlineStart returns the start of the first interval beginning after t.
// Unlike NextOnline it skips the rest of an interval that contains t.
func (c *IntervalCalendar) NextOnlineStart(t time.Time) entities.OptionalTime {
	for _, iv := range c.intervals {
		if iv.Start.After(t) {
			return entities.TimeOf(iv.Start)
		}
	}
	return entities.OptionalTime{}
}

// FindCapacity searches online time for duration starting at from
func (c *IntervalCalendar) FindCapacity(from time.Time, duration time.Duration, direction entities.SearchDirection, usage entities.UsageKind) entities.FindResult {
	if direction == entities.Reverse {
		return c.findReverse(from, duration)
	}
	return c.findForward(from, duration)
}

func (c *IntervalCalendar) findForward(from time.Time, duration time.Duration) entities.FindResult {
	if duration <= 0 {
		return entities.FindResult{Success: true, Start: from, Finish: from}
	}
	result := entities.FindResult{Start: from, Finish: from}
	var achieved time.Duration
	started := false
	for _, iv := range c.intervals {
		if !iv.End.After(from) {
			continue
		}
		start := iv.Start
		if start.Before(from) {
			start = from
		}
		if !started {
			result.Start = start
			started = true
		}
		available := iv.End.Sub(start)
		if achieved+available >= duration {
			result.Success = true
			result.Finish = start.Add(duration - achieved)
			result.AchievedCapacity = duration
			return result
		}
		achieved += available
		result.Finish = iv.End
	}
	result.AchievedCapacity = achieved
	return result
}

func (c *IntervalCalendar) findReverse(from time.Time, duration time.Duration) entities.FindResult {
	if duration <= 0 {
		return entities.FindResult{Success: true, Start: from, Finish: from}
	}
	result := entities.FindResult{Start: from, Finish: from}
	var achieved time.Duration
	finished := false
	for i := len(c.intervals) - 1; i >= 0; i-- {
		iv := c.intervals[i]
		if !iv.Start.Before(from) {
			continue
		}
		end := iv.End
		if end.After(from) {
			end = from
		}
		if !finished {
			result.Finish = end
			finished = true
		}
		available := end.Sub(iv.Start)
		if achieved+available >= duration {
			result.Success = true
			result.Start = end.Add(-(duration - achieved))
			result.AchievedCapacity = duration
			return result
		}
		achieved += available
		result.Start = iv.Start
	}
	result.AchievedCapacity = achieved
	result.NextAvailable = c.NextOnline(from)
	return result
}
