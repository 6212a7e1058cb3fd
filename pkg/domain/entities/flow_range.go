package entities

import (
	"fmt"
	"sort"
	"time"
)

// TickResolution is the smallest distinguishable step between two ticks.
// Ranges are closed, so the first free tick after a usage is End+TickResolution.
const TickResolution = time.Nanosecond

// TimeRange is a closed interval [Start, End]
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange creates a validated TimeRange
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if end.Before(start) {
		return TimeRange{}, fmt.Errorf("range end %v is before start %v", end, start)
	}
	return TimeRange{Start: start, End: end}, nil
}

// Overlaps reports whether the two closed ranges share at least one tick
func (r TimeRange) Overlaps(o TimeRange) bool {
	return !r.Start.After(o.End) && !o.Start.After(r.End)
}

// Contains reports whether t lies within the range
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// FlowMode selects which usages a FlowRangeConstraint bounds
type FlowMode int

const (
	InFlowOnly FlowMode = iota
	OutFlowOnly
	// CounterFlow bounds simultaneous in-flow plus out-flow with one combined limit
	CounterFlow
)

// String method for FlowMode enum
func (m FlowMode) String() string {
	switch m {
	case InFlowOnly:
		return "InFlow"
	case OutFlowOnly:
		return "OutFlow"
	case CounterFlow:
		return "CounterFlow"
	default:
		return "Unknown"
	}
}

// FlowDirection is the direction of one usage
type FlowDirection int

const (
	InFlow FlowDirection = iota
	OutFlow
)

// FlowUsage is one allocated transfer interval
type FlowUsage struct {
	Range     TimeRange
	Direction FlowDirection
}

// FlowRangeConstraint is a time-windowed semaphore: at no instant may more than
// Limit counted usages overlap. It is not safe for concurrent use; callers keep
// a single writer per warehouse.
type FlowRangeConstraint struct {
	Limit int
	Mode  FlowMode

	usages  []FlowUsage
	pending []FlowUsage
}

// NewFlowRangeConstraint creates a validated FlowRangeConstraint
func NewFlowRangeConstraint(limit int, mode FlowMode) (*FlowRangeConstraint, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("flow limit must be positive, got %d", limit)
	}
	return &FlowRangeConstraint{Limit: limit, Mode: mode}, nil
}

func (c *FlowRangeConstraint) counts(dir FlowDirection) bool {
	switch c.Mode {
	case CounterFlow:
		return true
	case InFlowOnly:
		return dir == InFlow
	default:
		return dir == OutFlow
	}
}

func (c *FlowRangeConstraint) overlapping(r TimeRange) []FlowUsage {
	var result []FlowUsage
	for _, set := range [][]FlowUsage{c.usages, c.pending} {
		for _, u := range set {
			if c.counts(u.Direction) && u.Range.Overlaps(r) {
				result = append(result, u)
			}
		}
	}
	return result
}

// VerifyAllocationRange reports whether a usage over r keeps concurrency within
// the limit. On failure it returns the first tick after enough of the
// earliest-ending overlapping usages have finished to make room.
func (c *FlowRangeConstraint) VerifyAllocationRange(r TimeRange, dir FlowDirection) (bool, time.Time) {
	return c.VerifyUsages(FlowUsage{Range: r, Direction: dir})
}

// VerifyUsages reports whether the prospective usages fit alongside the
// existing ones at every instant. The retry tick is computed as for
// VerifyAllocationRange; it is zero when the prospective usages exceed the
// limit on their own.
func (c *FlowRangeConstraint) VerifyUsages(prospective ...FlowUsage) (bool, time.Time) {
	var counted []FlowUsage
	var span TimeRange
	for _, u := range prospective {
		if !c.counts(u.Direction) {
			continue
		}
		if len(counted) == 0 {
			span = u.Range
		} else {
			if u.Range.Start.Before(span.Start) {
				span.Start = u.Range.Start
			}
			if u.Range.End.After(span.End) {
				span.End = u.Range.End
			}
		}
		counted = append(counted, u)
	}
	if len(counted) == 0 {
		return true, time.Time{}
	}

	existing := c.overlapping(span)
	all := make([]FlowUsage, 0, len(existing)+len(counted))
	all = append(all, existing...)
	all = append(all, counted...)
	peak := peakConcurrency(all, span)
	if peak <= c.Limit {
		return true, time.Time{}
	}

	release := peak - c.Limit
	if release > len(existing) {
		return false, time.Time{}
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Range.End.Before(existing[j].Range.End)
	})
	return false, existing[release-1].Range.End.Add(TickResolution)
}

// AllocateUsage extends the most recent pending usage when r continues it,
// otherwise opens a new pending usage. Pending usages count towards
// verification but are only kept after ScheduleUsage.
func (c *FlowRangeConstraint) AllocateUsage(r TimeRange, dir FlowDirection) {
	if n := len(c.pending); n > 0 {
		last := &c.pending[n-1]
		if last.Direction == dir && !r.Start.After(last.Range.End) && !r.Start.Before(last.Range.Start) {
			if r.End.After(last.Range.End) {
				last.Range.End = r.End
			}
			return
		}
	}
	c.pending = append(c.pending, FlowUsage{Range: r, Direction: dir})
}

// ScheduleUsage commits pending usages and returns the latest committed end tick
func (c *FlowRangeConstraint) ScheduleUsage() time.Time {
	var end time.Time
	for _, u := range c.pending {
		if u.Range.End.After(end) {
			end = u.Range.End
		}
	}
	c.usages = append(c.usages, c.pending...)
	c.pending = nil
	return end
}

// DiscardPending drops uncommitted usages
func (c *FlowRangeConstraint) DiscardPending() {
	c.pending = nil
}

// Purge drops committed usages that ended at or before t
func (c *FlowRangeConstraint) Purge(t time.Time) {
	kept := c.usages[:0]
	for _, u := range c.usages {
		if u.Range.End.After(t) {
			kept = append(kept, u)
		}
	}
	c.usages = kept
}

// Reset clears all usage state between simulation runs
func (c *FlowRangeConstraint) Reset() {
	c.usages = nil
	c.pending = nil
}

// Usages returns a copy of the committed usages
func (c *FlowRangeConstraint) Usages() []FlowUsage {
	result := make([]FlowUsage, len(c.usages))
	copy(result, c.usages)
	return result
}

// Concurrency returns the number of counted usages occupying t
func (c *FlowRangeConstraint) Concurrency(t time.Time) int {
	return c.InFlowCount(t) + c.OutFlowCount(t)
}

// InFlowCount returns the number of counted in-flow usages occupying t
func (c *FlowRangeConstraint) InFlowCount(t time.Time) int {
	return c.countAt(t, InFlow)
}

// OutFlowCount returns the number of counted out-flow usages occupying t
func (c *FlowRangeConstraint) OutFlowCount(t time.Time) int {
	return c.countAt(t, OutFlow)
}

func (c *FlowRangeConstraint) countAt(t time.Time, dir FlowDirection) int {
	if !c.counts(dir) {
		return 0
	}
	n := 0
	for _, set := range [][]FlowUsage{c.usages, c.pending} {
		for _, u := range set {
			if u.Direction == dir && u.Range.Contains(t) {
				n++
			}
		}
	}
	return n
}

// peakConcurrency sweeps the usages clipped to r and returns the highest overlap count
func peakConcurrency(usages []FlowUsage, r TimeRange) int {
	type edge struct {
		at    time.Time
		delta int
	}
	edges := make([]edge, 0, len(usages)*2)
	for _, u := range usages {
		start, end := u.Range.Start, u.Range.End
		if start.Before(r.Start) {
			start = r.Start
		}
		if end.After(r.End) {
			end = r.End
		}
		edges = append(edges, edge{at: start, delta: 1}, edge{at: end, delta: -1})
	}
	// closed ranges: a start and an end at the same tick overlap, so starts sort first
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta > edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})
	peak, current := 0, 0
	for _, e := range edges {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}
