package entities

import (
	"fmt"
	"time"
)

// Span is a duration that may be "not set"
type Span struct {
	d   time.Duration
	set bool
}

// Unset is the "not set" span
var Unset = Span{}

// SpanOf returns a set span of d
func SpanOf(d time.Duration) Span {
	return Span{d: d, set: true}
}

// IsSet reports whether the span carries a value
func (s Span) IsSet() bool { return s.set }

// Value returns the duration, or zero when not set
func (s Span) Value() time.Duration {
	if !s.set {
		return 0
	}
	return s.d
}

func (s Span) String() string {
	if !s.set {
		return "unset"
	}
	return s.d.String()
}

// SpanKind identifies one of the six RequiredCapacity spans, in execution order
type SpanKind int

const (
	CleanBefore SpanKind = iota
	Setup
	Processing
	PostProcessing
	Storage
	CleanAfter
	spanKindCount
)

// String method for SpanKind enum
func (k SpanKind) String() string {
	switch k {
	case CleanBefore:
		return "CleanBefore"
	case Setup:
		return "Setup"
	case Processing:
		return "Processing"
	case PostProcessing:
		return "PostProcessing"
	case Storage:
		return "Storage"
	case CleanAfter:
		return "CleanAfter"
	default:
		return "Unknown"
	}
}

// RequiredCapacity is an immutable bundle of the spans an activity needs on a resource.
// New instances are derived with With/Without/Through; the receiver never changes.
type RequiredCapacity struct {
	spans [spanKindCount]Span
}

// NewRequiredCapacity creates a validated RequiredCapacity. Negative spans are rejected.
func NewRequiredCapacity(cleanBefore, setup, processing, postProcessing, storage, cleanAfter Span) (RequiredCapacity, error) {
	rc := RequiredCapacity{spans: [spanKindCount]Span{cleanBefore, setup, processing, postProcessing, storage, cleanAfter}}
	for kind, span := range rc.spans {
		if span.set && span.d < 0 {
			return RequiredCapacity{}, fmt.Errorf("%s span cannot be negative, got %s", SpanKind(kind), span.d)
		}
	}
	return rc, nil
}

// Span returns the span of the given kind
func (rc RequiredCapacity) Span(kind SpanKind) Span {
	return rc.spans[kind]
}

// With returns a copy with kind replaced. Negative values are clamped to zero.
func (rc RequiredCapacity) With(kind SpanKind, span Span) RequiredCapacity {
	if span.set && span.d < 0 {
		span.d = 0
	}
	rc.spans[kind] = span
	return rc
}

// Without returns a copy with kind unset
func (rc RequiredCapacity) Without(kind SpanKind) RequiredCapacity {
	rc.spans[kind] = Unset
	return rc
}

// Through returns a copy keeping only the spans that complete before the given
// transfer reference point is reached. NoTransfer keeps everything.
func (rc RequiredCapacity) Through(point TransferPoint) RequiredCapacity {
	last := point.lastSpan()
	if last < 0 {
		return rc
	}
	for kind := last + 1; kind < spanKindCount; kind++ {
		rc.spans[kind] = Unset
	}
	return rc
}

// TotalRequiredCapacity sums the set spans
func (rc RequiredCapacity) TotalRequiredCapacity() time.Duration {
	var total time.Duration
	for _, span := range rc.spans {
		total += span.Value()
	}
	return total
}

func (rc RequiredCapacity) String() string {
	return fmt.Sprintf("RequiredCapacity{clean=%s setup=%s run=%s post=%s storage=%s cleanAfter=%s}",
		rc.spans[CleanBefore], rc.spans[Setup], rc.spans[Processing],
		rc.spans[PostProcessing], rc.spans[Storage], rc.spans[CleanAfter])
}
