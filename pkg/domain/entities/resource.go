package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SearchDirection selects forward or reverse capacity search
type SearchDirection int

const (
	Forward SearchDirection = iota
	Reverse
)

// String method for SearchDirection enum
func (d SearchDirection) String() string {
	switch d {
	case Forward:
		return "Forward"
	case Reverse:
		return "Reverse"
	default:
		return "Unknown"
	}
}

// UsageKind is the kind of capacity being searched for
type UsageKind int

const (
	UsageRun UsageKind = iota
	UsageSetup
	UsageClean
	UsageStorage
)

// FindResult is the outcome of a capacity search.
//
// Forward searches report Start (first online tick used) and Finish. Reverse
// searches report Start as the earliest tick reached. On failure
// AchievedCapacity holds how much of the requested duration was found and
// NextAvailable, when set, is the next tick at which capacity exists.
type FindResult struct {
	Success          bool
	Start            time.Time
	Finish           time.Time
	AchievedCapacity time.Duration
	NextAvailable    OptionalTime
}

// CapacityFinder is the resource capacity search contract. The core never
// searches a calendar itself; it only interprets results.
type CapacityFinder interface {
	FindCapacity(from time.Time, duration time.Duration, direction SearchDirection, usage UsageKind) FindResult
	// FirstOnlineStart is the start of the calendar's very first online interval
	FirstOnlineStart() OptionalTime
	// NextOnline is the first online tick at or after t
	NextOnline(t time.Time) OptionalTime
	// NextOnlineStart is the start of the first online interval beginning after t
	NextOnlineStart(t time.Time) OptionalTime
}

// ResourceID identifies a resource
type ResourceID string

// CleanoutKey identifies a changeover from one stored item to another
type CleanoutKey struct {
	From PartNumber
	To   PartNumber
}

// Resource is a machine, line or tank that operations run on
type Resource struct {
	ID   ResourceID
	Name string
	// TransferSpan is the time to move output from this resource to the next step
	TransferSpan time.Duration
	// BufferSpan is the DBR protective buffer placed before this resource
	BufferSpan      time.Duration
	CleanBeforeSpan time.Duration
	MinQty          decimal.Decimal // zero = no floor
	MaxQty          decimal.Decimal // zero = unconstrained

	ItemCleanouts map[CleanoutKey]time.Duration
	ProductRules  map[PartNumber]ProductRule
	Calendar      CapacityFinder
}

// NewResource creates a validated Resource
func NewResource(id ResourceID, name string, calendar CapacityFinder) (*Resource, error) {
	if id == "" {
		return nil, fmt.Errorf("resource id cannot be empty")
	}
	return &Resource{
		ID:            id,
		Name:          name,
		ItemCleanouts: make(map[CleanoutKey]time.Duration),
		ProductRules:  make(map[PartNumber]ProductRule),
		Calendar:      calendar,
	}, nil
}

// GetStartOfBufferFromEndDate returns the start of the DBR buffer that ends at end
func (r *Resource) GetStartOfBufferFromEndDate(end time.Time) time.Time {
	return end.Add(-r.BufferSpan)
}

// CleanoutSpan returns the cleanout owed when switching from one item to another
func (r *Resource) CleanoutSpan(from, to PartNumber) (time.Duration, bool) {
	if from == "" || from == to {
		return 0, false
	}
	span, ok := r.ItemCleanouts[CleanoutKey{From: from, To: to}]
	if !ok || span <= 0 {
		return 0, false
	}
	return span, true
}

// BatchLimits returns the min and max batch quantity for an item, applying any product rule
func (r *Resource) BatchLimits(item PartNumber) (minQty, maxQty decimal.Decimal) {
	minQty, maxQty = r.MinQty, r.MaxQty
	if rule, ok := r.ProductRules[item]; ok {
		if rule.MinQty.IsPositive() {
			minQty = rule.MinQty
		}
		if rule.MaxQty.IsPositive() {
			maxQty = rule.MaxQty
		}
	}
	return minQty, maxQty
}
