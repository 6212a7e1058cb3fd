package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Handles into the production arena. Graph edges reference handles, never pointers.
type (
	OrderID       int
	OperationID   int
	ActivityID    int
	AssociationID int
)

// OptionalTime is a tick that may be "not set"
type OptionalTime struct {
	t   time.Time
	set bool
}

// TimeOf returns a set OptionalTime
func TimeOf(t time.Time) OptionalTime {
	return OptionalTime{t: t, set: true}
}

// IsSet reports whether the time carries a value
func (o OptionalTime) IsSet() bool { return o.set }

// Value returns the time, or the zero time when not set
func (o OptionalTime) Value() time.Time { return o.t }

// MarshalJSON encodes an unset time as null
func (o OptionalTime) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.t)
}

// Min returns the earlier of o and t, treating "not set" as +infinity
func (o OptionalTime) Min(t time.Time) OptionalTime {
	if !o.set || t.Before(o.t) {
		return TimeOf(t)
	}
	return o
}

// OverlapType describes how much predecessor output must complete before the successor may begin
type OverlapType int

const (
	NoOverlap OverlapType = iota
	TransferQuantity
	TransferSpan
	AtFirstTransfer
	TransferSpanAfterSetup
	PercentComplete
)

// String method for OverlapType enum
func (o OverlapType) String() string {
	switch o {
	case NoOverlap:
		return "NoOverlap"
	case TransferQuantity:
		return "TransferQuantity"
	case TransferSpan:
		return "TransferSpan"
	case AtFirstTransfer:
		return "AtFirstTransfer"
	case TransferSpanAfterSetup:
		return "TransferSpanAfterSetup"
	case PercentComplete:
		return "PercentComplete"
	default:
		return "Unknown"
	}
}

// ParseOverlapType converts a name produced by String back to an OverlapType
func ParseOverlapType(s string) (OverlapType, error) {
	for o := NoOverlap; o <= PercentComplete; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return NoOverlap, fmt.Errorf("unknown overlap type: %s", s)
}

// TransferPoint is a reference point within an operation's execution
type TransferPoint int

const (
	StartOfOp TransferPoint = iota
	EndOfSetup
	EndOfRun
	EndOfPostProcessing
	EndOfStorage
	NoTransfer
)

// String method for TransferPoint enum
func (p TransferPoint) String() string {
	switch p {
	case StartOfOp:
		return "StartOfOp"
	case EndOfSetup:
		return "EndOfSetup"
	case EndOfRun:
		return "EndOfRun"
	case EndOfPostProcessing:
		return "EndOfPostProcessing"
	case EndOfStorage:
		return "EndOfStorage"
	case NoTransfer:
		return "NoTransfer"
	default:
		return "Unknown"
	}
}

// ParseTransferPoint converts a name produced by String back to a TransferPoint
func ParseTransferPoint(s string) (TransferPoint, error) {
	for p := StartOfOp; p <= NoTransfer; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return NoTransfer, fmt.Errorf("unknown transfer point: %s", s)
}

// lastSpan is the last span kind completed at the point, -1 for NoTransfer
func (p TransferPoint) lastSpan() SpanKind {
	switch p {
	case StartOfOp:
		return CleanBefore
	case EndOfSetup:
		return Setup
	case EndOfRun:
		return Processing
	case EndOfPostProcessing:
		return PostProcessing
	case EndOfStorage:
		return Storage
	default:
		return -1
	}
}

// ManufacturingOrder owns a set of operations and the delivery need date
type ManufacturingOrder struct {
	ID          OrderID
	ExternalID  string
	Product     PartNumber
	NeedDate    time.Time
	RequiredQty decimal.Decimal
	// ResizeForStorage lets the storage allocator change the order quantity to fit storage
	ResizeForStorage bool
	Operations       []OperationID
}

// Association is a predecessor -> successor edge between operations
type Association struct {
	ID          AssociationID
	Predecessor OperationID
	Successor   OperationID
	// TransferSpan is the explicit transfer duration between the two operations
	TransferSpan    time.Duration
	Overlap         OverlapType
	TransferQty     decimal.Decimal // used by TransferQuantity and AtFirstTransfer
	PercentComplete decimal.Decimal // 0-100, used by PercentComplete
	TransferStart   TransferPoint   // point on the predecessor at which material leaves
	TransferEnd     TransferPoint   // point on the successor that needs the material
}

// NewAssociation creates a validated Association
func NewAssociation(pred, succ OperationID, overlap OverlapType, transferSpan time.Duration) (*Association, error) {
	if pred == succ {
		return nil, fmt.Errorf("predecessor and successor cannot be the same operation: %d", pred)
	}
	if transferSpan < 0 {
		return nil, fmt.Errorf("transfer span cannot be negative, got %s", transferSpan)
	}
	return &Association{
		Predecessor:   pred,
		Successor:     succ,
		TransferSpan:  transferSpan,
		Overlap:       overlap,
		TransferStart: EndOfRun,
		TransferEnd:   StartOfOp,
	}, nil
}

// ProductionInfo holds the spans and rates used to size an activity
type ProductionInfo struct {
	SetupSpan          time.Duration
	CycleSpan          time.Duration
	QtyPerCycle        decimal.Decimal
	PostProcessingSpan time.Duration
	StorageSpan        time.Duration
	CleanSpan          time.Duration
}

// Cycles returns the number of whole cycles needed to produce qty
func (p ProductionInfo) Cycles(qty decimal.Decimal) int64 {
	if !p.QtyPerCycle.IsPositive() || !qty.IsPositive() {
		return 0
	}
	return qty.Div(p.QtyPerCycle).Ceil().IntPart()
}

// ProcessingSpan returns the run time needed to produce qty
func (p ProductionInfo) ProcessingSpan(qty decimal.Decimal) time.Duration {
	return time.Duration(p.Cycles(qty)) * p.CycleSpan
}

// Operation is a routing step of a manufacturing order
type Operation struct {
	ID         OperationID
	ExternalID string
	Order      OrderID
	Product    PartNumber

	Activities   []ActivityID
	Predecessors []AssociationID
	Successors   []AssociationID

	// EligibleResources is the primary resource requirement's eligibility set
	EligibleResources []ResourceID
	LockedResource    ResourceID
	DefaultResource   ResourceID

	Production ProductionInfo

	// JIT state, recomputed whenever a successor need date changes
	OperationNeedDate        OptionalTime
	OperationDbrNeedDate     OptionalTime
	EarliestJITStart         OptionalTime
	EarliestBufferedJITStart OptionalTime
	JitNotCalculable         bool
}

// NewOperation creates a validated Operation
func NewOperation(externalID string, order OrderID, product PartNumber, production ProductionInfo) (*Operation, error) {
	if externalID == "" {
		return nil, fmt.Errorf("operation external id cannot be empty")
	}
	if production.CycleSpan < 0 || production.SetupSpan < 0 || production.PostProcessingSpan < 0 ||
		production.StorageSpan < 0 || production.CleanSpan < 0 {
		return nil, fmt.Errorf("operation %s: spans cannot be negative", externalID)
	}
	if production.QtyPerCycle.IsNegative() {
		return nil, fmt.Errorf("operation %s: quantity per cycle cannot be negative, got %s", externalID, production.QtyPerCycle)
	}
	return &Operation{
		ExternalID: externalID,
		Order:      order,
		Product:    product,
		Production: production,
	}, nil
}

// IsTerminal reports whether the operation has no successors
func (o *Operation) IsTerminal() bool {
	return len(o.Successors) == 0
}

// PinnedResource returns the locked resource, else the default resource, else ""
func (o *Operation) PinnedResource() ResourceID {
	if o.LockedResource != "" {
		return o.LockedResource
	}
	return o.DefaultResource
}

// ResetJIT clears the computed need dates and JIT starts
func (o *Operation) ResetJIT() {
	o.OperationNeedDate = OptionalTime{}
	o.OperationDbrNeedDate = OptionalTime{}
	o.EarliestJITStart = OptionalTime{}
	o.EarliestBufferedJITStart = OptionalTime{}
	o.JitNotCalculable = false
}

// BufferInfo is the JIT window of an activity on one resource
type BufferInfo struct {
	Calculated       bool
	NeedDate         time.Time
	DbrNeedDate      time.Time
	JITStart         time.Time
	BufferedJITStart time.Time
	RequiredCapacity RequiredCapacity
}

// Activity is a schedulable unit of an operation's work
type Activity struct {
	ID                ActivityID
	Operation         OperationID
	RequiredFinishQty decimal.Decimal
	// QtyPerCycle overrides the operation's rate when positive
	QtyPerCycle decimal.Decimal
	// AcceptsResize permits the storage allocator to grow the batch
	AcceptsResize bool
	// PartialProduction marks an activity that continues material already in storage
	PartialProduction bool

	BufferInfo map[ResourceID]BufferInfo
}

// NewActivity creates a validated Activity
func NewActivity(operation OperationID, requiredQty decimal.Decimal) (*Activity, error) {
	if !requiredQty.IsPositive() {
		return nil, fmt.Errorf("required finish quantity must be positive, got %s", requiredQty)
	}
	return &Activity{
		Operation:         operation,
		RequiredFinishQty: requiredQty,
		BufferInfo:        make(map[ResourceID]BufferInfo),
	}, nil
}
