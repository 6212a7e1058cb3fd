package entities

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SupplyNode is a quantity becoming available at a date
type SupplyNode struct {
	Date time.Time
	Qty  decimal.Decimal
}

// SupplyProfile is the ordered output of one source activity waiting to be stored
type SupplyProfile struct {
	PartNumber      PartNumber
	SourceOrder     OrderID
	SourceOperation OperationID
	SourceActivity  ActivityID
	// RequiredStorageArea restricts storage to one area; "" = any
	RequiredStorageArea string

	nodes     []SupplyNode
	allocated decimal.Decimal
}

// NewSupplyProfile creates a validated SupplyProfile with nodes sorted by date
func NewSupplyProfile(partNumber PartNumber, nodes []SupplyNode) (*SupplyProfile, error) {
	if string(partNumber) == "" {
		return nil, fmt.Errorf("part number cannot be empty")
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("supply profile for %s has no nodes", partNumber)
	}
	sorted := make([]SupplyNode, len(nodes))
	copy(sorted, nodes)
	for _, n := range sorted {
		if !n.Qty.IsPositive() {
			return nil, fmt.Errorf("supply quantity must be positive, got %s", n.Qty)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	return &SupplyProfile{PartNumber: partNumber, nodes: sorted, allocated: decimal.Zero}, nil
}

// Nodes returns a copy of the supply nodes
func (p *SupplyProfile) Nodes() []SupplyNode {
	result := make([]SupplyNode, len(p.nodes))
	copy(result, p.nodes)
	return result
}

// TotalQty is the sum of all nodes
func (p *SupplyProfile) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, n := range p.nodes {
		total = total.Add(n.Qty)
	}
	return total
}

// AllocatedQty is the quantity already placed into storage
func (p *SupplyProfile) AllocatedQty() decimal.Decimal {
	return p.allocated
}

// RemainingQty is the quantity still to be placed
func (p *SupplyProfile) RemainingQty() decimal.Decimal {
	return clampZero(p.TotalQty().Sub(p.allocated))
}

// IsFullyAllocated reports whether nothing remains to be placed
func (p *SupplyProfile) IsFullyAllocated() bool {
	return !p.RemainingQty().IsPositive()
}

// Allocate records qty as placed. Allocating more than remains is an invariant violation.
func (p *SupplyProfile) Allocate(qty decimal.Decimal) error {
	if qty.GreaterThan(p.RemainingQty()) {
		return fmt.Errorf("%w: allocating %s of %s exceeds remaining %s", ErrInvariant, qty, p.PartNumber, p.RemainingQty())
	}
	p.allocated = p.allocated.Add(qty)
	return nil
}

// Release returns qty to the unplaced remainder
func (p *SupplyProfile) Release(qty decimal.Decimal) error {
	if qty.IsNegative() || qty.GreaterThan(p.allocated) {
		return fmt.Errorf("%w: releasing %s of %s exceeds allocated %s", ErrInvariant, qty, p.PartNumber, p.allocated)
	}
	p.allocated = p.allocated.Sub(qty)
	return nil
}

// Range is the interval from the first to the last supply date
func (p *SupplyProfile) Range() TimeRange {
	return TimeRange{Start: p.nodes[0].Date, End: p.nodes[len(p.nodes)-1].Date}
}

// Resize scales every node so the profile totals newTotal. The last node absorbs rounding.
func (p *SupplyProfile) Resize(newTotal decimal.Decimal) error {
	if !newTotal.IsPositive() {
		return fmt.Errorf("resized supply must be positive, got %s", newTotal)
	}
	if newTotal.LessThan(p.allocated) {
		return fmt.Errorf("%w: resize to %s below allocated %s", ErrInvariant, newTotal, p.allocated)
	}
	total := p.TotalQty()
	ratio := newTotal.Div(total)
	sum := decimal.Zero
	for i := range p.nodes {
		if i == len(p.nodes)-1 {
			p.nodes[i].Qty = newTotal.Sub(sum)
			break
		}
		p.nodes[i].Qty = p.nodes[i].Qty.Mul(ratio).Round(6)
		sum = sum.Add(p.nodes[i].Qty)
	}
	return nil
}

// CycleAdjustment records a batch size change made to fit storage
type CycleAdjustment struct {
	Activity ActivityID
	Date     time.Time
	OldQty   decimal.Decimal
	NewQty   decimal.Decimal
	Reason   string
}

// CycleAdjustmentProfile collects the adjustments of one scheduling attempt
type CycleAdjustmentProfile struct {
	Adjustments []CycleAdjustment
}

// Add appends an adjustment
func (p *CycleAdjustmentProfile) Add(a CycleAdjustment) {
	p.Adjustments = append(p.Adjustments, a)
}
