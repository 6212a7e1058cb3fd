package entities

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PartNumber represents a unique item identifier
type PartNumber string

// Item represents a manufactured or stored item
type Item struct {
	PartNumber    PartNumber
	Description   string
	UnitOfMeasure string
	// MaterialPostProcessingSpan is time the material needs after production
	// before it may be transferred to the next step (cooling, curing).
	MaterialPostProcessingSpan Span
}

// NewItem creates a validated Item
func NewItem(partNumber PartNumber, description, uom string) (*Item, error) {
	if string(partNumber) == "" {
		return nil, fmt.Errorf("part number cannot be empty")
	}
	if uom == "" {
		return nil, fmt.Errorf("unit of measure cannot be empty")
	}
	return &Item{
		PartNumber:    partNumber,
		Description:   description,
		UnitOfMeasure: uom,
	}, nil
}

// ProductRule overrides a resource's batch limits for one item
type ProductRule struct {
	PartNumber PartNumber
	MinQty     decimal.Decimal // zero = not overridden
	MaxQty     decimal.Decimal // zero = not overridden
}

// NewProductRule creates a validated ProductRule
func NewProductRule(partNumber PartNumber, minQty, maxQty decimal.Decimal) (*ProductRule, error) {
	if string(partNumber) == "" {
		return nil, fmt.Errorf("part number cannot be empty")
	}
	if minQty.IsNegative() {
		return nil, fmt.Errorf("minimum quantity cannot be negative, got %s", minQty)
	}
	if maxQty.IsNegative() {
		return nil, fmt.Errorf("maximum quantity cannot be negative, got %s", maxQty)
	}
	if maxQty.IsPositive() && minQty.GreaterThan(maxQty) {
		return nil, fmt.Errorf("minimum quantity %s exceeds maximum quantity %s", minQty, maxQty)
	}
	return &ProductRule{PartNumber: partNumber, MinQty: minQty, MaxQty: maxQty}, nil
}
