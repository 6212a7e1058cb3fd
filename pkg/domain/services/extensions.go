package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
)

// Extension is a customer plug-in consulted while sizing activities.
// Lower Priority values are consulted first.
type Extension interface {
	Name() string
	Priority() int
}

// ProductionInfoOverrider replaces an operation's production info for one activity/resource
type ProductionInfoOverrider interface {
	Extension
	OverrideProductionInfo(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*entities.ProductionInfo, error)
}

// QtyPerCycleProvider supplies the quantity produced per cycle
type QtyPerCycleProvider interface {
	Extension
	GetQtyPerCycle(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*decimal.Decimal, error)
}

// SetupCalculator computes the setup span
type SetupCalculator interface {
	Extension
	CalculateSetup(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*time.Duration, error)
}

// SetupAdjuster adjusts an already computed setup span
type SetupAdjuster interface {
	Extension
	AdjustSetupTime(op *entities.Operation, act *entities.Activity, res *entities.Resource, setup time.Duration) (*time.Duration, error)
}

// CleanSpanOverrider replaces the clean-after span
type CleanSpanOverrider interface {
	Extension
	OverrideCleanSpan(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*time.Duration, error)
}

// RequiredCapacityAdjuster gets the final word on an activity's required capacity
type RequiredCapacityAdjuster interface {
	Extension
	AfterRequiredCapacityCalculation(op *entities.Operation, act *entities.Activity, res *entities.Resource, rc entities.RequiredCapacity) (*entities.RequiredCapacity, error)
}

// ExtensionError wraps an error raised inside an extension
type ExtensionError struct {
	OperationExternalID string
	Extension           string
	Err                 error
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("extension %s failed for operation %s: %v", e.Extension, e.OperationExternalID, e.Err)
}

func (e *ExtensionError) Unwrap() error {
	return e.Err
}

// Dispatcher consults registered extensions in priority order. The first
// extension returning a non-nil result wins.
type Dispatcher struct {
	extensions []Extension
}

// NewDispatcher creates a dispatcher with extensions sorted by priority.
// Extensions of equal priority keep their registration order.
func NewDispatcher(extensions ...Extension) *Dispatcher {
	sorted := make([]Extension, len(extensions))
	copy(sorted, extensions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Dispatcher{extensions: sorted}
}

// Extensions returns the extensions in dispatch order
func (d *Dispatcher) Extensions() []Extension {
	result := make([]Extension, len(d.extensions))
	copy(result, d.extensions)
	return result
}

func wrapExtensionError(op *entities.Operation, ext Extension, err error) error {
	return &ExtensionError{OperationExternalID: op.ExternalID, Extension: ext.Name(), Err: err}
}

// OverrideProductionInfo returns the first production info override
func (d *Dispatcher) OverrideProductionInfo(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*entities.ProductionInfo, error) {
	for _, ext := range d.extensions {
		o, ok := ext.(ProductionInfoOverrider)
		if !ok {
			continue
		}
		info, err := o.OverrideProductionInfo(op, act, res)
		if err != nil {
			return nil, wrapExtensionError(op, ext, err)
		}
		if info != nil {
			return info, nil
		}
	}
	return nil, nil
}

// GetQtyPerCycle returns the first quantity-per-cycle override
func (d *Dispatcher) GetQtyPerCycle(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*decimal.Decimal, error) {
	for _, ext := range d.extensions {
		p, ok := ext.(QtyPerCycleProvider)
		if !ok {
			continue
		}
		qty, err := p.GetQtyPerCycle(op, act, res)
		if err != nil {
			return nil, wrapExtensionError(op, ext, err)
		}
		if qty != nil {
			return qty, nil
		}
	}
	return nil, nil
}

// CalculateSetup returns the first setup span override
func (d *Dispatcher) CalculateSetup(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*time.Duration, error) {
	for _, ext := range d.extensions {
		c, ok := ext.(SetupCalculator)
		if !ok {
			continue
		}
		setup, err := c.CalculateSetup(op, act, res)
		if err != nil {
			return nil, wrapExtensionError(op, ext, err)
		}
		if setup != nil {
			return setup, nil
		}
	}
	return nil, nil
}

// AdjustSetupTime returns the first setup adjustment
func (d *Dispatcher) AdjustSetupTime(op *entities.Operation, act *entities.Activity, res *entities.Resource, setup time.Duration) (*time.Duration, error) {
	for _, ext := range d.extensions {
		a, ok := ext.(SetupAdjuster)
		if !ok {
			continue
		}
		adjusted, err := a.AdjustSetupTime(op, act, res, setup)
		if err != nil {
			return nil, wrapExtensionError(op, ext, err)
		}
		if adjusted != nil {
			return adjusted, nil
		}
	}
	return nil, nil
}

// OverrideCleanSpan returns the first clean span override
func (d *Dispatcher) OverrideCleanSpan(op *entities.Operation, act *entities.Activity, res *entities.Resource) (*time.Duration, error) {
	for _, ext := range d.extensions {
		o, ok := ext.(CleanSpanOverrider)
		if !ok {
			continue
		}
		span, err := o.OverrideCleanSpan(op, act, res)
		if err != nil {
			return nil, wrapExtensionError(op, ext, err)
		}
		if span != nil {
			return span, nil
		}
	}
	return nil, nil
}

// AfterRequiredCapacityCalculation returns the first required capacity adjustment
func (d *Dispatcher) AfterRequiredCapacityCalculation(op *entities.Operation, act *entities.Activity, res *entities.Resource, rc entities.RequiredCapacity) (*entities.RequiredCapacity, error) {
	for _, ext := range d.extensions {
		a, ok := ext.(RequiredCapacityAdjuster)
		if !ok {
			continue
		}
		adjusted, err := a.AfterRequiredCapacityCalculation(op, act, res, rc)
		if err != nil {
			return nil, wrapExtensionError(op, ext, err)
		}
		if adjusted != nil {
			return adjusted, nil
		}
	}
	return nil, nil
}
