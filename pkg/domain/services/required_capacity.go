package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
)

// CapacityCalculator sizes an activity on a resource, consulting extensions
type CapacityCalculator struct {
	dispatcher *Dispatcher
}

// NewCapacityCalculator creates a calculator; a nil dispatcher means no extensions
func NewCapacityCalculator(dispatcher *Dispatcher) *CapacityCalculator {
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &CapacityCalculator{dispatcher: dispatcher}
}

// ProductionInfo returns the effective production info of an activity on a
// resource, with quantity per cycle resolved
func (c *CapacityCalculator) ProductionInfo(op *entities.Operation, act *entities.Activity, res *entities.Resource) (entities.ProductionInfo, error) {
	info := op.Production
	override, err := c.dispatcher.OverrideProductionInfo(op, act, res)
	if err != nil {
		return entities.ProductionInfo{}, err
	}
	if override != nil {
		info = *override
	}

	if act.QtyPerCycle.IsPositive() {
		info.QtyPerCycle = act.QtyPerCycle
	}
	qpc, err := c.dispatcher.GetQtyPerCycle(op, act, res)
	if err != nil {
		return entities.ProductionInfo{}, err
	}
	if qpc != nil {
		info.QtyPerCycle = *qpc
	}
	return info, nil
}

// RequiredCapacity computes the six spans an activity needs for qty on res.
// res may be nil when the operation has no resource yet.
func (c *CapacityCalculator) RequiredCapacity(op *entities.Operation, act *entities.Activity, res *entities.Resource, qty decimal.Decimal) (entities.RequiredCapacity, error) {
	info, err := c.ProductionInfo(op, act, res)
	if err != nil {
		return entities.RequiredCapacity{}, err
	}

	setup := info.SetupSpan
	if calculated, err := c.dispatcher.CalculateSetup(op, act, res); err != nil {
		return entities.RequiredCapacity{}, err
	} else if calculated != nil {
		setup = *calculated
	}
	if adjusted, err := c.dispatcher.AdjustSetupTime(op, act, res, setup); err != nil {
		return entities.RequiredCapacity{}, err
	} else if adjusted != nil {
		setup = *adjusted
	}

	cleanAfter := info.CleanSpan
	if override, err := c.dispatcher.OverrideCleanSpan(op, act, res); err != nil {
		return entities.RequiredCapacity{}, err
	} else if override != nil {
		cleanAfter = *override
	}

	var cleanBefore time.Duration
	if res != nil {
		cleanBefore = res.CleanBeforeSpan
	}

	rc, err := entities.NewRequiredCapacity(
		spanOrUnset(cleanBefore),
		spanOrUnset(setup),
		spanOrUnset(info.ProcessingSpan(qty)),
		spanOrUnset(info.PostProcessingSpan),
		spanOrUnset(info.StorageSpan),
		spanOrUnset(cleanAfter),
	)
	if err != nil {
		return entities.RequiredCapacity{}, fmt.Errorf("failed to size operation %s: %w", op.ExternalID, err)
	}

	adjusted, err := c.dispatcher.AfterRequiredCapacityCalculation(op, act, res, rc)
	if err != nil {
		return entities.RequiredCapacity{}, err
	}
	if adjusted != nil {
		rc = *adjusted
	}
	return rc, nil
}

func spanOrUnset(d time.Duration) entities.Span {
	if d == 0 {
		return entities.Unset
	}
	return entities.SpanOf(d)
}
