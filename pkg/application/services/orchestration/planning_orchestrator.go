package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/application/dto"
	"github.com/vsinha/aps/pkg/application/services/jit"
	"github.com/vsinha/aps/pkg/application/services/shared"
	"github.com/vsinha/aps/pkg/application/services/storage"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
	"github.com/vsinha/aps/pkg/domain/services"
	"github.com/vsinha/aps/pkg/infrastructure/events"
)

// Options tunes a planning run
type Options struct {
	ShippingBuffer time.Duration
	// MaxStorageRetries bounds how often a rejected supply is moved later and retried
	MaxStorageRetries int
}

// PlanningOrchestrator coordinates the JIT scheduler and the storage allocator
type PlanningOrchestrator struct {
	production repositories.ProductionRepository
	resources  repositories.ResourceRepository
	warehouses repositories.WarehouseRepository
	scheduler  *jit.Scheduler
	allocator  *storage.Allocator
	calculator *services.CapacityCalculator
	eventStore events.EventStore
	options    Options
	logger     *slog.Logger
}

// NewPlanningOrchestrator creates a new planning orchestrator
func NewPlanningOrchestrator(
	production repositories.ProductionRepository,
	resources repositories.ResourceRepository,
	warehouses repositories.WarehouseRepository,
	scheduler *jit.Scheduler,
	allocator *storage.Allocator,
	calculator *services.CapacityCalculator,
	eventStore events.EventStore,
	options Options,
	logger *slog.Logger,
) *PlanningOrchestrator {
	if calculator == nil {
		calculator = services.NewCapacityCalculator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanningOrchestrator{
		production: production,
		resources:  resources,
		warehouses: warehouses,
		scheduler:  scheduler,
		allocator:  allocator,
		calculator: calculator,
		eventStore: eventStore,
		options:    options,
		logger:     logger,
	}
}

// PlanningResult contains the run output and the storage totals derived from it
type PlanningResult struct {
	*dto.RunResult
	Allocations shared.AllocationMap
}

// candidate is one activity whose output goes into storage
type candidate struct {
	order  *entities.ManufacturingOrder
	op     *entities.Operation
	act    *entities.Activity
	res    *entities.Resource
	start  time.Time
	supply *entities.SupplyProfile
}

// Run resets simulation state, computes JIT dates for every operation and
// then stores the output of each storable activity in JIT start order
func (po *PlanningOrchestrator) Run(ctx context.Context, clock time.Time) (*PlanningResult, error) {
	for _, w := range po.warehouses.GetAllWarehouses() {
		w.ResetSimulationStateVariables()
	}

	// Step 1: JIT start dates, successors first
	if err := po.scheduler.CalculateAll(ctx, clock, po.options.ShippingBuffer); err != nil {
		return nil, fmt.Errorf("failed to calculate JIT dates: %w", err)
	}

	result := &dto.RunResult{Clock: clock}
	result.Schedules = po.schedules(clock)

	// Step 2: supply profiles, built concurrently and applied in order
	candidates, err := po.storageCandidates(ctx, clock)
	if err != nil {
		return nil, err
	}
	po.logger.Info("planning storage", "candidates", len(candidates), "clock", clock)

	// Step 3: storage, one attempt sequence per candidate
	adjustments := &entities.CycleAdjustmentProfile{}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, err := po.store(ctx, c, clock, adjustments)
		if err != nil {
			return nil, err
		}
		result.Storage = append(result.Storage, outcome)
	}
	result.Adjustments = adjustments.Adjustments

	if len(result.Adjustments) > 0 {
		// batch sizes changed, so upstream need dates may have moved
		result.Schedules = po.schedules(clock)
	}

	return &PlanningResult{
		RunResult:   result,
		Allocations: shared.NewAllocationMapFromOutcomes(result.Storage),
	}, nil
}

// Schedule computes JIT dates only, leaving storage untouched
func (po *PlanningOrchestrator) Schedule(ctx context.Context, clock time.Time) (*dto.RunResult, error) {
	if err := po.scheduler.CalculateAll(ctx, clock, po.options.ShippingBuffer); err != nil {
		return nil, fmt.Errorf("failed to calculate JIT dates: %w", err)
	}
	return &dto.RunResult{Clock: clock, Schedules: po.schedules(clock)}, nil
}

// schedules snapshots the JIT window of every operation by order and routing position
func (po *PlanningOrchestrator) schedules(clock time.Time) []dto.OperationSchedule {
	var result []dto.OperationSchedule
	for _, order := range po.production.GetAllOrders() {
		for _, opID := range order.Operations {
			op, err := po.production.GetOperation(opID)
			if err != nil {
				continue
			}
			s := dto.OperationSchedule{
				Order:                    order.ExternalID,
				Operation:                op.ExternalID,
				Product:                  op.Product,
				NeedDate:                 op.OperationNeedDate,
				DbrNeedDate:              op.OperationDbrNeedDate,
				EarliestJITStart:         op.EarliestJITStart,
				EarliestBufferedJITStart: op.EarliestBufferedJITStart,
				NotCalculable:            op.JitNotCalculable,
				Late:                     op.EarliestJITStart.IsSet() && op.EarliestJITStart.Value().Before(clock),
			}
			if len(op.Activities) > 0 {
				if act, err := po.production.GetActivity(op.Activities[0]); err == nil {
					if res, err := shared.SelectPrimaryResource(op, act, po.resources); err == nil {
						s.Resource = res.ID
					}
				}
			}
			result = append(result, s)
		}
	}
	return result
}

// storable reports whether any warehouse has item storage for item
func (po *PlanningOrchestrator) storable(item entities.PartNumber) bool {
	for _, w := range po.warehouses.GetAllWarehouses() {
		for _, area := range w.StorageAreas() {
			if _, ok := area.ItemStorage(item); ok {
				return true
			}
		}
	}
	return false
}

func (po *PlanningOrchestrator) storageCandidates(ctx context.Context, clock time.Time) ([]*candidate, error) {
	var candidates []*candidate
	for _, op := range po.production.GetAllOperations() {
		if op.JitNotCalculable || !op.EarliestJITStart.IsSet() || !po.storable(op.Product) {
			continue
		}
		order, err := po.production.GetOrder(op.Order)
		if err != nil {
			return nil, fmt.Errorf("failed to get order of %s: %w", op.ExternalID, err)
		}
		for _, actID := range op.Activities {
			act, err := po.production.GetActivity(actID)
			if err != nil {
				return nil, fmt.Errorf("failed to get activity of %s: %w", op.ExternalID, err)
			}
			res, err := shared.SelectPrimaryResource(op, act, po.resources)
			if err != nil {
				po.logger.Warn("skipping storage", "operation", op.ExternalID, "error", err)
				continue
			}
			start := op.EarliestJITStart.Value()
			if info, ok := act.BufferInfo[res.ID]; ok && info.Calculated {
				start = info.JITStart
			}
			if start.Before(clock) {
				start = clock
			}
			candidates = append(candidates, &candidate{order: order, op: op, act: act, res: res, start: start})
		}
	}

	changes := services.NewChangeList()
	analyzers := make([]services.Analyzer, len(candidates))
	for i, c := range candidates {
		c := c
		analyzers[i] = func(ctx context.Context, queue func(services.Change)) error {
			supply, err := po.buildSupply(c.op, c.act, c.res, c.start)
			if err != nil {
				return err
			}
			queue(services.Change{
				Description: "supply of " + c.op.ExternalID,
				Apply: func() error {
					c.supply = supply
					return nil
				},
			})
			return nil
		}
	}
	if err := services.RunAnalyses(ctx, changes, analyzers...); err != nil {
		return nil, fmt.Errorf("failed to build supply profiles: %w", err)
	}
	if err := changes.Apply(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		if a.op.ExternalID != b.op.ExternalID {
			return a.op.ExternalID < b.op.ExternalID
		}
		return a.act.ID < b.act.ID
	})
	return candidates, nil
}

// buildSupply lays out an activity's output as one node per cycle after setup.
// The last cycle carries the remainder.
func (po *PlanningOrchestrator) buildSupply(op *entities.Operation, act *entities.Activity, res *entities.Resource, start time.Time) (*entities.SupplyProfile, error) {
	info, err := po.calculator.ProductionInfo(op, act, res)
	if err != nil {
		return nil, err
	}
	rc, err := po.calculator.RequiredCapacity(op, act, res, act.RequiredFinishQty)
	if err != nil {
		return nil, err
	}

	runStart := start.Add(rc.Span(entities.Setup).Value())
	qty := act.RequiredFinishQty
	cycles := info.Cycles(qty)

	var nodes []entities.SupplyNode
	if cycles == 0 {
		nodes = []entities.SupplyNode{{Date: runStart.Add(rc.Span(entities.Processing).Value()), Qty: qty}}
	} else {
		remaining := qty
		for k := int64(1); k <= cycles; k++ {
			q := decimal.Min(info.QtyPerCycle, remaining)
			nodes = append(nodes, entities.SupplyNode{Date: runStart.Add(time.Duration(k) * info.CycleSpan), Qty: q})
			remaining = remaining.Sub(q)
		}
	}

	supply, err := entities.NewSupplyProfile(op.Product, nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to build supply of %s: %w", op.ExternalID, err)
	}
	supply.SourceOrder = op.Order
	supply.SourceOperation = op.ID
	supply.SourceActivity = act.ID
	return supply, nil
}

// store runs storage attempts for one candidate, moving the supply to the
// retry date after each rejection
func (po *PlanningOrchestrator) store(
	ctx context.Context,
	c *candidate,
	clock time.Time,
	adjustments *entities.CycleAdjustmentProfile,
) (dto.StorageOutcome, error) {
	outcome := dto.StorageOutcome{
		Order:     c.order.ExternalID,
		Operation: c.op.ExternalID,
		Item:      c.supply.PartNumber,
		Resource:  c.res.ID,
		Qty:       c.supply.TotalQty(),
	}
	info := storage.SchedulableInfo{
		Clock:       clock,
		Operation:   c.op,
		Order:       c.order,
		DrainableAt: po.drainableAt(c.op, c.order),
	}

	supply := c.supply
	for attempt := 1; attempt <= po.options.MaxStorageRetries+1; attempt++ {
		outcome.Attempts = attempt
		outcome.StartedAt = supply.Range().Start

		res, err := po.allocator.AllocateStorage(supply, c.res, c.act, info, adjustments)
		if err != nil {
			return outcome, fmt.Errorf("failed to store output of %s: %w", c.op.ExternalID, err)
		}
		outcome.RetryStorageAreas = res.RetryStorageAreas

		if res.Success {
			fillOutcome(&outcome, res, supply)
			if res.MOQtyChanged {
				if err := po.scheduler.RecalculateFrom(ctx, c.op.ID, clock, po.options.ShippingBuffer); err != nil {
					return outcome, fmt.Errorf("failed to recalculate after resizing %s: %w", c.op.ExternalID, err)
				}
			}
			return outcome, nil
		}

		next, ok := nextAttempt(res, c.res, supply.Range().Start)
		if !ok {
			outcome.Reason = "no retry date"
			break
		}
		supply, err = shiftSupply(supply, next)
		if err != nil {
			return outcome, err
		}
		po.logger.Debug("storage retry", "operation", c.op.ExternalID, "attempt", attempt, "next", next)
	}

	if outcome.Reason == "" {
		outcome.Reason = fmt.Sprintf("no storage after %d attempts", outcome.Attempts)
	}
	po.logger.Warn("storage abandoned",
		"operation", c.op.ExternalID,
		"item", outcome.Item,
		"attempts", outcome.Attempts,
		"reason", outcome.Reason)
	err := events.Publish(po.eventStore, events.NewEvent(events.StorageAbandonedEvent, c.op.ExternalID, events.StorageAbandoned{
		Activity: c.act.ID,
		Item:     outcome.Item,
		Attempts: outcome.Attempts,
		Reason:   outcome.Reason,
	}, clock))
	return outcome, err
}

func fillOutcome(outcome *dto.StorageOutcome, res storage.AllocationResult, supply *entities.SupplyProfile) {
	outcome.Success = true
	outcome.Path = res.Path.String()
	outcome.Qty = supply.TotalQty()
	for _, l := range res.Commit.Lots {
		outcome.Lots = append(outcome.Lots, dto.StoredQty{Area: l.Area, Item: l.Lot.PartNumber, Qty: l.Lot.Qty})
	}
	for _, l := range res.Commit.Disposed {
		outcome.Disposed = append(outcome.Disposed, dto.StoredQty{Area: l.Area, Item: l.PartNumber, Qty: l.Qty})
	}
	for _, l := range res.Commit.Drained {
		outcome.Drained = append(outcome.Drained, dto.StoredQty{Area: l.Area, Item: l.PartNumber, Qty: l.Qty})
	}
	outcome.Cleanouts = res.Commit.Cleanouts
}

// drainableAt is when a consumer may withdraw the output of op: the earliest
// successor JIT start, or the order need date for the last step
func (po *PlanningOrchestrator) drainableAt(op *entities.Operation, order *entities.ManufacturingOrder) entities.OptionalTime {
	if op.IsTerminal() {
		return entities.TimeOf(order.NeedDate)
	}
	var earliest entities.OptionalTime
	for _, assocID := range op.Successors {
		assoc, err := po.production.GetAssociation(assocID)
		if err != nil {
			continue
		}
		succ, err := po.production.GetOperation(assoc.Successor)
		if err != nil || !succ.EarliestJITStart.IsSet() {
			continue
		}
		earliest = earliest.Min(succ.EarliestJITStart.Value())
	}
	return earliest
}

// nextAttempt is the supply start of the following attempt: the allocator's
// retry date, else the start of the resource's next online interval
func nextAttempt(res storage.AllocationResult, primary *entities.Resource, current time.Time) (time.Time, bool) {
	var next time.Time
	switch {
	case res.RetryDate.IsSet():
		next = res.RetryDate.Value()
	case res.RetryAtNextOnline && primary.Calendar != nil:
		online := primary.Calendar.NextOnlineStart(current)
		if !online.IsSet() {
			return time.Time{}, false
		}
		next = online.Value()
	default:
		return time.Time{}, false
	}
	if !next.After(current) {
		return time.Time{}, false
	}
	return next, true
}

// shiftSupply returns a copy of supply moved so its first node falls on start
func shiftSupply(supply *entities.SupplyProfile, start time.Time) (*entities.SupplyProfile, error) {
	delta := start.Sub(supply.Range().Start)
	nodes := supply.Nodes()
	for i := range nodes {
		nodes[i].Date = nodes[i].Date.Add(delta)
	}
	shifted, err := entities.NewSupplyProfile(supply.PartNumber, nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to shift supply of %s: %w", supply.PartNumber, err)
	}
	shifted.SourceOrder = supply.SourceOrder
	shifted.SourceOperation = supply.SourceOperation
	shifted.SourceActivity = supply.SourceActivity
	shifted.RequiredStorageArea = supply.RequiredStorageArea
	return shifted, nil
}

// GetSummary returns a formatted summary of the planning results
func (result *PlanningResult) GetSummary() string {
	summary := fmt.Sprintf("Planning Summary (clock %s):\n", result.Clock.Format(time.RFC3339))
	summary += fmt.Sprintf("  JIT: %d operations, %d late\n",
		len(result.Schedules),
		len(result.LateOperations()))
	summary += fmt.Sprintf("  Storage: %d supplies, %d failed, %d resized\n",
		len(result.Storage),
		len(result.Failures()),
		len(result.Adjustments))
	summary += fmt.Sprintf(
		"  Storage Coverage: %.1f%%",
		result.Allocations.GetCoverageRatio()*100,
	)
	return summary
}
