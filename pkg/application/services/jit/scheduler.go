package jit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
	"github.com/vsinha/aps/pkg/domain/services"
	"github.com/vsinha/aps/pkg/infrastructure/events"
)

var hundred = decimal.NewFromInt(100)

// Scheduler computes the latest start of every activity that still meets its
// downstream need date. It is not safe for concurrent use.
type Scheduler struct {
	production repositories.ProductionRepository
	resources  repositories.ResourceRepository
	warehouses repositories.WarehouseRepository
	items      repositories.ItemRepository
	calculator *services.CapacityCalculator
	eventStore events.EventStore
	logger     *slog.Logger
}

// NewScheduler creates a JIT scheduler. warehouses, items and eventStore may be nil.
func NewScheduler(
	production repositories.ProductionRepository,
	resources repositories.ResourceRepository,
	warehouses repositories.WarehouseRepository,
	items repositories.ItemRepository,
	calculator *services.CapacityCalculator,
	eventStore events.EventStore,
	logger *slog.Logger,
) *Scheduler {
	if calculator == nil {
		calculator = services.NewCapacityCalculator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		production: production,
		resources:  resources,
		warehouses: warehouses,
		items:      items,
		calculator: calculator,
		eventStore: eventStore,
		logger:     logger,
	}
}

// successorNeed is the need date imposed on an operation by one successor
// association. assoc is nil for the order's own delivery need.
type successorNeed struct {
	assoc   *entities.Association
	need    time.Time
	dbrNeed time.Time
}

// CalculateAll resets and recomputes JIT dates for every operation, successors first
func (s *Scheduler) CalculateAll(ctx context.Context, clock time.Time, shippingBuffer time.Duration) error {
	order, err := NewRoutingGraph(s.production).SuccessorsFirstOrder()
	if err != nil {
		return fmt.Errorf("failed to order operations: %w", err)
	}
	for _, op := range s.production.GetAllOperations() {
		op.ResetJIT()
	}
	return s.calculate(ctx, order, clock, shippingBuffer)
}

// RecalculateFrom recomputes an operation whose successor need date changed,
// together with everything upstream of it
func (s *Scheduler) RecalculateFrom(ctx context.Context, opID entities.OperationID, clock time.Time, shippingBuffer time.Duration) error {
	graph := NewRoutingGraph(s.production)
	if graph.Node(opID) == nil {
		return fmt.Errorf("%w: operation %d", entities.ErrUnknownHandle, opID)
	}
	order, err := graph.SuccessorsFirstOrder()
	if err != nil {
		return fmt.Errorf("failed to order operations: %w", err)
	}
	affected := graph.Upstream(opID)
	filtered := make([]entities.OperationID, 0, len(affected))
	for _, id := range order {
		if affected[id] {
			filtered = append(filtered, id)
		}
	}
	return s.calculate(ctx, filtered, clock, shippingBuffer)
}

func (s *Scheduler) calculate(ctx context.Context, order []entities.OperationID, clock time.Time, shippingBuffer time.Duration) error {
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.JITCalculateStartDates(ctx, id, clock, shippingBuffer); err != nil {
			return err
		}
	}
	return nil
}

// JITCalculateStartDates computes need dates, per-resource buffer info and the
// earliest JIT starts of one operation. Every successor must already be calculated.
func (s *Scheduler) JITCalculateStartDates(ctx context.Context, opID entities.OperationID, clock time.Time, shippingBuffer time.Duration) error {
	op, err := s.production.GetOperation(opID)
	if err != nil {
		return err
	}
	op.ResetJIT()

	needs, err := s.successorNeeds(op, shippingBuffer)
	if errors.Is(err, entities.ErrNoCalculableSuccessor) {
		return s.notCalculable(op, err, clock)
	}
	if err != nil {
		return err
	}
	for _, n := range needs {
		op.OperationNeedDate = op.OperationNeedDate.Min(n.need)
		op.OperationDbrNeedDate = op.OperationDbrNeedDate.Min(n.dbrNeed)
	}

	calculate, others := s.resourceSets(op)
	if len(calculate) == 0 {
		return s.notCalculable(op, entities.ErrNoEligibleResources, clock)
	}

	for _, actID := range op.Activities {
		act, err := s.production.GetActivity(actID)
		if err != nil {
			return err
		}
		act.BufferInfo = make(map[entities.ResourceID]entities.BufferInfo, len(calculate)+len(others))
		for _, res := range calculate {
			info, err := s.CalcActJIT(op, act, res, needs)
			if err != nil {
				return err
			}
			act.BufferInfo[res.ID] = info
			op.EarliestJITStart = op.EarliestJITStart.Min(info.JITStart)
			op.EarliestBufferedJITStart = op.EarliestBufferedJITStart.Min(info.BufferedJITStart)
		}
		for _, id := range others {
			act.BufferInfo[id] = entities.BufferInfo{}
		}
	}

	if !op.EarliestBufferedJITStart.IsSet() {
		return fmt.Errorf("%w: operation %s finished jit calculation without a buffered jit start", entities.ErrInvariant, op.ExternalID)
	}

	late := op.EarliestJITStart.Value().Before(clock)
	s.logger.Debug("jit calculated",
		"operation", op.ExternalID,
		"need", op.OperationNeedDate.Value(),
		"jit_start", op.EarliestJITStart.Value(),
		"buffered_jit_start", op.EarliestBufferedJITStart.Value(),
		"late", late)
	return events.Publish(s.eventStore, events.NewEvent(events.JITCalculatedEvent, op.ExternalID, events.JITCalculated{
		Operation:                op.ExternalID,
		NeedDate:                 op.OperationNeedDate.Value(),
		DbrNeedDate:              op.OperationDbrNeedDate.Value(),
		EarliestJITStart:         op.EarliestJITStart.Value(),
		EarliestBufferedJITStart: op.EarliestBufferedJITStart.Value(),
		Late:                     late,
	}, clock))
}

func (s *Scheduler) notCalculable(op *entities.Operation, reason error, clock time.Time) error {
	op.JitNotCalculable = true
	s.logger.Warn("jit not calculable", "operation", op.ExternalID, "reason", reason)
	return events.Publish(s.eventStore, events.NewEvent(events.JITNotCalculableEvent, op.ExternalID,
		events.JITNotCalculable{Operation: op.ExternalID, Reason: reason.Error()}, clock))
}

// successorNeeds returns one need per successor association. Associations
// carrying no material are skipped, and so are successors without a JIT. When
// no association carries material the order's need date less the shipping
// buffer applies; when only successors without a JIT remain the operation
// cannot be calculated either.
func (s *Scheduler) successorNeeds(op *entities.Operation, shippingBuffer time.Duration) ([]successorNeed, error) {
	var needs []successorNeed
	blocked := false
	for _, assocID := range op.Successors {
		assoc, err := s.production.GetAssociation(assocID)
		if err != nil {
			return nil, err
		}
		if assoc.TransferStart == entities.NoTransfer || assoc.TransferEnd == entities.NoTransfer {
			continue
		}
		succ, err := s.production.GetOperation(assoc.Successor)
		if err != nil {
			return nil, err
		}
		if succ.JitNotCalculable {
			blocked = true
			continue
		}
		if !succ.EarliestJITStart.IsSet() || !succ.EarliestBufferedJITStart.IsSet() {
			return nil, fmt.Errorf("%w: successor %s of %s has no jit start", entities.ErrInvariant, succ.ExternalID, op.ExternalID)
		}
		offset, err := s.transferEndOffset(succ, assoc.TransferEnd)
		if err != nil {
			return nil, err
		}
		needs = append(needs, successorNeed{
			assoc:   assoc,
			need:    succ.EarliestJITStart.Value().Add(offset),
			dbrNeed: succ.EarliestBufferedJITStart.Value().Add(offset),
		})
	}
	if len(needs) > 0 {
		return needs, nil
	}
	if blocked {
		return nil, entities.ErrNoCalculableSuccessor
	}

	mo, err := s.production.GetOrder(op.Order)
	if err != nil {
		return nil, err
	}
	need := mo.NeedDate.Add(-shippingBuffer)
	return []successorNeed{{need: need, dbrNeed: need}}, nil
}

// transferEndOffset is how far into the successor's execution the material is
// needed, measured from its JIT start on the resource that set that start
func (s *Scheduler) transferEndOffset(succ *entities.Operation, point entities.TransferPoint) (time.Duration, error) {
	if point == entities.StartOfOp {
		return 0, nil
	}
	for _, actID := range succ.Activities {
		act, err := s.production.GetActivity(actID)
		if err != nil {
			return 0, err
		}
		ids := make([]entities.ResourceID, 0, len(act.BufferInfo))
		for id := range act.BufferInfo {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			info := act.BufferInfo[id]
			if info.Calculated && info.JITStart.Equal(succ.EarliestJITStart.Value()) {
				return info.RequiredCapacity.Without(entities.CleanBefore).Through(point).TotalRequiredCapacity(), nil
			}
		}
	}
	return 0, nil
}

// resourceSets splits the operation's resources into those to calculate and
// those that receive an empty buffer
func (s *Scheduler) resourceSets(op *entities.Operation) (calculate []*entities.Resource, others []entities.ResourceID) {
	pinned := op.PinnedResource()
	if pinned != "" {
		res, err := s.resources.GetResource(pinned)
		if err != nil {
			s.logger.Warn("pinned resource not found", "operation", op.ExternalID, "resource", pinned)
			return nil, nil
		}
		for _, id := range op.EligibleResources {
			if id != pinned {
				others = append(others, id)
			}
		}
		return []*entities.Resource{res}, others
	}
	for _, id := range op.EligibleResources {
		res, err := s.resources.GetResource(id)
		if err != nil {
			s.logger.Warn("eligible resource not found", "operation", op.ExternalID, "resource", id)
			continue
		}
		calculate = append(calculate, res)
	}
	return calculate, nil
}

// CalcActJIT computes the JIT window of one activity on one resource as the
// earliest start over every successor need
func (s *Scheduler) CalcActJIT(op *entities.Operation, act *entities.Activity, res *entities.Resource, needs []successorNeed) (entities.BufferInfo, error) {
	rc, err := s.calculator.RequiredCapacity(op, act, res, act.RequiredFinishQty)
	if err != nil {
		return entities.BufferInfo{}, err
	}
	// clean-before is never part of the JIT window
	rc = rc.Without(entities.CleanBefore)

	info, err := s.calculator.ProductionInfo(op, act, res)
	if err != nil {
		return entities.BufferInfo{}, err
	}

	result := entities.BufferInfo{Calculated: true, RequiredCapacity: rc}
	var need, dbrNeed, start, buffered entities.OptionalTime
	for _, n := range needs {
		transfer := s.transferSpan(op, res, n.assoc)
		narrowed := NarrowForOverlap(rc, info, act.RequiredFinishQty, n.assoc)

		transferNeed := n.need.Add(-transfer)
		dbrTransferNeed := res.GetStartOfBufferFromEndDate(n.dbrNeed.Add(-transfer))

		need = need.Min(n.need)
		dbrNeed = dbrNeed.Min(n.dbrNeed)
		start = start.Min(s.JITBackcalculate(res, narrowed, transferNeed))
		buffered = buffered.Min(s.JITBackcalculate(res, narrowed, dbrTransferNeed))
	}
	result.NeedDate = need.Value()
	result.DbrNeedDate = dbrNeed.Value()
	result.JITStart = start.Value()
	result.BufferedJITStart = buffered.Value()
	return result, nil
}

// transferSpan is the time between the end of the narrowed capacity and the
// successor need: the longest of the resource transfer, connector transit,
// material post-processing and explicit association transfer spans
func (s *Scheduler) transferSpan(op *entities.Operation, res *entities.Resource, assoc *entities.Association) time.Duration {
	span := res.TransferSpan
	if s.warehouses != nil {
		for _, w := range s.warehouses.GetAllWarehouses() {
			for _, c := range w.ConnectorsFor(res.ID) {
				span = max(span, c.TransitSpan)
			}
		}
	}
	if s.items != nil {
		if item, err := s.items.GetItem(op.Product); err == nil {
			span = max(span, item.MaterialPostProcessingSpan.Value())
		}
	}
	if assoc != nil && assoc.Overlap != entities.TransferSpan && assoc.Overlap != entities.TransferSpanAfterSetup {
		span = max(span, assoc.TransferSpan)
	}
	return span
}

// NarrowForOverlap reduces rc to the part that must finish before the successor
// may start. A nil association narrows to the end of run.
func NarrowForOverlap(rc entities.RequiredCapacity, info entities.ProductionInfo, qty decimal.Decimal, assoc *entities.Association) entities.RequiredCapacity {
	if assoc == nil {
		return rc.Through(entities.EndOfRun)
	}
	base := rc.Through(assoc.TransferStart)
	processing := base.Span(entities.Processing).Value()
	limit := func(d time.Duration) entities.Span {
		return entities.SpanOf(min(d, processing))
	}

	switch assoc.Overlap {
	case entities.AtFirstTransfer, entities.TransferQuantity:
		transferQty := assoc.TransferQty
		if !transferQty.IsPositive() {
			transferQty = info.QtyPerCycle
		}
		narrowed := base.With(entities.Processing, limit(info.ProcessingSpan(decimal.Min(transferQty, qty))))
		if assoc.Overlap == entities.AtFirstTransfer {
			return narrowed.Without(entities.PostProcessing).Without(entities.Storage)
		}
		return narrowed.Without(entities.Storage)
	case entities.TransferSpan:
		return entities.RequiredCapacity{}.With(entities.Processing, entities.SpanOf(assoc.TransferSpan))
	case entities.TransferSpanAfterSetup:
		return entities.RequiredCapacity{}.
			With(entities.Setup, base.Span(entities.Setup)).
			With(entities.Processing, entities.SpanOf(assoc.TransferSpan))
	case entities.PercentComplete:
		pct := decimal.Max(decimal.Zero, decimal.Min(assoc.PercentComplete, hundred))
		partial := time.Duration(decimal.NewFromInt(int64(processing)).Mul(pct).Div(hundred).Ceil().IntPart())
		return base.With(entities.Processing, limit(partial)).Without(entities.PostProcessing).Without(entities.Storage)
	default:
		return base
	}
}

// JITBackcalculate returns the latest start that completes rc by from. Without
// a calendar, or before the calendar's first online interval, capacity is
// treated as unconstrained. A partial reverse search falls back to flat
// subtraction for the shortfall.
func (s *Scheduler) JITBackcalculate(res *entities.Resource, rc entities.RequiredCapacity, from time.Time) time.Time {
	total := rc.TotalRequiredCapacity()
	if res == nil || res.Calendar == nil {
		return from.Add(-total)
	}
	first := res.Calendar.FirstOnlineStart()
	if !first.IsSet() || !from.After(first.Value()) {
		return from.Add(-total)
	}
	found := res.Calendar.FindCapacity(from, total, entities.Reverse, entities.UsageRun)
	if found.Success {
		return found.Start
	}
	return found.Start.Add(-(total - found.AchievedCapacity))
}
