package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/services"
	"github.com/vsinha/aps/pkg/infrastructure/events"
)

// Path is the selection branch that produced an allocation
type Path int

const (
	PathInfeasible Path = iota
	PathExact
	PathDrainedExact
	PathUnconstrained
	PathResized
	PathDefaultLargest
)

// String method for Path enum
func (p Path) String() string {
	switch p {
	case PathInfeasible:
		return "Infeasible"
	case PathExact:
		return "Exact"
	case PathDrainedExact:
		return "DrainedExact"
	case PathUnconstrained:
		return "Unconstrained"
	case PathResized:
		return "Resized"
	case PathDefaultLargest:
		return "DefaultLargest"
	default:
		return "Unknown"
	}
}

// AllocationResult is the outcome of one storage attempt. A failed attempt
// carries when to retry and changed nothing.
type AllocationResult struct {
	Success bool
	Path    Path
	Plan    *StoragePlan
	Commit  Commit

	RetryDate         entities.OptionalTime
	RetryAtNextOnline bool
	RetryStorageAreas []string
	UsableItemStorage []string

	// MOQtyChanged is set when a resize changed the order quantity
	MOQtyChanged bool
}

// Allocator selects and commits storage plans for supply profiles.
// Like the plan generator it assumes a single writer.
type Allocator struct {
	generator  *PlanGenerator
	calculator *services.CapacityCalculator
	eventStore events.EventStore
	logger     *slog.Logger
}

// NewAllocator creates an allocator; calculator, eventStore and logger may be nil
func NewAllocator(generator *PlanGenerator, calculator *services.CapacityCalculator, eventStore events.EventStore, logger *slog.Logger) *Allocator {
	if calculator == nil {
		calculator = services.NewCapacityCalculator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		generator:  generator,
		calculator: calculator,
		eventStore: eventStore,
		logger:     logger,
	}
}

// selection is a plan chosen for commit, with the resize to apply first
type selection struct {
	path   Path
	plan   *StoragePlan
	drain  bool
	resize decimal.Decimal // new supply total, zero = keep
}

// AllocateStorage places the remaining supply into storage. Plans are tried
// in strict priority: exact fit, exact fit after draining, unconstrained,
// resized to fit (when the order allows it) and finally the largest plan.
func (a *Allocator) AllocateStorage(
	supply *entities.SupplyProfile,
	primary *entities.Resource,
	act *entities.Activity,
	info SchedulableInfo,
	adjustments *entities.CycleAdjustmentProfile,
) (AllocationResult, error) {
	gen := a.generator.GenerateStoragePlans(supply, primary, act, info)
	result := AllocationResult{
		RetryStorageAreas: gen.RetryAreas,
		UsableItemStorage: gen.UsableAreas,
	}

	sel, ok, err := a.selectPlan(gen.Plans, supply, primary, act, info)
	if err != nil {
		return result, err
	}
	if !ok {
		return a.infeasible(result, gen, supply, act, info)
	}

	oldTotal := supply.TotalQty()
	if sel.resize.IsPositive() {
		if err := supply.Resize(sel.resize); err != nil {
			return result, fmt.Errorf("failed to resize supply of %s: %w", supply.PartNumber, err)
		}
	}

	commit, err := sel.plan.AllocatePlan(supply, info, sel.drain)
	if err != nil {
		err = fmt.Errorf("failed to allocate storage plan %s: %w", sel.plan.ID, err)
		if sel.resize.IsPositive() {
			if restoreErr := supply.Resize(oldTotal); restoreErr != nil {
				return result, errors.Join(err, fmt.Errorf("failed to restore supply of %s to %s: %w", supply.PartNumber, oldTotal, restoreErr))
			}
		}
		return result, err
	}

	result.Success = true
	result.Path = sel.path
	result.Plan = sel.plan
	result.Commit = commit

	if sel.resize.IsPositive() {
		a.applyResize(act, info, adjustments, oldTotal, sel.resize, sel.plan.Range)
		result.MOQtyChanged = true
	}

	a.logger.Debug("storage allocated",
		"item", supply.PartNumber,
		"path", sel.path,
		"plan", sel.plan.ID,
		"lots", len(commit.Lots))
	return result, a.publishCommit(supply, act, info, sel, commit, oldTotal)
}

func (a *Allocator) selectPlan(
	plans []*StoragePlan,
	supply *entities.SupplyProfile,
	primary *entities.Resource,
	act *entities.Activity,
	info SchedulableInfo,
) (selection, bool, error) {
	remaining := supply.RemainingQty()

	var feasible []*StoragePlan
	for _, p := range plans {
		if p.Feasible() {
			feasible = append(feasible, p)
		}
	}
	if len(feasible) == 0 {
		return selection{}, false, nil
	}

	for _, p := range feasible {
		if p.AvailableQty.Equal(remaining) {
			return selection{path: PathExact, plan: p}, true, nil
		}
	}
	for _, p := range feasible {
		if p.AvailableQtyIfDrained.Equal(remaining) {
			return selection{path: PathDrainedExact, plan: p, drain: true}, true, nil
		}
	}
	for _, p := range feasible {
		if p.FullyAvailable {
			return selection{path: PathUnconstrained, plan: p, drain: p.AvailableQty.LessThan(remaining)}, true, nil
		}
	}

	best := feasible[0]
	for _, p := range feasible[1:] {
		if p.AvailableQtyIfDrained.GreaterThan(best.AvailableQtyIfDrained) {
			best = p
		}
	}

	if info.Order != nil && info.Order.ResizeForStorage {
		return a.resizeSelection(best, supply, primary, act, info)
	}

	if best.AvailableQtyIfDrained.GreaterThanOrEqual(remaining) {
		return selection{path: PathDefaultLargest, plan: best, drain: best.AvailableQty.LessThan(remaining)}, true, nil
	}
	return selection{}, false, nil
}

// resizeSelection fits the batch to the best plan. Growing needs the activity
// to accept it; shrinking may not go below the batch minimum. Both round to
// whole cycles.
func (a *Allocator) resizeSelection(
	best *StoragePlan,
	supply *entities.SupplyProfile,
	primary *entities.Resource,
	act *entities.Activity,
	info SchedulableInfo,
) (selection, bool, error) {
	remaining := supply.RemainingQty()
	allocated := supply.AllocatedQty()
	available := best.AvailableQtyIfDrained

	var minQty, maxQty decimal.Decimal
	if primary != nil {
		minQty, maxQty = primary.BatchLimits(supply.PartNumber)
	}
	qpc := decimal.Zero
	if info.Operation != nil && act != nil {
		prod, err := a.calculator.ProductionInfo(info.Operation, act, primary)
		if err != nil {
			return selection{}, false, err
		}
		qpc = prod.QtyPerCycle
	}

	target := available
	if maxQty.IsPositive() {
		target = decimal.Min(target, maxQty.Sub(allocated))
	}
	target = wholeCycles(target, qpc)

	if available.GreaterThanOrEqual(remaining) {
		if act != nil && act.AcceptsResize && target.GreaterThan(remaining) {
			return selection{
				path:   PathResized,
				plan:   best,
				drain:  best.AvailableQty.LessThan(target),
				resize: allocated.Add(target),
			}, true, nil
		}
		return selection{path: PathDefaultLargest, plan: best, drain: best.AvailableQty.LessThan(remaining)}, true, nil
	}

	if !target.IsPositive() || allocated.Add(target).LessThan(minQty) {
		a.logger.Debug("resize below batch minimum",
			"item", supply.PartNumber,
			"available", available,
			"target", target,
			"min", minQty)
		return selection{}, false, nil
	}
	return selection{
		path:   PathResized,
		plan:   best,
		drain:  best.AvailableQty.LessThan(target),
		resize: allocated.Add(target),
	}, true, nil
}

// wholeCycles rounds qty down to a multiple of qpc; a non-positive qpc leaves it unchanged
func wholeCycles(qty, qpc decimal.Decimal) decimal.Decimal {
	if !qpc.IsPositive() {
		return qty
	}
	return qty.Div(qpc).Floor().Mul(qpc)
}

func (a *Allocator) applyResize(
	act *entities.Activity,
	info SchedulableInfo,
	adjustments *entities.CycleAdjustmentProfile,
	oldTotal, newTotal decimal.Decimal,
	rng entities.TimeRange,
) {
	delta := newTotal.Sub(oldTotal)
	if act != nil {
		act.RequiredFinishQty = act.RequiredFinishQty.Add(delta)
	}
	if info.Order != nil {
		info.Order.RequiredQty = info.Order.RequiredQty.Add(delta)
	}
	if adjustments != nil {
		adj := entities.CycleAdjustment{
			Date:   rng.Start,
			OldQty: oldTotal,
			NewQty: newTotal,
			Reason: "resized to fit storage",
		}
		if act != nil {
			adj.Activity = act.ID
		}
		adjustments.Add(adj)
	}
}

func (a *Allocator) infeasible(result AllocationResult, gen GenerationResult, supply *entities.SupplyProfile, act *entities.Activity, info SchedulableInfo) (AllocationResult, error) {
	result.Path = PathInfeasible
	result.RetryDate = gen.MinRetry
	result.RetryAtNextOnline = !gen.MinRetry.IsSet()

	a.logger.Debug("storage infeasible",
		"item", supply.PartNumber,
		"retry", gen.MinRetry.Value(),
		"retry_at_next_online", result.RetryAtNextOnline,
		"retry_areas", gen.RetryAreas)

	payload := events.StorageRetry{
		Item:              supply.PartNumber,
		RetryAtNextOnline: result.RetryAtNextOnline,
		RetryStorageAreas: gen.RetryAreas,
	}
	if act != nil {
		payload.Activity = act.ID
	}
	if gen.MinRetry.IsSet() {
		payload.RetryDate = gen.MinRetry.Value()
	}
	err := events.Publish(a.eventStore, events.NewEvent(events.StorageRetryEvent, streamFor(supply, info), payload, info.Clock))
	return result, err
}

func (a *Allocator) publishCommit(
	supply *entities.SupplyProfile,
	act *entities.Activity,
	info SchedulableInfo,
	sel selection,
	commit Commit,
	oldTotal decimal.Decimal,
) error {
	stream := streamFor(supply, info)
	at := sel.plan.Range.Start
	var actID entities.ActivityID
	if act != nil {
		actID = act.ID
	}

	var published []events.Event
	if sel.resize.IsPositive() {
		published = append(published, events.NewEvent(events.StorageResizedEvent, stream, events.StorageResized{
			Activity: actID,
			OldQty:   oldTotal,
			NewQty:   sel.resize,
		}, at))
	}
	for _, g := range groupByArea(commit.Disposed) {
		published = append(published, events.NewEvent(events.StorageDisposedEvent, stream,
			events.StorageDisposed{Area: g.area, Lots: g.lots}, at))
	}
	for _, g := range groupByArea(commit.Drained) {
		published = append(published, events.NewEvent(events.StorageDrainedEvent, stream,
			events.StorageDrained{Area: g.area, Lots: g.lots}, at))
	}
	for _, rec := range commit.Cleanouts {
		published = append(published, events.NewEvent(events.StorageCleanoutScheduledEvent, stream,
			events.StorageCleanoutScheduled{Cleanout: rec}, rec.Range.Start))
	}

	lots := make([]events.StoredLot, 0, len(commit.Lots))
	for _, l := range commit.Lots {
		lots = append(lots, events.StoredLot{DemandID: l.Lot.DemandID, Area: l.Area, Qty: l.Lot.Qty})
	}
	published = append(published, events.NewEvent(events.StorageAllocatedEvent, stream, events.StorageAllocated{
		PlanID:   sel.plan.ID,
		Activity: actID,
		Item:     supply.PartNumber,
		Path:     sel.path.String(),
		Lots:     lots,
	}, at))

	for _, e := range published {
		if err := events.Publish(a.eventStore, e); err != nil {
			return fmt.Errorf("failed to publish %s: %w", e.Type(), err)
		}
	}
	return nil
}

type areaLots struct {
	area string
	lots []entities.StorageLot
}

// groupByArea splits removed lots by area, in first-seen order
func groupByArea(lots []entities.StorageLot) []areaLots {
	var groups []areaLots
	index := make(map[string]int)
	for _, lot := range lots {
		i, ok := index[lot.Area]
		if !ok {
			i = len(groups)
			index[lot.Area] = i
			groups = append(groups, areaLots{area: lot.Area})
		}
		groups[i].lots = append(groups[i].lots, lot)
	}
	return groups
}

func streamFor(supply *entities.SupplyProfile, info SchedulableInfo) string {
	if info.Operation != nil {
		return info.Operation.ExternalID
	}
	return string(supply.PartNumber)
}
