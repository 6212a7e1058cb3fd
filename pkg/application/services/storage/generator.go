package storage

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
)

// GenerationResult holds every plan of one generation pass
type GenerationResult struct {
	Plans []*StoragePlan
	// RetryAreas were rejected for now but may accept the supply later
	RetryAreas  []string
	UsableAreas []string
	MinRetry    entities.OptionalTime
	Evaluations []AreaEvaluation
}

func (r *GenerationResult) record(eval AreaEvaluation) {
	r.Evaluations = append(r.Evaluations, eval)
	switch {
	case eval.Reason == Accepted:
		r.UsableAreas = append(r.UsableAreas, eval.Area.ID)
	case eval.Retry.IsSet():
		r.RetryAreas = append(r.RetryAreas, eval.Area.ID)
		r.MinRetry = r.MinRetry.Min(eval.Retry.Value())
	case eval.Reason == RequiresEmpty || eval.Reason == RequiresSingleItemStorage || eval.Reason == CleanoutDoesNotFit:
		// may clear at a calendar transition
		r.RetryAreas = append(r.RetryAreas, eval.Area.ID)
	}
}

// PlanGenerator enumerates the ways a supply could be placed into storage.
// Generation never mutates warehouse state.
type PlanGenerator struct {
	warehouses repositories.WarehouseRepository
	resources  repositories.ResourceRepository
	disposal   entities.DisposalPolicy
	logger     *slog.Logger
}

// NewPlanGenerator creates a generator; disposal may be nil to disable disposal
func NewPlanGenerator(
	warehouses repositories.WarehouseRepository,
	resources repositories.ResourceRepository,
	disposal entities.DisposalPolicy,
	logger *slog.Logger,
) *PlanGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanGenerator{
		warehouses: warehouses,
		resources:  resources,
		disposal:   disposal,
		logger:     logger,
	}
}

// generationPass is the per-call scratch state
type generationPass struct {
	supply  *entities.SupplyProfile
	act     *entities.Activity
	info    SchedulableInfo
	rng     entities.TimeRange
	claimed map[string]string
	result  GenerationResult
}

// GenerateStoragePlans builds one plan per connector serving the primary
// resource, or a single connector-less plan over every area when none do
func (g *PlanGenerator) GenerateStoragePlans(supply *entities.SupplyProfile, primary *entities.Resource, act *entities.Activity, info SchedulableInfo) GenerationResult {
	pass := &generationPass{
		supply:  supply,
		act:     act,
		info:    info,
		rng:     supply.Range(),
		claimed: make(map[string]string),
	}

	var connectors []*entities.StorageAreaConnector
	if primary != nil {
		for _, w := range g.warehouses.GetAllWarehouses() {
			connectors = append(connectors, w.ConnectorsFor(primary.ID)...)
		}
	}

	if len(connectors) == 0 {
		pass.result.Plans = append(pass.result.Plans, g.planFor(pass, nil, g.candidateAreas(supply)))
		return pass.result
	}

	for _, c := range connectors {
		pass.result.Plans = append(pass.result.Plans, g.connectorPlan(pass, c))
	}
	return pass.result
}

func (g *PlanGenerator) connectorPlan(pass *generationPass, c *entities.StorageAreaConnector) *StoragePlan {
	if c.Flow != nil {
		if ok, retry := c.Flow.VerifyAllocationRange(pass.rng, entities.InFlow); !ok {
			g.logger.Debug("connector flow constrained", "connector", c.ID, "retry", retry)
			pass.result.MinRetry = pass.result.MinRetry.Min(retry)
			return infeasiblePlan(c, pass.rng, entities.TimeOf(retry))
		}
	}

	var areas []*entities.StorageArea
	for _, id := range c.StorageAreas {
		if pass.supply.RequiredStorageArea != "" && id != pass.supply.RequiredStorageArea {
			continue
		}
		area, err := g.warehouses.GetStorageArea(id)
		if err != nil {
			g.logger.Warn("connector references missing storage area", "connector", c.ID, "area", id)
			continue
		}
		areas = append(areas, area)
	}
	return g.planFor(pass, c, areas)
}

// planFor evaluates areas and combines the accepted ones. With none accepted
// the placeholder carries the earliest area retry.
func (g *PlanGenerator) planFor(pass *generationPass, c *entities.StorageAreaConnector, areas []*entities.StorageArea) *StoragePlan {
	var entries []entities.StorageAvailability
	var retry entities.OptionalTime
	for _, area := range areas {
		eval := g.evaluate(pass, area, c)
		pass.result.record(eval)
		if eval.Reason == Accepted {
			entries = append(entries, eval.Availability)
		} else if eval.Retry.IsSet() {
			retry = retry.Min(eval.Retry.Value())
		}
	}
	if len(entries) == 0 {
		return infeasiblePlan(c, pass.rng, retry)
	}
	return newStoragePlan(c, pass.rng, entries, g.disposal)
}

func (g *PlanGenerator) candidateAreas(supply *entities.SupplyProfile) []*entities.StorageArea {
	if supply.RequiredStorageArea != "" {
		area, err := g.warehouses.GetStorageArea(supply.RequiredStorageArea)
		if err != nil {
			return nil
		}
		return []*entities.StorageArea{area}
	}
	var areas []*entities.StorageArea
	for _, w := range g.warehouses.GetAllWarehouses() {
		areas = append(areas, w.StorageAreas()...)
	}
	return areas
}

// CalcStorageAreaAvailability evaluates a single area for the supply outside
// of a generation pass, so no connector claims apply
func (g *PlanGenerator) CalcStorageAreaAvailability(supply *entities.SupplyProfile, area *entities.StorageArea, c *entities.StorageAreaConnector, act *entities.Activity, info SchedulableInfo) AreaEvaluation {
	pass := &generationPass{
		supply:  supply,
		act:     act,
		info:    info,
		rng:     supply.Range(),
		claimed: make(map[string]string),
	}
	return g.evaluate(pass, area, c)
}

// evaluate applies the area rules in order: item storable, area in-flow,
// connector claim, empty requirement, single-item requirement, cleanout fit,
// drain out-flow and finally usable capacity
func (g *PlanGenerator) evaluate(pass *generationPass, area *entities.StorageArea, c *entities.StorageAreaConnector) AreaEvaluation {
	eval := AreaEvaluation{Area: area}
	supply, rng := pass.supply, pass.rng

	storage, ok := area.ItemStorage(supply.PartNumber)
	if !ok {
		eval.Reason = CannotStoreItem
		return eval
	}

	if area.InFlow != nil {
		if ok, retry := area.InFlow.VerifyAllocationRange(rng, entities.InFlow); !ok {
			eval.Reason = FlowConstrained
			eval.Retry = entities.TimeOf(retry)
			return eval
		}
	}

	connectorID := ""
	if c != nil {
		connectorID = c.ID
	}
	if owner, claimed := pass.claimed[area.ID]; claimed && owner != connectorID {
		eval.Reason = ClaimedByOtherConnector
		return eval
	}
	pass.claimed[area.ID] = connectorID

	requiresDrain := false
	if area.RequiresEmpty && !area.IsEmpty() && !continuesResidentMaterial(area, supply, pass.act) {
		drainable, retry := drainableBy(area.ResidentLots(), rng.Start)
		if !drainable {
			eval.Reason = RequiresEmpty
			eval.Retry = retry
			return eval
		}
		requiresDrain = true
	}

	if area.SingleItemStorage {
		var foreign []entities.StorageLot
		for _, lot := range area.ResidentLots() {
			if lot.PartNumber != supply.PartNumber {
				foreign = append(foreign, lot)
			}
		}
		if len(foreign) > 0 {
			drainable, retry := drainableBy(foreign, rng.Start)
			if !drainable {
				eval.Reason = RequiresSingleItemStorage
				eval.Retry = retry
				return eval
			}
			requiresDrain = true
		}
	}

	avail := storage.Availability(rng.Start, supply.RemainingQty(), g.disposal)
	avail.Area = area
	avail.Connector = c

	if from, span, owed := g.cleanoutOwed(area, supply.PartNumber); owed {
		cleanout, retry, fits := g.fitCleanout(area, span, rng.Start, pass.info.Clock)
		if !fits {
			eval.Reason = CleanoutDoesNotFit
			eval.Retry = retry
			return eval
		}
		avail.RequiresCleanout = true
		avail.CleanoutFrom = from
		avail.CleanoutRange = cleanout
	}

	if requiresDrain {
		// same-item lots that cannot be withdrawn by the start still occupy room
		avail.RequiresDrain = true
		avail.QtyAvailable = decimal.Zero
	}

	if requiresDrain || avail.DrainQty.IsPositive() {
		if ok, retry := drainFlowAvailable(area, rng); !ok {
			if requiresDrain {
				eval.Reason = FlowConstrained
				eval.Retry = retry
				return eval
			}
			avail.QtyAvailableIfDrained = avail.QtyAvailable
			avail.DrainQty = decimal.Zero
		}
	}

	if !avail.QtyAvailableIfDrained.IsPositive() {
		eval.Reason = NoCapacity
		eval.Retry = nextDrainable(storage.Lots(), rng.Start)
		return eval
	}

	eval.Reason = Accepted
	eval.Availability = avail
	return eval
}

// drainFlowAvailable checks the out-flow of withdrawing resident material over
// rng on every constraint the withdrawal is recorded on. A counter-flow
// in-flow constraint also carries the incoming transfer, so both are verified
// together. When several refuse, the retry is the latest of their ticks.
func drainFlowAvailable(area *entities.StorageArea, rng entities.TimeRange) (bool, entities.OptionalTime) {
	drain := entities.FlowUsage{Range: rng, Direction: entities.OutFlow}

	ok, noRetry := true, false
	var retry time.Time
	for _, flow := range drainFlows(area) {
		usages := []entities.FlowUsage{drain}
		if flow == area.InFlow {
			usages = append(usages, entities.FlowUsage{Range: rng, Direction: entities.InFlow})
		}
		fits, at := flow.VerifyUsages(usages...)
		if fits {
			continue
		}
		ok = false
		if at.IsZero() {
			noRetry = true
		} else if at.After(retry) {
			retry = at
		}
	}
	if ok || noRetry {
		return ok, entities.OptionalTime{}
	}
	return false, entities.TimeOf(retry)
}

// drainFlows lists the constraints a withdrawal from area is recorded on
func drainFlows(area *entities.StorageArea) []*entities.FlowRangeConstraint {
	var flows []*entities.FlowRangeConstraint
	if area.OutFlow != nil {
		flows = append(flows, area.OutFlow)
	}
	if area.InFlow != nil && area.InFlow.Mode == entities.CounterFlow {
		flows = append(flows, area.InFlow)
	}
	return flows
}

// continuesResidentMaterial reports whether the resident material is the same
// product continuing (same order) or a split of the same production
func continuesResidentMaterial(area *entities.StorageArea, supply *entities.SupplyProfile, act *entities.Activity) bool {
	for _, lot := range area.ResidentLots() {
		if lot.PartNumber != supply.PartNumber {
			return false
		}
		sameOrder := lot.SourceOrder == supply.SourceOrder
		split := lot.SourceOperation == supply.SourceOperation || (act != nil && act.PartialProduction)
		if !sameOrder && !split {
			return false
		}
	}
	return true
}

// drainableBy reports whether every lot may be withdrawn by t. When not, the
// retry is the latest drain tick, unset if any lot has none.
func drainableBy(lots []entities.StorageLot, t time.Time) (bool, entities.OptionalTime) {
	all := true
	var latest time.Time
	for _, lot := range lots {
		if !lot.DrainableAt.IsSet() {
			return false, entities.OptionalTime{}
		}
		if lot.DrainableAt.Value().After(latest) {
			latest = lot.DrainableAt.Value()
		}
		if !lot.DrainableBy(t) {
			all = false
		}
	}
	if all {
		return true, entities.OptionalTime{}
	}
	return false, entities.TimeOf(latest)
}

// nextDrainable is the earliest drain tick after t among lots
func nextDrainable(lots []entities.StorageLot, t time.Time) entities.OptionalTime {
	var next entities.OptionalTime
	for _, lot := range lots {
		if lot.DrainableAt.IsSet() && lot.DrainableAt.Value().After(t) {
			next = next.Min(lot.DrainableAt.Value())
		}
	}
	return next
}

// cleanoutOwed looks the changeover up on the area's bound resource
func (g *PlanGenerator) cleanoutOwed(area *entities.StorageArea, to entities.PartNumber) (entities.PartNumber, time.Duration, bool) {
	if area.Resource == "" || area.LastStoredItem == "" || area.LastStoredItem == to {
		return "", 0, false
	}
	res, err := g.resources.GetResource(area.Resource)
	if err != nil {
		g.logger.Warn("storage area bound to unknown resource", "area", area.ID, "resource", area.Resource)
		return "", 0, false
	}
	span, owed := res.CleanoutSpan(area.LastStoredItem, to)
	return area.LastStoredItem, span, owed
}

// fitCleanout places span immediately before start on the bound resource. It
// must not begin before the clock; otherwise the retry is when a cleanout
// started now would finish.
func (g *PlanGenerator) fitCleanout(area *entities.StorageArea, span time.Duration, start, clock time.Time) (entities.TimeRange, entities.OptionalTime, bool) {
	res, err := g.resources.GetResource(area.Resource)
	if err != nil || res.Calendar == nil {
		begin := start.Add(-span)
		if begin.Before(clock) {
			return entities.TimeRange{}, entities.TimeOf(clock.Add(span)), false
		}
		return entities.TimeRange{Start: begin, End: start}, entities.OptionalTime{}, true
	}

	reverse := res.Calendar.FindCapacity(start, span, entities.Reverse, entities.UsageClean)
	if reverse.Success && !reverse.Start.Before(clock) {
		return entities.TimeRange{Start: reverse.Start, End: reverse.Finish}, entities.OptionalTime{}, true
	}
	forward := res.Calendar.FindCapacity(clock, span, entities.Forward, entities.UsageClean)
	if forward.Success {
		return entities.TimeRange{}, entities.TimeOf(forward.Finish), false
	}
	return entities.TimeRange{}, entities.OptionalTime{}, false
}
