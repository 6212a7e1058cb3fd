package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
)

// RejectReason explains why a storage area was left out of a plan
type RejectReason int

const (
	Accepted RejectReason = iota
	CannotStoreItem
	FlowConstrained
	ClaimedByOtherConnector
	RequiresEmpty
	RequiresSingleItemStorage
	CleanoutDoesNotFit
	NoCapacity
)

// String method for RejectReason enum
func (r RejectReason) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case CannotStoreItem:
		return "CannotStoreItem"
	case FlowConstrained:
		return "FlowConstrained"
	case ClaimedByOtherConnector:
		return "ClaimedByOtherConnector"
	case RequiresEmpty:
		return "RequiresEmpty"
	case RequiresSingleItemStorage:
		return "RequiresSingleItemStorage"
	case CleanoutDoesNotFit:
		return "CleanoutDoesNotFit"
	case NoCapacity:
		return "NoCapacity"
	default:
		return "Unknown"
	}
}

// SchedulableInfo is what the caller knows about the attempt being scheduled
type SchedulableInfo struct {
	Clock     time.Time
	Operation *entities.Operation
	Order     *entities.ManufacturingOrder
	// DrainableAt is when the stored output may be withdrawn by its consumer
	DrainableAt entities.OptionalTime
}

// AreaEvaluation is the outcome of checking one storage area
type AreaEvaluation struct {
	Area         *entities.StorageArea
	Reason       RejectReason
	Retry        entities.OptionalTime
	Availability entities.StorageAvailability
}

// StoragePlan is one candidate placement of a supply, possibly across several
// areas behind one connector. Entries are ordered largest first.
type StoragePlan struct {
	ID        uuid.UUID
	Connector *entities.StorageAreaConnector
	Range     entities.TimeRange
	Entries   []entities.StorageAvailability

	AvailableQty          decimal.Decimal
	AvailableQtyIfDrained decimal.Decimal
	FullyAvailable        bool
	RetryDate             entities.OptionalTime

	disposal entities.DisposalPolicy
}

// Feasible reports whether the plan has anywhere to put material
func (p *StoragePlan) Feasible() bool {
	return len(p.Entries) > 0
}

func newStoragePlan(connector *entities.StorageAreaConnector, rng entities.TimeRange, entries []entities.StorageAvailability, disposal entities.DisposalPolicy) *StoragePlan {
	sorted := make([]entities.StorageAvailability, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.QtyAvailableIfDrained.Equal(b.QtyAvailableIfDrained) {
			return a.QtyAvailableIfDrained.GreaterThan(b.QtyAvailableIfDrained)
		}
		return a.QtyAvailable.GreaterThan(b.QtyAvailable)
	})
	if connector != nil && connector.InflowLimit > 0 && len(sorted) > connector.InflowLimit {
		sorted = sorted[:connector.InflowLimit]
	}

	plan := &StoragePlan{
		ID:                    uuid.New(),
		Connector:             connector,
		Range:                 rng,
		Entries:               sorted,
		AvailableQty:          decimal.Zero,
		AvailableQtyIfDrained: decimal.Zero,
		disposal:              disposal,
	}
	for _, e := range sorted {
		plan.AvailableQty = plan.AvailableQty.Add(e.QtyAvailable)
		plan.AvailableQtyIfDrained = plan.AvailableQtyIfDrained.Add(e.QtyAvailableIfDrained)
		if e.Unconstrained {
			plan.FullyAvailable = true
		}
	}
	return plan
}

// infeasiblePlan is a placeholder recording when a rejected connector may be retried
func infeasiblePlan(connector *entities.StorageAreaConnector, rng entities.TimeRange, retry entities.OptionalTime) *StoragePlan {
	return &StoragePlan{
		ID:                    uuid.New(),
		Connector:             connector,
		Range:                 rng,
		AvailableQty:          decimal.Zero,
		AvailableQtyIfDrained: decimal.Zero,
		RetryDate:             retry,
	}
}

// Commit is everything a committed plan changed
type Commit struct {
	Lots      []StoredLot
	Disposed  []entities.StorageLot
	Drained   []entities.StorageLot
	Cleanouts []entities.CleanoutRecord
}

// StoredLot is a lot placed by a commit
type StoredLot struct {
	Area string
	Lot  entities.StorageLot
}

// AllocatePlan commits the plan: connector flow first, then per entry any
// disposal, cleanout, drainage and finally the stored lot, stopping once the
// supply is fully allocated. drain permits withdrawing drainable lots. A
// commit that fails leaves storage, flow usages and the supply as they were.
func (p *StoragePlan) AllocatePlan(supply *entities.SupplyProfile, info SchedulableInfo, drain bool) (Commit, error) {
	var commit Commit
	if !p.Feasible() {
		return commit, fmt.Errorf("%w: allocating an infeasible plan", entities.ErrInvariant)
	}

	touched := make([]*entities.FlowRangeConstraint, 0, len(p.Entries)+1)
	snapshots := make([]entities.AreaSnapshot, 0, len(p.Entries))
	seen := make(map[*entities.StorageArea]bool, len(p.Entries))
	for _, entry := range p.Entries {
		if !seen[entry.Area] {
			seen[entry.Area] = true
			snapshots = append(snapshots, entry.Area.Snapshot())
		}
	}
	allocatedBefore := supply.AllocatedQty()
	rollback := func(cause error) (Commit, error) {
		for _, c := range touched {
			c.DiscardPending()
		}
		for _, snap := range snapshots {
			snap.Restore()
		}
		if err := supply.Release(supply.AllocatedQty().Sub(allocatedBefore)); err != nil {
			return Commit{}, fmt.Errorf("%w (restoring supply: %v)", cause, err)
		}
		return Commit{}, cause
	}

	if p.Connector != nil && p.Connector.Flow != nil {
		p.Connector.Flow.AllocateUsage(p.Range, entities.InFlow)
		touched = append(touched, p.Connector.Flow)
	}

	at := p.Range.Start
	for _, entry := range p.Entries {
		if supply.IsFullyAllocated() {
			break
		}
		if entry.RequiresDrain && !drain {
			continue
		}
		area, storage := entry.Area, entry.ItemStorage

		if entry.RequiresDisposal && p.disposal != nil {
			disposed := storage.RemoveLots(func(lot entities.StorageLot) bool {
				return p.disposal.Disposable(storage, lot, at)
			})
			commit.Disposed = append(commit.Disposed, disposed...)
		}

		if entry.RequiresCleanout {
			rec := entities.CleanoutRecord{
				Area:     area.ID,
				Resource: area.Resource,
				From:     entry.CleanoutFrom,
				To:       supply.PartNumber,
				Range:    entry.CleanoutRange,
			}
			area.RecordCleanout(rec)
			commit.Cleanouts = append(commit.Cleanouts, rec)
		}

		var drained []entities.StorageLot
		if entry.RequiresDrain {
			for _, s := range area.ItemStorages() {
				drained = append(drained, s.RemoveLots(func(lot entities.StorageLot) bool {
					return lot.DrainableBy(at)
				})...)
			}
		} else if drain && entry.DrainQty.IsPositive() && !storage.Unconstrained() {
			drained = drainForRoom(storage, supply.RemainingQty(), at)
		}
		if len(drained) > 0 {
			for _, flow := range drainFlows(area) {
				flow.AllocateUsage(p.Range, entities.OutFlow)
				touched = append(touched, flow)
			}
			commit.Drained = append(commit.Drained, drained...)
		}

		qty := supply.RemainingQty()
		if !storage.Unconstrained() {
			qty = decimal.Min(qty, storage.MaxQty.Sub(storage.CurrentQty()))
		}
		if !qty.IsPositive() {
			continue
		}

		lot := entities.StorageLot{
			DemandID:        uuid.New(),
			PartNumber:      supply.PartNumber,
			Qty:             qty,
			StoredAt:        at,
			DrainableAt:     info.DrainableAt,
			SourceOrder:     supply.SourceOrder,
			SourceOperation: supply.SourceOperation,
			SourceActivity:  supply.SourceActivity,
		}
		if err := storage.AddLot(lot); err != nil {
			return rollback(err)
		}
		if err := supply.Allocate(qty); err != nil {
			return rollback(err)
		}
		if area.InFlow != nil {
			area.InFlow.AllocateUsage(p.Range, entities.InFlow)
			touched = append(touched, area.InFlow)
		}
		area.LastStoredItem = supply.PartNumber
		commit.Lots = append(commit.Lots, StoredLot{Area: area.ID, Lot: lot})
	}

	if !supply.IsFullyAllocated() {
		return rollback(fmt.Errorf("%w: plan %s left %s of %s unallocated",
			entities.ErrInvariant, p.ID, supply.RemainingQty(), supply.PartNumber))
	}
	for _, c := range touched {
		c.ScheduleUsage()
	}
	return commit, nil
}

// drainForRoom withdraws drainable lots, oldest first, until qty fits
func drainForRoom(storage *entities.ItemStorage, qty decimal.Decimal, at time.Time) []entities.StorageLot {
	free := storage.MaxQty.Sub(storage.CurrentQty())
	if free.GreaterThanOrEqual(qty) {
		return nil
	}
	needed := qty.Sub(free)
	selected := make(map[uuid.UUID]bool)
	for _, lot := range storage.Lots() {
		if !needed.IsPositive() {
			break
		}
		if lot.DrainableBy(at) {
			selected[lot.DemandID] = true
			needed = needed.Sub(lot.Qty)
		}
	}
	return storage.RemoveLots(func(lot entities.StorageLot) bool {
		return selected[lot.DemandID]
	})
}
