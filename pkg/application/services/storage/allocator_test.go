package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/services"
	"github.com/vsinha/aps/pkg/infrastructure/calendar"
	"github.com/vsinha/aps/pkg/infrastructure/events"
	testhelpers "github.com/vsinha/aps/pkg/infrastructure/testing"
)

var day = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func hour(h float64) time.Time { return day.Add(time.Duration(h * float64(time.Hour))) }

type fixture struct {
	s   *testhelpers.Scenario
	res *entities.Resource
	mo  *entities.ManufacturingOrder
	op  *entities.Operation
	act *entities.Activity
	w   *entities.Warehouse
}

// newFixture builds one PAINT order of qty on R1, which runs 10 per cycle
func newFixture(qty int64) *fixture {
	s := testhelpers.NewScenario()
	s.Item("PAINT")
	res := s.Resource("R1", nil)
	mo := s.Order("MO-1", "PAINT", hour(48), qty)
	op := s.Operation(mo, "FILL", entities.ProductionInfo{
		CycleSpan:   time.Hour,
		QtyPerCycle: testhelpers.Qty(10),
	}, "R1")
	return &fixture{s: s, res: res, mo: mo, op: op, act: s.Activity(op), w: s.Warehouse("W1")}
}

func (f *fixture) supply(qty int64, at ...time.Time) *entities.SupplyProfile {
	nodes := make([]entities.SupplyNode, 0, len(at))
	per := qty / int64(len(at))
	for i, t := range at {
		q := per
		if i == len(at)-1 {
			q = qty - per*int64(len(at)-1)
		}
		nodes = append(nodes, entities.SupplyNode{Date: t, Qty: testhelpers.Qty(q)})
	}
	return f.s.Supply(f.op, f.act, nodes...)
}

func (f *fixture) info(clock time.Time) SchedulableInfo {
	return SchedulableInfo{Clock: clock, Operation: f.op, Order: f.mo}
}

func (f *fixture) generator() *PlanGenerator {
	return NewPlanGenerator(f.s.Warehouses, f.s.Resources, services.ThresholdDisposalPolicy{}, nil)
}

func (f *fixture) allocator() *Allocator {
	return NewAllocator(f.generator(), nil, f.s.Events, nil)
}

func (f *fixture) allocate(t *testing.T, supply *entities.SupplyProfile, clock time.Time) AllocationResult {
	t.Helper()
	result, err := f.allocator().AllocateStorage(supply, f.res, f.act, f.info(clock), &entities.CycleAdjustmentProfile{})
	require.NoError(t, err)
	return result
}

func storedQty(commit Commit) map[string]int64 {
	result := make(map[string]int64)
	for _, l := range commit.Lots {
		result[l.Area] += l.Lot.Qty.IntPart()
	}
	return result
}

func TestAllocateStorage_ExactMatch(t *testing.T) {
	f := newFixture(100)
	area := f.s.Area(f.w, "A1")
	storage := f.s.ItemStorage(area, "PAINT", 100, 0)
	c := f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 1)

	result := f.allocate(t, f.supply(100, hour(10)), hour(0))

	require.True(t, result.Success)
	assert.Equal(t, PathExact, result.Path)
	assert.True(t, result.Plan.AvailableQty.Equal(testhelpers.Qty(100)))
	assert.True(t, storage.CurrentQty().Equal(testhelpers.Qty(100)))
	assert.Len(t, c.Flow.Usages(), 1)
	assert.Equal(t, []string{"A1"}, result.UsableItemStorage)
	assert.Equal(t, entities.PartNumber("PAINT"), area.LastStoredItem)

	allocated := f.s.Events.EventsOfType(events.StorageAllocatedEvent)
	require.Len(t, allocated, 1)
	data := allocated[0].Data().(events.StorageAllocated)
	assert.Equal(t, "Exact", data.Path)
	require.Len(t, data.Lots, 1)
	assert.Equal(t, "A1", data.Lots[0].Area)
}

func TestAllocateStorage_DefaultLargestAcrossAreas(t *testing.T) {
	f := newFixture(90)
	f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 60, 0)
	f.s.ItemStorage(f.s.Area(f.w, "A2"), "PAINT", 50, 0)
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1", "A2"}, 2, 0)

	result := f.allocate(t, f.supply(90, hour(10)), hour(0))

	require.True(t, result.Success)
	assert.Equal(t, PathDefaultLargest, result.Path)
	assert.True(t, result.Plan.AvailableQty.Equal(testhelpers.Qty(110)))
	assert.False(t, result.Plan.FullyAvailable)
	require.Len(t, result.Commit.Lots, 2)
	assert.Equal(t, "A1", result.Commit.Lots[0].Area)
	assert.Equal(t, map[string]int64{"A1": 60, "A2": 30}, storedQty(result.Commit))
}

func TestAllocateStorage_InflowLimitTruncatesPlan(t *testing.T) {
	f := newFixture(90)
	f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 60, 0)
	f.s.ItemStorage(f.s.Area(f.w, "A2"), "PAINT", 50, 0)
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A2", "A1"}, 1, 0)

	result := f.allocate(t, f.supply(90, hour(10)), hour(0))

	assert.False(t, result.Success)
	assert.Equal(t, PathInfeasible, result.Path)
	assert.True(t, result.RetryAtNextOnline)
}

func TestAllocateStorage_SingleItemStorageNotDrainable(t *testing.T) {
	f := newFixture(50)
	area := f.s.Area(f.w, "A1")
	area.SingleItemStorage = true
	other := f.s.ItemStorage(area, "RESIN", 100, 0)
	f.s.InitialLot(other, 10, hour(0), entities.TimeOf(hour(20)))
	paint := f.s.ItemStorage(area, "PAINT", 100, 0)
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

	supply := f.supply(50, hour(10))
	eval := f.generator().CalcStorageAreaAvailability(supply, area, nil, f.act, f.info(hour(0)))
	assert.Equal(t, RequiresSingleItemStorage, eval.Reason)
	assert.Equal(t, entities.TimeOf(hour(20)), eval.Retry)

	result := f.allocate(t, supply, hour(0))

	assert.False(t, result.Success)
	assert.Equal(t, entities.TimeOf(hour(20)), result.RetryDate)
	assert.False(t, result.RetryAtNextOnline)
	assert.Equal(t, []string{"A1"}, result.RetryStorageAreas)
	assert.True(t, paint.CurrentQty().IsZero())
	assert.True(t, supply.AllocatedQty().IsZero())

	retries := f.s.Events.EventsOfType(events.StorageRetryEvent)
	require.Len(t, retries, 1)
	assert.Equal(t, hour(20), retries[0].Data().(events.StorageRetry).RetryDate)
}

func TestAllocateStorage_SingleItemStorageDrainable(t *testing.T) {
	f := newFixture(50)
	area := f.s.Area(f.w, "A1")
	area.SingleItemStorage = true
	other := f.s.ItemStorage(area, "RESIN", 100, 0)
	f.s.InitialLot(other, 10, hour(0), entities.TimeOf(hour(5)))
	paint := f.s.ItemStorage(area, "PAINT", 50, 0)
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

	result := f.allocate(t, f.supply(50, hour(10)), hour(0))

	require.True(t, result.Success)
	assert.Equal(t, PathDrainedExact, result.Path)
	assert.True(t, other.CurrentQty().IsZero())
	assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(50)))
	require.Len(t, result.Commit.Drained, 1)
	assert.Equal(t, "A1", result.Commit.Drained[0].Area)
	assert.Len(t, f.s.Events.EventsOfType(events.StorageDrainedEvent), 1)
}

func TestAllocateStorage_RequiresEmpty(t *testing.T) {
	t.Run("drains foreign material", func(t *testing.T) {
		f := newFixture(80)
		area := f.s.Area(f.w, "A1")
		area.RequiresEmpty = true
		other := f.s.ItemStorage(area, "RESIN", 100, 0)
		f.s.InitialLot(other, 10, hour(0), entities.TimeOf(hour(5)))
		f.s.ItemStorage(area, "PAINT", 80, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

		result := f.allocate(t, f.supply(80, hour(10)), hour(0))

		require.True(t, result.Success)
		assert.Equal(t, PathDrainedExact, result.Path)
		assert.True(t, result.Plan.AvailableQty.IsZero())
		assert.True(t, other.CurrentQty().IsZero())
	})

	t.Run("rejects undrainable material", func(t *testing.T) {
		f := newFixture(80)
		area := f.s.Area(f.w, "A1")
		area.RequiresEmpty = true
		other := f.s.ItemStorage(area, "RESIN", 100, 0)
		f.s.InitialLot(other, 10, hour(0), entities.OptionalTime{})
		f.s.ItemStorage(area, "PAINT", 80, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

		result := f.allocate(t, f.supply(80, hour(10)), hour(0))

		assert.False(t, result.Success)
		assert.True(t, result.RetryAtNextOnline)
		assert.Equal(t, []string{"A1"}, result.RetryStorageAreas)
		assert.True(t, other.CurrentQty().Equal(testhelpers.Qty(10)))
	})

	t.Run("same order continues", func(t *testing.T) {
		f := newFixture(90)
		area := f.s.Area(f.w, "A1")
		area.RequiresEmpty = true
		paint := f.s.ItemStorage(area, "PAINT", 100, 0)
		require.NoError(t, paint.AddLot(entities.StorageLot{
			DemandID:    uuid.New(),
			PartNumber:  "PAINT",
			Qty:         testhelpers.Qty(10),
			StoredAt:    hour(0),
			SourceOrder: f.mo.ID,
		}))
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

		result := f.allocate(t, f.supply(90, hour(10)), hour(0))

		require.True(t, result.Success)
		assert.Equal(t, PathExact, result.Path)
		assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(100)))
	})
}

func TestAllocateStorage_DrainsToMakeRoom(t *testing.T) {
	f := newFixture(100)
	paint := f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 100, 0)
	f.s.InitialLot(paint, 40, hour(0), entities.TimeOf(hour(5)))
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

	result := f.allocate(t, f.supply(100, hour(10)), hour(0))

	require.True(t, result.Success)
	assert.Equal(t, PathDrainedExact, result.Path)
	require.Len(t, result.Commit.Drained, 1)
	assert.True(t, result.Commit.Drained[0].Qty.Equal(testhelpers.Qty(40)))
	assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(100)))
}

func TestAllocateStorage_DisposesSmallLots(t *testing.T) {
	f := newFixture(100)
	paint := f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 100, 20)
	f.s.InitialLot(paint, 15, hour(0), entities.OptionalTime{})
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

	result := f.allocate(t, f.supply(100, hour(10)), hour(0))

	require.True(t, result.Success)
	assert.Equal(t, PathExact, result.Path)
	require.Len(t, result.Commit.Disposed, 1)
	assert.True(t, result.Commit.Disposed[0].Qty.Equal(testhelpers.Qty(15)))
	assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(100)))
	assert.Len(t, f.s.Events.EventsOfType(events.StorageDisposedEvent), 1)
}

func TestAllocateStorage_Unconstrained(t *testing.T) {
	f := newFixture(500)
	paint := f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 0, 0)
	f.s.ItemStorage(f.s.Area(f.w, "A2"), "PAINT", 10, 0)
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1", "A2"}, 2, 0)

	result := f.allocate(t, f.supply(500, hour(10), hour(12)), hour(0))

	require.True(t, result.Success)
	assert.Equal(t, PathUnconstrained, result.Path)
	assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(500)))
}

func TestAllocateStorage_Resize(t *testing.T) {
	t.Run("down to whole cycles", func(t *testing.T) {
		f := newFixture(100)
		f.mo.ResizeForStorage = true
		f.op.Production.QtyPerCycle = testhelpers.Qty(25)
		f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 60, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

		supply := f.supply(100, hour(10))
		adjustments := &entities.CycleAdjustmentProfile{}
		result, err := f.allocator().AllocateStorage(supply, f.res, f.act, f.info(hour(0)), adjustments)
		require.NoError(t, err)

		require.True(t, result.Success)
		assert.Equal(t, PathResized, result.Path)
		assert.True(t, result.MOQtyChanged)
		assert.True(t, supply.TotalQty().Equal(testhelpers.Qty(50)))
		assert.True(t, f.mo.RequiredQty.Equal(testhelpers.Qty(50)))
		assert.True(t, f.act.RequiredFinishQty.Equal(testhelpers.Qty(50)))
		require.Len(t, adjustments.Adjustments, 1)
		assert.True(t, adjustments.Adjustments[0].OldQty.Equal(testhelpers.Qty(100)))
		assert.True(t, adjustments.Adjustments[0].NewQty.Equal(testhelpers.Qty(50)))
		assert.Len(t, f.s.Events.EventsOfType(events.StorageResizedEvent), 1)
	})

	t.Run("below batch minimum fails without changes", func(t *testing.T) {
		f := newFixture(100)
		f.mo.ResizeForStorage = true
		f.op.Production.QtyPerCycle = testhelpers.Qty(25)
		f.res.MinQty = testhelpers.Qty(55)
		paint := f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 60, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

		supply := f.supply(100, hour(10))
		result := f.allocate(t, supply, hour(0))

		assert.False(t, result.Success)
		assert.False(t, result.MOQtyChanged)
		assert.True(t, supply.TotalQty().Equal(testhelpers.Qty(100)))
		assert.True(t, f.mo.RequiredQty.Equal(testhelpers.Qty(100)))
		assert.True(t, paint.CurrentQty().IsZero())
	})

	t.Run("up to plan capped by batch maximum", func(t *testing.T) {
		f := newFixture(90)
		f.mo.ResizeForStorage = true
		f.act.AcceptsResize = true
		f.res.MaxQty = testhelpers.Qty(100)
		f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 60, 0)
		f.s.ItemStorage(f.s.Area(f.w, "A2"), "PAINT", 50, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1", "A2"}, 2, 0)

		supply := f.supply(90, hour(10))
		result := f.allocate(t, supply, hour(0))

		require.True(t, result.Success)
		assert.Equal(t, PathResized, result.Path)
		assert.True(t, supply.TotalQty().Equal(testhelpers.Qty(100)))
		assert.Equal(t, map[string]int64{"A1": 60, "A2": 40}, storedQty(result.Commit))
		assert.True(t, f.mo.RequiredQty.Equal(testhelpers.Qty(100)))
	})

	t.Run("activity refusing growth keeps its size", func(t *testing.T) {
		f := newFixture(90)
		f.mo.ResizeForStorage = true
		f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 60, 0)
		f.s.ItemStorage(f.s.Area(f.w, "A2"), "PAINT", 50, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1", "A2"}, 2, 0)

		supply := f.supply(90, hour(10))
		result := f.allocate(t, supply, hour(0))

		require.True(t, result.Success)
		assert.Equal(t, PathDefaultLargest, result.Path)
		assert.False(t, result.MOQtyChanged)
		assert.True(t, supply.TotalQty().Equal(testhelpers.Qty(90)))
	})
}

func TestAllocateStorage_Cleanout(t *testing.T) {
	setup := func(cal bool) (*fixture, *entities.StorageArea) {
		f := newFixture(100)
		var cip *entities.Resource
		if cal {
			cip = f.s.Resource("CIP", testhelpers.MustCalendar(calendarDay()))
		} else {
			cip = f.s.Resource("CIP", nil)
		}
		cip.ItemCleanouts = map[entities.CleanoutKey]time.Duration{
			{From: "RESIN", To: "PAINT"}: 2 * time.Hour,
		}
		area := f.s.Area(f.w, "A1")
		area.Resource = "CIP"
		area.SetInitialLastItem("RESIN")
		f.s.ItemStorage(area, "PAINT", 100, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)
		return f, area
	}

	t.Run("fits before storage start", func(t *testing.T) {
		f, area := setup(true)

		result := f.allocate(t, f.supply(100, hour(10)), hour(0))

		require.True(t, result.Success)
		require.Len(t, result.Commit.Cleanouts, 1)
		rec := result.Commit.Cleanouts[0]
		assert.Equal(t, entities.TimeRange{Start: hour(8), End: hour(10)}, rec.Range)
		assert.Equal(t, entities.PartNumber("RESIN"), rec.From)
		assert.Len(t, area.Cleanouts(), 1)
		assert.Len(t, f.s.Events.EventsOfType(events.StorageCleanoutScheduledEvent), 1)
	})

	t.Run("retries when a cleanout started now finishes", func(t *testing.T) {
		f, area := setup(true)

		result := f.allocate(t, f.supply(100, hour(10)), hour(9))

		assert.False(t, result.Success)
		assert.Equal(t, entities.TimeOf(hour(11)), result.RetryDate)
		assert.Empty(t, area.Cleanouts())
	})

	t.Run("without a calendar", func(t *testing.T) {
		f, _ := setup(false)

		result := f.allocate(t, f.supply(100, hour(10)), hour(9))

		assert.False(t, result.Success)
		assert.Equal(t, entities.TimeOf(hour(11)), result.RetryDate)
	})
}

func TestAllocateStorage_ConnectorFlow(t *testing.T) {
	f := newFixture(100)
	f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 0, 0)
	c := f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 1)

	first := f.allocate(t, f.supply(100, hour(10), hour(12)), hour(0))
	require.True(t, first.Success)

	second := f.allocate(t, f.supply(100, hour(11), hour(13)), hour(0))

	assert.False(t, second.Success)
	assert.Equal(t, entities.TimeOf(hour(12).Add(entities.TickResolution)), second.RetryDate)
	assert.Len(t, c.Flow.Usages(), 1)
	assert.Equal(t, 1, c.Flow.Concurrency(hour(11)))
}

func TestAllocateStorage_AreaInFlowRejects(t *testing.T) {
	f := newFixture(100)
	area := f.s.Area(f.w, "A1")
	inflow, err := entities.NewFlowRangeConstraint(1, entities.InFlowOnly)
	require.NoError(t, err)
	inflow.AllocateUsage(entities.TimeRange{Start: hour(9), End: hour(11)}, entities.InFlow)
	inflow.ScheduleUsage()
	area.InFlow = inflow
	f.s.ItemStorage(area, "PAINT", 100, 0)
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

	result := f.allocate(t, f.supply(100, hour(10)), hour(0))

	assert.False(t, result.Success)
	assert.Equal(t, entities.TimeOf(hour(11).Add(entities.TickResolution)), result.RetryDate)
	assert.Equal(t, []string{"A1"}, result.RetryStorageAreas)
	assert.Len(t, inflow.Usages(), 1)
}

func TestAllocateStorage_ZeroConnectors(t *testing.T) {
	setup := func() (*fixture, *entities.ItemStorage, *entities.ItemStorage) {
		f := newFixture(100)
		a1 := f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 40, 0)
		f.s.ItemStorage(f.s.Area(f.w, "A2"), "RESIN", 100, 0)
		w2 := f.s.Warehouse("W2")
		a3 := f.s.ItemStorage(f.s.Area(w2, "A3"), "PAINT", 60, 0)
		return f, a1, a3
	}

	t.Run("combines every area", func(t *testing.T) {
		f, a1, a3 := setup()

		result := f.allocate(t, f.supply(100, hour(10)), hour(0))

		require.True(t, result.Success)
		assert.Equal(t, PathExact, result.Path)
		assert.Nil(t, result.Plan.Connector)
		assert.True(t, a1.CurrentQty().Equal(testhelpers.Qty(40)))
		assert.True(t, a3.CurrentQty().Equal(testhelpers.Qty(60)))
	})

	t.Run("required storage area", func(t *testing.T) {
		f, a1, a3 := setup()
		supply := f.supply(60, hour(10))
		supply.RequiredStorageArea = "A3"

		result := f.allocate(t, supply, hour(0))

		require.True(t, result.Success)
		assert.True(t, a1.CurrentQty().IsZero())
		assert.True(t, a3.CurrentQty().Equal(testhelpers.Qty(60)))
	})
}

func TestGenerateStoragePlans_ConnectorClaims(t *testing.T) {
	f := newFixture(50)
	f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 100, 0)
	f.s.ItemStorage(f.s.Area(f.w, "A2"), "PAINT", 100, 0)
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1", "A2"}, 0, 0)
	f.s.Connector(f.w, "C2", []string{"R1"}, []string{"A2"}, 0, 0)

	gen := f.generator().GenerateStoragePlans(f.supply(50, hour(10)), f.res, f.act, f.info(hour(0)))

	require.Len(t, gen.Plans, 2)
	assert.True(t, gen.Plans[0].Feasible())
	assert.Len(t, gen.Plans[0].Entries, 2)
	assert.False(t, gen.Plans[1].Feasible())

	var reasons []RejectReason
	for _, eval := range gen.Evaluations {
		reasons = append(reasons, eval.Reason)
	}
	assert.Equal(t, []RejectReason{Accepted, Accepted, ClaimedByOtherConnector}, reasons)
}

func TestGenerateStoragePlans_CannotStoreItem(t *testing.T) {
	f := newFixture(50)
	area := f.s.Area(f.w, "A1")
	f.s.ItemStorage(area, "RESIN", 100, 0)

	eval := f.generator().CalcStorageAreaAvailability(f.supply(50, hour(10)), area, nil, f.act, f.info(hour(0)))

	assert.Equal(t, CannotStoreItem, eval.Reason)
	assert.False(t, eval.Retry.IsSet())
}

func TestAllocateStorage_NeverOvercommits(t *testing.T) {
	f := newFixture(30)
	paint := f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 100, 0)
	c := f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 2)

	var succeeded int
	for i := 0; i < 5; i++ {
		before := paint.CurrentQty()
		usages := len(c.Flow.Usages())

		result := f.allocate(t, f.supply(30, hour(float64(10*i))), hour(0))

		assert.True(t, paint.CurrentQty().LessThanOrEqual(paint.MaxQty))
		if result.Success {
			succeeded++
			continue
		}
		assert.True(t, paint.CurrentQty().Equal(before))
		assert.Len(t, c.Flow.Usages(), usages)
	}
	assert.Equal(t, 3, succeeded)
	assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(90)))
}

func TestAllocatePlan_InfeasiblePlanIsInvariant(t *testing.T) {
	f := newFixture(10)
	plan := infeasiblePlan(nil, entities.TimeRange{Start: hour(1), End: hour(1)}, entities.OptionalTime{})

	_, err := plan.AllocatePlan(f.supply(10, hour(1)), f.info(hour(0)), false)

	assert.ErrorIs(t, err, entities.ErrInvariant)
}

func TestPath_String(t *testing.T) {
	assert.Equal(t, "DrainedExact", PathDrainedExact.String())
	assert.Equal(t, "Unknown", Path(99).String())
	assert.Equal(t, "ClaimedByOtherConnector", ClaimedByOtherConnector.String())
}

func calendarDay() calendar.Interval {
	return calendar.Interval{Start: hour(0), End: hour(24)}
}

func TestAllocateStorage_UndrainableSameItemLotsKeepTheirRoom(t *testing.T) {
	f := newFixture(50)
	area := f.s.Area(f.w, "A1")
	area.SingleItemStorage = true
	resin := f.s.ItemStorage(area, "RESIN", 100, 0)
	f.s.InitialLot(resin, 10, hour(0), entities.TimeOf(hour(5)))
	paint := f.s.ItemStorage(area, "PAINT", 50, 0)
	f.s.InitialLot(paint, 30, hour(0), entities.OptionalTime{})
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

	supply := f.supply(50, hour(10))
	eval := f.generator().CalcStorageAreaAvailability(supply, area, nil, f.act, f.info(hour(0)))
	require.Equal(t, Accepted, eval.Reason)
	assert.True(t, eval.Availability.RequiresDrain)
	assert.True(t, eval.Availability.QtyAvailable.IsZero())
	assert.True(t, eval.Availability.QtyAvailableIfDrained.Equal(testhelpers.Qty(20)))

	result := f.allocate(t, supply, hour(0))

	assert.False(t, result.Success)
	assert.True(t, resin.CurrentQty().Equal(testhelpers.Qty(10)))
	assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(30)))
	assert.True(t, supply.AllocatedQty().IsZero())
	assert.Empty(t, f.s.Events.EventsOfType(events.StorageDrainedEvent))
}

func TestAllocatePlan_FailedCommitLeavesStorageUnchanged(t *testing.T) {
	f := newFixture(100)
	area := f.s.Area(f.w, "A1")
	area.SingleItemStorage = true
	area.LastStoredItem = "RESIN"
	outflow, err := entities.NewFlowRangeConstraint(1, entities.OutFlowOnly)
	require.NoError(t, err)
	area.OutFlow = outflow
	resin := f.s.ItemStorage(area, "RESIN", 100, 0)
	f.s.InitialLot(resin, 10, hour(0), entities.TimeOf(hour(5)))
	paint := f.s.ItemStorage(area, "PAINT", 100, 0)
	c := f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 1)

	supply := f.supply(100, hour(10))
	gen := f.generator().GenerateStoragePlans(supply, f.res, f.act, f.info(hour(0)))
	require.Len(t, gen.Plans, 1)
	plan := gen.Plans[0]
	require.True(t, plan.Feasible())

	// the plan goes stale: material arrives after it was generated
	require.NoError(t, paint.AddLot(entities.StorageLot{
		DemandID:   uuid.New(),
		PartNumber: "PAINT",
		Qty:        testhelpers.Qty(30),
		StoredAt:   hour(1),
	}))
	paintLots, resinLots := paint.Lots(), resin.Lots()

	commit, err := plan.AllocatePlan(supply, f.info(hour(0)), true)

	require.ErrorIs(t, err, entities.ErrInvariant)
	assert.Empty(t, commit.Lots)
	assert.Equal(t, paintLots, paint.Lots())
	assert.Equal(t, resinLots, resin.Lots())
	assert.Equal(t, entities.PartNumber("RESIN"), area.LastStoredItem)
	assert.True(t, supply.AllocatedQty().IsZero())
	assert.Empty(t, c.Flow.Usages())
	assert.Zero(t, c.Flow.Concurrency(hour(10)))
	assert.Empty(t, outflow.Usages())
	assert.Zero(t, outflow.Concurrency(hour(10)))
}

// changingPolicy allows disposal for its first n calls only
type changingPolicy struct {
	n int
}

func (p *changingPolicy) Disposable(*entities.ItemStorage, entities.StorageLot, time.Time) bool {
	p.n--
	return p.n >= 0
}

func TestAllocateStorage_FailedCommitRestoresResizedSupply(t *testing.T) {
	f := newFixture(100)
	f.mo.ResizeForStorage = true
	f.op.Production.QtyPerCycle = testhelpers.Qty(25)
	paint := f.s.ItemStorage(f.s.Area(f.w, "A1"), "PAINT", 60, 0)
	f.s.InitialLot(paint, 20, hour(0), entities.OptionalTime{})
	f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)

	// disposal is allowed while the plan is generated and refused at commit
	gen := NewPlanGenerator(f.s.Warehouses, f.s.Resources, &changingPolicy{n: 1}, nil)
	allocator := NewAllocator(gen, nil, f.s.Events, nil)

	supply := f.supply(100, hour(10))
	adjustments := &entities.CycleAdjustmentProfile{}
	result, err := allocator.AllocateStorage(supply, f.res, f.act, f.info(hour(0)), adjustments)

	require.ErrorIs(t, err, entities.ErrInvariant)
	assert.Contains(t, err.Error(), "failed to allocate storage plan")
	assert.False(t, result.Success)
	assert.True(t, supply.TotalQty().Equal(testhelpers.Qty(100)))
	assert.True(t, supply.AllocatedQty().IsZero())
	assert.True(t, f.mo.RequiredQty.Equal(testhelpers.Qty(100)))
	assert.Empty(t, adjustments.Adjustments)
	require.Len(t, paint.Lots(), 1)
	assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(20)))
	assert.Empty(t, f.s.Events.EventsOfType(events.StorageAllocatedEvent))
}

func TestAllocateStorage_DrainOutFlow(t *testing.T) {
	setup := func(t *testing.T) (*fixture, *entities.StorageArea, *entities.ItemStorage) {
		f := newFixture(80)
		area := f.s.Area(f.w, "A1")
		area.RequiresEmpty = true
		outflow, err := entities.NewFlowRangeConstraint(1, entities.OutFlowOnly)
		require.NoError(t, err)
		area.OutFlow = outflow
		other := f.s.ItemStorage(area, "RESIN", 100, 0)
		f.s.InitialLot(other, 10, hour(0), entities.TimeOf(hour(5)))
		f.s.ItemStorage(area, "PAINT", 80, 0)
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)
		return f, area, other
	}

	t.Run("records the withdrawal", func(t *testing.T) {
		f, area, other := setup(t)

		result := f.allocate(t, f.supply(80, hour(10)), hour(0))

		require.True(t, result.Success)
		assert.Equal(t, PathDrainedExact, result.Path)
		assert.True(t, other.CurrentQty().IsZero())
		usages := area.OutFlow.Usages()
		require.Len(t, usages, 1)
		assert.Equal(t, entities.OutFlow, usages[0].Direction)
		assert.Equal(t, hour(10), usages[0].Range.Start)
	})

	t.Run("busy out-flow retries after it frees", func(t *testing.T) {
		f, area, other := setup(t)
		area.OutFlow.AllocateUsage(entities.TimeRange{Start: hour(9), End: hour(11)}, entities.OutFlow)
		area.OutFlow.ScheduleUsage()

		supply := f.supply(80, hour(10))
		eval := f.generator().CalcStorageAreaAvailability(supply, area, nil, f.act, f.info(hour(0)))
		assert.Equal(t, FlowConstrained, eval.Reason)

		result := f.allocate(t, supply, hour(0))

		assert.False(t, result.Success)
		assert.Equal(t, entities.TimeOf(hour(11).Add(entities.TickResolution)), result.RetryDate)
		assert.Equal(t, []string{"A1"}, result.RetryStorageAreas)
		assert.True(t, other.CurrentQty().Equal(testhelpers.Qty(10)))
		assert.Len(t, area.OutFlow.Usages(), 1)
	})
}

func TestAllocateStorage_CounterFlowDrain(t *testing.T) {
	setup := func(t *testing.T, limit int) (*fixture, *entities.StorageArea, *entities.ItemStorage) {
		f := newFixture(100)
		area := f.s.Area(f.w, "A1")
		inflow, err := entities.NewFlowRangeConstraint(limit, entities.CounterFlow)
		require.NoError(t, err)
		area.InFlow = inflow
		paint := f.s.ItemStorage(area, "PAINT", 100, 0)
		f.s.InitialLot(paint, 40, hour(0), entities.TimeOf(hour(5)))
		f.s.Connector(f.w, "C1", []string{"R1"}, []string{"A1"}, 1, 0)
		return f, area, paint
	}

	t.Run("drain and fill share the limit", func(t *testing.T) {
		f, area, paint := setup(t, 2)

		result := f.allocate(t, f.supply(100, hour(10)), hour(0))

		require.True(t, result.Success)
		assert.Equal(t, PathDrainedExact, result.Path)
		assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(100)))
		assert.Equal(t, 1, area.InFlow.OutFlowCount(hour(10)))
		assert.Equal(t, 1, area.InFlow.InFlowCount(hour(10)))
	})

	t.Run("no room to drain while filling", func(t *testing.T) {
		f, area, paint := setup(t, 1)

		supply := f.supply(100, hour(10))
		eval := f.generator().CalcStorageAreaAvailability(supply, area, nil, f.act, f.info(hour(0)))
		require.Equal(t, Accepted, eval.Reason)
		assert.True(t, eval.Availability.DrainQty.IsZero())
		assert.True(t, eval.Availability.QtyAvailableIfDrained.Equal(testhelpers.Qty(60)))

		result := f.allocate(t, supply, hour(0))

		assert.False(t, result.Success)
		assert.True(t, paint.CurrentQty().Equal(testhelpers.Qty(40)))
		assert.Empty(t, area.InFlow.Usages())
	})
}
