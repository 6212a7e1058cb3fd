package testing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/infrastructure/calendar"
	"github.com/vsinha/aps/pkg/infrastructure/events"
	"github.com/vsinha/aps/pkg/infrastructure/repositories/memory"
)

// Qty is a shorthand for whole decimal quantities in tests
func Qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// MustCalendar builds an interval calendar - panics on validation error
func MustCalendar(intervals ...calendar.Interval) *calendar.IntervalCalendar {
	cal, err := calendar.NewIntervalCalendar(intervals...)
	if err != nil {
		panic(err)
	}
	return cal
}

// Scenario wires the in-memory repositories used by service tests. Every
// builder panics on validation errors.
type Scenario struct {
	Items      *memory.ItemRepository
	Production *memory.ProductionRepository
	Resources  *memory.ResourceRepository
	Warehouses *memory.WarehouseRepository
	Events     *events.InMemoryEventStore
}

// NewScenario creates an empty scenario
func NewScenario() *Scenario {
	return &Scenario{
		Items:      memory.NewItemRepository(8),
		Production: memory.NewProductionRepository(),
		Resources:  memory.NewResourceRepository(),
		Warehouses: memory.NewWarehouseRepository(),
		Events:     events.NewInMemoryEventStore(nil),
	}
}

// Item registers an item
func (s *Scenario) Item(partNumber string) *entities.Item {
	item, err := entities.NewItem(entities.PartNumber(partNumber), partNumber, "EA")
	if err != nil {
		panic(err)
	}
	if err := s.Items.LoadItems([]*entities.Item{item}); err != nil {
		panic(err)
	}
	return item
}

// Resource registers a resource on the given calendar (nil = no calendar)
func (s *Scenario) Resource(id string, cal *calendar.IntervalCalendar) *entities.Resource {
	var finder entities.CapacityFinder
	if cal != nil {
		finder = cal
	}
	res, err := entities.NewResource(entities.ResourceID(id), id, finder)
	if err != nil {
		panic(err)
	}
	if err := s.Resources.AddResource(res); err != nil {
		panic(err)
	}
	return res
}

// Order registers a manufacturing order
func (s *Scenario) Order(externalID, product string, needDate time.Time, qty int64) *entities.ManufacturingOrder {
	mo := &entities.ManufacturingOrder{
		ExternalID:  externalID,
		Product:     entities.PartNumber(product),
		NeedDate:    needDate,
		RequiredQty: Qty(qty),
	}
	if _, err := s.Production.AddOrder(mo); err != nil {
		panic(err)
	}
	return mo
}

// Operation registers an operation of mo with one activity for the order quantity
func (s *Scenario) Operation(mo *entities.ManufacturingOrder, externalID string, info entities.ProductionInfo, eligible ...string) *entities.Operation {
	op, err := entities.NewOperation(externalID, mo.ID, mo.Product, info)
	if err != nil {
		panic(err)
	}
	for _, id := range eligible {
		op.EligibleResources = append(op.EligibleResources, entities.ResourceID(id))
	}
	if _, err := s.Production.AddOperation(op); err != nil {
		panic(err)
	}
	act, err := entities.NewActivity(op.ID, mo.RequiredQty)
	if err != nil {
		panic(err)
	}
	if _, err := s.Production.AddActivity(act); err != nil {
		panic(err)
	}
	return op
}

// Activity returns the first activity of an operation
func (s *Scenario) Activity(op *entities.Operation) *entities.Activity {
	act, err := s.Production.GetActivity(op.Activities[0])
	if err != nil {
		panic(err)
	}
	return act
}

// Link registers an association between two operations
func (s *Scenario) Link(pred, succ *entities.Operation, overlap entities.OverlapType, transferSpan time.Duration) *entities.Association {
	assoc, err := entities.NewAssociation(pred.ID, succ.ID, overlap, transferSpan)
	if err != nil {
		panic(err)
	}
	if _, err := s.Production.AddAssociation(assoc); err != nil {
		panic(err)
	}
	return assoc
}

// Warehouse registers an empty warehouse
func (s *Scenario) Warehouse(id string) *entities.Warehouse {
	w := entities.NewWarehouse(id)
	if err := s.Warehouses.AddWarehouse(w); err != nil {
		panic(err)
	}
	return w
}

// Area adds a storage area to w
func (s *Scenario) Area(w *entities.Warehouse, id string) *entities.StorageArea {
	area, err := entities.NewStorageArea(id, w.ID)
	if err != nil {
		panic(err)
	}
	if err := w.AddStorageArea(area); err != nil {
		panic(err)
	}
	return area
}

// ItemStorage lets area store an item up to maxQty (0 = unconstrained)
func (s *Scenario) ItemStorage(area *entities.StorageArea, partNumber string, maxQty, disposalQty int64) *entities.ItemStorage {
	storage, err := entities.NewItemStorage(area.ID, entities.PartNumber(partNumber), Qty(maxQty), Qty(disposalQty))
	if err != nil {
		panic(err)
	}
	if err := area.AddItemStorage(storage); err != nil {
		panic(err)
	}
	return storage
}

// InitialLot stores scenario material in an item storage
func (s *Scenario) InitialLot(storage *entities.ItemStorage, qty int64, storedAt time.Time, drainableAt entities.OptionalTime) entities.StorageLot {
	lot := entities.StorageLot{
		DemandID:    uuid.New(),
		PartNumber:  storage.PartNumber,
		Qty:         Qty(qty),
		StoredAt:    storedAt,
		DrainableAt: drainableAt,
		Initial:     true,
	}
	if err := storage.AddLot(lot); err != nil {
		panic(err)
	}
	return lot
}

// Connector links resources to areas. flowLimit 0 leaves the connector without a flow constraint.
func (s *Scenario) Connector(w *entities.Warehouse, id string, resources []string, areas []string, inflowLimit, flowLimit int) *entities.StorageAreaConnector {
	c := &entities.StorageAreaConnector{
		ID:           id,
		StorageAreas: areas,
		InflowLimit:  inflowLimit,
	}
	for _, r := range resources {
		c.Resources = append(c.Resources, entities.ResourceID(r))
	}
	if flowLimit > 0 {
		flow, err := entities.NewFlowRangeConstraint(flowLimit, entities.InFlowOnly)
		if err != nil {
			panic(err)
		}
		c.Flow = flow
	}
	if err := w.AddConnector(c); err != nil {
		panic(err)
	}
	return c
}

// Supply builds a supply profile for the activity's product
func (s *Scenario) Supply(op *entities.Operation, act *entities.Activity, nodes ...entities.SupplyNode) *entities.SupplyProfile {
	profile, err := entities.NewSupplyProfile(op.Product, nodes)
	if err != nil {
		panic(err)
	}
	profile.SourceOrder = op.Order
	profile.SourceOperation = op.ID
	profile.SourceActivity = act.ID
	return profile
}
