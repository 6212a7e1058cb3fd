package entities

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StorageLot is material resident in one ItemStorage
type StorageLot struct {
	DemandID   uuid.UUID
	PartNumber PartNumber
	Area       string
	Qty        decimal.Decimal
	StoredAt   time.Time
	// DrainableAt is the first tick the lot may be withdrawn; unset = no withdrawal planned
	DrainableAt OptionalTime

	SourceOrder     OrderID
	SourceOperation OperationID
	SourceActivity  ActivityID
	// Initial lots are part of the scenario and survive a simulation reset
	Initial bool
}

// DrainableBy reports whether the lot may be withdrawn by t
func (l StorageLot) DrainableBy(t time.Time) bool {
	return l.DrainableAt.IsSet() && !l.DrainableAt.Value().After(t)
}

// DisposalPolicy decides which resident lots are discarded when new material arrives
type DisposalPolicy interface {
	Disposable(storage *ItemStorage, lot StorageLot, at time.Time) bool
}

// ItemStorage is the capacity record for one (StorageArea, Item) pair
type ItemStorage struct {
	Area        string
	PartNumber  PartNumber
	MaxQty      decimal.Decimal // zero = unconstrained
	DisposalQty decimal.Decimal // auto-discard threshold, zero = never

	lots    []StorageLot
	initial []StorageLot
}

// NewItemStorage creates a validated ItemStorage
func NewItemStorage(area string, partNumber PartNumber, maxQty, disposalQty decimal.Decimal) (*ItemStorage, error) {
	if area == "" {
		return nil, fmt.Errorf("storage area cannot be empty")
	}
	if string(partNumber) == "" {
		return nil, fmt.Errorf("part number cannot be empty")
	}
	if maxQty.IsNegative() {
		return nil, fmt.Errorf("max quantity cannot be negative, got %s", maxQty)
	}
	if disposalQty.IsNegative() {
		return nil, fmt.Errorf("disposal quantity cannot be negative, got %s", disposalQty)
	}
	return &ItemStorage{Area: area, PartNumber: partNumber, MaxQty: maxQty, DisposalQty: disposalQty}, nil
}

// Unconstrained reports whether the record has no capacity limit
func (s *ItemStorage) Unconstrained() bool {
	return s.MaxQty.IsZero()
}

// CurrentQty is the total resident quantity
func (s *ItemStorage) CurrentQty() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range s.lots {
		total = total.Add(lot.Qty)
	}
	return total
}

// Lots returns a copy of the resident lots in storage order
func (s *ItemStorage) Lots() []StorageLot {
	result := make([]StorageLot, len(s.lots))
	copy(result, s.lots)
	return result
}

// AddLot stores a lot. A reused demand id or a MaxQty overrun is an invariant violation.
func (s *ItemStorage) AddLot(lot StorageLot) error {
	if lot.PartNumber != s.PartNumber {
		return fmt.Errorf("%w: lot of %s stored in %s record of area %s", ErrInvariant, lot.PartNumber, s.PartNumber, s.Area)
	}
	if !lot.Qty.IsPositive() {
		return fmt.Errorf("lot quantity must be positive, got %s", lot.Qty)
	}
	for _, existing := range s.lots {
		if existing.DemandID == lot.DemandID {
			return fmt.Errorf("%w: demand %s already allocated in area %s", ErrInvariant, lot.DemandID, s.Area)
		}
	}
	if !s.Unconstrained() && s.CurrentQty().Add(lot.Qty).GreaterThan(s.MaxQty) {
		return fmt.Errorf("%w: storing %s of %s in area %s exceeds max %s",
			ErrInvariant, lot.Qty, s.PartNumber, s.Area, s.MaxQty)
	}
	lot.Area = s.Area
	s.lots = append(s.lots, lot)
	if lot.Initial {
		s.initial = append(s.initial, lot)
	}
	return nil
}

// RemoveLots removes and returns the lots for which remove is true, in storage order
func (s *ItemStorage) RemoveLots(remove func(StorageLot) bool) []StorageLot {
	var removed []StorageLot
	kept := s.lots[:0]
	for _, lot := range s.lots {
		if remove(lot) {
			removed = append(removed, lot)
			continue
		}
		kept = append(kept, lot)
	}
	s.lots = kept
	return removed
}

// Availability computes a snapshot of how much of requested may be stored at t.
// Unconstrained records report requested as available.
func (s *ItemStorage) Availability(at time.Time, requested decimal.Decimal, policy DisposalPolicy) StorageAvailability {
	current := s.CurrentQty()
	disposable, drainable := decimal.Zero, decimal.Zero
	for _, lot := range s.lots {
		switch {
		case policy != nil && policy.Disposable(s, lot, at):
			disposable = disposable.Add(lot.Qty)
		case lot.DrainableBy(at):
			drainable = drainable.Add(lot.Qty)
		}
	}

	avail := StorageAvailability{
		ItemStorage:      s,
		CurrentQty:       current,
		Unconstrained:    s.Unconstrained(),
		RequiresDisposal: disposable.IsPositive(),
		DisposalQty:      disposable,
		DrainQty:         drainable,
	}
	if avail.Unconstrained {
		avail.QtyAvailable = requested
		avail.QtyAvailableIfDrained = requested
		return avail
	}
	avail.QtyAvailable = clampZero(s.MaxQty.Sub(current).Add(disposable))
	avail.QtyAvailableIfDrained = clampZero(avail.QtyAvailable.Add(drainable))
	return avail
}

func (s *ItemStorage) reset() {
	s.lots = make([]StorageLot, len(s.initial))
	copy(s.lots, s.initial)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// StorageAvailability is a per-attempt snapshot of one candidate ItemStorage
type StorageAvailability struct {
	Area        *StorageArea
	ItemStorage *ItemStorage
	Connector   *StorageAreaConnector

	CurrentQty            decimal.Decimal
	QtyAvailable          decimal.Decimal
	QtyAvailableIfDrained decimal.Decimal
	Unconstrained         bool

	RequiresDisposal bool
	DisposalQty      decimal.Decimal
	// DrainQty is resident quantity that may be withdrawn by the storage start
	DrainQty decimal.Decimal
	// RequiresDrain means every resident lot must be drained before anything is stored
	RequiresDrain bool

	RequiresCleanout bool
	CleanoutFrom     PartNumber
	CleanoutRange    TimeRange
}

// CleanoutRecord is a changeover performed in a storage area
type CleanoutRecord struct {
	Area     string
	Resource ResourceID
	From     PartNumber
	To       PartNumber
	Range    TimeRange
}

// StorageArea is a tank, silo or rack position holding one or more items
type StorageArea struct {
	ID        string
	Name      string
	Warehouse string
	// Resource is bound for cleanout capacity lookups; "" = unbound
	Resource          ResourceID
	SingleItemStorage bool
	RequiresEmpty     bool
	InFlow            *FlowRangeConstraint
	OutFlow           *FlowRangeConstraint
	LastStoredItem    PartNumber

	initialLastItem PartNumber
	items           map[PartNumber]*ItemStorage
	cleanouts       []CleanoutRecord
}

// NewStorageArea creates a validated StorageArea
func NewStorageArea(id, warehouse string) (*StorageArea, error) {
	if id == "" {
		return nil, fmt.Errorf("storage area id cannot be empty")
	}
	return &StorageArea{
		ID:        id,
		Name:      id,
		Warehouse: warehouse,
		items:     make(map[PartNumber]*ItemStorage),
	}, nil
}

// AddItemStorage registers the capacity record for an item
func (a *StorageArea) AddItemStorage(s *ItemStorage) error {
	if s.Area != a.ID {
		return fmt.Errorf("item storage for area %s cannot be added to area %s", s.Area, a.ID)
	}
	if _, exists := a.items[s.PartNumber]; exists {
		return fmt.Errorf("area %s already stores %s", a.ID, s.PartNumber)
	}
	a.items[s.PartNumber] = s
	return nil
}

// ItemStorage returns the capacity record for an item
func (a *StorageArea) ItemStorage(item PartNumber) (*ItemStorage, bool) {
	s, ok := a.items[item]
	return s, ok
}

// ItemStorages returns all capacity records ordered by part number
func (a *StorageArea) ItemStorages() []*ItemStorage {
	result := make([]*ItemStorage, 0, len(a.items))
	for _, s := range a.items {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PartNumber < result[j].PartNumber })
	return result
}

// ResidentItems returns the items with positive resident quantity
func (a *StorageArea) ResidentItems() []PartNumber {
	var items []PartNumber
	for _, s := range a.ItemStorages() {
		if s.CurrentQty().IsPositive() {
			items = append(items, s.PartNumber)
		}
	}
	return items
}

// ResidentLots returns every resident lot across items
func (a *StorageArea) ResidentLots() []StorageLot {
	var lots []StorageLot
	for _, s := range a.ItemStorages() {
		lots = append(lots, s.Lots()...)
	}
	return lots
}

// IsEmpty reports whether nothing is resident
func (a *StorageArea) IsEmpty() bool {
	return len(a.ResidentItems()) == 0
}

// SetInitialLastItem records the item stored before the simulation starts
func (a *StorageArea) SetInitialLastItem(item PartNumber) {
	a.initialLastItem = item
	a.LastStoredItem = item
}

// RecordCleanout appends a performed cleanout
func (a *StorageArea) RecordCleanout(rec CleanoutRecord) {
	a.cleanouts = append(a.cleanouts, rec)
}

// Cleanouts returns a copy of the performed cleanouts
func (a *StorageArea) Cleanouts() []CleanoutRecord {
	result := make([]CleanoutRecord, len(a.cleanouts))
	copy(result, a.cleanouts)
	return result
}

// AreaSnapshot is the lot, last-item and cleanout state of an area captured
// before a commit so a failed commit can be undone
type AreaSnapshot struct {
	area      *StorageArea
	lots      map[PartNumber][]StorageLot
	lastItem  PartNumber
	cleanouts int
}

// Snapshot captures the area's mutable storage state
func (a *StorageArea) Snapshot() AreaSnapshot {
	snap := AreaSnapshot{
		area:      a,
		lots:      make(map[PartNumber][]StorageLot, len(a.items)),
		lastItem:  a.LastStoredItem,
		cleanouts: len(a.cleanouts),
	}
	for pn, s := range a.items {
		snap.lots[pn] = s.Lots()
	}
	return snap
}

// Restore puts the area back to the captured state. Flow usages are not
// covered; those are undone with DiscardPending.
func (s AreaSnapshot) Restore() {
	for pn, storage := range s.area.items {
		storage.lots = append([]StorageLot(nil), s.lots[pn]...)
	}
	s.area.LastStoredItem = s.lastItem
	s.area.cleanouts = s.area.cleanouts[:s.cleanouts]
}

func (a *StorageArea) reset() {
	for _, s := range a.items {
		s.reset()
	}
	for _, c := range []*FlowRangeConstraint{a.InFlow, a.OutFlow} {
		if c != nil {
			c.Reset()
		}
	}
	a.cleanouts = nil
	a.LastStoredItem = a.initialLastItem
}

// StorageAreaConnector names the storage areas a set of resources can flow into
type StorageAreaConnector struct {
	ID           string
	Resources    []ResourceID
	StorageAreas []string
	// Flow bounds simultaneous transfers through the connector; nil = unbounded
	Flow *FlowRangeConstraint
	// InflowLimit is the maximum number of areas one plan may use; 0 = unlimited
	InflowLimit int
	TransitSpan time.Duration
}

// Serves reports whether the connector carries output of the resource
func (c *StorageAreaConnector) Serves(resource ResourceID) bool {
	for _, r := range c.Resources {
		if r == resource {
			return true
		}
	}
	return false
}

// Warehouse owns storage areas and the connectors into them
type Warehouse struct {
	ID         string
	areas      map[string]*StorageArea
	areaOrder  []string
	connectors []*StorageAreaConnector
}

// NewWarehouse creates an empty Warehouse
func NewWarehouse(id string) *Warehouse {
	return &Warehouse{ID: id, areas: make(map[string]*StorageArea)}
}

// AddStorageArea registers an area
func (w *Warehouse) AddStorageArea(a *StorageArea) error {
	if _, exists := w.areas[a.ID]; exists {
		return fmt.Errorf("storage area %s already exists in warehouse %s", a.ID, w.ID)
	}
	a.Warehouse = w.ID
	w.areas[a.ID] = a
	w.areaOrder = append(w.areaOrder, a.ID)
	return nil
}

// AddConnector registers a connector; every area it names must exist
func (w *Warehouse) AddConnector(c *StorageAreaConnector) error {
	for _, id := range c.StorageAreas {
		if _, ok := w.areas[id]; !ok {
			return fmt.Errorf("connector %s references unknown storage area %s", c.ID, id)
		}
	}
	w.connectors = append(w.connectors, c)
	return nil
}

// StorageArea returns an area by id
func (w *Warehouse) StorageArea(id string) (*StorageArea, bool) {
	a, ok := w.areas[id]
	return a, ok
}

// StorageAreas returns the areas in registration order
func (w *Warehouse) StorageAreas() []*StorageArea {
	result := make([]*StorageArea, 0, len(w.areaOrder))
	for _, id := range w.areaOrder {
		result = append(result, w.areas[id])
	}
	return result
}

// Connectors returns all connectors in registration order
func (w *Warehouse) Connectors() []*StorageAreaConnector {
	result := make([]*StorageAreaConnector, len(w.connectors))
	copy(result, w.connectors)
	return result
}

// ConnectorsFor returns the connectors serving a resource
func (w *Warehouse) ConnectorsFor(resource ResourceID) []*StorageAreaConnector {
	var result []*StorageAreaConnector
	for _, c := range w.connectors {
		if c.Serves(resource) {
			result = append(result, c)
		}
	}
	return result
}

// ResetSimulationStateVariables clears flow usages, run-time lots and cleanouts
// before a new simulation run. Initial scenario lots are kept.
func (w *Warehouse) ResetSimulationStateVariables() {
	for _, a := range w.areas {
		a.reset()
	}
	for _, c := range w.connectors {
		if c.Flow != nil {
			c.Flow.Reset()
		}
	}
}
