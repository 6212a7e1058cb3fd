package yaml

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/infrastructure/calendar"
	"github.com/vsinha/aps/pkg/infrastructure/repositories/memory"
	"gopkg.in/yaml.v3"
)

// Quantity is a decimal written as a plain YAML number or string
type Quantity struct {
	decimal.Decimal
}

// UnmarshalYAML parses the scalar exactly, without a float round trip
func (q *Quantity) UnmarshalYAML(value *yaml.Node) error {
	d, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid quantity %q", value.Line, value.Value)
	}
	q.Decimal = d
	return nil
}

// Document is the on-disk scenario layout
type Document struct {
	Items        []ItemDoc        `yaml:"items"`
	Resources    []ResourceDoc    `yaml:"resources"`
	Warehouses   []WarehouseDoc   `yaml:"warehouses"`
	Orders       []OrderDoc       `yaml:"orders"`
	Associations []AssociationDoc `yaml:"associations"`
}

type ItemDoc struct {
	PartNumber     string         `yaml:"part_number"`
	Description    string         `yaml:"description"`
	UnitOfMeasure  string         `yaml:"uom"`
	PostProcessing *time.Duration `yaml:"post_processing"`
}

type IntervalDoc struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

type CleanoutDoc struct {
	From string        `yaml:"from"`
	To   string        `yaml:"to"`
	Span time.Duration `yaml:"span"`
}

type ProductRuleDoc struct {
	PartNumber string   `yaml:"part_number"`
	MinQty     Quantity `yaml:"min_qty"`
	MaxQty     Quantity `yaml:"max_qty"`
}

type ResourceDoc struct {
	ID              string           `yaml:"id"`
	Name            string           `yaml:"name"`
	TransferSpan    time.Duration    `yaml:"transfer_span"`
	BufferSpan      time.Duration    `yaml:"buffer_span"`
	CleanBeforeSpan time.Duration    `yaml:"clean_before_span"`
	MinQty          Quantity         `yaml:"min_qty"`
	MaxQty          Quantity         `yaml:"max_qty"`
	Calendar        []IntervalDoc    `yaml:"calendar"`
	Cleanouts       []CleanoutDoc    `yaml:"cleanouts"`
	ProductRules    []ProductRuleDoc `yaml:"product_rules"`
}

type LotDoc struct {
	Qty         Quantity   `yaml:"qty"`
	StoredAt    time.Time  `yaml:"stored_at"`
	DrainableAt *time.Time `yaml:"drainable_at"`
}

type ItemStorageDoc struct {
	PartNumber  string   `yaml:"part_number"`
	MaxQty      Quantity `yaml:"max_qty"`
	DisposalQty Quantity `yaml:"disposal_qty"`
	Lots        []LotDoc `yaml:"lots"`
}

type FlowDoc struct {
	Limit int    `yaml:"limit"`
	Mode  string `yaml:"mode"`
}

type AreaDoc struct {
	ID                string           `yaml:"id"`
	Resource          string           `yaml:"resource"`
	SingleItemStorage bool             `yaml:"single_item"`
	RequiresEmpty     bool             `yaml:"requires_empty"`
	LastItem          string           `yaml:"last_item"`
	InFlow            *FlowDoc         `yaml:"inflow"`
	OutFlow           *FlowDoc         `yaml:"outflow"`
	Items             []ItemStorageDoc `yaml:"items"`
}

type ConnectorDoc struct {
	ID          string        `yaml:"id"`
	Resources   []string      `yaml:"resources"`
	Areas       []string      `yaml:"areas"`
	InflowLimit int           `yaml:"inflow_limit"`
	TransitSpan time.Duration `yaml:"transit_span"`
	Flow        *FlowDoc      `yaml:"flow"`
}

type WarehouseDoc struct {
	ID         string         `yaml:"id"`
	Areas      []AreaDoc      `yaml:"areas"`
	Connectors []ConnectorDoc `yaml:"connectors"`
}

type OperationDoc struct {
	ID string `yaml:"id"`
	// Product defaults to the order's product; intermediate steps name their own output
	Product           string        `yaml:"product"`
	Setup             time.Duration `yaml:"setup"`
	Cycle             time.Duration `yaml:"cycle"`
	QtyPerCycle       Quantity      `yaml:"qty_per_cycle"`
	PostProcessing    time.Duration `yaml:"post_processing"`
	Storage           time.Duration `yaml:"storage"`
	Clean             time.Duration `yaml:"clean"`
	Resources         []string      `yaml:"resources"`
	LockedResource    string        `yaml:"locked_resource"`
	DefaultResource   string        `yaml:"default_resource"`
	AcceptsResize     bool          `yaml:"accepts_resize"`
	PartialProduction bool          `yaml:"partial_production"`
}

type OrderDoc struct {
	ID               string         `yaml:"id"`
	Product          string         `yaml:"product"`
	NeedDate         time.Time      `yaml:"need_date"`
	Qty              Quantity       `yaml:"qty"`
	ResizeForStorage bool           `yaml:"resize_for_storage"`
	Operations       []OperationDoc `yaml:"operations"`
}

type AssociationDoc struct {
	Predecessor     string        `yaml:"predecessor"`
	Successor       string        `yaml:"successor"`
	Overlap         string        `yaml:"overlap"`
	TransferSpan    time.Duration `yaml:"transfer_span"`
	TransferQty     Quantity      `yaml:"transfer_qty"`
	PercentComplete Quantity      `yaml:"percent_complete"`
	TransferStart   string        `yaml:"transfer_start"`
	TransferEnd     string        `yaml:"transfer_end"`
}

// Scenario is a loaded scenario held in in-memory repositories
type Scenario struct {
	Items      *memory.ItemRepository
	Production *memory.ProductionRepository
	Resources  *memory.ResourceRepository
	Warehouses *memory.WarehouseRepository
}

// Loader reads scenario documents
type Loader struct{}

// NewLoader creates a new scenario loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadScenario loads a scenario from a YAML file
func (l *Loader) LoadScenario(filename string) (*Scenario, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file %s: %w", filename, err)
	}
	defer file.Close()

	return l.ReadScenario(file)
}

// ReadScenario decodes a scenario and builds the repositories. Unknown fields are rejected.
func (l *Loader) ReadScenario(r io.Reader) (*Scenario, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return Build(&doc)
}

// Build turns a decoded document into repositories
func Build(doc *Document) (*Scenario, error) {
	s := &Scenario{
		Items:      memory.NewItemRepository(len(doc.Items)),
		Production: memory.NewProductionRepository(),
		Resources:  memory.NewResourceRepository(),
		Warehouses: memory.NewWarehouseRepository(),
	}

	if err := buildItems(s, doc.Items); err != nil {
		return nil, err
	}
	for _, rd := range doc.Resources {
		if err := buildResource(s, rd); err != nil {
			return nil, fmt.Errorf("resource %s: %w", rd.ID, err)
		}
	}
	for _, wd := range doc.Warehouses {
		if err := buildWarehouse(s, wd); err != nil {
			return nil, fmt.Errorf("warehouse %s: %w", wd.ID, err)
		}
	}
	for _, od := range doc.Orders {
		if err := buildOrder(s, od); err != nil {
			return nil, fmt.Errorf("order %s: %w", od.ID, err)
		}
	}
	for i, ad := range doc.Associations {
		if err := buildAssociation(s, ad); err != nil {
			return nil, fmt.Errorf("association %d (%s -> %s): %w", i+1, ad.Predecessor, ad.Successor, err)
		}
	}
	return s, nil
}

func buildItems(s *Scenario, docs []ItemDoc) error {
	items := make([]*entities.Item, 0, len(docs))
	for _, d := range docs {
		uom := d.UnitOfMeasure
		if uom == "" {
			uom = "EA"
		}
		item, err := entities.NewItem(entities.PartNumber(d.PartNumber), d.Description, uom)
		if err != nil {
			return fmt.Errorf("item %q: %w", d.PartNumber, err)
		}
		if d.PostProcessing != nil {
			item.MaterialPostProcessingSpan = entities.SpanOf(*d.PostProcessing)
		}
		items = append(items, item)
	}
	return s.Items.LoadItems(items)
}

func buildResource(s *Scenario, d ResourceDoc) error {
	var finder entities.CapacityFinder
	if len(d.Calendar) > 0 {
		intervals := make([]calendar.Interval, 0, len(d.Calendar))
		for _, iv := range d.Calendar {
			intervals = append(intervals, calendar.Interval{Start: iv.Start, End: iv.End})
		}
		cal, err := calendar.NewIntervalCalendar(intervals...)
		if err != nil {
			return err
		}
		finder = cal
	}

	name := d.Name
	if name == "" {
		name = d.ID
	}
	res, err := entities.NewResource(entities.ResourceID(d.ID), name, finder)
	if err != nil {
		return err
	}
	res.TransferSpan = d.TransferSpan
	res.BufferSpan = d.BufferSpan
	res.CleanBeforeSpan = d.CleanBeforeSpan
	res.MinQty = d.MinQty.Decimal
	res.MaxQty = d.MaxQty.Decimal
	for _, c := range d.Cleanouts {
		res.ItemCleanouts[entities.CleanoutKey{From: entities.PartNumber(c.From), To: entities.PartNumber(c.To)}] = c.Span
	}
	for _, pr := range d.ProductRules {
		rule, err := entities.NewProductRule(entities.PartNumber(pr.PartNumber), pr.MinQty.Decimal, pr.MaxQty.Decimal)
		if err != nil {
			return err
		}
		res.ProductRules[rule.PartNumber] = *rule
	}
	return s.Resources.AddResource(res)
}

func buildFlow(d *FlowDoc, fallback entities.FlowMode) (*entities.FlowRangeConstraint, error) {
	if d == nil {
		return nil, nil
	}
	mode := fallback
	switch d.Mode {
	case "":
	case "inflow":
		mode = entities.InFlowOnly
	case "outflow":
		mode = entities.OutFlowOnly
	case "counterflow":
		mode = entities.CounterFlow
	default:
		return nil, fmt.Errorf("unknown flow mode %q", d.Mode)
	}
	return entities.NewFlowRangeConstraint(d.Limit, mode)
}

func buildWarehouse(s *Scenario, d WarehouseDoc) error {
	w := entities.NewWarehouse(d.ID)
	for _, ad := range d.Areas {
		area, err := entities.NewStorageArea(ad.ID, d.ID)
		if err != nil {
			return err
		}
		area.Resource = entities.ResourceID(ad.Resource)
		area.SingleItemStorage = ad.SingleItemStorage
		area.RequiresEmpty = ad.RequiresEmpty
		if ad.LastItem != "" {
			area.SetInitialLastItem(entities.PartNumber(ad.LastItem))
		}
		if area.InFlow, err = buildFlow(ad.InFlow, entities.InFlowOnly); err != nil {
			return fmt.Errorf("area %s inflow: %w", ad.ID, err)
		}
		if area.OutFlow, err = buildFlow(ad.OutFlow, entities.OutFlowOnly); err != nil {
			return fmt.Errorf("area %s outflow: %w", ad.ID, err)
		}

		for _, sd := range ad.Items {
			storage, err := entities.NewItemStorage(ad.ID, entities.PartNumber(sd.PartNumber), sd.MaxQty.Decimal, sd.DisposalQty.Decimal)
			if err != nil {
				return fmt.Errorf("area %s: %w", ad.ID, err)
			}
			if err := area.AddItemStorage(storage); err != nil {
				return err
			}
			for _, ld := range sd.Lots {
				lot := entities.StorageLot{
					DemandID:   uuid.New(),
					PartNumber: storage.PartNumber,
					Qty:        ld.Qty.Decimal,
					StoredAt:   ld.StoredAt,
					Initial:    true,
				}
				if ld.DrainableAt != nil {
					lot.DrainableAt = entities.TimeOf(*ld.DrainableAt)
				}
				if err := storage.AddLot(lot); err != nil {
					return fmt.Errorf("area %s initial lot: %w", ad.ID, err)
				}
			}
		}
		if err := w.AddStorageArea(area); err != nil {
			return err
		}
	}

	for _, cd := range d.Connectors {
		c := &entities.StorageAreaConnector{
			ID:           cd.ID,
			StorageAreas: cd.Areas,
			InflowLimit:  cd.InflowLimit,
			TransitSpan:  cd.TransitSpan,
		}
		for _, r := range cd.Resources {
			c.Resources = append(c.Resources, entities.ResourceID(r))
		}
		flow, err := buildFlow(cd.Flow, entities.InFlowOnly)
		if err != nil {
			return fmt.Errorf("connector %s: %w", cd.ID, err)
		}
		c.Flow = flow
		if err := w.AddConnector(c); err != nil {
			return err
		}
	}
	return s.Warehouses.AddWarehouse(w)
}

func buildOrder(s *Scenario, d OrderDoc) error {
	mo := &entities.ManufacturingOrder{
		ExternalID:       d.ID,
		Product:          entities.PartNumber(d.Product),
		NeedDate:         d.NeedDate,
		RequiredQty:      d.Qty.Decimal,
		ResizeForStorage: d.ResizeForStorage,
	}
	if !mo.RequiredQty.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", mo.RequiredQty)
	}
	if _, err := s.Production.AddOrder(mo); err != nil {
		return err
	}

	for _, od := range d.Operations {
		product := mo.Product
		if od.Product != "" {
			product = entities.PartNumber(od.Product)
		}
		op, err := entities.NewOperation(od.ID, mo.ID, product, entities.ProductionInfo{
			SetupSpan:          od.Setup,
			CycleSpan:          od.Cycle,
			QtyPerCycle:        od.QtyPerCycle.Decimal,
			PostProcessingSpan: od.PostProcessing,
			StorageSpan:        od.Storage,
			CleanSpan:          od.Clean,
		})
		if err != nil {
			return err
		}
		for _, r := range od.Resources {
			op.EligibleResources = append(op.EligibleResources, entities.ResourceID(r))
		}
		op.LockedResource = entities.ResourceID(od.LockedResource)
		op.DefaultResource = entities.ResourceID(od.DefaultResource)
		if _, err := s.Production.AddOperation(op); err != nil {
			return err
		}

		act, err := entities.NewActivity(op.ID, mo.RequiredQty)
		if err != nil {
			return err
		}
		act.AcceptsResize = od.AcceptsResize
		act.PartialProduction = od.PartialProduction
		if _, err := s.Production.AddActivity(act); err != nil {
			return err
		}
	}
	return nil
}

func buildAssociation(s *Scenario, d AssociationDoc) error {
	pred, err := s.Production.GetOperationByExternalID(d.Predecessor)
	if err != nil {
		return err
	}
	succ, err := s.Production.GetOperationByExternalID(d.Successor)
	if err != nil {
		return err
	}

	overlap := entities.NoOverlap
	if d.Overlap != "" {
		if overlap, err = entities.ParseOverlapType(d.Overlap); err != nil {
			return err
		}
	}
	assoc, err := entities.NewAssociation(pred.ID, succ.ID, overlap, d.TransferSpan)
	if err != nil {
		return err
	}
	assoc.TransferQty = d.TransferQty.Decimal
	assoc.PercentComplete = d.PercentComplete.Decimal
	if d.TransferStart != "" {
		if assoc.TransferStart, err = entities.ParseTransferPoint(d.TransferStart); err != nil {
			return err
		}
	}
	if d.TransferEnd != "" {
		if assoc.TransferEnd, err = entities.ParseTransferPoint(d.TransferEnd); err != nil {
			return err
		}
	}
	_, err = s.Production.AddAssociation(assoc)
	return err
}
