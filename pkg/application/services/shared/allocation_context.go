package shared

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/application/dto"
	"github.com/vsinha/aps/pkg/domain/entities"
)

// AllocationContext holds storage allocation information for an item in one area
type AllocationContext struct {
	StoredQty     decimal.Decimal
	UnstoredQty   decimal.Decimal
	HasAllocation bool
}

// AllocationMap manages allocation context by item and storage area.
// Unstored supply is kept under the empty area.
type AllocationMap map[string]*AllocationContext

// NewAllocationMap creates a new empty allocation map
func NewAllocationMap() AllocationMap {
	return make(AllocationMap)
}

// NewAllocationMapFromOutcomes totals the lots placed by a planning run
func NewAllocationMapFromOutcomes(outcomes []dto.StorageOutcome) AllocationMap {
	allocMap := make(AllocationMap)
	for _, o := range outcomes {
		if !o.Success {
			ctx := allocMap.ensure(o.Item, "")
			ctx.UnstoredQty = ctx.UnstoredQty.Add(o.Qty)
			continue
		}
		for _, lot := range o.Lots {
			ctx := allocMap.ensure(lot.Item, lot.Area)
			ctx.StoredQty = ctx.StoredQty.Add(lot.Qty)
			ctx.HasAllocation = ctx.HasAllocation || lot.Qty.IsPositive()
		}
	}
	return allocMap
}

func (am AllocationMap) ensure(item entities.PartNumber, area string) *AllocationContext {
	key := am.makeKey(item, area)
	ctx, ok := am[key]
	if !ok {
		ctx = &AllocationContext{StoredQty: decimal.Zero, UnstoredQty: decimal.Zero}
		am[key] = ctx
	}
	return ctx
}

// Get retrieves allocation context for an item and area
func (am AllocationMap) Get(item entities.PartNumber, area string) *AllocationContext {
	return am[am.makeKey(item, area)]
}

// Set stores allocation context for an item and area
func (am AllocationMap) Set(item entities.PartNumber, area string, context *AllocationContext) {
	am[am.makeKey(item, area)] = context
}

// Has checks if allocation context exists for an item and area
func (am AllocationMap) Has(item entities.PartNumber, area string) bool {
	_, exists := am[am.makeKey(item, area)]
	return exists
}

// Clear removes all allocation contexts
func (am AllocationMap) Clear() {
	for key := range am {
		delete(am, key)
	}
}

// Size returns the number of allocation contexts stored
func (am AllocationMap) Size() int {
	return len(am)
}

// GetAllItems returns every item that has allocation context, sorted
func (am AllocationMap) GetAllItems() []entities.PartNumber {
	itemSet := make(map[entities.PartNumber]bool)
	for key := range am {
		if item, _, found := am.parseKey(key); found {
			itemSet[item] = true
		}
	}

	items := make([]entities.PartNumber, 0, len(itemSet))
	for item := range itemSet {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// GetTotalStored returns the stored quantity across all items
func (am AllocationMap) GetTotalStored() decimal.Decimal {
	total := decimal.Zero
	for _, context := range am {
		total = total.Add(context.StoredQty)
	}
	return total
}

// GetTotalSupply returns stored plus unstored quantity across all items
func (am AllocationMap) GetTotalSupply() decimal.Decimal {
	total := decimal.Zero
	for _, context := range am {
		total = total.Add(context.StoredQty).Add(context.UnstoredQty)
	}
	return total
}

// GetCoverageRatio returns the share of supply that found storage (0.0 to 1.0)
func (am AllocationMap) GetCoverageRatio() float64 {
	supply := am.GetTotalSupply()
	if supply.IsZero() {
		return 0.0
	}
	return am.GetTotalStored().Div(supply).InexactFloat64()
}

// makeKey creates a consistent key for item and area
func (am AllocationMap) makeKey(item entities.PartNumber, area string) string {
	return fmt.Sprintf("%s|%s", item, area)
}

// parseKey extracts item and area from a key
func (am AllocationMap) parseKey(key string) (entities.PartNumber, string, bool) {
	item, area, found := strings.Cut(key, "|")
	return entities.PartNumber(item), area, found
}

// String returns a string representation of the allocation map for debugging
func (am AllocationMap) String() string {
	if len(am) == 0 {
		return "AllocationMap{empty}"
	}

	keys := make([]string, 0, len(am))
	for key := range am {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "AllocationMap{%d entries:\n", len(am))
	for _, key := range keys {
		item, area, _ := am.parseKey(key)
		context := am[key]
		if area == "" {
			area = "-"
		}
		fmt.Fprintf(&b, "  %s@%s: stored=%s, unstored=%s, hasAllocation=%t\n",
			item, area, context.StoredQty, context.UnstoredQty, context.HasAllocation)
	}
	b.WriteString("}")
	return b.String()
}
