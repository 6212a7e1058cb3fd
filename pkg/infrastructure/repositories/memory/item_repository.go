package memory

import (
	"fmt"
	"sort"

	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
)

// ItemRepository provides in-memory item storage
type ItemRepository struct {
	items map[entities.PartNumber]*entities.Item
}

// NewItemRepository creates a new in-memory item repository
func NewItemRepository(expectedItems int) *ItemRepository {
	return &ItemRepository{
		items: make(map[entities.PartNumber]*entities.Item, expectedItems),
	}
}

// Verify interface compliance
var _ repositories.ItemRepository = (*ItemRepository)(nil)

// LoadItems loads items into the repository; a repeated part number is an error
func (r *ItemRepository) LoadItems(items []*entities.Item) error {
	for _, item := range items {
		if _, exists := r.items[item.PartNumber]; exists {
			return fmt.Errorf("duplicate item: %s", item.PartNumber)
		}
		r.items[item.PartNumber] = item
	}
	return nil
}

// GetItem returns item master data for a part number
func (r *ItemRepository) GetItem(partNumber entities.PartNumber) (*entities.Item, error) {
	item, exists := r.items[partNumber]
	if !exists {
		return nil, fmt.Errorf("item not found: %s", partNumber)
	}
	return item, nil
}

// GetAllItems returns all items ordered by part number
func (r *ItemRepository) GetAllItems() ([]*entities.Item, error) {
	items := make([]*entities.Item, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PartNumber < items[j].PartNumber })
	return items, nil
}
