package memory

import (
	"fmt"

	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
)

// ResourceRepository provides in-memory resource storage
type ResourceRepository struct {
	resources []*entities.Resource
	index     map[entities.ResourceID]int
}

// NewResourceRepository creates a new in-memory resource repository
func NewResourceRepository() *ResourceRepository {
	return &ResourceRepository{index: make(map[entities.ResourceID]int)}
}

// Verify interface compliance
var _ repositories.ResourceRepository = (*ResourceRepository)(nil)

// AddResource stores a resource
func (r *ResourceRepository) AddResource(res *entities.Resource) error {
	if _, exists := r.index[res.ID]; exists {
		return fmt.Errorf("duplicate resource: %s", res.ID)
	}
	r.index[res.ID] = len(r.resources)
	r.resources = append(r.resources, res)
	return nil
}

// GetResource returns a resource by id
func (r *ResourceRepository) GetResource(id entities.ResourceID) (*entities.Resource, error) {
	i, exists := r.index[id]
	if !exists {
		return nil, fmt.Errorf("%w: resource %s", entities.ErrUnknownHandle, id)
	}
	return r.resources[i], nil
}

// GetAllResources returns resources in registration order
func (r *ResourceRepository) GetAllResources() []*entities.Resource {
	result := make([]*entities.Resource, len(r.resources))
	copy(result, r.resources)
	return result
}

// WarehouseRepository provides in-memory warehouse storage
type WarehouseRepository struct {
	warehouses []*entities.Warehouse
	index      map[string]int
}

// NewWarehouseRepository creates a new in-memory warehouse repository
func NewWarehouseRepository() *WarehouseRepository {
	return &WarehouseRepository{index: make(map[string]int)}
}

// Verify interface compliance
var _ repositories.WarehouseRepository = (*WarehouseRepository)(nil)

// AddWarehouse stores a warehouse. Area ids must be unique across warehouses.
func (r *WarehouseRepository) AddWarehouse(w *entities.Warehouse) error {
	if _, exists := r.index[w.ID]; exists {
		return fmt.Errorf("duplicate warehouse: %s", w.ID)
	}
	for _, area := range w.StorageAreas() {
		if _, err := r.GetStorageArea(area.ID); err == nil {
			return fmt.Errorf("storage area %s already exists in another warehouse", area.ID)
		}
	}
	r.index[w.ID] = len(r.warehouses)
	r.warehouses = append(r.warehouses, w)
	return nil
}

// GetWarehouse returns a warehouse by id
func (r *WarehouseRepository) GetWarehouse(id string) (*entities.Warehouse, error) {
	i, exists := r.index[id]
	if !exists {
		return nil, fmt.Errorf("%w: warehouse %s", entities.ErrUnknownHandle, id)
	}
	return r.warehouses[i], nil
}

// GetAllWarehouses returns warehouses in registration order
func (r *WarehouseRepository) GetAllWarehouses() []*entities.Warehouse {
	result := make([]*entities.Warehouse, len(r.warehouses))
	copy(result, r.warehouses)
	return result
}

// GetStorageArea finds an area in any warehouse
func (r *WarehouseRepository) GetStorageArea(id string) (*entities.StorageArea, error) {
	for _, w := range r.warehouses {
		if area, ok := w.StorageArea(id); ok {
			return area, nil
		}
	}
	return nil, fmt.Errorf("%w: storage area %s", entities.ErrUnknownHandle, id)
}
