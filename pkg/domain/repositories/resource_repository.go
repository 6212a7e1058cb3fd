package repositories

import "github.com/vsinha/aps/pkg/domain/entities"

// ResourceRepository provides access to resources and their calendars
type ResourceRepository interface {
	AddResource(res *entities.Resource) error
	GetResource(id entities.ResourceID) (*entities.Resource, error)
	GetAllResources() []*entities.Resource
}

// WarehouseRepository provides access to warehouses and their storage topology
type WarehouseRepository interface {
	AddWarehouse(w *entities.Warehouse) error
	GetWarehouse(id string) (*entities.Warehouse, error)
	GetAllWarehouses() []*entities.Warehouse
	// GetStorageArea finds an area in any warehouse
	GetStorageArea(id string) (*entities.StorageArea, error)
}
