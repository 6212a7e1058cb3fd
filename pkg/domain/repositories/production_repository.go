package repositories

import "github.com/vsinha/aps/pkg/domain/entities"

// ProductionRepository is the arena owning orders, operations, activities and
// the associations between operations. Handles are assigned on Add.
type ProductionRepository interface {
	AddOrder(order *entities.ManufacturingOrder) (entities.OrderID, error)
	AddOperation(op *entities.Operation) (entities.OperationID, error)
	AddActivity(act *entities.Activity) (entities.ActivityID, error)
	AddAssociation(assoc *entities.Association) (entities.AssociationID, error)

	GetOrder(id entities.OrderID) (*entities.ManufacturingOrder, error)
	GetOperation(id entities.OperationID) (*entities.Operation, error)
	GetOperationByExternalID(externalID string) (*entities.Operation, error)
	GetActivity(id entities.ActivityID) (*entities.Activity, error)
	GetAssociation(id entities.AssociationID) (*entities.Association, error)

	GetAllOrders() []*entities.ManufacturingOrder
	GetAllOperations() []*entities.Operation
	GetAllAssociations() []*entities.Association
}
