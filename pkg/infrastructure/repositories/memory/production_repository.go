package memory

import (
	"fmt"

	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
)

// ProductionRepository is an index-based arena. Handles are 1-based slice
// positions so the zero handle never resolves.
type ProductionRepository struct {
	orders       []*entities.ManufacturingOrder
	operations   []*entities.Operation
	activities   []*entities.Activity
	associations []*entities.Association
	opsByExtID   map[string]entities.OperationID
}

// NewProductionRepository creates an empty arena
func NewProductionRepository() *ProductionRepository {
	return &ProductionRepository{opsByExtID: make(map[string]entities.OperationID)}
}

// Verify interface compliance
var _ repositories.ProductionRepository = (*ProductionRepository)(nil)

// AddOrder stores an order and assigns its handle
func (r *ProductionRepository) AddOrder(order *entities.ManufacturingOrder) (entities.OrderID, error) {
	if order.ExternalID == "" {
		return 0, fmt.Errorf("order external id cannot be empty")
	}
	r.orders = append(r.orders, order)
	order.ID = entities.OrderID(len(r.orders))
	return order.ID, nil
}

// AddOperation stores an operation, assigns its handle and links it to its order
func (r *ProductionRepository) AddOperation(op *entities.Operation) (entities.OperationID, error) {
	order, err := r.GetOrder(op.Order)
	if err != nil {
		return 0, fmt.Errorf("failed to add operation %s: %w", op.ExternalID, err)
	}
	if _, exists := r.opsByExtID[op.ExternalID]; exists {
		return 0, fmt.Errorf("duplicate operation: %s", op.ExternalID)
	}
	r.operations = append(r.operations, op)
	op.ID = entities.OperationID(len(r.operations))
	order.Operations = append(order.Operations, op.ID)
	r.opsByExtID[op.ExternalID] = op.ID
	return op.ID, nil
}

// AddActivity stores an activity, assigns its handle and links it to its operation
func (r *ProductionRepository) AddActivity(act *entities.Activity) (entities.ActivityID, error) {
	op, err := r.GetOperation(act.Operation)
	if err != nil {
		return 0, fmt.Errorf("failed to add activity: %w", err)
	}
	if act.BufferInfo == nil {
		act.BufferInfo = make(map[entities.ResourceID]entities.BufferInfo)
	}
	r.activities = append(r.activities, act)
	act.ID = entities.ActivityID(len(r.activities))
	op.Activities = append(op.Activities, act.ID)
	return act.ID, nil
}

// AddAssociation stores an edge and records it on both operations
func (r *ProductionRepository) AddAssociation(assoc *entities.Association) (entities.AssociationID, error) {
	pred, err := r.GetOperation(assoc.Predecessor)
	if err != nil {
		return 0, fmt.Errorf("failed to add association: %w", err)
	}
	succ, err := r.GetOperation(assoc.Successor)
	if err != nil {
		return 0, fmt.Errorf("failed to add association: %w", err)
	}
	r.associations = append(r.associations, assoc)
	assoc.ID = entities.AssociationID(len(r.associations))
	pred.Successors = append(pred.Successors, assoc.ID)
	succ.Predecessors = append(succ.Predecessors, assoc.ID)
	return assoc.ID, nil
}

// GetOrder resolves an order handle
func (r *ProductionRepository) GetOrder(id entities.OrderID) (*entities.ManufacturingOrder, error) {
	if id <= 0 || int(id) > len(r.orders) {
		return nil, fmt.Errorf("%w: order %d", entities.ErrUnknownHandle, id)
	}
	return r.orders[id-1], nil
}

// GetOperation resolves an operation handle
func (r *ProductionRepository) GetOperation(id entities.OperationID) (*entities.Operation, error) {
	if id <= 0 || int(id) > len(r.operations) {
		return nil, fmt.Errorf("%w: operation %d", entities.ErrUnknownHandle, id)
	}
	return r.operations[id-1], nil
}

// GetOperationByExternalID resolves an operation by its scenario id
func (r *ProductionRepository) GetOperationByExternalID(externalID string) (*entities.Operation, error) {
	id, exists := r.opsByExtID[externalID]
	if !exists {
		return nil, fmt.Errorf("%w: operation %s", entities.ErrUnknownHandle, externalID)
	}
	return r.GetOperation(id)
}

// GetActivity resolves an activity handle
func (r *ProductionRepository) GetActivity(id entities.ActivityID) (*entities.Activity, error) {
	if id <= 0 || int(id) > len(r.activities) {
		return nil, fmt.Errorf("%w: activity %d", entities.ErrUnknownHandle, id)
	}
	return r.activities[id-1], nil
}

// GetAssociation resolves an association handle
func (r *ProductionRepository) GetAssociation(id entities.AssociationID) (*entities.Association, error) {
	if id <= 0 || int(id) > len(r.associations) {
		return nil, fmt.Errorf("%w: association %d", entities.ErrUnknownHandle, id)
	}
	return r.associations[id-1], nil
}

// GetAllOrders returns orders in handle order
func (r *ProductionRepository) GetAllOrders() []*entities.ManufacturingOrder {
	result := make([]*entities.ManufacturingOrder, len(r.orders))
	copy(result, r.orders)
	return result
}

// GetAllOperations returns operations in handle order
func (r *ProductionRepository) GetAllOperations() []*entities.Operation {
	result := make([]*entities.Operation, len(r.operations))
	copy(result, r.operations)
	return result
}

// GetAllAssociations returns associations in handle order
func (r *ProductionRepository) GetAllAssociations() []*entities.Association {
	result := make([]*entities.Association, len(r.associations))
	copy(result, r.associations)
	return result
}
