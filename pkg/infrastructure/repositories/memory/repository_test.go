package memory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/aps/pkg/domain/entities"
)

func TestItemRepository_LoadAndGet(t *testing.T) {
	repo := NewItemRepository(2)
	base, err := entities.NewItem("BASE", "Base resin", "KG")
	require.NoError(t, err)
	paint, err := entities.NewItem("PAINT", "Paint", "L")
	require.NoError(t, err)

	require.NoError(t, repo.LoadItems([]*entities.Item{paint, base}))

	got, err := repo.GetItem("BASE")
	require.NoError(t, err)
	assert.Equal(t, "Base resin", got.Description)

	all, err := repo.GetAllItems()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, entities.PartNumber("BASE"), all[0].PartNumber)

	_, err = repo.GetItem("MISSING")
	assert.Error(t, err)
	assert.Error(t, repo.LoadItems([]*entities.Item{base}), "duplicate part number")
}

func TestProductionRepository_ArenaLinks(t *testing.T) {
	repo := NewProductionRepository()

	moID, err := repo.AddOrder(&entities.ManufacturingOrder{
		ExternalID:  "MO-1",
		Product:     "PAINT",
		NeedDate:    time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		RequiredQty: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, entities.OrderID(1), moID)

	mix, err := entities.NewOperation("MIX", moID, "BASE", entities.ProductionInfo{})
	require.NoError(t, err)
	fill, err := entities.NewOperation("FILL", moID, "PAINT", entities.ProductionInfo{})
	require.NoError(t, err)
	mixID, err := repo.AddOperation(mix)
	require.NoError(t, err)
	fillID, err := repo.AddOperation(fill)
	require.NoError(t, err)

	act, err := entities.NewActivity(mixID, decimal.NewFromInt(100))
	require.NoError(t, err)
	actID, err := repo.AddActivity(act)
	require.NoError(t, err)

	assoc, err := entities.NewAssociation(mixID, fillID, entities.NoOverlap, 0)
	require.NoError(t, err)
	assocID, err := repo.AddAssociation(assoc)
	require.NoError(t, err)

	mo, err := repo.GetOrder(moID)
	require.NoError(t, err)
	assert.Equal(t, []entities.OperationID{mixID, fillID}, mo.Operations)
	assert.Equal(t, []entities.ActivityID{actID}, mix.Activities)
	assert.Equal(t, []entities.AssociationID{assocID}, mix.Successors)
	assert.Equal(t, []entities.AssociationID{assocID}, fill.Predecessors)
	assert.True(t, fill.IsTerminal())

	byExt, err := repo.GetOperationByExternalID("FILL")
	require.NoError(t, err)
	assert.Same(t, fill, byExt)

	assert.Len(t, repo.GetAllOperations(), 2)
	assert.Len(t, repo.GetAllAssociations(), 1)
	assert.Len(t, repo.GetAllOrders(), 1)
}

func TestProductionRepository_UnknownHandles(t *testing.T) {
	repo := NewProductionRepository()

	_, err := repo.GetOperation(0)
	assert.ErrorIs(t, err, entities.ErrUnknownHandle)
	_, err = repo.GetActivity(3)
	assert.ErrorIs(t, err, entities.ErrUnknownHandle)
	_, err = repo.GetOperationByExternalID("nope")
	assert.ErrorIs(t, err, entities.ErrUnknownHandle)

	op, err := entities.NewOperation("ORPHAN", 7, "X", entities.ProductionInfo{})
	require.NoError(t, err)
	_, err = repo.AddOperation(op)
	assert.ErrorIs(t, err, entities.ErrUnknownHandle)
}

func TestWarehouseRepository_GetStorageArea(t *testing.T) {
	repo := NewWarehouseRepository()
	w := entities.NewWarehouse("WH1")
	area, err := entities.NewStorageArea("T1", "WH1")
	require.NoError(t, err)
	require.NoError(t, w.AddStorageArea(area))
	require.NoError(t, repo.AddWarehouse(w))

	got, err := repo.GetStorageArea("T1")
	require.NoError(t, err)
	assert.Same(t, area, got)

	_, err = repo.GetStorageArea("T2")
	assert.ErrorIs(t, err, entities.ErrUnknownHandle)

	other := entities.NewWarehouse("WH2")
	dup, err := entities.NewStorageArea("T1", "WH2")
	require.NoError(t, err)
	require.NoError(t, other.AddStorageArea(dup))
	assert.Error(t, repo.AddWarehouse(other))
}

func TestResourceRepository(t *testing.T) {
	repo := NewResourceRepository()
	res, err := entities.NewResource("R1", "Mixer", nil)
	require.NoError(t, err)
	require.NoError(t, repo.AddResource(res))
	assert.Error(t, repo.AddResource(res))

	got, err := repo.GetResource("R1")
	require.NoError(t, err)
	assert.Same(t, res, got)
	_, err = repo.GetResource("R2")
	assert.ErrorIs(t, err, entities.ErrUnknownHandle)
}
