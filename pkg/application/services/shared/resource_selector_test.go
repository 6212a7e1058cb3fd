package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/infrastructure/repositories/memory"
)

func selectorFixture(t *testing.T) (*memory.ResourceRepository, *entities.Operation, *entities.Activity) {
	t.Helper()
	repo := memory.NewResourceRepository()
	for _, id := range []entities.ResourceID{"R1", "R2", "R3"} {
		res, err := entities.NewResource(id, string(id), nil)
		require.NoError(t, err)
		require.NoError(t, repo.AddResource(res))
	}

	op, err := entities.NewOperation("FILL", 1, "PAINT", entities.ProductionInfo{})
	require.NoError(t, err)
	op.EligibleResources = []entities.ResourceID{"R1", "R2", "R3"}

	act, err := entities.NewActivity(1, decimal100)
	require.NoError(t, err)
	return repo, op, act
}

func TestSelectPrimaryResource(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("pinned wins", func(t *testing.T) {
		repo, op, act := selectorFixture(t)
		op.DefaultResource = "R3"
		op.LockedResource = "R2"

		res, err := SelectPrimaryResource(op, act, repo)
		require.NoError(t, err)
		assert.Equal(t, entities.ResourceID("R2"), res.ID)
	})

	t.Run("earliest JIT start", func(t *testing.T) {
		repo, op, act := selectorFixture(t)
		act.BufferInfo["R1"] = entities.BufferInfo{Calculated: true, JITStart: base.Add(5 * time.Hour)}
		act.BufferInfo["R2"] = entities.BufferInfo{Calculated: true, JITStart: base.Add(2 * time.Hour)}
		op.EarliestJITStart = entities.TimeOf(base.Add(2 * time.Hour))

		res, err := SelectPrimaryResource(op, act, repo)
		require.NoError(t, err)
		assert.Equal(t, entities.ResourceID("R2"), res.ID)
	})

	t.Run("falls back to first eligible", func(t *testing.T) {
		repo, op, act := selectorFixture(t)

		res, err := SelectPrimaryResource(op, act, repo)
		require.NoError(t, err)
		assert.Equal(t, entities.ResourceID("R1"), res.ID)
	})

	t.Run("missing pinned resource", func(t *testing.T) {
		repo, op, act := selectorFixture(t)
		op.LockedResource = "NOPE"

		_, err := SelectPrimaryResource(op, act, repo)
		assert.Error(t, err)
	})

	t.Run("no eligible resources", func(t *testing.T) {
		repo, op, act := selectorFixture(t)
		op.EligibleResources = nil

		_, err := SelectPrimaryResource(op, act, repo)
		assert.Error(t, err)
	})
}
