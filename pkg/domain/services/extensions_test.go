package services

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/aps/pkg/domain/entities"
)

type setupExt struct {
	name     string
	priority int
	setup    *time.Duration
	err      error
}

func (e setupExt) Name() string  { return e.name }
func (e setupExt) Priority() int { return e.priority }
func (e setupExt) CalculateSetup(*entities.Operation, *entities.Activity, *entities.Resource) (*time.Duration, error) {
	return e.setup, e.err
}

type rcExt struct{}

func (rcExt) Name() string  { return "double-storage" }
func (rcExt) Priority() int { return 0 }
func (rcExt) AfterRequiredCapacityCalculation(_ *entities.Operation, _ *entities.Activity, _ *entities.Resource, rc entities.RequiredCapacity) (*entities.RequiredCapacity, error) {
	adjusted := rc.With(entities.Storage, entities.SpanOf(2*time.Hour))
	return &adjusted, nil
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func testOperation(t *testing.T) (*entities.Operation, *entities.Activity) {
	t.Helper()
	op, err := entities.NewOperation("OP-10", 1, "BASE", entities.ProductionInfo{
		SetupSpan:          30 * time.Minute,
		CycleSpan:          time.Hour,
		QtyPerCycle:        decimal.NewFromInt(10),
		PostProcessingSpan: 15 * time.Minute,
		CleanSpan:          10 * time.Minute,
	})
	require.NoError(t, err)
	act, err := entities.NewActivity(op.ID, decimal.NewFromInt(25))
	require.NoError(t, err)
	return op, act
}

func TestDispatcher_PriorityOrder(t *testing.T) {
	op, act := testOperation(t)
	d := NewDispatcher(
		setupExt{name: "late", priority: 10, setup: durationPtr(time.Hour)},
		setupExt{name: "silent", priority: 1},
		setupExt{name: "early", priority: 5, setup: durationPtr(5 * time.Minute)},
	)

	names := []string{}
	for _, ext := range d.Extensions() {
		names = append(names, ext.Name())
	}
	assert.Equal(t, []string{"silent", "early", "late"}, names)

	setup, err := d.CalculateSetup(op, act, nil)
	require.NoError(t, err)
	require.NotNil(t, setup)
	assert.Equal(t, 5*time.Minute, *setup)
}

func TestDispatcher_WrapsExtensionErrors(t *testing.T) {
	op, act := testOperation(t)
	cause := errors.New("lookup failed")
	d := NewDispatcher(setupExt{name: "broken", err: cause})

	_, err := d.CalculateSetup(op, act, nil)
	require.Error(t, err)

	var extErr *ExtensionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "OP-10", extErr.OperationExternalID)
	assert.Equal(t, "broken", extErr.Extension)
	assert.ErrorIs(t, err, cause)
}

func TestCapacityCalculator_RequiredCapacity(t *testing.T) {
	op, act := testOperation(t)
	res, err := entities.NewResource("R1", "Reactor", nil)
	require.NoError(t, err)
	res.CleanBeforeSpan = 20 * time.Minute

	rc, err := NewCapacityCalculator(nil).RequiredCapacity(op, act, res, act.RequiredFinishQty)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Minute, rc.Span(entities.CleanBefore).Value())
	assert.Equal(t, 30*time.Minute, rc.Span(entities.Setup).Value())
	assert.Equal(t, 3*time.Hour, rc.Span(entities.Processing).Value(), "25 units at 10 per cycle is 3 cycles")
	assert.Equal(t, 15*time.Minute, rc.Span(entities.PostProcessing).Value())
	assert.False(t, rc.Span(entities.Storage).IsSet())
	assert.Equal(t, 10*time.Minute, rc.Span(entities.CleanAfter).Value())
}

func TestCapacityCalculator_ExtensionsOverride(t *testing.T) {
	op, act := testOperation(t)
	act.QtyPerCycle = decimal.NewFromInt(25)

	calc := NewCapacityCalculator(NewDispatcher(
		setupExt{name: "setup", setup: durationPtr(time.Minute)},
		rcExt{},
	))
	rc, err := calc.RequiredCapacity(op, act, nil, act.RequiredFinishQty)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, rc.Span(entities.Setup).Value())
	assert.Equal(t, time.Hour, rc.Span(entities.Processing).Value(), "activity rate overrides operation rate")
	assert.Equal(t, 2*time.Hour, rc.Span(entities.Storage).Value())
	assert.False(t, rc.Span(entities.CleanBefore).IsSet())
}
