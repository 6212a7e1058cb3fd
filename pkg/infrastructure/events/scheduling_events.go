package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
)

const (
	JITCalculatedEvent    = "jit.calculated"
	JITNotCalculableEvent = "jit.not_calculable"

	StorageAllocatedEvent         = "storage.allocated"
	StorageRetryEvent             = "storage.retry"
	StorageResizedEvent           = "storage.resized"
	StorageCleanoutScheduledEvent = "storage.cleanout.scheduled"
	StorageDisposedEvent          = "storage.disposed"
	StorageDrainedEvent           = "storage.drained"
	StorageAbandonedEvent         = "storage.abandoned"
)

// EventTypes lists every event type the scheduling core publishes
var EventTypes = []string{
	JITCalculatedEvent,
	JITNotCalculableEvent,
	StorageAllocatedEvent,
	StorageRetryEvent,
	StorageResizedEvent,
	StorageCleanoutScheduledEvent,
	StorageDisposedEvent,
	StorageDrainedEvent,
	StorageAbandonedEvent,
}

type JITCalculated struct {
	Operation                string    `json:"operation"`
	NeedDate                 time.Time `json:"need_date"`
	DbrNeedDate              time.Time `json:"dbr_need_date"`
	EarliestJITStart         time.Time `json:"earliest_jit_start"`
	EarliestBufferedJITStart time.Time `json:"earliest_buffered_jit_start"`
	// Late is set when the JIT start falls before the simulation clock
	Late bool `json:"late"`
}

type JITNotCalculable struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

type StorageAllocated struct {
	PlanID   uuid.UUID           `json:"plan_id"`
	Activity entities.ActivityID `json:"activity"`
	Item     entities.PartNumber `json:"item"`
	Path     string              `json:"path"`
	Lots     []StoredLot         `json:"lots"`
}

type StoredLot struct {
	DemandID uuid.UUID       `json:"demand_id"`
	Area     string          `json:"area"`
	Qty      decimal.Decimal `json:"qty"`
}

type StorageRetry struct {
	Activity          entities.ActivityID `json:"activity"`
	Item              entities.PartNumber `json:"item"`
	RetryDate         time.Time           `json:"retry_date,omitempty"`
	RetryAtNextOnline bool                `json:"retry_at_next_online"`
	RetryStorageAreas []string            `json:"retry_storage_areas"`
}

type StorageResized struct {
	Activity entities.ActivityID `json:"activity"`
	OldQty   decimal.Decimal     `json:"old_qty"`
	NewQty   decimal.Decimal     `json:"new_qty"`
}

type StorageCleanoutScheduled struct {
	Cleanout entities.CleanoutRecord `json:"cleanout"`
}

type StorageDisposed struct {
	Area string                `json:"area"`
	Lots []entities.StorageLot `json:"lots"`
}

type StorageDrained struct {
	Area string                `json:"area"`
	Lots []entities.StorageLot `json:"lots"`
}

type StorageAbandoned struct {
	Activity entities.ActivityID `json:"activity"`
	Item     entities.PartNumber `json:"item"`
	Attempts int                 `json:"attempts"`
	Reason   string              `json:"reason"`
}
