package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/aps/pkg/domain/entities"
)

// RunResult contains the complete output of a planning run
type RunResult struct {
	Clock       time.Time
	Schedules   []OperationSchedule
	Storage     []StorageOutcome
	Adjustments []entities.CycleAdjustment
}

// OperationSchedule is the JIT window computed for one operation
type OperationSchedule struct {
	Order                    string
	Operation                string
	Product                  entities.PartNumber
	Resource                 entities.ResourceID
	NeedDate                 entities.OptionalTime
	DbrNeedDate              entities.OptionalTime
	EarliestJITStart         entities.OptionalTime
	EarliestBufferedJITStart entities.OptionalTime
	NotCalculable            bool
	// Late is set when the JIT start falls before the planning clock
	Late bool
}

// StorageOutcome is the result of placing one activity's output into storage
type StorageOutcome struct {
	Order     string
	Operation string
	Item      entities.PartNumber
	Resource  entities.ResourceID
	Success   bool
	Path      string
	Attempts  int
	// StartedAt is the supply start of the attempt that succeeded or was last tried
	StartedAt time.Time
	Qty       decimal.Decimal
	Lots      []StoredQty
	Disposed  []StoredQty
	Drained   []StoredQty
	Cleanouts []entities.CleanoutRecord
	// RetryStorageAreas lists the areas that might accept the supply later
	RetryStorageAreas []string
	Reason            string
}

// StoredQty is a quantity of an item in a storage area
type StoredQty struct {
	Area string
	Item entities.PartNumber
	Qty  decimal.Decimal
}

// StoredTotal sums the quantity placed by the successful outcomes
func (r *RunResult) StoredTotal() decimal.Decimal {
	total := decimal.Zero
	for _, o := range r.Storage {
		for _, l := range o.Lots {
			total = total.Add(l.Qty)
		}
	}
	return total
}

// Failures returns the outcomes that could not be stored
func (r *RunResult) Failures() []StorageOutcome {
	var failed []StorageOutcome
	for _, o := range r.Storage {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}

// LateOperations returns the schedules whose JIT start precedes the clock
func (r *RunResult) LateOperations() []OperationSchedule {
	var late []OperationSchedule
	for _, s := range r.Schedules {
		if s.Late {
			late = append(late, s)
		}
	}
	return late
}
