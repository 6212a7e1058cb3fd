package services

import (
	"time"

	"github.com/vsinha/aps/pkg/domain/entities"
)

// ThresholdDisposalPolicy discards resident lots no larger than the item
// storage's DisposalQty. A zero DisposalQty disables disposal.
type ThresholdDisposalPolicy struct{}

var _ entities.DisposalPolicy = ThresholdDisposalPolicy{}

// Disposable reports whether lot may be discarded to make room at t
func (ThresholdDisposalPolicy) Disposable(storage *entities.ItemStorage, lot entities.StorageLot, at time.Time) bool {
	if !storage.DisposalQty.IsPositive() {
		return false
	}
	if lot.StoredAt.After(at) {
		return false
	}
	return lot.Qty.LessThanOrEqual(storage.DisposalQty)
}
