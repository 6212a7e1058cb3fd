package shared

import (
	"fmt"

	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
)

// SelectPrimaryResource picks the resource an activity's output is stored from.
// A pinned resource always wins. Otherwise the first eligible resource whose
// JIT start equals the operation's earliest JIT start is chosen, falling back
// to the first eligible resource that exists.
func SelectPrimaryResource(
	op *entities.Operation,
	act *entities.Activity,
	resources repositories.ResourceRepository,
) (*entities.Resource, error) {
	if pinned := op.PinnedResource(); pinned != "" {
		res, err := resources.GetResource(pinned)
		if err != nil {
			return nil, fmt.Errorf("failed to get pinned resource of %s: %w", op.ExternalID, err)
		}
		return res, nil
	}

	var fallback *entities.Resource
	for _, id := range op.EligibleResources {
		res, err := resources.GetResource(id)
		if err != nil {
			continue
		}
		if fallback == nil {
			fallback = res
		}
		info, ok := act.BufferInfo[id]
		if !ok || !info.Calculated || !op.EarliestJITStart.IsSet() {
			continue
		}
		if info.JITStart.Equal(op.EarliestJITStart.Value()) {
			return res, nil
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("operation %s has no eligible resource", op.ExternalID)
	}
	return fallback, nil
}
