package services

import (
	"fmt"
	"sort"

	"github.com/vsinha/aps/pkg/domain/entities"
)

// RoutingValidator checks the operation graph and warehouse topology before a run
type RoutingValidator struct{}

// NewRoutingValidator creates a new routing validator
func NewRoutingValidator() *RoutingValidator {
	return &RoutingValidator{}
}

// ValidationResult contains the results of routing validation
type ValidationResult struct {
	HasCycles             bool
	CyclePaths            [][]entities.OperationID
	DuplicateAssociations []entities.Association
	DanglingAssociations  []entities.Association
	Errors                []string
}

// Valid reports whether no errors were found
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// ValidateRouting checks associations for cycles, duplicates and unknown operations
func (v *RoutingValidator) ValidateRouting(operations []*entities.Operation, associations []*entities.Association) *ValidationResult {
	result := &ValidationResult{
		CyclePaths:            make([][]entities.OperationID, 0),
		DuplicateAssociations: make([]entities.Association, 0),
		DanglingAssociations:  make([]entities.Association, 0),
		Errors:                make([]string, 0),
	}

	known := make(map[entities.OperationID]bool, len(operations))
	for _, op := range operations {
		known[op.ID] = true
	}
	for _, a := range associations {
		if !known[a.Predecessor] || !known[a.Successor] {
			result.DanglingAssociations = append(result.DanglingAssociations, *a)
		}
	}

	adjacency := v.buildAdjacencyMap(associations)
	result.CyclePaths = v.detectCycles(adjacency)
	result.HasCycles = len(result.CyclePaths) > 0
	result.DuplicateAssociations = v.detectDuplicates(associations)

	for _, cycle := range result.CyclePaths {
		result.Errors = append(result.Errors, fmt.Sprintf("routing cycle detected: %v", cycle))
	}
	if len(result.DuplicateAssociations) > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("found %d duplicate associations", len(result.DuplicateAssociations)))
	}
	for _, a := range result.DanglingAssociations {
		result.Errors = append(result.Errors, fmt.Sprintf("association %d references unknown operation (%d -> %d)", a.ID, a.Predecessor, a.Successor))
	}

	return result
}

// ValidateWarehouse checks that every area referenced by a connector can store something
func (v *RoutingValidator) ValidateWarehouse(w *entities.Warehouse) *ValidationResult {
	result := &ValidationResult{Errors: make([]string, 0)}
	for _, c := range w.Connectors() {
		if len(c.Resources) == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("connector %s serves no resources", c.ID))
		}
		for _, id := range c.StorageAreas {
			area, ok := w.StorageArea(id)
			if !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("connector %s references unknown storage area %s", c.ID, id))
				continue
			}
			if len(area.ItemStorages()) == 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("storage area %s behind connector %s stores no items", id, c.ID))
			}
		}
	}
	return result
}

// buildAdjacencyMap creates a map of predecessor -> successors
func (v *RoutingValidator) buildAdjacencyMap(associations []*entities.Association) map[entities.OperationID][]entities.OperationID {
	adjacency := make(map[entities.OperationID][]entities.OperationID)
	for _, a := range associations {
		successors := adjacency[a.Predecessor]
		found := false
		for _, s := range successors {
			if s == a.Successor {
				found = true
				break
			}
		}
		if !found {
			adjacency[a.Predecessor] = append(successors, a.Successor)
		}
	}
	return adjacency
}

// detectCycles uses DFS to find cycles in the routing
func (v *RoutingValidator) detectCycles(adjacency map[entities.OperationID][]entities.OperationID) [][]entities.OperationID {
	visited := make(map[entities.OperationID]bool)
	onStack := make(map[entities.OperationID]bool)
	cycles := make([][]entities.OperationID, 0)

	// deterministic start order
	starts := make([]entities.OperationID, 0, len(adjacency))
	for op := range adjacency {
		starts = append(starts, op)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, op := range starts {
		if !visited[op] {
			v.dfsDetectCycle(op, adjacency, visited, onStack, nil, &cycles)
		}
	}
	return cycles
}

func (v *RoutingValidator) dfsDetectCycle(
	current entities.OperationID,
	adjacency map[entities.OperationID][]entities.OperationID,
	visited map[entities.OperationID]bool,
	onStack map[entities.OperationID]bool,
	path []entities.OperationID,
	cycles *[][]entities.OperationID,
) {
	visited[current] = true
	onStack[current] = true
	path = append(path, current)

	for _, next := range adjacency[current] {
		if !visited[next] {
			v.dfsDetectCycle(next, adjacency, visited, onStack, path, cycles)
			continue
		}
		if !onStack[next] {
			continue
		}
		for i, op := range path {
			if op == next {
				cycle := make([]entities.OperationID, 0, len(path)-i+1)
				cycle = append(cycle, path[i:]...)
				cycle = append(cycle, next)
				*cycles = append(*cycles, cycle)
				break
			}
		}
	}

	onStack[current] = false
}

// detectDuplicates finds associations repeating the same predecessor/successor pair
func (v *RoutingValidator) detectDuplicates(associations []*entities.Association) []entities.Association {
	seen := make(map[string]bool)
	duplicates := make([]entities.Association, 0)
	for _, a := range associations {
		key := fmt.Sprintf("%d|%d", a.Predecessor, a.Successor)
		if seen[key] {
			duplicates = append(duplicates, *a)
			continue
		}
		seen[key] = true
	}
	return duplicates
}
