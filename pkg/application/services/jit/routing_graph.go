package jit

import (
	"fmt"
	"sort"

	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/repositories"
)

// RoutingNode is one operation with its distinct neighbours
type RoutingNode struct {
	Operation    entities.OperationID
	Successors   map[entities.OperationID]bool
	Predecessors map[entities.OperationID]bool
	// Level is the longest successor chain below the node; terminal operations are level 0
	Level int
}

// RoutingGraph is a read-only view of the association graph used to order JIT calculation
type RoutingGraph struct {
	nodes map[entities.OperationID]*RoutingNode
}

// NewRoutingGraph builds the graph from every operation and association in the arena
func NewRoutingGraph(production repositories.ProductionRepository) *RoutingGraph {
	g := &RoutingGraph{nodes: make(map[entities.OperationID]*RoutingNode)}
	for _, op := range production.GetAllOperations() {
		g.ensureNode(op.ID)
	}
	for _, assoc := range production.GetAllAssociations() {
		pred := g.ensureNode(assoc.Predecessor)
		succ := g.ensureNode(assoc.Successor)
		pred.Successors[assoc.Successor] = true
		succ.Predecessors[assoc.Predecessor] = true
	}
	return g
}

func (g *RoutingGraph) ensureNode(id entities.OperationID) *RoutingNode {
	node, exists := g.nodes[id]
	if !exists {
		node = &RoutingNode{
			Operation:    id,
			Successors:   make(map[entities.OperationID]bool),
			Predecessors: make(map[entities.OperationID]bool),
		}
		g.nodes[id] = node
	}
	return node
}

// Node returns the node for an operation, or nil
func (g *RoutingGraph) Node(id entities.OperationID) *RoutingNode {
	return g.nodes[id]
}

// SuccessorsFirstOrder returns every operation after all of its successors,
// using Kahn's algorithm from the terminal operations backwards. Ties are
// broken by handle so the order is deterministic. A cycle is an error.
func (g *RoutingGraph) SuccessorsFirstOrder() ([]entities.OperationID, error) {
	outDegree := make(map[entities.OperationID]int, len(g.nodes))
	queue := make([]entities.OperationID, 0)
	result := make([]entities.OperationID, 0, len(g.nodes))

	for id, node := range g.nodes {
		outDegree[id] = len(node.Successors)
		node.Level = 0
		if outDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sortIDs(queue)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		ready := make([]entities.OperationID, 0)
		for pred := range g.nodes[current].Predecessors {
			predNode := g.nodes[pred]
			if lvl := g.nodes[current].Level + 1; lvl > predNode.Level {
				predNode.Level = lvl
			}
			outDegree[pred]--
			if outDegree[pred] == 0 {
				ready = append(ready, pred)
			}
		}
		sortIDs(ready)
		queue = append(queue, ready...)
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("routing contains a cycle: ordered %d of %d operations", len(result), len(g.nodes))
	}
	return result, nil
}

// Upstream returns the operation and every operation feeding it, transitively
func (g *RoutingGraph) Upstream(id entities.OperationID) map[entities.OperationID]bool {
	affected := make(map[entities.OperationID]bool)
	queue := []entities.OperationID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if affected[current] {
			continue
		}
		affected[current] = true
		if node, exists := g.nodes[current]; exists {
			for pred := range node.Predecessors {
				if !affected[pred] {
					queue = append(queue, pred)
				}
			}
		}
	}
	return affected
}

func sortIDs(ids []entities.OperationID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
