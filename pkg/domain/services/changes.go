package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Change is a deferred mutation produced by an analysis
type Change struct {
	Description string
	Apply       func() error
}

// ChangeList queues changes from concurrent analyses and applies them on the
// single writer afterwards
type ChangeList struct {
	mu      sync.Mutex
	changes []Change
}

// NewChangeList creates an empty change list
func NewChangeList() *ChangeList {
	return &ChangeList{}
}

// Queue appends a change
func (l *ChangeList) Queue(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

// Len returns the number of queued changes
func (l *ChangeList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

// Apply runs every queued change in order and empties the list.
// It stops at the first failing change.
func (l *ChangeList) Apply() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.changes {
		if err := c.Apply(); err != nil {
			l.changes = l.changes[i+1:]
			return fmt.Errorf("failed to apply change %q: %w", c.Description, err)
		}
	}
	l.changes = nil
	return nil
}

// Analyzer inspects state without mutating it and queues the changes it wants made
type Analyzer func(ctx context.Context, queue func(Change)) error

// RunAnalyses runs analyzers concurrently and queues their changes into list.
// Changes are queued in analyzer order regardless of completion order, so
// applying them is deterministic.
func RunAnalyses(ctx context.Context, list *ChangeList, analyzers ...Analyzer) error {
	results := make([][]Change, len(analyzers))
	g, gctx := errgroup.WithContext(ctx)
	for i, analyze := range analyzers {
		i, analyze := i, analyze
		g.Go(func() error {
			return analyze(gctx, func(c Change) {
				results[i] = append(results[i], c)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	for _, changes := range results {
		for _, c := range changes {
			list.Queue(c)
		}
	}
	return nil
}
