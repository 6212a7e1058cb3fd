package entities

import "errors"

var (
	// ErrInvariant marks a programmer error: state the algorithms promise never to produce
	ErrInvariant = errors.New("invariant violation")

	// ErrNoEligibleResources is returned when an operation has nothing to run on
	ErrNoEligibleResources = errors.New("operation has no eligible resources")

	// ErrNoCalculableSuccessor is returned when every material successor of an operation lacks a JIT
	ErrNoCalculableSuccessor = errors.New("operation has no calculable successor")

	// ErrUnknownHandle is returned for arena handles or ids that resolve to nothing
	ErrUnknownHandle = errors.New("unknown handle")
)
