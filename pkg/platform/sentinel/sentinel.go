package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors at the
// boundary.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: master, detail, or request does not exist in the store
// - ErrConflict: unique business key or open-request slot already taken
// - ErrInvalidState: entity in wrong lifecycle state for the operation
// - ErrStale: optimistic version check on the master row failed
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrStale        = errors.New("stale version")
)
