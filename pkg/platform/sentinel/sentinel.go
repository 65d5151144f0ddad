package sentinel

import "errors"

// Stores return these (optionally wrapped) facts about records; services
// translate them into coded domain errors.
//
//   - ErrNotFound: no record for the key
//   - ErrConflict: a uniqueness constraint was hit
//   - ErrStale: a compare-and-set lost because the record moved on
//   - ErrInsufficient: a decrement would take a balance below zero
//   - ErrAlreadySet: a write-once field already holds a value
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrStale        = errors.New("stale record")
	ErrInsufficient = errors.New("insufficient balance")
	ErrAlreadySet   = errors.New("already set")
	ErrUnavailable  = errors.New("unavailable")
)
