package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so the transport layer can map
// them to responses and operators can alert on invariant breaks
// separately from ordinary user mistakes.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindStateConflict ErrorKind = "state_conflict"
	KindCapacity      ErrorKind = "capacity"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindInvariant     ErrorKind = "invariant"
)

// Error is a typed engine error with a short human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Common engine errors.
var (
	ErrTableNotFound         = &Error{KindNotFound, "table not found"}
	ErrNotSeated             = &Error{KindNotFound, "user is not seated at this table"}
	ErrTableFull             = &Error{KindCapacity, "table is full"}
	ErrNeedTwoPlayers        = &Error{KindCapacity, "need at least 2 players to start"}
	ErrTableNotWaiting       = &Error{KindStateConflict, "table is not waiting for players"}
	ErrTableNotInProgress    = &Error{KindStateConflict, "table is not in progress"}
	ErrCannotLeaveAfterStart = &Error{KindStateConflict, "cannot leave after the game has started"}
	ErrNotYourTurn           = &Error{KindStateConflict, "not your turn"}
	ErrAlreadyDrawn          = &Error{KindStateConflict, "already drew a card this turn"}
	ErrMustDrawFirst         = &Error{KindStateConflict, "must draw a card first"}
	ErrCardNotInHand         = &Error{KindStateConflict, "card is not in your hand"}
	ErrSeatNotActive         = &Error{KindStateConflict, "seat has already dropped"}
	ErrOpenPileEmpty         = &Error{KindStateConflict, "open pile is empty"}
	ErrInvalidReclaimCode    = &Error{KindAuthorization, "invalid reclaim code"}
	ErrAlreadySeated         = &Error{KindAuthorization, "user already owns another seat at this table"}
	ErrIdentityInUse         = &Error{KindStateConflict, "new identity already holds a wallet"}
	ErrNotAParticipant       = &Error{KindAuthorization, "viewer is not seated at this table"}
)

func validationError(format string, args ...any) *Error {
	return &Error{KindValidation, fmt.Sprintf(format, args...)}
}

// invariantError marks a bug, not a user mistake. Callers fail the
// operation and operators should alert on this kind.
func invariantError(format string, args ...any) *Error {
	return &Error{KindInvariant, fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an engine error chain. Non-engine
// errors report as invariant so unexpected failures are never silently
// classed as user errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInvariant
}
