// Package shared holds the domain types every bounded context uses: IDs,
// points, pillars, the error taxonomy and the event contracts. It imports
// nothing outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every DomainError carries one of these so callers can match
// with errors.Is without knowing which context produced the error.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Resolver exhaustion. Callers absorb these as idempotent no-ops and
	// must never surface them to end users.
	ErrAlreadyComplete = errors.New("task slot already complete")
	ErrNoMoreSlots     = errors.New("no more task slots for pillar")

	// Finalization barrier: mutation attempted for a frozen student+season.
	ErrSeasonFinalized = errors.New("season finalized for student")

	// Lost race against a concurrent writer. The loser re-reads the row
	// the winner created.
	ErrConflict = errors.New("conflicting concurrent write")
)

// DomainError ties an error kind to the context and operation that raised
// it. Kind drives errors.Is matching; Err is the wrapped cause, when any.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches against both the kind and the wrapped cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError builds a DomainError without a wrapped cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError builds a DomainError around an underlying error.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Catalog errors.
var (
	ErrSeasonNotFound      = NewDomainError("catalog", "FindSeason", ErrNotFound, "season not found")
	ErrEpisodeNotFound     = NewDomainError("catalog", "FindEpisode", ErrNotFound, "episode not found")
	ErrTaskDefNotFound     = NewDomainError("catalog", "FindTaskDefinition", ErrNotFound, "task definition not found")
	ErrNoActiveSeason      = NewDomainError("catalog", "ActiveSeason", ErrNotFound, "no active season")
	ErrDuplicateActive     = NewDomainError("catalog", "Activate", ErrInvalidState, "another season is already active")
	ErrInvalidPillar       = NewDomainError("catalog", "Validate", ErrInvalidInput, "unknown pillar")
	ErrInvalidOrdinal      = NewDomainError("catalog", "Validate", ErrValueOutOfRange, "episode ordinal out of range")
	ErrEmptyEpisodeTaskSet = NewDomainError("catalog", "Validate", ErrInvalidEntity, "episode has no task definitions")
)

// Progression errors.
var (
	ErrProgressNotFound   = NewDomainError("progression", "FindProgress", ErrNotFound, "episode progress not found")
	ErrCompletionNotFound = NewDomainError("progression", "FindCompletion", ErrNotFound, "task completion not found")
	ErrSlotAlreadyFilled  = NewDomainError("progression", "RecordCompletion", ErrAlreadyExists, "task slot already completed")
	ErrPillarExhausted    = NewDomainError("progression", "ResolveTask", ErrNoMoreSlots, "all task slots for pillar are complete")
	ErrStatusRegression   = NewDomainError("progression", "Transition", ErrStateTransition, "episode status cannot move backward")
)

// Scoring errors.
var (
	ErrScoreNotFound   = NewDomainError("scoring", "FindScore", ErrNotFound, "season score not found")
	ErrScoreFrozen     = NewDomainError("scoring", "ApplyScore", ErrSeasonFinalized, "season score is frozen")
	ErrScoreConflict   = NewDomainError("scoring", "CreateScore", ErrConflict, "score row created concurrently")
	ErrNegativePoints  = NewDomainError("scoring", "Validate", ErrNegativeValue, "points cannot be negative")
	ErrPointsOutOfCap  = NewDomainError("scoring", "Validate", ErrValueOutOfRange, "points exceed season cap")
	ErrAlreadyFrozen   = NewDomainError("scoring", "Finalize", ErrAlreadyExists, "season already finalized for student")
	ErrUnknownSubtotal = NewDomainError("scoring", "ApplyScore", ErrInvalidInput, "unknown pillar subtotal")
)

// Review errors.
var (
	ErrSubmissionNotFound = NewDomainError("review", "FindSubmission", ErrNotFound, "submission not found")
	ErrCommentRequired    = NewDomainError("review", "Validate", ErrEmptyValue, "reviewer comment is required")
	ErrTerminalStatus     = NewDomainError("review", "Transition", ErrStateTransition, "submission is in a terminal status")
	ErrNotReviewable      = NewDomainError("review", "Transition", ErrInvalidState, "submission is not awaiting review")
)

// Leaderboard errors.
var (
	ErrLeaderboardNotFound = NewDomainError("leaderboard", "Find", ErrNotFound, "leaderboard not found")
	ErrSnapshotNotFound    = NewDomainError("leaderboard", "FindSnapshot", ErrNotFound, "snapshot not found")
	ErrInvalidBuckets      = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "percentile buckets must be ascending in (0,100]")
)

// validationKinds are the kinds IsValidation treats as a caller mistake.
var validationKinds = []error{
	ErrValidation,
	ErrInvalidID,
	ErrInvalidInput,
	ErrEmptyValue,
	ErrNegativeValue,
	ErrValueOutOfRange,
}

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err means the entity is already there.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation reports whether err is any of the input validation kinds.
func IsValidation(err error) bool {
	for _, kind := range validationKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsBenignNoOp reports whether the error is a resolver exhaustion condition
// that callers treat as a successful idempotent no-op rather than a failure.
func IsBenignNoOp(err error) bool {
	return errors.Is(err, ErrAlreadyComplete) || errors.Is(err, ErrNoMoreSlots)
}

// IsFinalized reports whether err is the season finalization barrier.
func IsFinalized(err error) bool {
	return errors.Is(err, ErrSeasonFinalized)
}

// IsConflict reports whether err is a lost write race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
