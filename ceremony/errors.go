package ceremony

import "errors"

// Verification failures. These are attributable to the submitter and
// consume one attempt from their budget; they never affect the
// transcript.
var (
	ErrMalformedElement     = errors.New("malformed group element")
	ErrIdentityContribution = errors.New("contribution adds no randomness")
	ErrInconsistentUpdate   = errors.New("update is not a consistent scaling of the previous snapshot")
	ErrStaleSnapshot        = errors.New("contribution built against a stale snapshot")
)

// ErrTurnExpired is returned when a submission arrives after the turn
// deadline. Like a verification failure, it consumes an attempt.
var ErrTurnExpired = errors.New("turn expired")

// Usage and state errors. Purely informational; no state is mutated and
// no attempt is consumed.
var (
	ErrNotYourTurn       = errors.New("not your turn")
	ErrNotQueued         = errors.New("not in the queue")
	ErrAlreadyQueued     = errors.New("already in the queue")
	ErrAttemptsExhausted = errors.New("attempt budget exhausted")
	ErrCeremonyClosed    = errors.New("ceremony is closed")
	ErrCeremonyOpen      = errors.New("ceremony is still open")
	ErrRateLimited       = errors.New("checked in too early")
)

// IsVerificationError reports whether err is one of the four
// contribution-verification failure kinds.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMalformedElement) ||
		errors.Is(err, ErrIdentityContribution) ||
		errors.Is(err, ErrInconsistentUpdate) ||
		errors.Is(err, ErrStaleSnapshot)
}

// consumesAttempt decides attempt accounting: verification failures and
// expired turns spend an attempt, everything else does not.
func consumesAttempt(err error) bool {
	return IsVerificationError(err) || errors.Is(err, ErrTurnExpired)
}
