package ceremony

import (
	"errors"
	"time"
)

// Config is the ceremony policy. Curve and SRS dimensions are fixed at
// ceremony start; everything else is coordinator scheduling policy.
type Config struct {
	// NumG1Powers and NumG2Powers are the SRS dimensions [τ⁰…τⁿ⁻¹]₁ and
	// [τ⁰…τᵐ⁻¹]₂.
	NumG1Powers int
	NumG2Powers int

	// TurnDuration bounds how long an active contributor may hold the
	// lock before being force-released.
	TurnDuration time.Duration

	// MaxAttempts is the per-identity budget of failed or expired turns.
	MaxAttempts int

	// TargetContributions, when positive, moves the ceremony to
	// Finalizing once that many contributions are accepted. Zero means
	// the ceremony runs until administratively closed.
	TargetContributions int

	// CheckinFrequency is how often waiting participants are expected to
	// check in; CheckinTolerance absorbs clock skew and network jitter.
	// Check-ins earlier than CheckinFrequency-CheckinTolerance are rate
	// limited, and a waiting entry silent for longer than
	// CheckinFrequency+CheckinTolerance is evicted from the lobby.
	CheckinFrequency time.Duration
	CheckinTolerance time.Duration

	// SweepInterval is the period of the background timeout sweep run by
	// Coordinator.Run. Expiry is also checked lazily on every operation,
	// so the sweep only matters for idle ceremonies.
	SweepInterval time.Duration

	// VerifyOnLoad re-verifies every stored contribution when rebuilding
	// state from the transcript at start-up.
	VerifyOnLoad bool
}

// DefaultConfig mirrors the deployment defaults of the hosted ceremony.
func DefaultConfig() Config {
	return Config{
		NumG1Powers:      4096,
		NumG2Powers:      65,
		TurnDuration:     180 * time.Second,
		MaxAttempts:      3,
		CheckinFrequency: 30 * time.Second,
		CheckinTolerance: 2 * time.Second,
		SweepInterval:    time.Second,
	}
}

func (c Config) validate() error {
	if c.NumG1Powers < 2 || c.NumG2Powers < 2 {
		return errors.New("need at least two powers per group")
	}
	if c.NumG2Powers > c.NumG1Powers {
		return errors.New("more G2 than G1 powers")
	}
	if c.TurnDuration <= 0 {
		return errors.New("turn duration must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.TargetContributions < 0 {
		return errors.New("target contributions cannot be negative")
	}
	if c.CheckinFrequency <= 0 || c.CheckinTolerance < 0 || c.CheckinTolerance >= c.CheckinFrequency {
		return errors.New("invalid check-in window")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	return nil
}
