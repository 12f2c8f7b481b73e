// Package ceremony coordinates a powers-of-tau trusted-setup ceremony:
// it admits participants into a FIFO lobby, hands the live SRS snapshot
// to exactly one active contributor at a time, verifies returned
// contributions with pairing checks, and appends accepted ones to the
// durable transcript before advancing the in-memory state.
package ceremony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkceremony/tau-sequencer/auth"
	"github.com/zkceremony/tau-sequencer/srs"
	"github.com/zkceremony/tau-sequencer/transcript"
)

// State is the ceremony lifecycle: Open accepts turns, Finalizing stops
// admitting new turns once the contribution target is met or an
// administrative close is requested, Closed is terminal.
type State int

const (
	StateOpen State = iota
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// participant is the per-identity record. Never deleted; once the
// attempt budget is spent the identity is permanently excluded.
type participant struct {
	identity     auth.Identity
	attemptsUsed int
}

// TurnStatus is the answer to RequestTurn and describes where the
// caller stands.
type TurnStatus struct {
	// Active is true when the caller holds the contribution slot. Then
	// Snapshot is the exact snapshot to build against and ExpiresAt the
	// turn deadline.
	Active    bool
	Snapshot  *srs.SRS
	ExpiresAt time.Time

	// Position is the 0-based place among waiting entries when not
	// active.
	Position int
}

// Receipt acknowledges an accepted contribution.
type Receipt struct {
	Sequence   uint64
	AcceptedAt time.Time
}

// Status is the public ceremony summary.
type Status struct {
	State         State
	LobbySize     int
	Contributions int
	Sequence      uint64
}

// Coordinator owns the live SRS, the lobby, and the attempt ledger. All
// state-mutating operations serialize through one mutex; the only
// concurrent work is contribution verification, which runs outside the
// critical section against an immutable snapshot.
type Coordinator struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	store transcript.Store
	lobby *lobby

	// current is replaced wholesale on every accepted contribution and
	// never mutated in place, so references handed to the verifier stay
	// valid outside the lock.
	current *srs.SRS

	participants  map[string]*participant
	contributions int
	state         State

	// now is the clock; swapped out in tests.
	now func() time.Time

	// beforeVerify, when set, runs after the lock is dropped and before
	// the pairing checks; tests use it to interleave concurrent calls.
	beforeVerify func()
}

// New builds a coordinator, rebuilding the live SRS from the durable
// transcript so a restarted sequencer resumes after the last accepted
// contribution.
func New(ctx context.Context, cfg Config, store transcript.Store, log zerolog.Logger) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:          cfg,
		log:          log,
		store:        store,
		lobby:        newLobby(),
		current:      srs.Initial(cfg.NumG1Powers, cfg.NumG2Powers),
		participants: make(map[string]*participant),
		now:          time.Now,
	}

	records, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		rec := &records[i]
		if rec.Sequence != c.current.Sequence+1 {
			return nil, fmt.Errorf("transcript gap: record %d follows sequence %d", rec.Sequence, c.current.Sequence)
		}
		if cfg.VerifyOnLoad {
			next, err := VerifyContribution(c.current, &rec.Contribution)
			if err != nil {
				return nil, fmt.Errorf("replaying record %d: %w", rec.Sequence, err)
			}
			c.current = next
		} else {
			c.current = rec.Contribution.SRS.Clone()
		}
		c.contributions++
	}

	switch {
	case store.Sealed():
		c.state = StateClosed
	case cfg.TargetContributions > 0 && c.contributions >= cfg.TargetContributions:
		c.state = StateFinalizing
	}

	c.log.Info().
		Int("contributions", c.contributions).
		Uint64("sequence", c.current.Sequence).
		Stringer("state", c.state).
		Msg("ceremony state rebuilt from transcript")
	return c, nil
}

// Run drives the background timeout sweep until ctx is cancelled.
// Expiry is also checked lazily on every operation, so Run only matters
// when no requests arrive for a while.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.sweepLocked(c.now())
			c.mu.Unlock()
		}
	}
}

// sweepLocked force-releases an expired active contributor, evicts
// waiting entries that stopped checking in, and promotes the next
// waiting entry. Callers hold c.mu.
func (c *Coordinator) sweepLocked(now time.Time) {
	if e := c.lobby.expireActive(now); e != nil {
		c.spendAttemptLocked(e.id)
		c.log.Info().Str("id", e.id).Msg("turn expired without a submission")
	}
	for _, e := range c.lobby.staleWaiting(now, c.cfg.CheckinFrequency+c.cfg.CheckinTolerance) {
		c.lobby.remove(e.id)
		c.log.Info().Str("id", e.id).Msg("evicted from lobby after missed check-ins")
	}
	c.tryActivateLocked(now)
}

func (c *Coordinator) tryActivateLocked(now time.Time) {
	if c.state != StateOpen {
		return
	}
	if e := c.lobby.activateNext(now, c.cfg.TurnDuration); e != nil {
		c.log.Info().
			Str("id", e.id).
			Uint64("sequence", c.current.Sequence).
			Time("deadline", e.expiresAt).
			Msg("contribution slot granted")
	}
}

func (c *Coordinator) spendAttemptLocked(id string) int {
	p := c.participants[id]
	if p == nil {
		return 0
	}
	p.attemptsUsed++
	remaining := c.cfg.MaxAttempts - p.attemptsUsed
	if remaining <= 0 {
		c.log.Info().Str("id", id).Msg("attempt budget exhausted")
		return 0
	}
	return remaining
}

func (c *Coordinator) statusForLocked(id string) TurnStatus {
	if act := c.lobby.activeEntry(); act != nil && act.id == id {
		return TurnStatus{
			Active:    true,
			Snapshot:  c.current.Clone(),
			ExpiresAt: act.expiresAt,
		}
	}
	pos, _ := c.lobby.position(id)
	return TurnStatus{Position: pos}
}

// RequestTurn enqueues the identity if it is not in the lobby yet, and
// returns its current standing. It never blocks: callers poll until
// Active is true. Repeated calls double as lobby check-ins and are rate
// limited the same way as Heartbeat.
func (c *Coordinator) RequestTurn(id auth.Identity) (TurnStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)

	if c.state != StateOpen {
		return TurnStatus{}, ErrCeremonyClosed
	}

	p := c.participants[id.ID]
	if p == nil {
		p = &participant{identity: id}
		c.participants[id.ID] = p
	}
	if p.attemptsUsed >= c.cfg.MaxAttempts {
		return TurnStatus{}, ErrAttemptsExhausted
	}

	if c.lobby.contains(id.ID) {
		minGap := c.cfg.CheckinFrequency - c.cfg.CheckinTolerance
		if err := c.lobby.checkin(id.ID, now, minGap); err != nil {
			return TurnStatus{}, err
		}
		return c.statusForLocked(id.ID), nil
	}

	pos, err := c.lobby.enqueue(id.ID, now)
	if err != nil {
		return TurnStatus{}, err
	}
	c.log.Info().Str("id", id.ID).Int("position", pos).Msg("joined the lobby")
	c.tryActivateLocked(now)
	return c.statusForLocked(id.ID), nil
}

// GetCurrentAssignment returns the snapshot the identity must build
// against and the turn deadline. Read-only and safe to call repeatedly.
func (c *Coordinator) GetCurrentAssignment(id auth.Identity) (*srs.SRS, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.now())

	if !c.lobby.contains(id.ID) {
		return nil, time.Time{}, ErrNotQueued
	}
	act := c.lobby.activeEntry()
	if act == nil || act.id != id.ID {
		return nil, time.Time{}, ErrNotYourTurn
	}
	return c.current.Clone(), act.expiresAt, nil
}

// Heartbeat records a liveness ping for a lobby participant. Pings
// arriving faster than the check-in window allows are rejected
// ErrRateLimited; the ping itself refreshes nothing but presence.
func (c *Coordinator) Heartbeat(id auth.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)

	minGap := c.cfg.CheckinFrequency - c.cfg.CheckinTolerance
	return c.lobby.checkin(id.ID, now, minGap)
}

// SubmitContribution is the single state-mutating entry point. The
// pairing checks run outside the mutex against the immutable snapshot
// that was handed out; the commit re-validates the holder and deadline
// inside the mutex, appends to the durable transcript, and only then
// advances the live SRS and releases the slot. If the durable append
// fails the slot is kept so the contribution can be resubmitted.
func (c *Coordinator) SubmitContribution(ctx context.Context, id auth.Identity, contrib *srs.Contribution) (Receipt, error) {
	c.mu.Lock()
	now := c.now()

	// The submitter's own expiry is reported as ErrTurnExpired rather
	// than the ErrNotYourTurn a later caller would see.
	if act := c.lobby.activeEntry(); act != nil && act.id == id.ID && now.After(act.expiresAt) {
		c.sweepLocked(now)
		c.mu.Unlock()
		return Receipt{}, ErrTurnExpired
	}
	c.sweepLocked(now)

	if c.state == StateClosed || c.state == StateFinalizing {
		c.mu.Unlock()
		return Receipt{}, ErrCeremonyClosed
	}
	p := c.participants[id.ID]
	if p == nil {
		c.mu.Unlock()
		return Receipt{}, ErrNotQueued
	}
	if p.attemptsUsed >= c.cfg.MaxAttempts {
		c.mu.Unlock()
		return Receipt{}, ErrAttemptsExhausted
	}
	act := c.lobby.activeEntry()
	if act == nil || act.id != id.ID {
		if c.lobby.contains(id.ID) {
			c.mu.Unlock()
			return Receipt{}, ErrNotYourTurn
		}
		c.mu.Unlock()
		return Receipt{}, ErrNotQueued
	}

	base := c.current
	c.mu.Unlock()

	if c.beforeVerify != nil {
		c.beforeVerify()
	}

	// CPU-bound; runs without the lock. base is immutable and, because
	// only one identity is ever active, cannot be superseded while we
	// verify. The staleness recheck below guards that invariant rather
	// than an expected path.
	next, verr := VerifyContribution(base, contrib)

	c.mu.Lock()
	defer c.mu.Unlock()
	now = c.now()

	if c.state != StateOpen {
		// an administrative close landed while we were verifying
		return Receipt{}, ErrCeremonyClosed
	}
	act = c.lobby.activeEntry()
	if act == nil || act.id != id.ID {
		// the sweeper expired the turn while we were verifying
		return Receipt{}, ErrTurnExpired
	}
	if now.After(act.expiresAt) {
		c.sweepLocked(now)
		return Receipt{}, ErrTurnExpired
	}
	if verr == nil && c.current.Sequence != base.Sequence {
		verr = fmt.Errorf("%w: snapshot advanced during verification", ErrStaleSnapshot)
	}

	if verr != nil {
		if !IsVerificationError(verr) {
			// infrastructure failure inside the verifier (entropy); the
			// turn is kept so the submission can be retried
			return Receipt{}, verr
		}
		remaining := 0
		if consumesAttempt(verr) {
			remaining = c.spendAttemptLocked(id.ID)
		}
		c.lobby.releaseActive(id.ID)
		c.tryActivateLocked(now)
		c.log.Info().Str("id", id.ID).Err(verr).Msg("contribution rejected")
		return Receipt{}, fmt.Errorf("%w (%d attempts left)", verr, remaining)
	}

	rec := &transcript.Record{
		Sequence:   next.Sequence,
		IdentityID: id.ID,
		AcceptedAt: now,
		Contribution: srs.Contribution{
			SRS:       *next.Clone(),
			PublicKey: contrib.PublicKey,
			Hash:      append([]byte(nil), contrib.Hash...),
		},
	}
	// Write-ahead ordering: the record must be durable before the
	// in-memory SRS advances and before the slot is released.
	if err := c.store.Append(ctx, rec); err != nil {
		c.log.Error().Str("id", id.ID).Err(err).Msg("transcript append failed; turn kept for resubmission")
		return Receipt{}, err
	}

	c.current = next
	c.contributions++
	c.lobby.releaseActive(id.ID)

	c.log.Info().
		Str("id", id.ID).
		Uint64("sequence", next.Sequence).
		Int("contributions", c.contributions).
		Msg("contribution accepted")

	if c.cfg.TargetContributions > 0 && c.contributions >= c.cfg.TargetContributions {
		c.state = StateFinalizing
		c.lobby.clear()
		c.log.Info().Int("target", c.cfg.TargetContributions).Msg("contribution target met")
	} else {
		c.tryActivateLocked(now)
	}
	return Receipt{Sequence: next.Sequence, AcceptedAt: now}, nil
}

// AdminClose stops admitting turns and moves the ceremony to
// Finalizing regardless of the contribution target. The lobby is
// dropped; Finalize completes the shutdown.
func (c *Coordinator) AdminClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return
	}
	c.state = StateFinalizing
	c.lobby.clear()
	c.log.Info().Msg("ceremony administratively closed")
}

// Finalize seals the transcript and returns the full ordered record.
// Callable once the contribution target is met or after AdminClose;
// idempotent after the first success.
func (c *Coordinator) Finalize(ctx context.Context) ([]transcript.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		return nil, ErrCeremonyOpen
	case StateFinalizing:
		if err := c.store.Seal(ctx); err != nil {
			return nil, err
		}
		c.state = StateClosed
		c.lobby.clear()
		c.log.Info().Uint64("sequence", c.current.Sequence).Msg("ceremony finalized")
	}
	return c.store.LoadAll(ctx)
}

// Status reports the public ceremony summary.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.now())

	lobbySize := c.lobby.waitingLen()
	if c.lobby.activeEntry() != nil {
		lobbySize++
	}
	return Status{
		State:         c.state,
		LobbySize:     lobbySize,
		Contributions: c.contributions,
		Sequence:      c.current.Sequence,
	}
}

// CurrentSRS returns the live snapshot.
func (c *Coordinator) CurrentSRS() *srs.SRS {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// RemainingAttempts reports the attempt budget left for an identity.
// Unknown identities have the full budget.
func (c *Coordinator) RemainingAttempts(id auth.Identity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.participants[id.ID]
	if p == nil {
		return c.cfg.MaxAttempts
	}
	if p.attemptsUsed >= c.cfg.MaxAttempts {
		return 0
	}
	return c.cfg.MaxAttempts - p.attemptsUsed
}
