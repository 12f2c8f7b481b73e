package ceremony

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkceremony/tau-sequencer/auth"
	"github.com/zkceremony/tau-sequencer/srs"
	"github.com/zkceremony/tau-sequencer/transcript"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumG1Powers = 8
	cfg.NumG2Powers = 4
	return cfg
}

func newTestCoordinator(t *testing.T, cfg Config, store transcript.Store) (*Coordinator, *fakeClock) {
	t.Helper()
	c, err := New(context.Background(), cfg, store, zerolog.Nop())
	require.NoError(t, err)
	clk := &fakeClock{t: t0}
	c.now = clk.Now
	return c, clk
}

var (
	idA = auth.Identity{ID: "a", Nickname: "alice"}
	idB = auth.Identity{ID: "b", Nickname: "bob"}
	idC = auth.Identity{ID: "c"}
)

func TestSingleContributionCeremony(t *testing.T) {
	cfg := testConfig()
	cfg.TargetContributions = 1
	c, _ := newTestCoordinator(t, cfg, transcript.NewMemStore())

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	require.True(t, st.Active)
	require.EqualValues(t, 0, st.Snapshot.Sequence)

	contrib, err := srs.Contribute(st.Snapshot)
	require.NoError(t, err)
	receipt, err := c.SubmitContribution(context.Background(), idA, contrib)
	require.NoError(t, err)
	require.EqualValues(t, 1, receipt.Sequence)

	require.Equal(t, StateFinalizing, c.Status().State)

	records, err := c.Finalize(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 1, records[0].Sequence)
	require.Equal(t, "a", records[0].IdentityID)
	require.Equal(t, StateClosed, c.Status().State)

	_, err = c.RequestTurn(idB)
	require.ErrorIs(t, err, ErrCeremonyClosed)

	// finalize is idempotent
	again, err := c.Finalize(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func TestTimeoutPromotesNextWithUnchangedSnapshot(t *testing.T) {
	cfg := testConfig()
	c, clk := newTestCoordinator(t, cfg, transcript.NewMemStore())

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	require.True(t, st.Active)

	st, err = c.RequestTurn(idB)
	require.NoError(t, err)
	require.False(t, st.Active)
	require.Equal(t, 0, st.Position)

	clk.Advance(cfg.TurnDuration + time.Second)

	st, err = c.RequestTurn(idB)
	require.NoError(t, err)
	require.True(t, st.Active, "B should inherit the slot after A's turn expired")
	require.EqualValues(t, 0, st.Snapshot.Sequence, "A's non-contribution must not advance the SRS")

	require.Equal(t, cfg.MaxAttempts-1, c.RemainingAttempts(idA))
	require.Equal(t, cfg.MaxAttempts, c.RemainingAttempts(idB))

	// A dropped out of the lobby entirely
	contrib, err := srs.Contribute(st.Snapshot)
	require.NoError(t, err)
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.ErrorIs(t, err, ErrNotQueued)
}

func TestSubmitAfterDeadlineIsTurnExpired(t *testing.T) {
	cfg := testConfig()
	c, clk := newTestCoordinator(t, cfg, transcript.NewMemStore())

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	contrib, err := srs.Contribute(st.Snapshot)
	require.NoError(t, err)

	clk.Advance(cfg.TurnDuration + time.Second)
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.ErrorIs(t, err, ErrTurnExpired)
	require.Equal(t, cfg.MaxAttempts-1, c.RemainingAttempts(idA))
	require.Equal(t, 0, c.Status().Contributions)
}

func TestRejectionConsumesAttemptAndReleasesSlot(t *testing.T) {
	cfg := testConfig()
	c, _ := newTestCoordinator(t, cfg, transcript.NewMemStore())

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	c.RequestTurn(idB)

	var one fr.Element
	one.SetOne()
	contrib, err := srs.NewContribution(st.Snapshot, one)
	require.NoError(t, err)
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.ErrorIs(t, err, ErrIdentityContribution)
	require.Equal(t, cfg.MaxAttempts-1, c.RemainingAttempts(idA))
	require.Equal(t, 0, c.Status().Contributions)

	// B was promoted and the snapshot did not move
	snap, _, err := c.GetCurrentAssignment(idB)
	require.NoError(t, err)
	require.EqualValues(t, 0, snap.Sequence)
}

func TestAttemptsExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, _ := newTestCoordinator(t, cfg, transcript.NewMemStore())

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)

	var one fr.Element
	one.SetOne()
	contrib, err := srs.NewContribution(st.Snapshot, one)
	require.NoError(t, err)
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.ErrorIs(t, err, ErrIdentityContribution)

	_, err = c.RequestTurn(idA)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestStorageFailureKeepsTurn(t *testing.T) {
	cfg := testConfig()
	store := transcript.NewMemStore()
	c, _ := newTestCoordinator(t, cfg, store)

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	contrib, err := srs.Contribute(st.Snapshot)
	require.NoError(t, err)

	store.AppendErr = errors.New("disk full")
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.True(t, transcript.IsStorageError(err), "got %v", err)

	// no partial mutation: slot kept, SRS unchanged, transcript empty
	snap, _, err := c.GetCurrentAssignment(idA)
	require.NoError(t, err)
	require.EqualValues(t, 0, snap.Sequence)
	require.Equal(t, 0, c.Status().Contributions)
	require.Equal(t, cfg.MaxAttempts, c.RemainingAttempts(idA))

	// resubmission goes through once the durable layer recovers
	receipt, err := c.SubmitContribution(context.Background(), idA, contrib)
	require.NoError(t, err)
	require.EqualValues(t, 1, receipt.Sequence)
}

func TestSequenceContiguityAcrossParticipants(t *testing.T) {
	cfg := testConfig()
	store := transcript.NewMemStore()
	c, clk := newTestCoordinator(t, cfg, store)

	for i, id := range []auth.Identity{idA, idB, idC} {
		st, err := c.RequestTurn(id)
		require.NoError(t, err)
		require.True(t, st.Active)
		require.EqualValues(t, i, st.Snapshot.Sequence)

		contrib, err := srs.Contribute(st.Snapshot)
		require.NoError(t, err)
		receipt, err := c.SubmitContribution(context.Background(), id, contrib)
		require.NoError(t, err)
		require.EqualValues(t, i+1, receipt.Sequence)
		clk.Advance(time.Second)
	}

	records, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		require.EqualValues(t, i+1, rec.Sequence, "sequence numbers must be contiguous")
	}
}

func TestRecoveryFromTranscript(t *testing.T) {
	cfg := testConfig()
	store := transcript.NewMemStore()
	c, _ := newTestCoordinator(t, cfg, store)

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	contrib, err := srs.Contribute(st.Snapshot)
	require.NoError(t, err)
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.NoError(t, err)

	// a restarted sequencer resumes after the last durable record,
	// re-verifying the stored chain
	cfg.VerifyOnLoad = true
	c2, _ := newTestCoordinator(t, cfg, store)
	require.EqualValues(t, 1, c2.Status().Sequence)
	require.Equal(t, 1, c2.Status().Contributions)

	st, err = c2.RequestTurn(idB)
	require.NoError(t, err)
	require.True(t, st.Active)
	require.EqualValues(t, 1, st.Snapshot.Sequence)
}

func TestRequestTurnRateLimited(t *testing.T) {
	cfg := testConfig()
	c, clk := newTestCoordinator(t, cfg, transcript.NewMemStore())

	_, err := c.RequestTurn(idA)
	require.NoError(t, err)
	// the first poll after enqueue is exempt
	_, err = c.RequestTurn(idA)
	require.NoError(t, err)
	_, err = c.RequestTurn(idA)
	require.ErrorIs(t, err, ErrRateLimited)

	clk.Advance(cfg.CheckinFrequency)
	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	require.True(t, st.Active)
}

func TestWaitingEvictionAfterMissedCheckins(t *testing.T) {
	cfg := testConfig()
	c, clk := newTestCoordinator(t, cfg, transcript.NewMemStore())

	c.RequestTurn(idA)
	c.RequestTurn(idB)
	require.Equal(t, 2, c.Status().LobbySize)

	// B goes silent well past the check-in window; A is deadline-bound
	clk.Advance(cfg.CheckinFrequency + cfg.CheckinTolerance + time.Second)
	require.Equal(t, 1, c.Status().LobbySize)
	require.ErrorIs(t, c.Heartbeat(idB), ErrNotQueued)
	// eviction costs no attempt
	require.Equal(t, cfg.MaxAttempts, c.RemainingAttempts(idB))
}

func TestGetCurrentAssignment(t *testing.T) {
	cfg := testConfig()
	c, _ := newTestCoordinator(t, cfg, transcript.NewMemStore())

	_, _, err := c.GetCurrentAssignment(idA)
	require.ErrorIs(t, err, ErrNotQueued)

	c.RequestTurn(idA)
	c.RequestTurn(idB)

	_, _, err = c.GetCurrentAssignment(idB)
	require.ErrorIs(t, err, ErrNotYourTurn)

	snap, deadline, err := c.GetCurrentAssignment(idA)
	require.NoError(t, err)
	require.EqualValues(t, 0, snap.Sequence)
	require.Equal(t, t0.Add(cfg.TurnDuration), deadline)
}

func TestAdminClose(t *testing.T) {
	cfg := testConfig()
	c, _ := newTestCoordinator(t, cfg, transcript.NewMemStore())

	_, err := c.Finalize(context.Background())
	require.ErrorIs(t, err, ErrCeremonyOpen)

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	contrib, err := srs.Contribute(st.Snapshot)
	require.NoError(t, err)

	c.AdminClose()
	require.Equal(t, StateFinalizing, c.Status().State)

	_, err = c.RequestTurn(idB)
	require.ErrorIs(t, err, ErrCeremonyClosed)
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.ErrorIs(t, err, ErrCeremonyClosed)

	records, err := c.Finalize(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, StateClosed, c.Status().State)
}

func TestAdminCloseDuringVerification(t *testing.T) {
	cfg := testConfig()
	c, _ := newTestCoordinator(t, cfg, transcript.NewMemStore())

	st, err := c.RequestTurn(idA)
	require.NoError(t, err)
	contrib, err := srs.Contribute(st.Snapshot)
	require.NoError(t, err)

	c.beforeVerify = func() {
		c.AdminClose()
	}
	_, err = c.SubmitContribution(context.Background(), idA, contrib)
	require.ErrorIs(t, err, ErrCeremonyClosed)
	require.Equal(t, StateFinalizing, c.Status().State)
	require.EqualValues(t, 0, c.Status().Sequence, "close during verification must not advance the SRS")
}
