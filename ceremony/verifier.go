package ceremony

import (
	"fmt"
	"sync/atomic"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkceremony/tau-sequencer/common"
	"github.com/zkceremony/tau-sequencer/srs"
)

// VerifyContribution checks that c is a valid, non-degenerate update of
// prev by a single secret exponent known to the submitter, and returns
// the resulting snapshot at sequence prev.Sequence+1.
//
// The function is pure: it performs no I/O, mutates neither argument,
// and is safe to run outside the coordinator's critical section against
// an immutable snapshot. Checks run in order and the first failure
// short-circuits: well-formedness, non-degeneracy, proof of knowledge
// and update binding, then the pairwise power consistency of the
// proposed powers.
func VerifyContribution(prev *srs.SRS, c *srs.Contribution) (*srs.SRS, error) {
	if len(c.SRS.G1) != len(prev.G1) || len(c.SRS.G2) != len(prev.G2) {
		return nil, fmt.Errorf("%w: snapshot dimensions changed", ErrMalformedElement)
	}
	if c.SRS.Sequence != prev.Sequence+1 {
		return nil, fmt.Errorf("%w: proposed sequence %d, want %d",
			ErrStaleSnapshot, c.SRS.Sequence, prev.Sequence+1)
	}

	// Well-formedness. Position 0 is pinned to the generator in both
	// groups; every other point must be a finite point of the right
	// subgroup.
	_, _, g1, g2 := bn254.Generators()
	if !c.SRS.G1[0].Equal(&g1) || !c.SRS.G2[0].Equal(&g2) {
		return nil, fmt.Errorf("%w: power zero is not the generator", ErrMalformedElement)
	}
	if err := checkPointsG1(c.SRS.G1); err != nil {
		return nil, err
	}
	if err := checkPointsG2(c.SRS.G2); err != nil {
		return nil, err
	}
	pk := &c.PublicKey
	if !pk.S.IsOnCurve() || !pk.S.IsInSubGroup() ||
		!pk.SX.IsOnCurve() || !pk.SX.IsInSubGroup() ||
		!pk.SPX.IsOnCurve() || !pk.SPX.IsInSubGroup() {
		return nil, fmt.Errorf("%w: proof of knowledge off curve", ErrMalformedElement)
	}
	if !c.HashValid() {
		return nil, fmt.Errorf("%w: contribution digest mismatch", ErrMalformedElement)
	}

	// Non-degeneracy: a zero or identity exponent adds no randomness.
	if pk.S.IsInfinity() || pk.SX.IsInfinity() || pk.SPX.IsInfinity() {
		return nil, fmt.Errorf("%w: proof of knowledge is the group identity", ErrIdentityContribution)
	}
	if pk.SX.Equal(&pk.S) || c.SRS.G1[1].Equal(&prev.G1[1]) {
		return nil, ErrIdentityContribution
	}

	// Knowledge of the exponent, bound to the exact previous snapshot
	// through the challenge digest.
	sp, err := common.GenSP(pk.S, pk.SX, prev.Challenge(), srs.DstTau)
	if err != nil {
		return nil, fmt.Errorf("deriving proof base: %w", err)
	}
	if !common.SameRatio(pk.S, pk.SX, pk.SPX, sp) {
		return nil, fmt.Errorf("%w: proof of knowledge of τ", ErrInconsistentUpdate)
	}

	// The proposed powers are the previous ones scaled by that same
	// exponent, in both groups.
	if !common.SameRatio(c.SRS.G1[1], prev.G1[1], sp, pk.SPX) {
		return nil, fmt.Errorf("%w: [τ]₁ is not based on the previous snapshot", ErrInconsistentUpdate)
	}
	if !common.SameRatio(pk.S, pk.SX, c.SRS.G2[1], prev.G2[1]) {
		return nil, fmt.Errorf("%w: [τ]₂ is not based on the previous snapshot", ErrInconsistentUpdate)
	}

	// Internal consistency: adjacent powers share one ratio. A random
	// linear combination collapses the n-1 pairwise pairing checks into
	// one per group.
	l1, l2, err := linearCombinationG1(c.SRS.G1)
	if err != nil {
		return nil, err
	}
	if !common.SameRatio(l1, l2, c.SRS.G2[1], g2) {
		return nil, fmt.Errorf("%w: G1 powers are not consecutive powers of τ", ErrInconsistentUpdate)
	}

	m1, m2, err := linearCombinationG2(c.SRS.G2)
	if err != nil {
		return nil, err
	}
	if !common.SameRatio(g1, c.SRS.G1[1], m2, m1) {
		return nil, fmt.Errorf("%w: G2 powers are not consecutive powers of τ", ErrInconsistentUpdate)
	}

	return c.SRS.Clone(), nil
}

func checkPointsG1(points []bn254.G1Affine) error {
	var bad atomic.Bool
	common.Parallelize(len(points), func(start, end int) {
		for i := start; i < end; i++ {
			if points[i].IsInfinity() || !points[i].IsOnCurve() || !points[i].IsInSubGroup() {
				bad.Store(true)
				return
			}
		}
	})
	if bad.Load() {
		return fmt.Errorf("%w: invalid G1 power", ErrMalformedElement)
	}
	return nil
}

func checkPointsG2(points []bn254.G2Affine) error {
	var bad atomic.Bool
	common.Parallelize(len(points), func(start, end int) {
		for i := start; i < end; i++ {
			if points[i].IsInfinity() || !points[i].IsOnCurve() || !points[i].IsInSubGroup() {
				bad.Store(true)
				return
			}
		}
	})
	if bad.Load() {
		return fmt.Errorf("%w: invalid G2 power", ErrMalformedElement)
	}
	return nil
}

func randomScalars(n int) ([]fr.Element, error) {
	r := make([]fr.Element, n)
	for i := range r {
		if _, err := r[i].SetRandom(); err != nil {
			return nil, fmt.Errorf("sampling verifier randomness: %w", err)
		}
	}
	return r, nil
}

// linearCombinationG1 returns L1 = Σ rᵢ·points[i] over the first n-1
// points and L2 = Σ rᵢ·points[i+1] over the last n-1, for fresh random
// rᵢ. points are consecutive powers of τ iff L2 = τ·L1.
func linearCombinationG1(points []bn254.G1Affine) (bn254.G1Affine, bn254.G1Affine, error) {
	var l1, l2 bn254.G1Affine
	r, err := randomScalars(len(points) - 1)
	if err != nil {
		return l1, l2, err
	}
	if _, err := l1.MultiExp(points[:len(points)-1], r, ecc.MultiExpConfig{}); err != nil {
		return l1, l2, err
	}
	if _, err := l2.MultiExp(points[1:], r, ecc.MultiExpConfig{}); err != nil {
		return l1, l2, err
	}
	return l1, l2, nil
}

func linearCombinationG2(points []bn254.G2Affine) (bn254.G2Affine, bn254.G2Affine, error) {
	var l1, l2 bn254.G2Affine
	r, err := randomScalars(len(points) - 1)
	if err != nil {
		return l1, l2, err
	}
	if _, err := l1.MultiExp(points[:len(points)-1], r, ecc.MultiExpConfig{}); err != nil {
		return l1, l2, err
	}
	if _, err := l2.MultiExp(points[1:], r, ecc.MultiExpConfig{}); err != nil {
		return l1, l2, err
	}
	return l1, l2, nil
}
