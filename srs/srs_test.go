package srs

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

func TestInitial(t *testing.T) {
	s := Initial(8, 4)
	if s.Sequence != 0 {
		t.Fatalf("initial sequence = %d", s.Sequence)
	}
	if len(s.G1) != 8 || len(s.G2) != 4 {
		t.Fatalf("unexpected dimensions %d/%d", len(s.G1), len(s.G2))
	}
	_, _, g1, g2 := bn254.Generators()
	for i := range s.G1 {
		if !s.G1[i].Equal(&g1) {
			t.Fatalf("G1[%d] is not the generator", i)
		}
	}
	for i := range s.G2 {
		if !s.G2[i].Equal(&g2) {
			t.Fatalf("G2[%d] is not the generator", i)
		}
	}
}

func TestChallengeChangesWithSnapshot(t *testing.T) {
	a := Initial(4, 3)
	b := Initial(4, 3)
	if !bytes.Equal(a.Challenge(), b.Challenge()) {
		t.Fatal("equal snapshots should have equal challenges")
	}
	b.Sequence = 1
	if bytes.Equal(a.Challenge(), b.Challenge()) {
		t.Fatal("sequence must be part of the challenge")
	}
}

func TestNewContributionScalesPowers(t *testing.T) {
	prev := Initial(4, 3)

	var tau fr.Element
	tau.SetUint64(2)
	c, err := NewContribution(prev, tau)
	if err != nil {
		t.Fatal(err)
	}
	if c.SRS.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", c.SRS.Sequence)
	}

	// G1[i] must be τⁱ·g1
	_, _, g1, g2 := bn254.Generators()
	for i := range c.SRS.G1 {
		var want bn254.G1Affine
		want.ScalarMultiplication(&g1, big.NewInt(1<<i))
		if !c.SRS.G1[i].Equal(&want) {
			t.Fatalf("G1[%d] is not τ^%d·g1", i, i)
		}
	}
	for i := range c.SRS.G2 {
		var want bn254.G2Affine
		want.ScalarMultiplication(&g2, big.NewInt(1<<i))
		if !c.SRS.G2[i].Equal(&want) {
			t.Fatalf("G2[%d] is not τ^%d·g2", i, i)
		}
	}

	if !c.HashValid() {
		t.Fatal("fresh contribution must carry a valid digest")
	}
}

func TestContributionRoundTrip(t *testing.T) {
	prev := Initial(4, 3)
	c, err := Contribute(prev)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	var got Contribution
	if _, err := got.ReadFrom(&buf); err != nil {
		t.Fatal(err)
	}
	if got.SRS.Sequence != c.SRS.Sequence {
		t.Fatalf("sequence = %d, want %d", got.SRS.Sequence, c.SRS.Sequence)
	}
	if !bytes.Equal(got.Hash, c.Hash) || !got.HashValid() {
		t.Fatal("digest lost in round trip")
	}
	for i := range c.SRS.G1 {
		if !got.SRS.G1[i].Equal(&c.SRS.G1[i]) {
			t.Fatalf("G1[%d] lost in round trip", i)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := Initial(4, 3)
	c := s.Clone()
	var tau fr.Element
	tau.SetUint64(7)
	scaled := c.scaled(&tau)

	_, _, g1, _ := bn254.Generators()
	if !s.G1[1].Equal(&g1) {
		t.Fatal("scaling a clone mutated the source")
	}
	if scaled.Sequence != s.Sequence+1 {
		t.Fatalf("scaled sequence = %d", scaled.Sequence)
	}
}
