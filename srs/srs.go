// Package srs holds the value types of the ceremony: the structured
// reference string snapshot (powers of τ in G₁ and G₂) and the
// contribution that advances it, together with their wire encoding.
package srs

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkceremony/tau-sequencer/common"
)

// SRS is one snapshot of the reference string:
// G1 = [τ⁰]₁, [τ¹]₁, …, [τⁿ⁻¹]₁ and G2 = [τ⁰]₂, [τ¹]₂, …, [τᵐ⁻¹]₂.
// Sequence counts accepted contributions; sequence 0 is the public
// initial parameter set where τ = 1.
type SRS struct {
	Sequence uint64
	G1       []bn254.G1Affine
	G2       []bn254.G2Affine
}

// Initial returns the sequence-0 snapshot: every power is the group
// generator.
func Initial(nG1, nG2 int) *SRS {
	_, _, g1, g2 := bn254.Generators()
	s := &SRS{
		G1: make([]bn254.G1Affine, nG1),
		G2: make([]bn254.G2Affine, nG2),
	}
	for i := range s.G1 {
		s.G1[i].Set(&g1)
	}
	for i := range s.G2 {
		s.G2[i].Set(&g2)
	}
	return s
}

func (s *SRS) Clone() *SRS {
	c := &SRS{
		Sequence: s.Sequence,
		G1:       make([]bn254.G1Affine, len(s.G1)),
		G2:       make([]bn254.G2Affine, len(s.G2)),
	}
	copy(c.G1, s.G1)
	copy(c.G2, s.G2)
	return c
}

// Challenge is the transcript digest participants bind their proof of
// knowledge to: SHA-256 over the sequence number and every point of
// the snapshot.
func (s *SRS) Challenge() []byte {
	sha := sha256.New()
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], s.Sequence)
	sha.Write(seq[:])

	enc := bn254.NewEncoder(sha)
	enc.Encode(s.G1)
	enc.Encode(s.G2)
	return sha.Sum(nil)
}

// scaled returns the next snapshot obtained by multiplying the i-th
// power by τⁱ, leaving position 0 at the generator.
func (s *SRS) scaled(tau *fr.Element) *SRS {
	next := &SRS{
		Sequence: s.Sequence + 1,
		G1:       make([]bn254.G1Affine, len(s.G1)),
		G2:       make([]bn254.G2Affine, len(s.G2)),
	}

	n := len(s.G1)
	if len(s.G2) > n {
		n = len(s.G2)
	}
	pows := common.Powers(tau, n)

	common.Parallelize(len(s.G1), func(start, end int) {
		var bi big.Int
		for i := start; i < end; i++ {
			pows[i].BigInt(&bi)
			next.G1[i].ScalarMultiplication(&s.G1[i], &bi)
		}
	})
	common.Parallelize(len(s.G2), func(start, end int) {
		var bi big.Int
		for i := start; i < end; i++ {
			pows[i].BigInt(&bi)
			next.G2[i].ScalarMultiplication(&s.G2[i], &bi)
		}
	})
	return next
}

// WriteTo serializes the snapshot with the bn254 compressed point
// encoding.
func (s *SRS) WriteTo(w io.Writer) (int64, error) {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], s.Sequence)
	if _, err := w.Write(seq[:]); err != nil {
		return 0, err
	}

	enc := bn254.NewEncoder(w)
	if err := enc.Encode(s.G1); err != nil {
		return 8 + enc.BytesWritten(), err
	}
	if err := enc.Encode(s.G2); err != nil {
		return 8 + enc.BytesWritten(), err
	}
	return 8 + enc.BytesWritten(), nil
}

// ReadFrom deserializes a snapshot, validating that every point is on
// the curve and in the correct subgroup.
func (s *SRS) ReadFrom(r io.Reader) (int64, error) {
	var seq [8]byte
	if _, err := io.ReadFull(r, seq[:]); err != nil {
		return 0, err
	}
	s.Sequence = binary.BigEndian.Uint64(seq[:])

	dec := bn254.NewDecoder(r)
	if err := dec.Decode(&s.G1); err != nil {
		return 8 + dec.BytesRead(), err
	}
	if err := dec.Decode(&s.G2); err != nil {
		return 8 + dec.BytesRead(), err
	}
	if len(s.G1) < 2 || len(s.G2) < 2 {
		return 8 + dec.BytesRead(), errors.New("snapshot needs at least two powers per group")
	}
	return 8 + dec.BytesRead(), nil
}
