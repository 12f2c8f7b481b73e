package srs

import (
	"crypto/sha256"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkceremony/tau-sequencer/common"
)

// DstTau is the domain separation tag for the τ proof of knowledge.
const DstTau byte = 1

// Contribution is a proposed next snapshot together with the proof of
// knowledge of the exponent that produced it and a digest binding the
// whole record.
type Contribution struct {
	SRS       SRS
	PublicKey common.PublicKey
	Hash      []byte
}

// NewContribution updates prev by the secret exponent tau. Callers are
// expected to discard tau immediately; the sequencer only ever sees the
// resulting points and the proof of knowledge.
func NewContribution(prev *SRS, tau fr.Element) (*Contribution, error) {
	pk, err := common.GenPublicKey(tau, prev.Challenge(), DstTau)
	if err != nil {
		return nil, err
	}

	c := &Contribution{
		SRS:       *prev.scaled(&tau),
		PublicKey: pk,
	}
	c.Hash = ComputeHash(c)
	return c, nil
}

// Contribute samples a fresh random τ and updates prev with it. This is
// the off-band computation a participant runs against the snapshot
// handed out for their turn.
func Contribute(prev *SRS) (*Contribution, error) {
	var tau fr.Element
	if _, err := tau.SetRandom(); err != nil {
		return nil, err
	}
	return NewContribution(prev, tau)
}

// ComputeHash returns the SHA-256 digest binding a contribution's
// points.
func ComputeHash(c *Contribution) []byte {
	sha := sha256.New()
	enc := bn254.NewEncoder(sha)
	enc.Encode(c.SRS.G1)
	enc.Encode(c.SRS.G2)
	enc.Encode(&c.PublicKey.S)
	enc.Encode(&c.PublicKey.SX)
	enc.Encode(&c.PublicKey.SPX)
	return sha.Sum(nil)
}

// HashValid reports whether the embedded digest matches the points.
func (c *Contribution) HashValid() bool {
	h := ComputeHash(c)
	if len(c.Hash) != len(h) {
		return false
	}
	for i := range h {
		if c.Hash[i] != h[i] {
			return false
		}
	}
	return true
}

func (c *Contribution) WriteTo(w io.Writer) (int64, error) {
	n, err := c.SRS.WriteTo(w)
	if err != nil {
		return n, err
	}

	enc := bn254.NewEncoder(w)
	toEncode := []interface{}{
		&c.PublicKey.S,
		&c.PublicKey.SX,
		&c.PublicKey.SPX,
	}
	for _, v := range toEncode {
		if err := enc.Encode(v); err != nil {
			return n + enc.BytesWritten(), err
		}
	}

	nHash, err := w.Write(c.Hash)
	return n + enc.BytesWritten() + int64(nHash), err
}

func (c *Contribution) ReadFrom(r io.Reader) (int64, error) {
	n, err := c.SRS.ReadFrom(r)
	if err != nil {
		return n, err
	}

	dec := bn254.NewDecoder(r)
	toDecode := []interface{}{
		&c.PublicKey.S,
		&c.PublicKey.SX,
		&c.PublicKey.SPX,
	}
	for _, v := range toDecode {
		if err := dec.Decode(v); err != nil {
			return n + dec.BytesRead(), err
		}
	}

	c.Hash = make([]byte, sha256.Size)
	nHash, err := io.ReadFull(r, c.Hash)
	return n + dec.BytesRead() + int64(nHash), err
}
