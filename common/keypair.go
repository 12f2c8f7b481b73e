package common

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// PublicKey is a proof of knowledge of the secret exponent x used to
// update the SRS. S is a fresh random base, SX = x·S, and SPX = x·SP
// where SP is derived from (S, SX, challenge) via hash-to-curve, so the
// proof is bound to the exact transcript position it was produced for.
type PublicKey struct {
	S   bn254.G1Affine
	SX  bn254.G1Affine
	SPX bn254.G2Affine
}

func GenPublicKey(x fr.Element, challenge []byte, dst byte) (PublicKey, error) {
	var pk PublicKey
	_, _, g1, _ := bn254.Generators()

	var s fr.Element
	var sBi big.Int
	if _, err := s.SetRandom(); err != nil {
		return pk, err
	}
	s.BigInt(&sBi)
	pk.S.ScalarMultiplication(&g1, &sBi)

	// compute x*sG1
	var xBi big.Int
	x.BigInt(&xBi)
	pk.SX.ScalarMultiplication(&pk.S, &xBi)

	sp, err := GenSP(pk.S, pk.SX, challenge, dst)
	if err != nil {
		return pk, err
	}

	// compute x*spG2
	pk.SPX.ScalarMultiplication(&sp, &xBi)
	return pk, nil
}

// GenSP computes SP in G₂ as Hash(gˢ, gˢˣ, challenge, dst)
func GenSP(sG1, sxG1 bn254.G1Affine, challenge []byte, dst byte) (bn254.G2Affine, error) {
	buffer := append(sG1.Marshal()[:], sxG1.Marshal()...)
	buffer = append(buffer, challenge...)
	return bn254.HashToG2(buffer, []byte{dst})
}
