package common

import (
	"runtime"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// SameRatio checks e(a₁, a₂) = e(b₁, b₂)
func SameRatio(a1, b1 bn254.G1Affine, a2, b2 bn254.G2Affine) bool {
	var na2 bn254.G2Affine
	na2.Neg(&a2)
	res, err := bn254.PairingCheck(
		[]bn254.G1Affine{a1, b1},
		[]bn254.G2Affine{na2, b2})
	if err != nil {
		panic(err)
	}
	return res
}

// Powers returns [1, a, a², ..., aⁿ⁻¹] in Montgomery form
func Powers(a *fr.Element, n int) []fr.Element {
	result := make([]fr.Element, n)
	result[0] = fr.NewElement(1)
	for i := 1; i < n; i++ {
		result[i].Mul(&result[i-1], a)
	}
	return result
}

// Parallelize splits [0, n) into one chunk per CPU and runs work on
// each chunk concurrently.
func Parallelize(n int, work func(start, end int)) {
	nbCPU := runtime.NumCPU()
	if n < nbCPU {
		nbCPU = n
	}
	if nbCPU <= 1 {
		work(0, n)
		return
	}

	var wg sync.WaitGroup
	chunk := n / nbCPU
	for i := 0; i < nbCPU; i++ {
		start := i * chunk
		end := start + chunk
		if i == nbCPU-1 {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			work(start, end)
		}(start, end)
	}
	wg.Wait()
}
