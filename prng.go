package isoalloc

import (
	"math/rand"
	"os"
	"time"
)

// weakRand drives randomization that matters for resilience against a
// predictable attacker (cache refill offsets, which chunks get seeded
// with a canary at zone creation) but is not itself a secret. Using
// the cryptographic RNG here would be needless overhead on every
// cache refill; using it for canarySecret or pointerMask, which
// genuinely must not be guessable, would be a mistake in the other
// direction.
var weakRand *rand.Rand

func seedWeakRand() {
	s1 := time.Now().UnixNano()
	s2 := time.Now().UnixNano()
	seed := s1 ^ s2 ^ int64(os.Getpid())
	weakRand = rand.New(rand.NewSource(seed))
}

func weakRandUint32() uint32 {
	return weakRand.Uint32()
}

func weakRandIntn(n int) int {
	return weakRand.Intn(n)
}
