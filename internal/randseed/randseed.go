// Package randseed derives deterministic, independent random sources from
// a single root seed, so that "same seed + same config" reproduces a
// byte-identical dataset regardless of worker count or processor count.
//
// Each call site asks for a sub-generator by a stable identifier such as
// "dataset.prompt.length" or "timing.request.cancellation"; randseed hashes
// the identifier together with the root seed and uses the digest to seed a
// fresh math/rand source. No global RNG singleton is ever read directly by
// business logic — callers hold the *rand.Rand they were handed.
package randseed

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// Root owns a benchmark run's seed and mints independent sub-generators.
type Root struct {
	seed uint64
}

// NewRoot creates a Root from the CLI's --random-seed value.
func NewRoot(seed uint64) *Root {
	return &Root{seed: seed}
}

// Derive returns a fresh *rand.Rand seeded from SHA-256(seed || identifier).
// Distinct identifiers yield statistically independent streams; the same
// identifier with the same root seed always yields the same stream.
func (r *Root) Derive(identifier string) *rand.Rand {
	return rand.New(rand.NewSource(deriveSeed(r.seed, identifier)))
}

func deriveSeed(seed uint64, identifier string) int64 {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seed)
	h.Write(buf[:])
	h.Write([]byte(identifier))
	digest := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(digest[:8]))
}

// Well-known sub-RNG identifiers, named per spec.md §4.2/§4.3/§9.
const (
	IdentPromptLength     = "dataset.prompt.length"
	IdentImageDimensions  = "dataset.image.dimensions"
	IdentSampleStrategy   = "dataset.sample.strategy"
	IdentPrefixPool       = "dataset.prompt.prefix"
	IdentSeqDistribution  = "dataset.sequence.distribution"
	IdentTurnDelay        = "dataset.turn.delay"
	IdentInterArrival     = "timing.request.interarrival"
	IdentCancellation     = "timing.request.cancellation"
	IdentCancellationTime = "timing.request.cancellation_delay"
)
