package loadgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	mrand "math/rand"
)

// randMax mirrors glibc's RAND_MAX (INT_MAX on Linux), which the sampling
// decision below is expressed in terms of.
const randMax = 1<<31 - 1

// noParentSpanIDHex is the sentinel OTel span id a root request carries,
// since there is no real parent span to reference.
const noParentSpanIDHex = "ffffffffffffffff"

// newTraceID generates a random 16-byte OTel trace id and its first 8
// bytes reinterpreted as a little-endian uint64, the id hindsight uses.
// Using 16 cryptographically random bytes rather than a counter matches
// the original client's use of an OpenTelemetry RandomIdGenerator.
func newTraceID() (otelHex string, hindsightID uint64) {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:]), binary.LittleEndian.Uint64(b[:8])
}

// sampleDecision reproduces, deliberately and literally, the original
// client's head-sampling expression `rand()/p > RAND_MAX ? false : true`.
// Read at face value the ternary looks inverted, but it is not a bug: with
// draw uniform over [0, RAND_MAX], `draw/p > RAND_MAX` holds with
// probability (1-p), so the ternary's "false" branch is taken with
// probability (1-p) and request sampling happens (the "true" branch) with
// probability p. Kept exactly as the original expresses it, per the
// resolved Open Question to preserve literal client-visible behavior
// rather than rewrite it as a clearer `draw < p*RAND_MAX` check.
func sampleDecision(rng *mrand.Rand, probability float64) bool {
	draw := rng.Int31()
	return !(float64(draw)/probability > float64(randMax))
}
