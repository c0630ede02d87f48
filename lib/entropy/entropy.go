// Package entropy provides the seedable random source behind every cosmetic
// value in a lab session (latency jitter, process CPU/memory jitter, request IDs).
package entropy

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// Source is a deterministic random stream derived from a seed string.
// Two sources built from the same seed produce identical sequences.
type Source struct {
	mu     sync.Mutex
	seed   string
	stream *rand.ChaCha8
	rng    *rand.Rand
}

// New returns a Source seeded from seed.
func New(seed string) *Source {
	key := sha3.Sum256([]byte(seed))
	stream := rand.NewChaCha8(key)
	return &Source{
		seed:   seed,
		stream: stream,
		rng:    rand.New(stream),
	}
}

// NewSeed returns a fresh seed string for sessions that did not ask for one.
func NewSeed() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

// Seed returns the seed the source was built from.
func (s *Source) Seed() string {
	return s.seed
}

// Float64 returns a value in [0.0, 1.0).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// IntN returns a value in [0, n). It returns 0 when n <= 0.
func (s *Source) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Between returns a value in [lo, hi).
func (s *Source) Between(lo, hi float64) float64 {
	return lo + s.Float64()*(hi-lo)
}

// Read fills b from the underlying stream. It never fails.
func (s *Source) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Read(b)
}
