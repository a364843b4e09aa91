// Package random provides the randomness abstraction used for room codes and
// for choosing which player opens a game.
package random

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"sync"
)

// Source is the randomness provider.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// cryptoSource implements Source using crypto/rand.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics if n <= 0 or if crypto/rand fails.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("random: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("random: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// seededSource is a deterministic PCG generator guarded by a mutex.
type seededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededSource returns a deterministic Source. Two sources built from
// the same seed produce the same sequence.
func NewSeededSource(seed uint64) Source {
	return &seededSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn returns a pseudo-random int in [0, n).
//
// Precondition: n > 0. Panics if n <= 0.
func (s *seededSource) Intn(n int) int {
	if n <= 0 {
		panic("random: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Digits returns a string of n decimal digits drawn from src.
//
// Precondition: n >= 0; src must be non-nil.
func Digits(src Source, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + src.Intn(10))
	}
	return string(b)
}

// FixedSource returns the queued values in order and then repeats the last
// one, reduced modulo n. It exists for deterministic tests.
type FixedSource struct {
	mu     sync.Mutex
	values []int
}

// NewFixedSource returns a FixedSource replaying values.
//
// Precondition: len(values) > 0.
func NewFixedSource(values ...int) *FixedSource {
	return &FixedSource{values: values}
}

// Intn returns the next queued value modulo n.
func (f *FixedSource) Intn(n int) int {
	if n <= 0 {
		panic("random: Intn called with n <= 0")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.values[0]
	if len(f.values) > 1 {
		f.values = f.values[1:]
	}
	return v % n
}
