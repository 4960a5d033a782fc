package zmachine

import (
	"math/rand"
	"time"
)

// ---------------------------------------------------------------------------
// Random Number Generator
// ---------------------------------------------------------------------------

// countingSource is a seeded PRNG that counts source draws, so a snapshot
// can record (seed, draws) and restore the generator to the exact same
// position. It implements rand.Source64; every Rand-level operation advances
// the underlying source once per draw, making replay exact.
type countingSource struct {
	src     rand.Source64
	rng     *rand.Rand
	seed    int64 // seed currently driving the source
	initial int64 // construction seed, for Reset
	draws   uint64
}

func (c *countingSource) Int63() int64 {
	c.draws++
	return c.src.Int63()
}

func (c *countingSource) Uint64() uint64 {
	c.draws++
	return c.src.Uint64()
}

func (c *countingSource) Seed(seed int64) {
	c.src.Seed(seed)
	c.seed = seed
	c.draws = 0
}

// reset installs the construction seed. Zero draws a seed from the clock;
// the drawn value is recorded so later snapshots and resets stay exact.
func (c *countingSource) reset(seed int64) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c.initial = seed
	c.reseed(seed)
}

// rewind returns to the construction seed, as on Machine.Reset.
func (c *countingSource) rewind() {
	c.reseed(c.initial)
}

// reseed restarts the sequence from an explicit seed (the random opcode's
// negative-operand mode).
func (c *countingSource) reseed(seed int64) {
	c.seed = seed
	c.draws = 0
	c.src = rand.NewSource(seed).(rand.Source64)
	c.rng = rand.New(c)
}

// reseedEntropy restarts from the clock (the random opcode's zero-operand
// mode). The new seed is recorded, so determinism resumes from here.
func (c *countingSource) reseedEntropy() {
	c.reseed(time.Now().UnixNano())
}

// state captures the generator position for snapshots.
func (c *countingSource) state() (seed int64, draws uint64) {
	return c.seed, c.draws
}

// restoreState reseeds and replays the recorded number of draws.
func (c *countingSource) restoreState(seed int64, draws uint64) {
	c.reseed(seed)
	for i := uint64(0); i < draws; i++ {
		c.src.Uint64()
	}
	c.draws = draws
}

// random implements the random opcode: positive yields a uniform value in
// [1, n]; negative reseeds deterministically; zero reseeds from entropy.
func (m *Machine) random(n int16) uint16 {
	switch {
	case n < 0:
		m.rng.reseed(int64(n))
		return 0
	case n == 0:
		m.rng.reseedEntropy()
		return 0
	default:
		return uint16(1 + m.rng.rng.Intn(int(n)))
	}
}
