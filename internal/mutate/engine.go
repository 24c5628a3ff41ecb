// Package mutate implements the deterministic, havoc, and splice
// mutators applied to queue inputs, and the weighted selection policy
// that picks among them.
package mutate

import (
	"math/rand"
	"os"
	"time"
)

// QueueView is the read-only view of the corpus the mutation engine
// needs to implement splice: a list of candidate sibling inputs,
// excluding whichever seed is currently being mutated.
type QueueView interface {
	// OtherPaths returns the on-disk paths of every queue entry other
	// than exclude.
	OtherPaths(exclude string) []string
}

// havocPool is the mutation set a havoc stack draws from. trim and
// splice never take part in a stack.
var havocPool = []func(*rand.Rand, []byte) []byte{
	bitFlip, byteFlip, arithmetic, interestingValue, chunkReplacement, duplicateChunk,
}

type weightedMutation struct {
	name   string
	weight int
}

// Engine holds the single PRNG all mutation decisions are drawn from.
type Engine struct {
	rng *rand.Rand
}

// New returns an Engine seeded from the current time.
func New() *Engine {
	return &Engine{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Mutate produces one mutant from buf (the bytes of the seed at
// currentPath). With probability 90% it applies one single mutation
// chosen by weight; with probability 10% it applies a havoc stack of
// 1-6 mutations. Returns a new buffer; buf itself is never retained.
func (e *Engine) Mutate(buf []byte, currentPath string, queue QueueView) []byte {
	work := append([]byte(nil), buf...)

	if e.rng.Float64() < 0.90 {
		return e.singleMutation(work, currentPath, queue)
	}
	return e.havocStack(work)
}

func (e *Engine) singleMutation(buf []byte, currentPath string, queue QueueView) []byte {
	others := queue.OtherPaths(currentPath)
	spliceWeight, spliceHavocWeight := 5, 1
	if len(others) == 0 {
		spliceWeight, spliceHavocWeight = 0, 0
	}

	weighted := []weightedMutation{
		{"trim", 4},
		{"splice", spliceWeight},
		{"splice_havoc", spliceHavocWeight},
		{"bit_flip", 1},
		{"byte_flip", 1},
		{"arithmetic", 1},
		{"interesting_value", 1},
		{"chunk_replacement", 1},
		{"duplicate_chunk", 1},
	}

	total := 0
	for _, m := range weighted {
		total += m.weight
	}
	r := e.rng.Float64() * float64(total)
	running := 0.0
	for _, m := range weighted {
		if m.weight == 0 {
			continue
		}
		running += float64(m.weight)
		if r > running {
			continue
		}
		return e.apply(m.name, buf, others)
	}
	return buf
}

func (e *Engine) apply(name string, buf []byte, others []string) []byte {
	switch name {
	case "trim":
		return trim(e.rng, buf)
	case "bit_flip":
		return bitFlip(e.rng, buf)
	case "byte_flip":
		return byteFlip(e.rng, buf)
	case "arithmetic":
		return arithmetic(e.rng, buf)
	case "interesting_value":
		return interestingValue(e.rng, buf)
	case "chunk_replacement":
		return chunkReplacement(e.rng, buf)
	case "duplicate_chunk":
		return duplicateChunk(e.rng, buf)
	case "splice":
		other, ok := e.readRandomOther(others)
		if !ok {
			return buf
		}
		return splice(e.rng, buf, other)
	case "splice_havoc":
		other, ok := e.readRandomOther(others)
		if !ok {
			return buf
		}
		spliced := splice(e.rng, buf, other)
		return e.havocStack(spliced)
	default:
		return buf
	}
}

func (e *Engine) readRandomOther(others []string) ([]byte, bool) {
	if len(others) == 0 {
		return nil, false
	}
	path := others[e.rng.Intn(len(others))]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// havocStack applies n independently-chosen mutations (n in [1,6],
// excluding trim and splice) to buf in sequence.
func (e *Engine) havocStack(buf []byte) []byte {
	n := 1 + e.rng.Intn(6)
	for i := 0; i < n; i++ {
		mutator := havocPool[e.rng.Intn(len(havocPool))]
		buf = mutator(e.rng, buf)
	}
	return buf
}
