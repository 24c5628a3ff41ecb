// Package coverage owns the fixed-size edge bitmap shared with the
// instrumented target and the cumulative global bitmap derived from it.
package coverage

// MapSize is the fixed size of the shared coverage bitmap: 2^16 bytes.
const MapSize = 1 << 16

// Map is a fixed-size byte array shared with the target process. Each
// index is an edge fingerprint; a nonzero byte means that edge fired at
// least once during the most recent execution. The map must be zeroed
// before every execution and is only safe to read after the fork-server
// has reported that the execution finished.
type Map interface {
	// Bytes exposes the underlying MapSize-length buffer.
	Bytes() []byte

	// Reset zeroes every byte of the map.
	Reset()

	// Close detaches (and, for the owner, removes) the shared segment.
	Close() error
}

// memMap is a Map backed by a plain Go slice, used by tests and by any
// caller that doesn't need cross-process shared memory.
type memMap struct {
	buf [MapSize]byte
}

// NewMemMap returns a Map backed by process-local memory. It satisfies
// the same contract as the shared-memory implementation but shares
// nothing with a child process; useful for unit tests and for local
// in-process harnesses.
func NewMemMap() Map {
	return &memMap{}
}

func (m *memMap) Bytes() []byte { return m.buf[:] }

func (m *memMap) Reset() {
	clear(m.buf[:])
}

func (m *memMap) Close() error { return nil }

// GlobalBitmap is the cumulative mapping from edge index to hit count
// across the whole fuzzing session. It grows monotonically in key set.
type GlobalBitmap struct {
	hits map[uint32]uint64
}

// NewGlobalBitmap creates an empty GlobalBitmap.
func NewGlobalBitmap() *GlobalBitmap {
	return &GlobalBitmap{hits: make(map[uint32]uint64)}
}

// Len returns the number of distinct edges ever observed.
func (g *GlobalBitmap) Len() int { return len(g.hits) }

// Hits returns the cumulative hit count recorded for edge idx, and
// whether the edge has ever been observed.
func (g *GlobalBitmap) Hits(idx uint32) (uint64, bool) {
	v, ok := g.hits[idx]
	return v, ok
}

// Scan walks every byte of m once. For each nonzero byte it increments
// totalHits; if the index is absent from the global bitmap it is
// inserted with value 0 and newEdge is set true (the first observation
// counts as "discovery", not "hit"). Existing entries are incremented.
func (g *GlobalBitmap) Scan(m Map) (newEdge bool, totalHits int) {
	buf := m.Bytes()
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			continue
		}
		totalHits++
		idx := uint32(i)
		if _, ok := g.hits[idx]; ok {
			g.hits[idx]++
		} else {
			g.hits[idx] = 0
			newEdge = true
		}
	}
	return newEdge, totalHits
}
