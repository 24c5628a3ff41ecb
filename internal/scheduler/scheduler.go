// Package scheduler selects which queued seed to fuzz next and how many
// mutants to spend on it once selected.
package scheduler

import (
	"math/rand"
	"sort"
	"time"

	"github.com/kodaed/lop/internal/seed"
)

// Scheduler holds cycle-local state across calls to Select: the cursor
// into the (possibly re-sorted) queue and the set of seeds marked
// favored for the current cycle. It is a plain value so tests can
// instantiate fresh schedulers instead of relying on package state.
type Scheduler struct {
	cursor  int
	inCycle bool
	favored map[uint64]struct{}
	rng     *rand.Rand
}

// New returns a Scheduler ready to run its first cycle.
func New() *Scheduler {
	return &Scheduler{
		favored: make(map[uint64]struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// sortKey orders the queue by (favored desc, exec_time*file_size asc,
// seed_id asc).
func sortKey(s *seed.Seed) (favoredRank int, cost int64, id uint64) {
	if s.Favored {
		favoredRank = 0
	} else {
		favoredRank = 1
	}
	return favoredRank, s.ExecTime * s.FileSize, s.ID
}

// SortSeeds sorts queue in place by the scheduler's cycle-start key.
func SortSeeds(queue []*seed.Seed) {
	sort.SliceStable(queue, func(i, j int) bool {
		fi, ci, idi := sortKey(queue[i])
		fj, cj, idj := sortKey(queue[j])
		if fi != fj {
			return fi < fj
		}
		if ci != cj {
			return ci < cj
		}
		return idi < idj
	})
}

// startCycle clears visited/favored, recomputes favored against
// numBranches, and re-sorts the queue.
func (s *Scheduler) startCycle(queue []*seed.Seed, numBranches int) {
	s.favored = make(map[uint64]struct{})
	for _, sd := range queue {
		sd.UnmarkVisited()
		if sd.Coverage >= numBranches {
			sd.MarkFavored()
			s.favored[sd.ID] = struct{}{}
		} else {
			sd.UnmarkFavored()
		}
	}
	SortSeeds(queue)
	s.cursor = 0
}

// Select returns the next seed to fuzz, starting a new cycle first if
// the previous one was exhausted (or none has run yet). Returns nil on
// an empty queue.
func (s *Scheduler) Select(queue []*seed.Seed, numBranches int) *seed.Seed {
	if len(queue) == 0 {
		return nil
	}
	if !s.inCycle || s.cursor >= len(queue) {
		s.startCycle(queue, numBranches)
		s.inCycle = true
	}

	if s.rng.Float64() < 0.10 {
		var unvisited []int
		for i := s.cursor; i < len(queue); i++ {
			if !queue[i].Visited {
				unvisited = append(unvisited, i)
			}
		}
		if len(unvisited) > 0 {
			idx := unvisited[s.rng.Intn(len(unvisited))]
			queue[idx].MarkVisited()
			return queue[idx]
		}
	}

	// Favored lookups re-scan from the head so favored seeds lying
	// behind the cursor are never skipped. The cursor only moves in the
	// sequential branch below. Entries already consumed by the random
	// branch are dropped from the set as they're encountered.
	if len(s.favored) > 0 {
		for _, sd := range queue {
			if _, ok := s.favored[sd.ID]; !ok {
				continue
			}
			delete(s.favored, sd.ID)
			if !sd.Visited {
				sd.MarkVisited()
				return sd
			}
		}
	}

	for s.cursor < len(queue) {
		sd := queue[s.cursor]
		s.cursor++
		if !sd.Visited {
			sd.MarkVisited()
			return sd
		}
	}

	// Every remaining seed in this pass was already visited: the cycle
	// is over, so begin a fresh one and take its first seed.
	s.startCycle(queue, numBranches)
	sd := queue[0]
	delete(s.favored, sd.ID)
	sd.MarkVisited()
	s.cursor = 1
	return sd
}

// Stats are the aggregate queue measurements the power schedule scores
// a seed against.
type Stats struct {
	TotalExecUs  int64
	TotalCycles  int
	TotalCov     int
	TotalEntries int
}

// ComputeStats sums exec time and coverage across the whole queue.
func ComputeStats(queue []*seed.Seed) Stats {
	var st Stats
	for _, sd := range queue {
		st.TotalExecUs += sd.ExecTime
		st.TotalCov += sd.Coverage
	}
	st.TotalCycles = len(queue)
	st.TotalEntries = len(queue)
	return st
}

// PowerSchedule scores sd against stats and returns the number of
// mutants to produce, clamped to [1, 200].
func PowerSchedule(sd *seed.Seed, stats Stats) int {
	var avgUs float64
	if stats.TotalCycles == 0 {
		avgUs = float64(sd.ExecTime)
	} else {
		avgUs = float64(stats.TotalExecUs) / float64(stats.TotalCycles)
	}

	var avgCov float64
	if stats.TotalEntries == 0 {
		avgCov = float64(sd.Coverage)
	} else {
		avgCov = float64(stats.TotalCov) / float64(stats.TotalEntries)
	}

	t := float64(sd.ExecTime)
	score := 100.0
	switch {
	case t*0.10 > avgUs:
		score = 10
	case t*0.25 > avgUs:
		score = 25
	case t*0.50 > avgUs:
		score = 50
	case t*0.75 > avgUs:
		score = 75
	case t*4 < avgUs:
		score = 300
	case t*3 < avgUs:
		score = 200
	case t*2 < avgUs:
		score = 150
	}

	c := float64(sd.Coverage)
	switch {
	case c*0.3 > avgCov:
		score *= 3
	case c*0.5 > avgCov:
		score *= 2
	case c*0.75 > avgCov:
		score *= 1.5
	case c*3 < avgCov:
		score *= 0.25
	case c*2 < avgCov:
		score *= 0.5
	case c*1.5 < avgCov:
		score *= 0.75
	}

	power := int(score / 100)
	if power < 1 {
		power = 1
	}
	if power > 200 {
		power = 200
	}
	return power
}
