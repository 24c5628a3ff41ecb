package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodaed/lop/internal/seed"
)

func mkSeed(id uint64, coverage int, execTime, fileSize int64) *seed.Seed {
	return seed.New("/corpus/"+string(rune('0'+id)), id, coverage, execTime, fileSize)
}

func TestSortSeedsOrdersByFavoredThenCostThenID(t *testing.T) {
	s0 := mkSeed(0, 0, 10, 1) // favored=false, cost=10
	s1 := mkSeed(1, 0, 20, 1) // favored=true,  cost=20
	s1.MarkFavored()
	s2 := mkSeed(2, 0, 50, 1) // favored=true,  cost=50
	s2.MarkFavored()

	queue := []*seed.Seed{s1, s0, s2}
	SortSeeds(queue)

	var ids []uint64
	for _, s := range queue {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []uint64{1, 2, 0}, ids)
}

func TestSchedulerCycleStartSortMatchesScenario(t *testing.T) {
	// (favored, exec_time*size, seed_id) = (1,50,2), (0,10,0), (1,20,1)
	// sorts to ids [1, 2, 0].
	s2 := mkSeed(2, 100, 50, 1)
	s2.MarkFavored()
	s0 := mkSeed(0, 0, 10, 1)
	s1 := mkSeed(1, 100, 20, 1)
	s1.MarkFavored()

	queue := []*seed.Seed{s2, s0, s1}

	// Select's 10% random branch makes a three-call selection order
	// nondeterministic, so drive startCycle directly and assert the
	// cycle-start sort it establishes.
	sch := New()
	sch.startCycle(queue, 1)

	var ids []uint64
	for _, s := range queue {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []uint64{1, 2, 0}, ids)
}

func TestSelectNeverRepeatsWithinACycle(t *testing.T) {
	queue := []*seed.Seed{
		mkSeed(0, 0, 1, 1),
		mkSeed(1, 0, 2, 1),
		mkSeed(2, 0, 3, 1),
	}
	sch := New()

	seen := make(map[uint64]bool)
	for i := 0; i < len(queue); i++ {
		sd := sch.Select(queue, 1000)
		require.NotNil(t, sd)
		assert.False(t, seen[sd.ID], "seed %d selected twice within a cycle", sd.ID)
		seen[sd.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestSelectFindsFavoredSeedBehindCursor(t *testing.T) {
	s0 := mkSeed(0, 100, 1, 1)
	s0.MarkFavored()
	s1 := mkSeed(1, 0, 2, 1)
	s1.MarkVisited()
	s2 := mkSeed(2, 0, 3, 1)
	s2.MarkVisited()
	queue := []*seed.Seed{s0, s1, s2}

	// Mid-cycle state with the cursor already past s0: every seed at or
	// after the cursor is visited, so the random branch has no candidate
	// and the favored scan must still find s0 back at the head.
	sch := New()
	sch.inCycle = true
	sch.cursor = 1
	sch.favored = map[uint64]struct{}{s0.ID: {}}

	sd := sch.Select(queue, 1)
	require.NotNil(t, sd)
	assert.Equal(t, uint64(0), sd.ID)
	assert.Equal(t, 1, sch.cursor, "favored lookups must not move the cursor")
}

func TestSelectStartsNewCycleWhenExhausted(t *testing.T) {
	queue := []*seed.Seed{
		mkSeed(0, 0, 1, 1),
		mkSeed(1, 0, 2, 1),
	}
	sch := New()

	for i := 0; i < 6; i++ {
		sd := sch.Select(queue, 1000)
		require.NotNil(t, sd, "Select must roll into a fresh cycle instead of running dry")
	}
}

func TestPowerScheduleClampedRange(t *testing.T) {
	stats := Stats{TotalExecUs: 100, TotalCycles: 1, TotalCov: 100, TotalEntries: 1}
	sd := mkSeed(0, 0, 1000, 1)
	p := PowerSchedule(sd, stats)
	assert.GreaterOrEqual(t, p, 1)
	assert.LessOrEqual(t, p, 200)
}

func TestPowerScheduleScenario(t *testing.T) {
	// exec_time=10, coverage=1000 vs avg_us=100, avg_cov=100:
	// time rule t*4<avg_us -> 300, coverage rule c*0.3>avg_cov -> x3
	// -> 900, floor(900/100) -> 9.
	sd := mkSeed(0, 1000, 10, 1)
	stats := Stats{TotalExecUs: 100, TotalCycles: 1, TotalCov: 100, TotalEntries: 1}
	assert.Equal(t, 9, PowerSchedule(sd, stats))
}

func TestComputeStatsSumsQueue(t *testing.T) {
	queue := []*seed.Seed{
		mkSeed(0, 10, 100, 1),
		mkSeed(1, 20, 200, 1),
	}
	st := ComputeStats(queue)
	assert.Equal(t, int64(300), st.TotalExecUs)
	assert.Equal(t, 30, st.TotalCov)
	assert.Equal(t, 2, st.TotalCycles)
	assert.Equal(t, 2, st.TotalEntries)
}
