package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodaed/lop/internal/corpus"
	"github.com/kodaed/lop/internal/coverage"
	"github.com/kodaed/lop/internal/forkserver"
)

// fakeExecutor replays a scripted sequence of results and, when covBytes
// is set, flips those coverage-map indices before returning, standing in
// for an instrumented target without spawning a process.
type fakeExecutor struct {
	results  []forkserver.Result
	covBytes [][]int
	calls    int
	covMap   coverage.Map
}

func (f *fakeExecutor) Run(timeout time.Duration) (forkserver.Result, error) {
	i := f.calls
	f.calls++
	if f.covMap != nil && i < len(f.covBytes) {
		for _, idx := range f.covBytes[i] {
			f.covMap.Bytes()[idx] = 1
		}
	}
	if i >= len(f.results) {
		return forkserver.Result{}, nil
	}
	return f.results[i], nil
}

func newTestEngine(t *testing.T, exec *fakeExecutor) (*Engine, *corpus.Store, string) {
	t.Helper()
	root := t.TempDir()
	seedsDir := filepath.Join(root, "seeds")
	require.NoError(t, os.MkdirAll(seedsDir, 0755))
	store := corpus.New(seedsDir, filepath.Join(root, "queue"), filepath.Join(root, "crashes"))
	require.NoError(t, store.Initialize())

	covMap := coverage.NewMemMap()
	exec.covMap = covMap

	cfg := Config{
		CurrentInputPath: filepath.Join(root, "current_input"),
		Timeout:          time.Second,
	}
	e := New(cfg, store, exec, covMap)
	return e, store, seedsDir
}

func TestDryRunRegistersEverySeed(t *testing.T) {
	exec := &fakeExecutor{
		results: []forkserver.Result{
			{Status: 0, Elapsed: time.Millisecond},
			{Status: 0, Elapsed: time.Millisecond},
		},
		covBytes: [][]int{{1, 2}, {3}},
	}
	e, store, seedsDir := newTestEngine(t, exec)

	require.NoError(t, os.WriteFile(filepath.Join(seedsDir, "a"), []byte("AAAA"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(seedsDir, "b"), []byte("BB"), 0644))
	paths, err := store.SeedInitialCorpus()
	require.NoError(t, err)

	require.NoError(t, e.DryRun(paths))
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 3, e.global.Len())
}

func TestDryRunAbortsOnCrash(t *testing.T) {
	exec := &fakeExecutor{
		results: []forkserver.Result{{Status: sigSegv, Elapsed: time.Millisecond}},
	}
	e, store, seedsDir := newTestEngine(t, exec)

	require.NoError(t, os.WriteFile(filepath.Join(seedsDir, "a"), []byte("AAAA"), 0644))
	paths, err := store.SeedInitialCorpus()
	require.NoError(t, err)

	err = e.DryRun(paths)
	assert.Error(t, err)
}

func TestDryRunAbortsOnTimeout(t *testing.T) {
	exec := &fakeExecutor{
		results: []forkserver.Result{{Status: forkserver.StatusTimeout, Elapsed: time.Second}},
	}
	e, store, seedsDir := newTestEngine(t, exec)

	require.NoError(t, os.WriteFile(filepath.Join(seedsDir, "a"), []byte("AAAA"), 0644))
	paths, err := store.SeedInitialCorpus()
	require.NoError(t, err)

	err = e.DryRun(paths)
	assert.Error(t, err)
}

func TestRunOneClassifiesCrash(t *testing.T) {
	exec := &fakeExecutor{results: []forkserver.Result{{Status: sigAbort, Elapsed: time.Millisecond}}}
	e, _, _ := newTestEngine(t, exec)

	require.NoError(t, e.runOne([]byte("mutant")))
	assert.Equal(t, 1, e.crashes)
}

func TestRunOneClassifiesTimeout(t *testing.T) {
	exec := &fakeExecutor{results: []forkserver.Result{{Status: forkserver.StatusTimeout, Elapsed: time.Second}}}
	e, _, _ := newTestEngine(t, exec)

	require.NoError(t, e.runOne([]byte("mutant")))
	assert.Equal(t, 1, e.timeouts)
}

func TestRunOneEnqueuesNewEdge(t *testing.T) {
	exec := &fakeExecutor{
		results:  []forkserver.Result{{Status: 0, Elapsed: time.Millisecond}},
		covBytes: [][]int{{42}},
	}
	e, store, _ := newTestEngine(t, exec)

	require.NoError(t, e.runOne([]byte("mutant")))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, e.global.Len())
}

func TestRunOneSkipsRepeatedEdge(t *testing.T) {
	exec := &fakeExecutor{
		results: []forkserver.Result{
			{Status: 0, Elapsed: time.Millisecond},
			{Status: 0, Elapsed: time.Millisecond},
		},
		covBytes: [][]int{{42}, {42}},
	}
	e, store, _ := newTestEngine(t, exec)

	require.NoError(t, e.runOne([]byte("one")))
	require.NoError(t, e.runOne([]byte("two")))
	assert.Equal(t, 1, store.Len())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	exec := &fakeExecutor{
		results: []forkserver.Result{{Status: 0, Elapsed: time.Millisecond}},
	}
	e, store, seedsDir := newTestEngine(t, exec)

	require.NoError(t, os.WriteFile(filepath.Join(seedsDir, "a"), []byte("AAAA"), 0644))
	paths, err := store.SeedInitialCorpus()
	require.NoError(t, err)
	require.NoError(t, e.DryRun(paths))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, e.Run(ctx))
}

func TestStatsReflectsCounters(t *testing.T) {
	exec := &fakeExecutor{}
	e, _, _ := newTestEngine(t, exec)
	e.iters = 3
	e.crashes = 1
	e.timeouts = 2
	stats := e.Stats()
	assert.Equal(t, 3, stats.Iterations)
	assert.Equal(t, 1, stats.Crashes)
	assert.Equal(t, 2, stats.Timeouts)
}
