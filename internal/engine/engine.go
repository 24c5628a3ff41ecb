// Package engine composes the coverage map, execution channel, corpus
// store, scheduler, and mutation engine into the dry-run and main
// fuzzing loop.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kodaed/lop/internal/corpus"
	"github.com/kodaed/lop/internal/coverage"
	"github.com/kodaed/lop/internal/forkserver"
	"github.com/kodaed/lop/internal/logger"
	"github.com/kodaed/lop/internal/mutate"
	"github.com/kodaed/lop/internal/scheduler"
)

// Crash signal numbers the fork-server reports: SIGABRT, SIGFPE, SIGSEGV.
const (
	sigAbort = 6
	sigFPE   = 8
	sigSegv  = 11
)

func isCrash(status int) bool {
	return status == sigAbort || status == sigFPE || status == sigSegv
}

// Executor is the subset of forkserver.Channel the loop depends on,
// narrowed so tests can substitute a fake target.
type Executor interface {
	Run(timeout time.Duration) (forkserver.Result, error)
}

// Config holds the parameters the loop needs beyond the corpus
// directories the Store already owns.
type Config struct {
	CurrentInputPath string
	Timeout          time.Duration
}

// Engine composes C1-C5 into the dry-run and main fuzzing loop (C6).
type Engine struct {
	cfg      Config
	store    *corpus.Store
	mutator  *mutate.Engine
	sched    *scheduler.Scheduler
	covMap   coverage.Map
	global   *coverage.GlobalBitmap
	exec     Executor
	crashes  int
	timeouts int
	iters    int
}

// New wires an Engine around an already-started Executor and coverage
// map; callers (cmd/lop) own their construction since it involves
// spawning the target process and allocating shared memory.
func New(cfg Config, store *corpus.Store, exec Executor, covMap coverage.Map) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		mutator: mutate.New(),
		sched:   scheduler.New(),
		covMap:  covMap,
		global:  coverage.NewGlobalBitmap(),
		exec:    exec,
	}
}

// DryRun executes every file the initial corpus seeded into the queue
// directory exactly once. Any timeout or crash aborts the session: the
// initial corpus is assumed clean.
func (e *Engine) DryRun(paths []string) error {
	for _, path := range paths {
		buf, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("engine: dry run read %s: %w", path, err)
		}

		res, err := e.execute(buf)
		if err != nil {
			return fmt.Errorf("engine: dry run execute %s: %w", path, err)
		}
		if res.Status == forkserver.StatusTimeout {
			return fmt.Errorf("engine: dry run seed %s timed out", path)
		}
		if isCrash(res.Status) {
			return fmt.Errorf("engine: dry run seed %s crashed (status %d)", path, res.Status)
		}

		_, hits := e.global.Scan(e.covMap)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("engine: dry run stat %s: %w", path, err)
		}
		e.store.AddExisting(path, hits, res.Elapsed.Microseconds(), info.Size())
	}
	logger.Info("dry run complete: %d seed(s), %d edge(s) discovered", len(paths), e.global.Len())
	return nil
}

// Run drives the main loop: select a seed, compute its power schedule,
// produce that many mutants, execute each, and classify the result.
// Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("fuzzing loop stopping: %v", ctx.Err())
			return nil
		default:
		}

		queue := e.store.Queue()
		if len(queue) == 0 {
			return fmt.Errorf("engine: queue is empty, nothing to fuzz")
		}

		sd := e.sched.Select(queue, e.global.Len())
		stats := scheduler.ComputeStats(queue)
		power := scheduler.PowerSchedule(sd, stats)

		base, err := os.ReadFile(sd.Path)
		if err != nil {
			logger.Warn("skipping seed %d, failed to read %s: %v", sd.ID, sd.Path, err)
			continue
		}

		for i := 0; i < power; i++ {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			mutant := e.mutator.Mutate(base, sd.Path, e.store)
			if err := e.runOne(mutant); err != nil {
				logger.Warn("execution error: %v", err)
			}
		}

		e.iters++
		if e.iters%10 == 0 {
			e.logStatus()
		}
	}
}

func (e *Engine) logStatus() {
	st := e.Stats()
	logger.Info("iteration %d: queue=%d edges=%d crashes=%d timeouts=%d",
		st.Iterations, st.QueueSize, st.EdgesSeen, st.Crashes, st.Timeouts)
}

// Summary logs a final report of the session's counters once the loop
// has returned.
func (e *Engine) Summary() {
	st := e.Stats()
	logger.Info("fuzzing session complete: %d iteration(s), %d edge(s), %d crash(es), %d timeout(s), corpus size %d",
		st.Iterations, st.EdgesSeen, st.Crashes, st.Timeouts, st.QueueSize)
}

func (e *Engine) execute(buf []byte) (forkserver.Result, error) {
	if err := os.WriteFile(e.cfg.CurrentInputPath, buf, 0644); err != nil {
		return forkserver.Result{}, fmt.Errorf("write current input: %w", err)
	}
	e.covMap.Reset()
	return e.exec.Run(e.cfg.Timeout)
}

func (e *Engine) runOne(mutant []byte) error {
	res, err := e.execute(mutant)
	if err != nil {
		return err
	}

	switch {
	case res.Status == forkserver.StatusTimeout:
		e.timeouts++
		logger.Debug("execution timed out, skipping")
	case isCrash(res.Status):
		e.crashes++
		path, err := e.store.SaveCrash(mutant)
		if err != nil {
			return fmt.Errorf("save crash: %w", err)
		}
		logger.Info("crash saved to %s (status %d)", path, res.Status)
	default:
		newEdge, hits := e.global.Scan(e.covMap)
		if newEdge {
			sd, err := e.store.Append(mutant, hits, res.Elapsed.Microseconds())
			if err != nil {
				return fmt.Errorf("append seed: %w", err)
			}
			logger.Debug("new edge covered, enqueued seed %d", sd.ID)
		}
	}
	return nil
}

// Stats returns a snapshot of loop counters for status reporting.
type Stats struct {
	Iterations int
	Crashes    int
	Timeouts   int
	EdgesSeen  int
	QueueSize  int
}

// Stats returns the current loop counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Iterations: e.iters,
		Crashes:    e.crashes,
		Timeouts:   e.timeouts,
		EdgesSeen:  e.global.Len(),
		QueueSize:  e.store.Len(),
	}
}
