// Package corpus owns the on-disk queue and crash directories and the
// in-memory Seed slice that mirrors them.
package corpus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/kodaed/lop/internal/logger"
	"github.com/kodaed/lop/internal/seed"
)

// Store is a file-backed corpus: every entry in queueDir and crashesDir
// is named after the directory's entry count at the time it was
// written, so filenames are plain monotonically increasing integers.
type Store struct {
	mu         sync.Mutex
	seedsDir   string
	queueDir   string
	crashesDir string
	queue      []*seed.Seed
	nextID     uint64
}

// New returns a Store rooted at the three configured directories.
func New(seedsDir, queueDir, crashesDir string) *Store {
	return &Store{
		seedsDir:   seedsDir,
		queueDir:   queueDir,
		crashesDir: crashesDir,
	}
}

// Initialize creates queueDir and crashesDir if absent. seedsDir is
// read-only input and is never created by the fuzzer.
func (s *Store) Initialize() error {
	for _, dir := range []string{s.queueDir, s.crashesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("corpus: create %s: %w", dir, err)
		}
	}
	return nil
}

// SeedInitialCorpus copies every regular file from seedsDir into
// queueDir under a fresh numeric filename, and returns their destination
// paths in the order they were copied. It does not build Seed records;
// the dry run does that once it has measured each file's execution.
func (s *Store) SeedInitialCorpus() ([]string, error) {
	entries, err := os.ReadDir(s.seedsDir)
	if err != nil {
		return nil, fmt.Errorf("corpus: read seeds dir %s: %w", s.seedsDir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dst, err := s.copyIntoQueue(filepath.Join(s.seedsDir, e.Name()))
		if err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	logger.Info("seeded initial corpus: %d file(s) from %s", len(paths), s.seedsDir)
	return paths, nil
}

func (s *Store) copyIntoQueue(srcPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyInto(s.queueDir, srcPath)
}

// copyInto copies srcPath into dir under a filename equal to the
// directory's current entry count. Caller must hold s.mu.
func (s *Store) copyInto(dir, srcPath string) (string, error) {
	n, err := countEntries(dir)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, strconv.Itoa(n))
	if err := copyFile(srcPath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func countEntries(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("corpus: read %s: %w", dir, err)
	}
	return len(entries), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("corpus: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("corpus: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("corpus: copy %s -> %s: %w", src, dst, err)
	}
	return out.Sync()
}

// Append records buf as a new queue entry: writes it to a fresh numeric
// file in queueDir, wraps it in a Seed, and appends the Seed to the
// in-memory queue. Returns the new Seed.
func (s *Store) Append(buf []byte, coverage int, execTimeUs int64) (*seed.Seed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := countEntries(s.queueDir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.queueDir, strconv.Itoa(n))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return nil, fmt.Errorf("corpus: write %s: %w", path, err)
	}

	id := s.nextID
	s.nextID++
	sd := seed.New(path, id, coverage, execTimeUs, int64(len(buf)))
	s.queue = append(s.queue, sd)
	return sd, nil
}

// AddExisting registers a Seed for a file that was already copied onto
// disk (the dry-run path), assigning it the next sequential ID.
func (s *Store) AddExisting(path string, coverage int, execTimeUs int64, fileSize int64) *seed.Seed {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	sd := seed.New(path, id, coverage, execTimeUs, fileSize)
	s.queue = append(s.queue, sd)
	return sd
}

// SaveCrash copies current_input's contents into crashesDir under a
// fresh numeric filename.
func (s *Store) SaveCrash(buf []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := countEntries(s.crashesDir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.crashesDir, strconv.Itoa(n))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", fmt.Errorf("corpus: write crash %s: %w", path, err)
	}
	return path, nil
}

// OtherPaths returns the on-disk path of every queue entry other than
// exclude whose file still exists, for the mutation engine's splice
// operator.
func (s *Store) OtherPaths(exclude string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for _, sd := range s.queue {
		if sd.Path == exclude {
			continue
		}
		if _, err := os.Stat(sd.Path); err != nil {
			continue
		}
		paths = append(paths, sd.Path)
	}
	return paths
}

// Queue returns the live in-memory seed slice. Callers that reorder it
// (the scheduler, at cycle boundaries) mutate it in place.
func (s *Store) Queue() []*seed.Seed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// Len returns the number of seeds currently tracked, which must equal
// the queue directory's file count at every iteration boundary.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// sortedQueueIndices parses every queue file's basename back to its
// integer index, used only by tests to assert the directory/queue
// invariant without re-deriving the naming scheme.
func (s *Store) sortedQueueIndices() ([]int, error) {
	entries, err := os.ReadDir(s.queueDir)
	if err != nil {
		return nil, err
	}
	idx := make([]int, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		idx = append(idx, n)
	}
	sort.Ints(idx)
	return idx, nil
}
