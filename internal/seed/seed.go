// Package seed defines the corpus entry retained for each input that
// survives a fuzzing execution.
package seed

import (
	"fmt"
	"time"
)

// Seed describes one input retained in the corpus. It is immutable on
// creation except for the two scheduler-owned flags, Visited and Favored,
// which the scheduler flips at cycle boundaries and during selection.
type Seed struct {
	// Path is the on-disk location of the input bytes.
	Path string

	// ID is a unique, assignment-order identifier.
	ID uint64

	// Coverage is the total number of edges hit on the execution that
	// produced this seed (not unique edges).
	Coverage int

	// ExecTime is the wall time, in microseconds, of that execution.
	ExecTime int64

	// FileSize is the byte length of the input.
	FileSize int64

	// Visited is flipped by the scheduler during a cycle.
	Visited bool

	// Favored is recomputed by the scheduler at the start of each cycle.
	Favored bool
}

// New creates a Seed with the scheduler flags at their zero values.
func New(path string, id uint64, coverage int, execTime int64, fileSize int64) *Seed {
	return &Seed{
		Path:     path,
		ID:       id,
		Coverage: coverage,
		ExecTime: execTime,
		FileSize: fileSize,
	}
}

// MarkVisited flips Visited on.
func (s *Seed) MarkVisited() { s.Visited = true }

// UnmarkVisited flips Visited off.
func (s *Seed) UnmarkVisited() { s.Visited = false }

// MarkFavored flips Favored on.
func (s *Seed) MarkFavored() { s.Favored = true }

// UnmarkFavored flips Favored off.
func (s *Seed) UnmarkFavored() { s.Favored = false }

// String renders a human-readable summary used for debug logging.
func (s *Seed) String() string {
	status := ""
	if s.Favored {
		status += "favored,"
	}
	if s.Visited {
		status += "visited,"
	}
	return fmt.Sprintf("Seed[%d] path=%q size=%s exec_time=%s coverage=%d status=[%s]",
		s.ID, s.Path, humanSize(s.FileSize), time.Duration(s.ExecTime)*time.Microsecond, s.Coverage, status)
}

func humanSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}
