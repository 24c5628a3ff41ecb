package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	seedsDir := filepath.Join(root, "seeds")
	require.NoError(t, os.MkdirAll(seedsDir, 0755))
	s := New(seedsDir, filepath.Join(root, "queue"), filepath.Join(root, "crashes"))
	require.NoError(t, s.Initialize())
	return s
}

func TestInitializeCreatesQueueAndCrashDirs(t *testing.T) {
	s := newTestStore(t)
	_, err := os.Stat(s.queueDir)
	assert.NoError(t, err)
	_, err = os.Stat(s.crashesDir)
	assert.NoError(t, err)
}

func TestSeedInitialCorpusCopiesWithNumericNames(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.seedsDir, "a.bin"), []byte("AAAA"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.seedsDir, "b.bin"), []byte("BB"), 0644))

	paths, err := s.SeedInitialCorpus()
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	idx, err := s.sortedQueueIndices()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, idx)
}

func TestAppendAssignsSequentialFilenamesAndIDs(t *testing.T) {
	s := newTestStore(t)

	sd1, err := s.Append([]byte("X"), 1, 10)
	require.NoError(t, err)
	sd2, err := s.Append([]byte("Y"), 2, 20)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), sd1.ID)
	assert.Equal(t, uint64(1), sd2.ID)
	assert.FileExists(t, filepath.Join(s.queueDir, "0"))
	assert.FileExists(t, filepath.Join(s.queueDir, "1"))
	assert.Equal(t, 2, s.Len())
}

func TestQueueDirFileCountMatchesLen(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Append([]byte{byte(i)}, 0, 0)
		require.NoError(t, err)
	}
	idx, err := s.sortedQueueIndices()
	require.NoError(t, err)
	assert.Len(t, idx, s.Len())
}

func TestSaveCrashWritesNumericFile(t *testing.T) {
	s := newTestStore(t)
	path, err := s.SaveCrash([]byte("CRASH"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.crashesDir, "0"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "CRASH", string(data))
}

func TestOtherPathsExcludesGivenPathAndMissingFiles(t *testing.T) {
	s := newTestStore(t)
	sd1, err := s.Append([]byte("A"), 0, 0)
	require.NoError(t, err)
	sd2, err := s.Append([]byte("B"), 0, 0)
	require.NoError(t, err)

	others := s.OtherPaths(sd1.Path)
	assert.Equal(t, []string{sd2.Path}, others)

	require.NoError(t, os.Remove(sd2.Path))
	others = s.OtherPaths(sd1.Path)
	assert.Empty(t, others)
}

