package artifact

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCommitAndLookup(t *testing.T) {
	s := newTestStore(t)
	params := map[string]string{"voice": "rachel", "speed": "1.00"}
	hash := HashParams(params)

	a, err := s.Commit("run1", "transcript", hash, params, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "run1", a.RunID)
	assert.Equal(t, "transcript", a.Stage)
	assert.NotEmpty(t, a.ContentHash)
	assert.FileExists(t, a.Path)

	got, err := s.Lookup("run1", "transcript", hash)
	require.NoError(t, err)
	assert.Equal(t, a.Path, got.Path)
	assert.Equal(t, a.ContentHash, got.ContentHash)

	content, err := s.Read(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), content)
}

func TestLookupMisses(t *testing.T) {
	s := newTestStore(t)
	hash := HashParams(map[string]string{"k": "v"})

	_, err := s.Lookup("nope", "transcript", hash)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Commit("run1", "transcript", hash, nil, []byte("x"))
	require.NoError(t, err)

	_, err = s.Lookup("run1", "transcript", HashParams(map[string]string{"k": "other"}))
	assert.ErrorIs(t, err, ErrParamsMismatch)
}

func TestCommitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	hash := HashParams(map[string]string{"k": "v"})

	first, err := s.Commit("run1", "script", hash, nil, []byte("original"))
	require.NoError(t, err)

	// a second commit under the same key must not overwrite
	second, err := s.Commit("run1", "script", hash, nil, []byte("different"))
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	content, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), content)
}

func TestCommitConcurrentWritersHaveOneWinner(t *testing.T) {
	s := newTestStore(t)
	hash := HashParams(map[string]string{"k": "v"})

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Commit("run1", "script", hash, nil, []byte("same content"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyCommitted)
		}
	}
	assert.Equal(t, 1, wins, "exactly one writer commits the sidecar")

	got, err := s.Lookup("run1", "script", hash)
	require.NoError(t, err)
	content, err := s.Read(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("same content"), content)
}

func TestArtifactPathIsDeterministic(t *testing.T) {
	s := newTestStore(t)

	p1, err := s.ArtifactPath("run1", "audio")
	require.NoError(t, err)
	p2, err := s.ArtifactPath("run1", "audio")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	_, err = s.ArtifactPath("run1", "bogus-stage")
	assert.Error(t, err)
}

func TestCommitFile(t *testing.T) {
	s := newTestStore(t)
	hash := HashParams(map[string]string{"fps": "30"})

	src := filepath.Join(t.TempDir(), "encoded.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video bytes"), 0o644))

	a, err := s.CommitFile("run1", "video", hash, nil, src)
	require.NoError(t, err)
	assert.FileExists(t, a.Path)
	assert.NoFileExists(t, src, "source should be moved into the store")

	content, err := s.Read(a)
	require.NoError(t, err)
	assert.Equal(t, []byte("video bytes"), content)
}

func TestListReturnsCommittedStages(t *testing.T) {
	s := newTestStore(t)
	hash := HashParams(nil)

	_, err := s.Commit("run1", "transcript", hash, nil, []byte("t"))
	require.NoError(t, err)
	_, err = s.Commit("run1", "script", hash, nil, []byte("s"))
	require.NoError(t, err)

	arts, err := s.List("run1")
	require.NoError(t, err)
	require.Len(t, arts, 2)

	stages := []string{arts[0].Stage, arts[1].Stage}
	assert.Contains(t, stages, "transcript")
	assert.Contains(t, stages, "script")
}

func TestHashParams(t *testing.T) {
	a := HashParams(map[string]string{"x": "1", "y": "2"})
	b := HashParams(map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b, "hash must not depend on map order")

	c := HashParams(map[string]string{"x": "1", "y": "3"})
	assert.NotEqual(t, a, c)

	// length-prefixed fields keep ambiguous concatenations apart
	d := HashParams(map[string]string{"ab": "c"})
	e := HashParams(map[string]string{"a": "bc"})
	assert.NotEqual(t, d, e)
}
