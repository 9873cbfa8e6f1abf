package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxSize int64, maxCount int) *Store {
	t.Helper()
	s, err := New(Config{
		Dir:      filepath.Join(t.TempDir(), "objects"),
		MaxSize:  maxSize,
		MaxCount: maxCount,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir(), MaxSize: 0})
	assert.Error(t, err)

	_, err = New(Config{Dir: t.TempDir(), MaxSize: 1024, MaxCount: -1})
	assert.Error(t, err)
}

func TestNew_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "objects")
	s, err := New(Config{Dir: dir, MaxSize: 1024})
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNew_PrepopulateTrimsToCapacity(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	s, err := New(Config{Dir: dir, MaxSize: 1024, MaxCount: 3})
	require.NoError(t, err)
	defer s.Close()

	// oldest entries by enumeration order are displaced and deleted
	assert.Equal(t, []string{"c.png", "d.png", "e.png"}, listDir(t, dir))
}

func TestNew_PrepopulateIgnoresSubdirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0644))

	s, err := New(Config{Dir: dir, MaxSize: 1024, MaxCount: 1})
	require.NoError(t, err)
	defer s.Close()

	// the directory did not consume the single slot
	_, evicted := s.Push(filepath.Join(dir, "b.png"))
	assert.True(t, evicted)
}

func TestPush_FIFOEvictionOrder(t *testing.T) {
	s := newTestStore(t, 1024, 3)

	var evictions []string
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("p%d", i)
		if oldest, ok := s.Push(path); ok {
			evictions = append(evictions, oldest)
		}
	}

	// after N pushes at capacity C, exactly N-C evictions in insertion order
	require.Len(t, evictions, 7)
	for i, victim := range evictions {
		assert.Equal(t, fmt.Sprintf("p%d", i), victim)
	}
	assert.Equal(t, 3, s.fifo.len())
}

func TestPush_NoCapacityNeverEvicts(t *testing.T) {
	s := newTestStore(t, 1024, 0)

	for i := 0; i < 1000; i++ {
		_, ok := s.Push(fmt.Sprintf("p%d", i))
		assert.False(t, ok)
	}
}

func TestSave_Roundtrip(t *testing.T) {
	s := newTestStore(t, 1024, 10)

	first := []byte("head")
	rest := []byte("-and-the-rest")
	name, size, err := s.Save(first, bytes.NewReader(rest), "png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.Equal(t, int64(len(first)+len(rest)), size)

	data, err := os.ReadFile(filepath.Join(s.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, "head-and-the-rest", string(data))
}

func TestSave_UniqueNames(t *testing.T) {
	s := newTestStore(t, 1024, 0)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		name, _, err := s.Save([]byte("x"), bytes.NewReader(nil), "txt")
		require.NoError(t, err)
		require.False(t, seen[name], "duplicate name %q", name)
		seen[name] = true
	}
}

func TestSave_TooLarge(t *testing.T) {
	s := newTestStore(t, 8, 10)

	_, _, err := s.Save([]byte("head"), bytes.NewReader([]byte("way past the limit")), "png")
	require.ErrorIs(t, err, ErrTooLarge)

	// the partial file is removed in the background
	require.Eventually(t, func() bool {
		return len(listDir(t, s.Dir())) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSave_FirstChunkTooLarge(t *testing.T) {
	s := newTestStore(t, 2, 10)

	_, _, err := s.Save([]byte("head"), bytes.NewReader(nil), "png")
	require.ErrorIs(t, err, ErrTooLarge)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("peer went away")
}

func TestSave_ReaderFailureCleansUp(t *testing.T) {
	s := newTestStore(t, 1024, 10)

	_, _, err := s.Save([]byte("head"), brokenReader{}, "png")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTooLarge)

	require.Eventually(t, func() bool {
		return len(listDir(t, s.Dir())) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSave_EvictsOldest(t *testing.T) {
	s := newTestStore(t, 1024, 2)

	var names []string
	for i := 0; i < 3; i++ {
		name, _, err := s.Save([]byte("content"), bytes.NewReader(nil), "txt")
		require.NoError(t, err)
		names = append(names, name)
	}

	// the first object is gone, the last two survive
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.Dir(), names[0]))
		return errors.Is(err, os.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)

	for _, name := range names[1:] {
		_, err := os.Stat(filepath.Join(s.Dir(), name))
		assert.NoError(t, err)
	}
}

func TestSave_NoCapacityKeepsEverything(t *testing.T) {
	s := newTestStore(t, 1024, 0)

	for i := 0; i < 20; i++ {
		_, _, err := s.Save([]byte("content"), bytes.NewReader(nil), "txt")
		require.NoError(t, err)
	}
	assert.Len(t, listDir(t, s.Dir()), 20)
}

func TestRemoveAsync_DeletesInBackground(t *testing.T) {
	s := newTestStore(t, 1024, 0)

	path := filepath.Join(s.Dir(), "victim.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	s.RemoveAsync(path)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNamer_UniqueIDs(t *testing.T) {
	n, err := newNamer()
	require.NoError(t, err)

	// identifiers never collide across a realistic number of draws
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := n.next()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestFIFO_WrapAround(t *testing.T) {
	f := newFIFO(2)

	_, ok := f.push("a")
	assert.False(t, ok)
	_, ok = f.push("b")
	assert.False(t, ok)

	old, ok := f.push("c")
	require.True(t, ok)
	assert.Equal(t, "a", old)

	old, ok = f.push("d")
	require.True(t, ok)
	assert.Equal(t, "b", old)

	old, ok = f.push("e")
	require.True(t, ok)
	assert.Equal(t, "c", old)

	assert.Equal(t, 2, f.len())
}
