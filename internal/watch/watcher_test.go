package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) record(files []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, files)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func matchRT(path string) bool {
	return strings.HasSuffix(path, ".rt")
}

func TestFileWatcher_ReportsChanges(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	file := filepath.Join(sub, "a.rt")
	require.NoError(t, os.WriteFile(file, []byte("Root r"), 0o644))

	rec := &recorder{}
	fw, err := NewFileWatcher(root, matchRT, rec.record, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	require.NoError(t, os.WriteFile(file, []byte("Root s"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "ignored.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		return len(rec.all()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, rec.all(), file)
	assert.NotContains(t, rec.all(), filepath.Join(sub, "ignored.txt"))
}

func TestFileWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()

	rec := &recorder{}
	fw, err := NewFileWatcher(root, matchRT, rec.record, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	dir := filepath.Join(root, "late")
	require.NoError(t, os.Mkdir(dir, 0o755))
	file := filepath.Join(dir, "b.rt")

	// the new directory is added asynchronously; keep touching the file
	require.Eventually(t, func() bool {
		_ = os.WriteFile(file, []byte("Root r"), 0o644)
		for _, f := range rec.all() {
			if f == file {
				return true
			}
		}
		return false
	}, 2*time.Second, 50*time.Millisecond)
}

func TestFileWatcher_Stop(t *testing.T) {
	fw, err := NewFileWatcher(t.TempDir(), nil, func([]string) {})
	require.NoError(t, err)
	require.NoError(t, fw.Start())

	assert.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop(), "second stop is a no-op")
}

func TestIsHidden(t *testing.T) {
	assert.True(t, isHidden("/ws/.git"))
	assert.True(t, isHidden(".a.rt.swp"))
	assert.False(t, isHidden("/ws/a.rt"))
	assert.False(t, isHidden("."))
}

func TestDebouncer_Add(t *testing.T) {
	var mu sync.Mutex
	var calls [][]string

	d := NewDebouncer(30 * time.Millisecond)
	d.SetCallback(func(f []string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, f)
	})

	d.Add("a.rt")
	d.Add("b.rt")
	d.Add("a.rt")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a.rt", "b.rt"}, calls[0])
}

func TestDebouncer_Stop(t *testing.T) {
	called := make(chan struct{}, 1)
	d := NewDebouncer(20 * time.Millisecond)
	d.SetCallback(func([]string) { called <- struct{}{} })

	d.Add("a.rt")
	d.Stop()
	d.Add("b.rt")

	select {
	case <-called:
		t.Fatal("callback after stop")
	case <-time.After(80 * time.Millisecond):
	}
}

func BenchmarkDebouncer_Add(b *testing.B) {
	d := NewDebouncer(100 * time.Millisecond)
	d.SetCallback(func(files []string) {})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Add("file.rt")
	}
}
