package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var linuxBash = dragonscale.ContextInfo{OSFamily: "linux", ShellFamily: "bash", OSVersion: "6.1"}

func action(cmd string) dragonscale.ExtractionResult {
	return dragonscale.NewAction(dragonscale.FormatCodeBlock, dragonscale.Action{Command: cmd})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Ls -LA  ", "ls -la"},
		{"ls\t\t-la\n", "ls -la"},
		{"ls -la", "ls -la"},
		{"", ""},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
	}
}

func TestPutThenGet(t *testing.T) {
	c := New()
	c.Put("list files", linuxBash, action("ls"))

	got, ok := c.Get("list files", linuxBash)
	require.True(t, ok)
	assert.Equal(t, action("ls"), got)
}

func TestNormalizedQueriesShareEntry(t *testing.T) {
	c := New()
	c.Put("ls -la", linuxBash, action("ls -la"))

	got, ok := c.Get("  Ls -LA  ", linuxBash)
	require.True(t, ok)
	assert.Equal(t, "ls -la", got.Action.Command)
}

func TestFingerprintUsesOnlyAllowListedContext(t *testing.T) {
	c := New()
	other := linuxBash
	other.OSVersion = "5.15"
	other.WorkingDir = "/tmp"
	other.Extra = map[string]string{"user": "root"}
	assert.Equal(t, c.Fingerprint("q", linuxBash), c.Fingerprint("q", other))

	zsh := linuxBash
	zsh.ShellFamily = "zsh"
	assert.NotEqual(t, c.Fingerprint("q", linuxBash), c.Fingerprint("q", zsh))

	wide := New(WithContextKeys("os_family", "shell_family", "os_version"))
	assert.NotEqual(t, wide.Fingerprint("q", linuxBash), wide.Fingerprint("q", other))
}

func TestExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(WithTTL(time.Minute), WithClock(clock.Now))
	c.Put("q", linuxBash, action("ls"))

	clock.Advance(59 * time.Second)
	_, ok := c.Get("q", linuxBash)
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("q", linuxBash)
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Size, "stale entry must be removed on read")
}

func TestErrorResultsExpireSooner(t *testing.T) {
	clock := newFakeClock()
	c := New(WithTTL(time.Hour), WithClock(clock.Now))
	assert.Equal(t, time.Minute, c.Stats().ErrorTTL)

	c.Put("bad", linuxBash, dragonscale.NewExtractionError(dragonscale.FormatNone, "ERROR: timeout", false, ""))
	c.Put("good", linuxBash, action("ls"))

	clock.Advance(2 * time.Minute)
	_, ok := c.Get("bad", linuxBash)
	assert.False(t, ok)
	_, ok = c.Get("good", linuxBash)
	assert.True(t, ok)
}

func TestErrorTTLCappedAtTTL(t *testing.T) {
	c := New(WithTTL(10*time.Second), WithErrorTTL(time.Hour))
	assert.Equal(t, 10*time.Second, c.Stats().ErrorTTL)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	c := New(WithMaxSize(3), WithClock(clock.Now))

	for _, q := range []string{"a", "b", "c"} {
		c.Put(q, linuxBash, action(q))
		clock.Advance(time.Second)
	}

	// Touch "a" so "b" becomes the oldest.
	_, ok := c.Get("a", linuxBash)
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Put("d", linuxBash, action("d"))

	_, ok = c.Get("b", linuxBash)
	assert.False(t, ok, "b should have been evicted")
	for _, q := range []string{"a", "c", "d"} {
		_, ok := c.Get(q, linuxBash)
		assert.True(t, ok, "%s should still be cached", q)
	}
	stats := c.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.EqualValues(t, 1, stats.Evictions)
}

func TestOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c := New(WithMaxSize(2))
	c.Put("a", linuxBash, action("a"))
	c.Put("b", linuxBash, action("b"))
	c.Put("a", linuxBash, action("a2"))

	got, ok := c.Get("a", linuxBash)
	require.True(t, ok)
	assert.Equal(t, "a2", got.Action.Command)
	_, ok = c.Get("b", linuxBash)
	assert.True(t, ok)
	assert.Zero(t, c.Stats().Evictions)
}

func TestInvalidateAndClear(t *testing.T) {
	c := New()
	c.Put("a", linuxBash, action("a"))
	c.Put("b", linuxBash, action("b"))

	assert.True(t, c.Invalidate("A", linuxBash))
	assert.False(t, c.Invalidate("a", linuxBash))
	_, ok := c.Get("a", linuxBash)
	assert.False(t, ok)

	c.Clear()
	assert.Zero(t, c.Stats().Size)
	_, ok = c.Get("b", linuxBash)
	assert.False(t, ok)
}

func TestStatsCounters(t *testing.T) {
	c := New(WithMaxSize(5), WithTTL(time.Minute))
	c.Put("a", linuxBash, action("a"))
	c.Get("a", linuxBash)
	c.Get("missing", linuxBash)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 5, stats.MaxSize)
	assert.Equal(t, time.Minute, stats.TTL)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(WithMaxSize(16))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q := fmt.Sprintf("q%d", (i+j)%32)
				c.Put(q, linuxBash, action(q))
				c.Get(q, linuxBash)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Size, 16)
}

func TestGetContext(t *testing.T) {
	c := New()
	ctx := context.Background()

	_, err := c.GetContext(ctx, "nope", linuxBash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, c.PutContext(ctx, "yes", linuxBash, action("ls")))
	got, err := c.GetContext(ctx, "yes", linuxBash)
	require.NoError(t, err)
	assert.Equal(t, "ls", got.Action.Command)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.GetContext(cancelled, "yes", linuxBash)
	assert.Error(t, err)
	assert.Error(t, c.PutContext(cancelled, "other", linuxBash, action("x")))
	_, ok := c.Get("other", linuxBash)
	assert.False(t, ok, "a cancelled put must not store")

	expired, cancelExpired := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancelExpired()
	_, err = c.GetContext(expired, "yes", linuxBash)
	assert.Error(t, err)
}

func TestGetAndPut_DoNotShareResults(t *testing.T) {
	c := New()
	stored := dragonscale.NewAction(dragonscale.FormatCodeBlock, dragonscale.Action{Command: "ls -la", Alternatives: []string{"dir"}})
	c.Put("list files", linuxBash, stored)

	stored.Action.Command = "changed after put"
	got, ok := c.Get("list files", linuxBash)
	require.True(t, ok)
	assert.Equal(t, "ls -la", got.Action.Command)

	got.Action.Command = "rm -rf ~"
	got.Action.Alternatives[0] = "format c:"
	again, ok := c.Get("list files", linuxBash)
	require.True(t, ok)
	assert.Equal(t, "ls -la", again.Action.Command)
	assert.Equal(t, []string{"dir"}, again.Action.Alternatives)

	op := dragonscale.NewFileOperation(dragonscale.FormatStructuredJSON, dragonscale.FileOperation{
		Operation: "copy",
		Params:    map[string]any{"source": "a", "nested": map[string]any{"mode": "0644"}},
	})
	c.Put("copy a", linuxBash, op)
	fetched, ok := c.Get("copy a", linuxBash)
	require.True(t, ok)
	fetched.FileOperation.Params["source"] = "/etc/shadow"
	fetched.FileOperation.Params["nested"].(map[string]any)["mode"] = "0777"

	again, ok = c.Get("copy a", linuxBash)
	require.True(t, ok)
	assert.Equal(t, "a", again.FileOperation.Params["source"])
	assert.Equal(t, "0644", again.FileOperation.Params["nested"].(map[string]any)["mode"])
}

func TestPersistentCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "responses.json")
	clock := newFakeClock()

	c, err := NewPersistent(path, WithClock(clock.Now), WithTTL(time.Hour))
	require.NoError(t, err)
	c.Put("list files", linuxBash, action("ls"))
	c.Put("old", linuxBash, action("old"))
	require.NoError(t, c.Close())

	reloaded, err := NewPersistent(path, WithClock(clock.Now), WithTTL(time.Hour))
	require.NoError(t, err)
	got, ok := reloaded.Get("LIST   files", linuxBash)
	require.True(t, ok)
	assert.Equal(t, "ls", got.Action.Command)
	assert.Equal(t, 2, reloaded.Stats().Size)
}

func TestPersistentCache_DropsExpiredOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	clock := newFakeClock()

	c, err := NewPersistent(path, WithClock(clock.Now), WithTTL(time.Minute))
	require.NoError(t, err)
	c.Put("q", linuxBash, action("ls"))
	require.NoError(t, c.Flush())

	clock.Advance(2 * time.Minute)
	reloaded, err := NewPersistent(path, WithClock(clock.Now), WithTTL(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, reloaded.Stats().Size)
}

func TestPersistentCache_ClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	c, err := NewPersistent(path)
	require.NoError(t, err)
	c.Put("q", linuxBash, action("ls"))
	require.NoError(t, c.Flush())
	assert.FileExists(t, path)

	c.Clear()
	assert.NoFileExists(t, path)
}
