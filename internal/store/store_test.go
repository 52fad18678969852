package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(t *testing.T) WatchState {
	t.Helper()
	wm, err := ParseWatermark("2024-03-01T10:15:30.123Z")
	require.NoError(t, err)

	return WatchState{
		"9001": {
			Title:       "Add retry to uploader",
			WebURL:      "https://gitlab.example.com/team/app/-/merge_requests/42",
			LastSeen:    wm,
			LastNote:    "Build failed: [job #17](https://ci.example.com/17)",
			SkipRebuild: true,
			IID:         42,
			Project:     "team/app",
			LastChecked: time.Date(2024, 3, 1, 10, 16, 0, 0, time.UTC),
		},
		"9002": {
			Title:  "Docs",
			WebURL: "https://gitlab.example.com/team/app/-/merge_requests/43",
			IID:    43,
		},
	}
}

// --- Watermark ---

func TestWatermarkZeroSortsFirst(t *testing.T) {
	var zero Watermark
	wm := NewWatermark(time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC))

	assert.True(t, zero.IsZero())
	assert.True(t, wm.After(zero))
	assert.False(t, zero.After(wm))
	assert.False(t, wm.After(wm))
	assert.Equal(t, "", zero.String())
}

func TestWatermarkTextRoundTrip(t *testing.T) {
	wm, err := ParseWatermark("2024-03-01T12:15:30.5+02:00")
	require.NoError(t, err)

	text, err := wm.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:15:30.5Z", string(text))

	var back Watermark
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, wm, back)
}

func TestParseWatermarkInvalid(t *testing.T) {
	_, err := ParseWatermark("yesterday")
	assert.Error(t, err)
}

// --- Backends ---

func TestRoundTripPerBackend(t *testing.T) {
	for _, name := range []string{"state.json", "state.yaml", "state.yml", "state.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			s, err := Open(path)
			require.NoError(t, err)
			defer s.Close()

			want := sampleState(t)
			require.NoError(t, s.Save(context.Background(), want))

			got := s.Load(context.Background())
			assert.Equal(t, want, got)
		})
	}
}

func TestSQLiteReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleState(t)))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.Load(context.Background())
	assert.Equal(t, sampleState(t), got)
}

func TestSQLiteSaveUpdatesExistingRow(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	state := sampleState(t)
	require.NoError(t, s.Save(ctx, state))

	rec := state["9002"]
	rec.SkipRebuild = true
	rec.LastNote = "Build aborted"
	state["9002"] = rec
	require.NoError(t, s.Save(ctx, state))

	got := s.Load(ctx)
	assert.True(t, got["9002"].SkipRebuild)
	assert.Equal(t, "Build aborted", got["9002"].LastNote)
	assert.Len(t, got, 2)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nope", "state.json"))
	require.NoError(t, err)

	got := s.Load(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	cases := map[string]string{
		"state.json":  `{"9001": {"last_seen": `,
		"array.json":  `[1, 2, 3]`,
		"badts.json":  `{"9001": {"last_seen": "not a time"}}`,
		"state.yaml":  "9001: [unterminated",
		"empty.json":  "   \n",
		"null.json":   "null",
		"binary.json": "\x00\x01\x02",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			s, err := Open(path)
			require.NoError(t, err)

			got := s.Load(context.Background())
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestJSONFormatIsIndentedAndSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), WatchState{
		"2": {Title: "b"},
		"1": {Title: "a"},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "\n    \"1\": {")
	assert.Less(t, strings.Index(text, `"1"`), strings.Index(text, `"2"`))
	assert.Contains(t, text, `"last_seen": ""`)
	assert.NotContains(t, text, "last_checked")
	assert.False(t, Exists(path+".tmp"))
}

func TestLoadLegacyFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comment_watcher_state.json")
	legacy := `{
    "101": "2023-11-02T08:00:00.000Z",
    "102": {
        "active_title": "Fix flaky test",
        "last_note:": "Build aborted",
        "last_seen": "2023-11-03T09:30:00.000Z",
        "skip_rebuild": false,
        "web_url": "https://gitlab.example.com/g/p/-/merge_requests/7"
    }
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	s, err := Open(path)
	require.NoError(t, err)
	got := s.Load(context.Background())

	require.Len(t, got, 2)
	assert.Equal(t, "2023-11-02T08:00:00Z", got["101"].LastSeen.String())
	assert.Empty(t, got["101"].Title)
	assert.Equal(t, "Build aborted", got["102"].LastNote)
	assert.Equal(t, "Fix flaky test", got["102"].Title)
	assert.Equal(t, "2023-11-03T09:30:00Z", got["102"].LastSeen.String())
}

func TestUpdate(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleState(t)))

	err = Update(ctx, s, func(st WatchState) error {
		rec := st["9002"]
		rec.SkipRebuild = true
		st["9002"] = rec
		return nil
	})
	require.NoError(t, err)

	assert.True(t, s.Load(ctx)["9002"].SkipRebuild)
}

func TestWatchStateKeysAndClone(t *testing.T) {
	st := WatchState{"b": {}, "a": {}, "c": {}}
	assert.Equal(t, []string{"a", "b", "c"}, st.Keys())

	cp := st.Clone()
	cp["d"] = MRRecord{}
	assert.Len(t, st, 3)
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

// --- Exists ---

func TestExistsTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exists.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	assert.True(t, Exists(path))
}

func TestExistsFalse(t *testing.T) {
	assert.False(t, Exists("/nonexistent/path/does/not/exist.json"))
}

// --- WithLock ---

func TestWithLockBasicOperation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locktest")

	called := false
	err := WithLock(path, DefaultLockTimeout, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithLockConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concurrent")

	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(path, 10*time.Second, func() error {
				val := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, val+1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(10), atomic.LoadInt64(&counter))
}

func TestWithReadLockBasicOperation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readlocktest")

	called := false
	err := WithReadLock(path, DefaultLockTimeout, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithLockTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timeouttest")

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = WithLock(path, 10*time.Second, func() error {
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked

	err := WithLock(path, 200*time.Millisecond, func() error {
		t.Fatal("callback should not have been called")
		return nil
	})
	assert.Error(t, err, "expected timeout error when lock is held")

	close(release)
}

func TestAcquireInstanceLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	release, err := AcquireInstanceLock(path)
	require.NoError(t, err)

	_, err = AcquireInstanceLock(path)
	assert.ErrorIs(t, err, ErrInstanceLocked)

	release()

	again, err := AcquireInstanceLock(path)
	require.NoError(t, err)
	again()
}
