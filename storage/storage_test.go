package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"tyflo-push/pkg/notifier"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "state.json")
	s := New(NewFileBackend(path), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return testNow }
	if err := s.EnsureDirectory(context.Background()); err != nil {
		t.Fatalf("EnsureDirectory: %v", err)
	}
	return s, path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, _ := newTestStore(t)

	state := s.Load(context.Background())

	if state.SchemaVersion != notifier.SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", state.SchemaVersion, notifier.SchemaVersion)
	}
	if len(state.Tokens) != 0 {
		t.Errorf("Tokens = %v, want empty", state.Tokens)
	}
	if !state.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", state.CreatedAt, testNow)
	}
	if state.Sent.Tyflopodcast == nil || state.Sent.Live == nil {
		t.Error("dedup lists should be non-nil")
	}
}

func TestLoadCorruptFileReturnsDefaults(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "truncated json", content: `{"schemaVersion":1,"tokens":{`},
		{name: "not an object", content: `[1,2,3]`},
		{name: "garbage", content: "\x00\x01binary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, path := newTestStore(t)
			if err := os.WriteFile(path, []byte(tt.content), 0o640); err != nil {
				t.Fatal(err)
			}

			state := s.Load(context.Background())
			if len(state.Tokens) != 0 || state.SchemaVersion != notifier.SchemaVersion {
				t.Errorf("Load() = %+v, want fresh default state", state)
			}
		})
	}
}

func TestLoadMergesPartialDocumentOverDefaults(t *testing.T) {
	s, path := newTestStore(t)
	doc := `{
  "schemaVersion": 1,
  "createdAt": "2024-01-01T00:00:00Z",
  "tokens": {
    "abcdefghijklmnop": {"env": "apns", "prefs": {"podcast": false, "article": true, "live": true, "schedule": true}}
  }
}`
	if err := os.WriteFile(path, []byte(doc), 0o640); err != nil {
		t.Fatal(err)
	}

	state := s.Load(context.Background())

	sub, ok := state.Tokens["abcdefghijklmnop"]
	if !ok {
		t.Fatal("token from document missing after load")
	}
	if sub.Token != "abcdefghijklmnop" {
		t.Errorf("Token = %q, want it filled from the map key", sub.Token)
	}
	if sub.Prefs.Podcast {
		t.Error("podcast preference should come from the document")
	}
	if state.Sent.Tyflopodcast == nil || state.Sent.Tyfloswiat == nil || state.Sent.Live == nil || state.Sent.Schedule == nil {
		t.Error("missing sent lists should be filled with defaults")
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !state.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v from document", state.CreatedAt, want)
	}
}

func TestSaveWritesPrettyJSONWithOwnerPermissions(t *testing.T) {
	s, path := newTestStore(t)
	state := notifier.NewState(testNow.Add(-time.Hour))

	if err := s.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Errorf("file mode = %o, want 640", perm)
	}
	dirInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o750 {
		t.Errorf("dir mode = %o, want 750", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"schemaVersion\": 1") {
		t.Errorf("expected two-space indented JSON, got:\n%s", data)
	}
	if !state.UpdatedAt.Equal(testNow) {
		t.Errorf("UpdatedAt = %v, want stamped with %v", state.UpdatedAt, testNow)
	}
}

func TestSaveInterruptedBeforeRenameKeepsPreviousState(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	original := notifier.NewState(testNow)
	original.Tokens["abcdefghijklmnop"] = &notifier.Subscriber{Token: "abcdefghijklmnop", Env: "apns", Prefs: notifier.AllEnabled()}
	if err := s.Save(ctx, original); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	rename = func(string, string) error { return errors.New("simulated crash") }
	t.Cleanup(func() { rename = os.Rename })

	changed := s.Load(ctx)
	delete(changed.Tokens, "abcdefghijklmnop")
	if err := s.Save(ctx, changed); err == nil {
		t.Fatal("Save should report the failed rename")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Error("state file changed although the rename never happened")
	}
	var parsed notifier.State
	if err := json.Unmarshal(after, &parsed); err != nil {
		t.Fatalf("state file is no longer valid JSON: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}

	if got := s.Load(ctx); len(got.Tokens) != 1 {
		t.Errorf("reloaded %d tokens, want 1", len(got.Tokens))
	}
}

func TestLoadIgnoresLeftoverTempFile(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	state := notifier.NewState(testNow)
	state.Sent.Tyflopodcast = []int64{7, 6, 5}
	if err := s.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	// A crash mid-write leaves a half-written temp file next to the real one.
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), ".state-123.tmp"), []byte(`{"schemaV`), 0o640); err != nil {
		t.Fatal(err)
	}

	got := s.Load(ctx)
	if !reflect.DeepEqual(got.Sent.Tyflopodcast, []int64{7, 6, 5}) {
		t.Errorf("Tyflopodcast = %v, want [7 6 5]", got.Sent.Tyflopodcast)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seed := notifier.NewState(testNow.Add(-24 * time.Hour))
	seed.Tokens["abcdefghijklmnop"] = &notifier.Subscriber{
		Token:          "abcdefghijklmnop",
		Env:            "apns",
		Prefs:          notifier.Preferences{Podcast: true, Article: false, Live: true, Schedule: true},
		CreatedAt:      testNow.Add(-2 * time.Hour),
		UpdatedAt:      testNow.Add(-time.Hour),
		LastSeenAt:     testNow.Add(-time.Hour),
		LastNotifiedAt: testNow.Add(-time.Minute),
	}
	seed.Sent.Tyfloswiat = []int64{42, 41}
	seed.Sent.Schedule = []string{"2025-03-14T08:00:00Z"}
	if err := s.Save(ctx, seed); err != nil {
		t.Fatal(err)
	}

	first := s.Load(ctx)
	s.now = func() time.Time { return testNow.Add(time.Hour) }
	if err := s.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := s.Load(ctx)

	first.UpdatedAt = time.Time{}
	second.UpdatedAt = time.Time{}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip changed the document:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestMutateSkipSave(t *testing.T) {
	s, path := newTestStore(t)

	err := s.Mutate(context.Background(), func(st *notifier.State) error {
		st.Sent.Live = append(st.Sent.Live, "x")
		return ErrSkipSave
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("state file should not exist after a skipped save, stat err = %v", err)
	}
}

func TestMutatePropagatesCallbackError(t *testing.T) {
	s, path := newTestStore(t)
	boom := errors.New("boom")

	err := s.Mutate(context.Background(), func(*notifier.State) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Mutate error = %v, want %v", err, boom)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("nothing should be written when the callback fails")
	}
}

func TestSaveFailsWhenDirectoryMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "state.json")
	s := New(NewFileBackend(path), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := s.Save(context.Background(), notifier.NewState(testNow)); err == nil {
		t.Error("Save into a missing directory should fail loudly")
	}
}

// Concurrent cycles are not serialized, so updates may be lost (last save
// wins). This only checks that the document stays valid under contention.
func TestConcurrentMutationsKeepDocumentValid(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := strings.Repeat(string(rune('a'+i)), 16)
			err := s.Mutate(ctx, func(st *notifier.State) error {
				st.Tokens[token] = &notifier.Subscriber{Token: token, Prefs: notifier.AllEnabled()}
				return nil
			})
			if err != nil {
				t.Errorf("Mutate: %v", err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var st notifier.State
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("document corrupted under concurrent saves: %v", err)
	}
	if n := len(st.Tokens); n < 1 || n > 20 {
		t.Errorf("token count = %d, want between 1 and 20", n)
	}
	t.Logf("%d of 20 concurrent registrations survived", len(st.Tokens))
}

func TestAcquireInstanceLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireInstanceLock(dir)
	if err != nil {
		t.Fatalf("first AcquireInstanceLock: %v", err)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := AcquireInstanceLock(dir); err == nil {
		t.Error("second AcquireInstanceLock on the same directory should fail")
	}
}
