package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

type doc struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestStorage_PutGetDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	if err := s.Put(ctx, []string{"items", "a"}, doc{ID: "a", Value: 1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "items", "a.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "items", "a.json.lock")); !os.IsNotExist(err) {
		t.Error("lock file should be removed after Put")
	}

	var got doc
	if err := s.Get(ctx, []string{"items", "a"}, &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Value != 1 {
		t.Errorf("got %+v", got)
	}

	if err := s.Delete(ctx, []string{"items", "a"}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Get(ctx, []string{"items", "a"}, &got); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, []string{"items", "a"}); err != nil {
		t.Errorf("deleting a missing document should succeed: %v", err)
	}
}

func TestStorage_ListAndScan(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"x", "y"} {
		if err := s.Put(ctx, []string{"docs", id}, doc{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(ctx, []string{"docs", "nested", "z"}, doc{ID: "z"}); err != nil {
		t.Fatal(err)
	}

	names, err := s.List(ctx, []string{"docs"})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Errorf("List = %v, want 3 entries", names)
	}

	seen := 0
	err = s.Scan(ctx, []string{"docs"}, func(name string, _ json.RawMessage) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Errorf("Scan visited %d documents, want 2 (directories are skipped)", seen)
	}

	if names, _ := s.List(ctx, []string{"missing"}); len(names) != 0 {
		t.Errorf("List of a missing directory = %v", names)
	}
}

func TestStorage_ConcurrentPuts(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Put(ctx, []string{"shared"}, doc{Value: i}); err != nil {
				t.Errorf("Put %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var got doc
	if err := s.Get(ctx, []string{"shared"}, &got); err != nil {
		t.Fatalf("document corrupted: %v", err)
	}
}

func TestSnapshots_RoundTrip(t *testing.T) {
	snaps := NewSnapshots(New(t.TempDir()))
	ctx := context.Background()

	answer := "OptA"
	snap := types.SessionSnapshot{
		PlatformID:  "memory",
		ThreadID:    "thread/with/slashes",
		SessionID:   "s1",
		ResumeToken: "tok",
		PendingQuestions: &types.PendingQuestionSet{
			ToolUseID: "tu",
			Questions: []types.PendingQuestion{
				{QuestionItem: types.QuestionItem{Header: "Q1", Options: []types.QuestionOption{{Label: "OptA"}}}, Answer: &answer},
				{QuestionItem: types.QuestionItem{Header: "Q2"}},
			},
			CurrentIndex:  1,
			CurrentPostID: "p2",
		},
	}
	if err := snaps.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := snaps.Load(ctx, "memory", "thread/with/slashes")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ResumeToken != "tok" || got.PendingQuestions.CurrentIndex != 1 || *got.PendingQuestions.Questions[0].Answer != "OptA" {
		t.Errorf("snapshot mismatch: %+v", got)
	}

	list, err := snaps.List(ctx, "memory")
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}

	if err := snaps.Delete(ctx, "memory", "thread/with/slashes"); err != nil {
		t.Fatal(err)
	}
	if _, err := snaps.Load(ctx, "memory", "thread/with/slashes"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after Delete, got %v", err)
	}
}

func TestSnapshots_AllSpansPlatforms(t *testing.T) {
	snaps := NewSnapshots(New(t.TempDir()))
	ctx := context.Background()

	for _, snap := range []types.SessionSnapshot{
		{PlatformID: "memory", ThreadID: "t1", WorkDir: "/w/1"},
		{PlatformID: "memory", ThreadID: "t2", WorkDir: "/w/2"},
		{PlatformID: "team/chat", ThreadID: "t3", WorkDir: "/w/3"},
	} {
		if err := snaps.Save(ctx, snap); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all, err := snaps.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	dirs := map[string]bool{}
	for _, s := range all {
		dirs[s.WorkDir] = true
	}
	if len(all) != 3 || !dirs["/w/1"] || !dirs["/w/2"] || !dirs["/w/3"] {
		t.Errorf("All = %+v", all)
	}

	empty, err := NewSnapshots(New(t.TempDir())).All(ctx)
	if err != nil || len(empty) != 0 {
		t.Errorf("All on an empty store = %v, %v", empty, err)
	}
}
