package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PARLEY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS session_transcripts CASCADE",
		"DROP TABLE IF EXISTS session_policies CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestTranscript_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.LoadTranscript(ctx, "missing")
	if err != nil {
		t.Fatalf("LoadTranscript(missing): %v", err)
	}
	if len(empty.Segments) != 0 {
		t.Errorf("LoadTranscript(missing) = %+v, want empty", empty)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	agg := types.Aggregate{
		Segments: []types.Segment{
			{ID: "s1", SpeakerID: "p1", SpeakerName: "Alice", Text: "hello there", StartTime: now, EndTime: now.Add(time.Second), Confidence: 0.8, Language: "en-US"},
			{ID: "s2", SpeakerID: "p2", SpeakerName: "Bob", Text: "hi", StartTime: now, EndTime: now, Confidence: 1},
		},
		FullText:      "hello there hi",
		TotalWords:    3,
		SpeakerCount:  2,
		AvgConfidence: 0.9,
	}
	if err := store.SaveTranscript(ctx, "session-1", agg); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	got, err := store.LoadTranscript(ctx, "session-1")
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}
	if got.FullText != agg.FullText || got.TotalWords != 3 || got.SpeakerCount != 2 || got.AvgConfidence != 0.9 {
		t.Errorf("counters = %+v", got)
	}
	if len(got.Segments) != 2 || got.Segments[0].Text != "hello there" || !got.Segments[0].EndTime.Equal(now.Add(time.Second)) {
		t.Errorf("segments = %+v", got.Segments)
	}

	// Saving again replaces the record.
	agg.Segments = agg.Segments[:1]
	agg.FullText, agg.TotalWords, agg.SpeakerCount, agg.AvgConfidence = "hello there", 2, 1, 0.8
	if err := store.SaveTranscript(ctx, "session-1", agg); err != nil {
		t.Fatalf("SaveTranscript (replace): %v", err)
	}
	got, _ = store.LoadTranscript(ctx, "session-1")
	if len(got.Segments) != 1 || got.SpeakerCount != 1 {
		t.Errorf("after replace = %+v", got)
	}
}

func TestChat_AppendPreservesOrderAndTranscript(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveTranscript(ctx, "s", types.Aggregate{
		Segments: []types.Segment{{ID: "x", SpeakerID: "p", Text: "word"}},
		FullText: "word", TotalWords: 1, SpeakerCount: 1,
	}); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	for i := range 3 {
		msg := types.ChatMessage{ID: fmt.Sprintf("m%d", i), AuthorID: "p", Text: "msg", Kind: types.KindUser, Timestamp: time.Now()}
		if err := store.AppendChat(ctx, "s", msg); err != nil {
			t.Fatalf("AppendChat: %v", err)
		}
	}

	history, err := store.ChatHistory(ctx, "s")
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	for i, m := range history {
		if m.ID != fmt.Sprintf("m%d", i) {
			t.Errorf("history[%d].ID = %q", i, m.ID)
		}
	}
	agg, _ := store.LoadTranscript(ctx, "s")
	if agg.TotalWords != 1 {
		t.Error("AppendChat clobbered transcript")
	}
}

func TestChat_ConcurrentAppendsAreNotLost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := types.ChatMessage{ID: fmt.Sprintf("m%d", i), Kind: types.KindUser, Timestamp: time.Now()}
			if err := store.AppendChat(ctx, "busy", msg); err != nil {
				t.Errorf("AppendChat: %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := store.ChatHistory(ctx, "busy")
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(history) != 20 {
		t.Errorf("len(history) = %d, want 20", len(history))
	}
}

func TestPolicies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetPolicy(ctx, "none"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("GetPolicy(none) err = %v, want ErrNotFound", err)
	}
	p := memory.SessionPolicy{SessionID: "s", HostID: "h", Invited: []string{"a", "b"}}
	if err := store.PutPolicy(ctx, p); err != nil {
		t.Fatalf("PutPolicy: %v", err)
	}
	got, err := store.GetPolicy(ctx, "s")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if got.HostID != "h" || got.Public || len(got.Invited) != 2 {
		t.Errorf("GetPolicy = %+v", got)
	}

	p.Public, p.Invited = true, nil
	if err := store.PutPolicy(ctx, p); err != nil {
		t.Fatalf("PutPolicy (update): %v", err)
	}
	got, _ = store.GetPolicy(ctx, "s")
	if !got.Public || len(got.Invited) != 0 {
		t.Errorf("after update = %+v", got)
	}
}
