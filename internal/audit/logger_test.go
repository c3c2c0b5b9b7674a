package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// newTestLogger builds a logger over the given storage with a
// deterministic clock and ID source.
func newTestLogger(t *testing.T, storage Storage) *Logger {
	t.Helper()
	var (
		tick time.Duration
		n    int
	)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	logger, err := New(context.Background(), Options{
		Storage: storage,
		Now: func() time.Time {
			tick += time.Second
			return base.Add(tick)
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("rec-%04d", n)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return logger
}

func TestLoggerLogBuildsChain(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryStorage(0)
	logger := newTestLogger(t, store)

	// Two agents interleaved: a1 permit, a2 deny, a1 permit.
	inputs := []struct {
		agent   string
		action  string
		outcome Outcome
	}{
		{"a1", "files:read", OutcomePermit},
		{"a2", "net:fetch", OutcomeDeny},
		{"a1", "files:write", OutcomePermit},
	}
	for _, in := range inputs {
		rec, err := logger.Log(ctx,
			DecisionInput{Outcome: in.outcome, Protocol: "trust"},
			Context{AgentID: in.agent, Action: in.action})
		if err != nil {
			t.Fatalf("log: %v", err)
		}
		if rec == nil {
			t.Fatal("log returned nil record")
		}
	}

	all, err := logger.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	for i, rec := range all {
		if rec.Sequence != uint64(i) {
			t.Errorf("record %d sequence = %d", i, rec.Sequence)
		}
	}
	// a2's record chains onto a1's even though the agents differ: there is
	// one chain for the whole ledger.
	if all[1].PreviousHash != all[0].Hash {
		t.Error("second record does not link to first")
	}

	a1, err := logger.Query(ctx, Filter{AgentID: "a1"})
	if err != nil {
		t.Fatalf("query a1: %v", err)
	}
	if len(a1) != 2 {
		t.Fatalf("a1 records = %d, want 2", len(a1))
	}
	if a1[0].Action != "files:read" || a1[1].Action != "files:write" {
		t.Errorf("a1 records out of append order: %q, %q", a1[0].Action, a1[1].Action)
	}

	res, err := logger.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.RecordsChecked != 3 {
		t.Errorf("verify = %+v, want valid with 3 checked", res)
	}
}

func TestLoggerRejectsInvalidOutcome(t *testing.T) {
	store, _ := NewMemoryStorage(0)
	logger := newTestLogger(t, store)

	_, err := logger.Log(context.Background(),
		DecisionInput{Outcome: "maybe", Protocol: "trust"},
		Context{AgentID: "a1", Action: "x"})
	if !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("err = %v, want ErrInvalidOutcome", err)
	}
	if n, _ := logger.Count(context.Background()); n != 0 {
		t.Errorf("count = %d after rejected log, want 0", n)
	}
}

func TestLoggerDisabled(t *testing.T) {
	ctx := context.Background()
	logger, err := New(ctx, Options{Disabled: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec, err := logger.Log(ctx,
		DecisionInput{Outcome: OutcomePermit, Protocol: "trust"},
		Context{AgentID: "a1", Action: "x"})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if rec != nil {
		t.Errorf("disabled logger returned record %+v", rec)
	}

	all, err := logger.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("disabled logger returned %d records", len(all))
	}
	res, err := logger.Verify(ctx)
	if err != nil || !res.Valid {
		t.Errorf("disabled verify = %+v, %v", res, err)
	}
}

type failingStorage struct {
	*MemoryStorage
	failNext bool
}

func (s *failingStorage) Append(ctx context.Context, rec Record) error {
	if s.failNext {
		s.failNext = false
		return errors.New("disk full")
	}
	return s.MemoryStorage.Append(ctx, rec)
}

func TestLoggerRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	mem, _ := NewMemoryStorage(0)
	store := &failingStorage{MemoryStorage: mem}
	logger := newTestLogger(t, store)

	first, err := logger.Log(ctx,
		DecisionInput{Outcome: OutcomePermit, Protocol: "trust"},
		Context{AgentID: "a1", Action: "x"})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	store.failNext = true
	if _, err := logger.Log(ctx,
		DecisionInput{Outcome: OutcomeDeny, Protocol: "trust"},
		Context{AgentID: "a1", Action: "y"}); err == nil {
		t.Fatal("log succeeded despite storage failure")
	}

	// The tip rolled back: the next record reuses the failed sequence and
	// links to the last persisted record.
	third, err := logger.Log(ctx,
		DecisionInput{Outcome: OutcomePermit, Protocol: "trust"},
		Context{AgentID: "a1", Action: "z"})
	if err != nil {
		t.Fatalf("log after failure: %v", err)
	}
	if third.Sequence != first.Sequence+1 {
		t.Errorf("sequence after rollback = %d, want %d", third.Sequence, first.Sequence+1)
	}
	if third.PreviousHash != first.Hash {
		t.Errorf("previousHash after rollback = %q, want %q", third.PreviousHash, first.Hash)
	}

	res, _ := logger.Verify(ctx)
	if !res.Valid {
		t.Errorf("chain broken after rollback: %+v", res)
	}
}

func TestLoggerResumesFromFileLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	logger := newTestLogger(t, store)
	for i := 0; i < 3; i++ {
		if _, err := logger.Log(ctx,
			DecisionInput{Outcome: OutcomePermit, Protocol: "trust"},
			Context{AgentID: "a1", Action: "x"}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	logger2 := newTestLogger(t, store2)
	defer logger2.Close()

	rec, err := logger2.Log(ctx,
		DecisionInput{Outcome: OutcomeDeny, Protocol: "consent"},
		Context{AgentID: "a2", Action: "y"})
	if err != nil {
		t.Fatalf("log after restart: %v", err)
	}
	if rec.Sequence != 3 {
		t.Errorf("sequence after restart = %d, want 3", rec.Sequence)
	}

	res, err := logger2.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.RecordsChecked != 4 {
		t.Errorf("verify after restart = %+v", res)
	}
}

func TestLoggerVerifyWindowedAfterEviction(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryStorage(5)
	logger := newTestLogger(t, store)

	for i := 0; i < 8; i++ {
		if _, err := logger.Log(ctx,
			DecisionInput{Outcome: OutcomePermit, Protocol: "trust"},
			Context{AgentID: "a1", Action: "x"}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	res, err := logger.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid {
		t.Fatalf("windowed verify failed: %+v", res)
	}
	if res.RecordsChecked != 5 {
		t.Errorf("recordsChecked = %d, want retained window of 5", res.RecordsChecked)
	}
}

func TestLoggerMetadataMerge(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryStorage(0)
	logger := newTestLogger(t, store)

	rec, err := logger.Log(ctx,
		DecisionInput{
			Outcome:  OutcomeDeny,
			Protocol: "budget",
			Reason:   "envelope exhausted",
			Details:  map[string]any{"limit": 100.0, "spent": 100.0, "source": "input"},
		},
		Context{
			AgentID: "a1",
			Action:  "net:fetch",
			Extra:   map[string]any{"source": "context", "session": "s-9"},
		})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	if rec.Metadata["limit"] != 100.0 {
		t.Errorf("metadata limit = %v", rec.Metadata["limit"])
	}
	if rec.Metadata["session"] != "s-9" {
		t.Errorf("metadata session = %v", rec.Metadata["session"])
	}
	// Context extras win on key collision.
	if rec.Metadata["source"] != "context" {
		t.Errorf("metadata source = %v, want context value", rec.Metadata["source"])
	}
}

func TestLoggerOnRecordCallback(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryStorage(0)

	var seen []Record
	logger, err := New(ctx, Options{
		Storage:  store,
		OnRecord: func(rec Record) { seen = append(seen, rec) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := logger.Log(ctx,
		DecisionInput{Outcome: OutcomePermit, Protocol: "trust"},
		Context{AgentID: "a1", Action: "x"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("callback saw %d records, want 1", len(seen))
	}
	if seen[0].Hash == "" {
		t.Error("callback record missing hash")
	}
}

func TestLoggerTailWithoutIndex(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryStorage(0)
	logger := newTestLogger(t, store)

	for i := 0; i < 6; i++ {
		if _, err := logger.Log(ctx,
			DecisionInput{Outcome: OutcomePermit, Protocol: "trust"},
			Context{AgentID: "a1", Action: "x"}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	tail, err := logger.Tail(ctx, 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("tail = %d records, want 2", len(tail))
	}
	if tail[0].Sequence != 4 || tail[1].Sequence != 5 {
		t.Errorf("tail sequences = %d,%d, want 4,5", tail[0].Sequence, tail[1].Sequence)
	}
}
