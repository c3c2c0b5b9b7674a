package audit

import (
	"strings"
	"testing"
	"time"
)

// queryFixture builds a small chained history with varied agents,
// actions, outcomes and timestamps.
func queryFixture(t *testing.T) []Record {
	t.Helper()
	c := NewChain()

	specs := []struct {
		agent    string
		action   string
		outcome  Outcome
		protocol string
		ts       string
	}{
		{"agent-a", "files:read", OutcomePermit, "trust", "2026-08-28T10:00:00Z"},
		{"agent-b", "files:write", OutcomeDeny, "consent", "2026-08-28T10:05:00Z"},
		{"agent-a", "net:fetch", OutcomePermit, "budget", "2026-08-28T10:10:00Z"},
		{"agent-b", "files:read", OutcomePermit, "trust", "2026-08-28T10:15:00Z"},
		{"agent-a", "files:write", OutcomeDeny, "trust", "2026-08-28T10:20:00Z"},
	}

	records := make([]Record, 0, len(specs))
	for _, s := range specs {
		rec, err := c.Append(Record{
			ID:        "rec-" + s.ts,
			AgentID:   s.agent,
			Action:    s.action,
			Outcome:   s.outcome,
			Protocol:  s.protocol,
			Timestamp: s.ts,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func TestApplyFilterByAgent(t *testing.T) {
	records := queryFixture(t)

	got := ApplyFilter(records, Filter{AgentID: "agent-a"})
	if len(got) != 3 {
		t.Fatalf("agent-a records = %d, want 3", len(got))
	}
	for _, rec := range got {
		if rec.AgentID != "agent-a" {
			t.Errorf("unexpected agent %q", rec.AgentID)
		}
	}
}

func TestApplyFilterConjunction(t *testing.T) {
	records := queryFixture(t)

	got := ApplyFilter(records, Filter{AgentID: "agent-a", Outcome: OutcomeDeny})
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Action != "files:write" {
		t.Errorf("action = %q, want files:write", got[0].Action)
	}
}

func TestApplyFilterTimeRangeHalfOpen(t *testing.T) {
	records := queryFixture(t)

	got := ApplyFilter(records, Filter{
		From: "2026-08-28T10:05:00Z",
		To:   "2026-08-28T10:15:00Z",
	})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2 (From inclusive, To exclusive)", len(got))
	}
	if got[0].Timestamp != "2026-08-28T10:05:00Z" {
		t.Errorf("first timestamp = %q, want the From bound included", got[0].Timestamp)
	}
	if got[len(got)-1].Timestamp == "2026-08-28T10:15:00Z" {
		t.Error("To bound should be excluded")
	}
}

func TestApplyFilterSortsAscending(t *testing.T) {
	records := queryFixture(t)
	// Shuffle: reverse the slice.
	reversed := make([]Record, len(records))
	for i, rec := range records {
		reversed[len(records)-1-i] = rec
	}

	got := ApplyFilter(reversed, Filter{})
	for i := 1; i < len(got); i++ {
		if got[i-1].Timestamp > got[i].Timestamp {
			t.Fatalf("records out of order: %q before %q", got[i-1].Timestamp, got[i].Timestamp)
		}
	}
}

func TestApplyFilterOffsetAndLimit(t *testing.T) {
	records := queryFixture(t)

	got := ApplyFilter(records, Filter{Offset: 1, Limit: 2})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Sequence != 1 || got[1].Sequence != 2 {
		t.Errorf("page sequences = %d,%d, want 1,2", got[0].Sequence, got[1].Sequence)
	}
}

func TestApplyFilterOffsetBeyondEnd(t *testing.T) {
	records := queryFixture(t)

	got := ApplyFilter(records, Filter{Offset: 100})
	if got == nil {
		t.Fatal("got nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("got %d records, want 0", len(got))
	}
}

func TestNowTimestampFixedWidth(t *testing.T) {
	// Fractional seconds that would trim to different lengths under
	// RFC3339Nano must all format to the same width, or string order
	// stops matching chronological order.
	at := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	half := nowTimestamp(at.Add(500 * time.Millisecond))
	later := nowTimestamp(at.Add(560 * time.Millisecond))

	if len(half) != len(later) {
		t.Fatalf("timestamp widths differ: %q vs %q", half, later)
	}
	if half != "2026-08-28T10:00:00.500Z" {
		t.Errorf("timestamp = %q, want 2026-08-28T10:00:00.500Z", half)
	}
	if !(half < later) {
		t.Errorf("%q should sort before %q", half, later)
	}
}

func TestApplyFilterSubSecondTimestamps(t *testing.T) {
	c := NewChain()
	at := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	var records []Record
	for i, offset := range []time.Duration{500 * time.Millisecond, 560 * time.Millisecond} {
		rec, err := c.Append(Record{
			ID:        "rec-" + strings.Repeat("a", i+1),
			AgentID:   "agent-a",
			Action:    "files:read",
			Outcome:   OutcomePermit,
			Protocol:  "trust",
			Timestamp: nowTimestamp(at.Add(offset)),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		records = append(records, rec)
	}

	got := ApplyFilter([]Record{records[1], records[0]}, Filter{})
	if got[0].Timestamp != records[0].Timestamp {
		t.Errorf("sub-second records out of order: %q before %q", got[0].Timestamp, got[1].Timestamp)
	}

	// A second-granularity From bound still includes the sub-second
	// records inside that second.
	got = ApplyFilter(records, Filter{From: "2026-08-28T10:00:00Z"})
	if len(got) != 2 {
		t.Fatalf("From at second granularity matched %d records, want 2", len(got))
	}
	got = ApplyFilter(records, Filter{To: "2026-08-28T10:00:01Z"})
	if len(got) != 2 {
		t.Fatalf("To at second granularity matched %d records, want 2", len(got))
	}
}

func TestApplyFilterNoMatch(t *testing.T) {
	records := queryFixture(t)

	got := ApplyFilter(records, Filter{AgentID: "agent-z"})
	if len(got) != 0 {
		t.Errorf("got %d records, want 0", len(got))
	}
}
