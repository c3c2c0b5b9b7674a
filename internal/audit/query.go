package audit

import "sort"

// Filter selects a subset of the ledger. All set fields are AND-combined;
// a zero value on any dimension means "match any".
//
// From is inclusive and To is exclusive. The half-open interval lets
// callers page through time in contiguous, non-overlapping windows.
// Record timestamps are fixed-width RFC 3339 UTC strings; From and To
// may be coarser (a bare second, say) and are normalized to the same
// width before comparing.
type Filter struct {
	AgentID  string
	Action   string
	Outcome  Outcome
	Protocol string
	From     string
	To       string
	Limit    int
	Offset   int
}

// matches reports whether a record satisfies every set filter field.
func (f Filter) matches(rec *Record) bool {
	if f.AgentID != "" && rec.AgentID != f.AgentID {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.Protocol != "" && rec.Protocol != f.Protocol {
		return false
	}
	if f.From != "" && rec.Timestamp < f.From {
		return false
	}
	if f.To != "" && rec.Timestamp >= f.To {
		return false
	}
	return true
}

// ApplyFilter is the pure query pipeline shared by every backend:
// filter, sort ascending, then offset and limit. The input slice is not
// modified.
func ApplyFilter(records []Record, f Filter) []Record {
	if f.From != "" {
		f.From = normalizeTimestamp(f.From)
	}
	if f.To != "" {
		f.To = normalizeTimestamp(f.To)
	}

	matched := make([]Record, 0, len(records))
	for i := range records {
		if f.matches(&records[i]) {
			matched = append(matched, records[i])
		}
	}

	sortRecords(matched)

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Record{}
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched
}

// sortRecords orders records ascending by timestamp, breaking ties by
// sequence so chain order always wins for same-instant records.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].Sequence < records[j].Sequence
	})
}
