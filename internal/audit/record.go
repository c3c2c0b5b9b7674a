package audit

import "time"

// Outcome is the result of a governance decision.
type Outcome string

const (
	// OutcomePermit means every governance check passed and the action
	// was allowed.
	OutcomePermit Outcome = "permit"

	// OutcomeDeny means at least one governance check failed and the
	// action was refused.
	OutcomeDeny Outcome = "deny"
)

// Record is a single entry in the decision ledger.
//
// A record is immutable once finalized: the hash covers every other field,
// so any later change makes chain verification fail at this record.
// Corrections are made by appending a new compensating record, never by
// rewriting history.
type Record struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agentId"`
	Action       string         `json:"action"`
	Outcome      Outcome        `json:"outcome"`
	Protocol     string         `json:"protocol"`
	Reason       string         `json:"reason,omitempty"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Sequence     uint64         `json:"sequence"`
	PreviousHash string         `json:"previousHash"`
	Hash         string         `json:"hash"`
}

// DecisionInput is the read-only decision data handed to the logger by the
// evaluation pipeline. The logger never mutates it.
type DecisionInput struct {
	// Outcome is the decision result: permit or deny.
	Outcome Outcome

	// Protocol names the governance protocol that produced the decision
	// (e.g. "trust", "budget", "consent").
	Protocol string

	// Reason is a human-readable explanation of the decision.
	Reason string

	// Timestamp overrides the logger clock when non-empty (RFC 3339).
	// Useful for replaying decisions made elsewhere.
	Timestamp string

	// Details carries supplementary decision data into record metadata.
	// Values must be JSON-serializable primitives, nested maps, or lists.
	Details map[string]any
}

// Context is caller-supplied context merged into the record at creation:
// which agent did what, plus any extra metadata key/values.
type Context struct {
	AgentID string
	Action  string
	Extra   map[string]any
}

// newPendingRecord assembles every record field except sequence,
// previousHash, and hash — those are assigned by Chain.Append. Decision
// details are copied into metadata first, then context extras, so extras
// win on key collision.
func newPendingRecord(id, timestamp string, input DecisionInput, auditCtx Context) Record {
	rec := Record{
		ID:        id,
		AgentID:   auditCtx.AgentID,
		Action:    auditCtx.Action,
		Outcome:   input.Outcome,
		Protocol:  input.Protocol,
		Reason:    input.Reason,
		Timestamp: timestamp,
	}

	if input.Timestamp != "" {
		rec.Timestamp = normalizeTimestamp(input.Timestamp)
	}

	if len(input.Details) > 0 || len(auditCtx.Extra) > 0 {
		meta := make(map[string]any, len(input.Details)+len(auditCtx.Extra))
		for k, v := range input.Details {
			meta[k] = v
		}
		for k, v := range auditCtx.Extra {
			meta[k] = v
		}
		rec.Metadata = meta
	}

	return rec
}

// timestampLayout is RFC 3339 UTC with fixed-width millisecond
// precision. Fixed width keeps lexicographic order equal to
// chronological order, so query filters and the sqlite index can
// compare timestamps as plain strings.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// nowTimestamp formats the current UTC time in the ledger's timestamp
// format.
func nowTimestamp(now time.Time) string {
	return now.UTC().Format(timestampLayout)
}

// normalizeTimestamp reformats any RFC 3339 timestamp into the ledger's
// fixed-width layout. Inputs that do not parse are returned unchanged
// so string comparison still sees the caller's value.
func normalizeTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format(timestampLayout)
}
