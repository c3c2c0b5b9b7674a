package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"
)

// Index is a SQLite projection of the ledger for fast filtered queries.
// The ledger itself (file or memory backend) remains the source of truth;
// the index carries no hashes' authority and can be rebuilt from the
// ledger at any time with Reindex.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the SQLite index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index %s: %w", path, err)
	}

	// WAL mode allows the CLI to query while a long-lived logger writes.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			seq       INTEGER PRIMARY KEY,
			id        TEXT NOT NULL DEFAULT '',
			ts        TEXT NOT NULL,
			agent     TEXT NOT NULL DEFAULT '',
			action    TEXT NOT NULL DEFAULT '',
			outcome   TEXT NOT NULL DEFAULT '',
			protocol  TEXT NOT NULL DEFAULT '',
			reason    TEXT NOT NULL DEFAULT '',
			metadata  TEXT NOT NULL DEFAULT '',
			prev_hash TEXT NOT NULL DEFAULT '',
			hash      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_agent ON records(agent);
		CREATE INDEX IF NOT EXISTS idx_outcome ON records(outcome);
		CREATE INDEX IF NOT EXISTS idx_protocol ON records(protocol);
		CREATE INDEX IF NOT EXISTS idx_ts ON records(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Insert adds a record to the index. Errors are logged, not returned —
// the ledger append already succeeded and must not be unwound for a
// failure in the rebuildable projection.
func (idx *Index) Insert(rec *Record) {
	metadataJSON := ""
	if len(rec.Metadata) > 0 {
		raw, _ := json.Marshal(rec.Metadata)
		metadataJSON = string(raw)
	}

	_, err := idx.db.Exec(
		`INSERT OR REPLACE INTO records (seq, id, ts, agent, action, outcome, protocol, reason, metadata, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Sequence, rec.ID, rec.Timestamp, rec.AgentID, rec.Action,
		string(rec.Outcome), rec.Protocol, rec.Reason, metadataJSON,
		rec.PreviousHash, rec.Hash,
	)
	if err != nil {
		slog.Error("sqlite index insert failed", "sequence", rec.Sequence, "error", err)
	}
}

// Query retrieves matching records in ascending sequence order.
func (idx *Index) Query(f Filter) ([]Record, error) {
	query := "SELECT seq, id, ts, agent, action, outcome, protocol, reason, metadata, prev_hash, hash FROM records WHERE 1=1"
	var args []any

	if f.AgentID != "" {
		query += " AND agent = ?"
		args = append(args, f.AgentID)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(f.Outcome))
	}
	if f.Protocol != "" {
		query += " AND protocol = ?"
		args = append(args, f.Protocol)
	}
	if f.From != "" {
		query += " AND ts >= ?"
		args = append(args, normalizeTimestamp(f.From))
	}
	if f.To != "" {
		query += " AND ts < ?"
		args = append(args, normalizeTimestamp(f.To))
	}

	query += " ORDER BY ts ASC, seq ASC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite index: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var outcome, metadataJSON string
		err := rows.Scan(
			&rec.Sequence, &rec.ID, &rec.Timestamp, &rec.AgentID, &rec.Action,
			&outcome, &rec.Protocol, &rec.Reason, &metadataJSON,
			&rec.PreviousHash, &rec.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sqlite row: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		if metadataJSON != "" && metadataJSON != "null" {
			var parsed map[string]any
			if jsonErr := json.Unmarshal([]byte(metadataJSON), &parsed); jsonErr == nil {
				rec.Metadata = parsed
			}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Tail returns the limit most recent records, oldest first.
func (idx *Index) Tail(limit int) ([]Record, error) {
	query := `SELECT seq, id, ts, agent, action, outcome, protocol, reason, metadata, prev_hash, hash
		FROM (SELECT * FROM records ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`

	rows, err := idx.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite index: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var outcome, metadataJSON string
		err := rows.Scan(
			&rec.Sequence, &rec.ID, &rec.Timestamp, &rec.AgentID, &rec.Action,
			&outcome, &rec.Protocol, &rec.Reason, &metadataJSON,
			&rec.PreviousHash, &rec.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sqlite row: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		if metadataJSON != "" && metadataJSON != "null" {
			var parsed map[string]any
			if jsonErr := json.Unmarshal([]byte(metadataJSON), &parsed); jsonErr == nil {
				rec.Metadata = parsed
			}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// LastSequence returns the highest sequence number in the index, or 0
// when the index is empty.
func (idx *Index) LastSequence() uint64 {
	var seq sql.NullInt64
	err := idx.db.QueryRow("SELECT MAX(seq) FROM records").Scan(&seq)
	if err != nil || !seq.Valid {
		return 0
	}
	return uint64(seq.Int64)
}

// Reindex inserts every given record, catching the index up with the
// ledger after it fell behind or was deleted.
func (idx *Index) Reindex(records []Record) {
	for i := range records {
		idx.Insert(&records[i])
	}
}

// Close closes the SQLite database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}
