// Package audit implements the tamper-evident, hash-chained decision ledger.
//
// Every permit/deny decision produced by the governance pipeline is recorded
// as an immutable Record. Each record's hash is computed over its canonical
// JSON encoding combined with the previous record's hash, forming a chain
// where any retroactive edit, deletion, or reordering is detectable by
// replaying the chain and recomputing every link.
//
// The canonical encoding and hash algorithm live in this file and nowhere
// else — independent readers of a ledger file must reproduce these bytes
// exactly to verify it.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// GenesisHash is the previousHash value of the first record in any chain.
// Sixty-four zero hex characters, so the genesis condition is explicit and
// cheap to test for.
var GenesisHash = strings.Repeat("0", 64)

// Chain owns the rolling chain state: the hash of the most recently
// committed record and the next sequence number to assign.
//
// Chain is NOT safe for concurrent use. The Logger serializes all Append
// calls under its own mutex; concurrent unsynchronized appends would read
// the same lastHash and silently fork the chain.
type Chain struct {
	lastHash string
	nextSeq  uint64
}

// NewChain returns a chain starting at genesis.
func NewChain() *Chain {
	return &Chain{lastHash: GenesisHash}
}

// ResumeChain returns a chain continuing from a stored tip, typically
// recovered from the trailing record of a ledger file after restart.
func ResumeChain(lastHash string, lastSequence uint64) *Chain {
	return &Chain{lastHash: lastHash, nextSeq: lastSequence + 1}
}

// LastHash returns the hash of the most recently appended record, or the
// genesis hash when nothing has been appended.
func (c *Chain) LastHash() string {
	return c.lastHash
}

// Append links a pending record into the chain: assigns the next sequence
// number, sets previousHash to the current tip, computes the record hash,
// and advances the tip. Returns the finalized record.
func (c *Chain) Append(pending Record) (Record, error) {
	pending.Sequence = c.nextSeq
	pending.PreviousHash = c.lastHash

	hash, err := computeHash(&pending)
	if err != nil {
		return Record{}, err
	}
	pending.Hash = hash

	c.lastHash = hash
	c.nextSeq++
	return pending, nil
}

// rollback restores the chain tip after a failed persist, so the next
// append reuses the sequence number and previousHash of the record that
// never made it to storage.
func (c *Chain) rollback(rec Record) {
	c.lastHash = rec.PreviousHash
	c.nextSeq = rec.Sequence
}

// computeHash calculates the SHA-256 digest for a record.
//
// The digest input is the canonical JSON of every field except hash,
// followed by a newline, followed by previousHash. The newline separator
// keeps the two parts from overlapping. previousHash contributes twice
// (inside the canonical payload and as the chain seed), which is harmless
// and keeps the canonical payload self-describing.
func computeHash(rec *Record) (string, error) {
	payload, err := canonicalJSON(canonicalFields(rec, false))
	if err != nil {
		return "", fmt.Errorf("canonicalizing record %s: %w", rec.ID, err)
	}

	h := sha256.New()
	h.Write(payload)
	h.Write([]byte("\n"))
	h.Write([]byte(rec.PreviousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyRecord recomputes a record's hash from its current contents and
// reports whether it matches the stored value.
func verifyRecord(rec *Record) (string, bool) {
	expected, err := computeHash(rec)
	if err != nil {
		return "", false
	}
	return expected, expected == rec.Hash
}

// canonicalFields builds the sorted-key map that defines a record's
// canonical encoding. Optional fields (reason, metadata) are included only
// when present, so the hash covers exactly the fields the record carries.
// withHash controls whether the hash field itself is included — false for
// hashing, true for the on-disk line format and JSON export.
func canonicalFields(rec *Record, withHash bool) map[string]any {
	fields := map[string]any{
		"id":           rec.ID,
		"agentId":      rec.AgentID,
		"action":       rec.Action,
		"outcome":      string(rec.Outcome),
		"protocol":     rec.Protocol,
		"timestamp":    rec.Timestamp,
		"sequence":     rec.Sequence,
		"previousHash": rec.PreviousHash,
	}
	if rec.Reason != "" {
		fields["reason"] = rec.Reason
	}
	if rec.Metadata != nil {
		fields["metadata"] = rec.Metadata
	}
	if withHash {
		fields["hash"] = rec.Hash
	}
	return fields
}

// canonicalJSON serializes a value to deterministic compact JSON: map keys
// sorted alphabetically (encoding/json sorts map keys), no inserted
// whitespace, no HTML escaping — the bytes must be reproducible outside Go.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder appends a trailing newline — strip it, the line format owns
	// its own delimiters.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// encodeRecord produces the canonical single-line encoding of a finalized
// record: the exact bytes written to the ledger file and emitted by the
// JSON export.
func encodeRecord(rec *Record) ([]byte, error) {
	return canonicalJSON(canonicalFields(rec, true))
}

// decodeRecord parses one ledger line back into a Record.
func decodeRecord(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
