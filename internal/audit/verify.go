package audit

// VerifyResult reports the outcome of a chain integrity check.
//
// On failure the broken record's sequence and the hash mismatch are
// reported so an operator can locate the tampered or corrupted entry.
// BrokenAtSequence is a pointer so a break at sequence 0 still
// serializes, distinct from the field being absent on a valid result.
type VerifyResult struct {
	Valid            bool    `json:"valid"`
	RecordsChecked   int     `json:"recordsChecked"`
	BrokenAtSequence *uint64 `json:"brokenAtSequence,omitempty"`
	ExpectedHash     string  `json:"expectedHash,omitempty"`
	ActualHash       string  `json:"actualHash,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

// VerifyChain checks the full hash chain from genesis: every record's
// stored hash must match its recomputed hash, and every record's
// previousHash must equal its predecessor's hash.
func VerifyChain(records []Record) VerifyResult {
	return VerifyWindow(records, GenesisHash)
}

// VerifyWindow checks a contiguous suffix of the chain, anchored on
// startHash — the previousHash the first supplied record is expected to
// carry. Bounded backends that evict old records use their oldest
// retained record's previousHash as the anchor.
//
// Verification fails fast: the first broken link is reported and later
// records are not checked.
func VerifyWindow(records []Record, startHash string) VerifyResult {
	expected := startHash
	for i := range records {
		rec := &records[i]
		seq := rec.Sequence
		if rec.PreviousHash != expected {
			return VerifyResult{
				RecordsChecked:   i + 1,
				BrokenAtSequence: &seq,
				ExpectedHash:     expected,
				ActualHash:       rec.PreviousHash,
				Reason:           "previousHash does not match predecessor",
			}
		}
		computed, ok := verifyRecord(rec)
		if !ok {
			return VerifyResult{
				RecordsChecked:   i + 1,
				BrokenAtSequence: &seq,
				ExpectedHash:     computed,
				ActualHash:       rec.Hash,
				Reason:           "record content does not match stored hash",
			}
		}
		expected = rec.Hash
	}
	return VerifyResult{Valid: true, RecordsChecked: len(records)}
}
