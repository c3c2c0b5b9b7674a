package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Logger.
type Options struct {
	// Storage is the ledger backend. Required unless Disabled is set.
	Storage Storage

	// Disabled turns the logger into a no-op: Log returns (nil, nil)
	// without touching storage, and Query returns no records.
	Disabled bool

	// Index, when set, receives a best-effort copy of every record for
	// fast filtered queries. Index failures never fail an append.
	Index *Index

	// OnRecord, when set, is invoked after every successful append —
	// used to fan records out to live subscribers.
	OnRecord func(Record)

	// Now and NewID override the clock and ID source, for tests.
	Now   func() time.Time
	NewID func() string
}

// Logger is the single writer of the hash chain. It serializes appends,
// assigns each record its identity, sequence and hashes, and persists it
// before linking the next record on top.
type Logger struct {
	mu      sync.Mutex
	chain   *Chain
	storage Storage

	disabled bool
	index    *Index
	onRecord func(Record)
	now      func() time.Time
	newID    func() string
}

// New builds a Logger over the given backend, resuming the chain from the
// backend's last persisted record when one exists.
func New(ctx context.Context, opts Options) (*Logger, error) {
	l := &Logger{
		storage:  opts.Storage,
		disabled: opts.Disabled,
		index:    opts.Index,
		onRecord: opts.OnRecord,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	if l.disabled {
		l.chain = NewChain()
		return l, nil
	}
	if l.storage == nil {
		return nil, fmt.Errorf("audit: storage is required")
	}

	l.chain = NewChain()
	if tr, ok := l.storage.(tailReader); ok {
		last, err := tr.LastRecord(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume chain: %w", err)
		}
		if last != nil {
			l.chain = ResumeChain(last.Hash, last.Sequence)
		}
	}

	if l.index != nil {
		l.catchUpIndex(ctx)
	}

	return l, nil
}

// catchUpIndex replays ledger records the index has not seen yet. The
// index is a rebuildable projection; errors here are logged and ignored.
func (l *Logger) catchUpIndex(ctx context.Context) {
	lastSeq := l.index.LastSequence()
	all, err := l.storage.All(ctx)
	if err != nil {
		slog.Warn("index catch-up read failed", "error", err)
		return
	}
	var behind []Record
	for _, rec := range all {
		// lastSeq is 0 both for an empty index and one holding only the
		// genesis record; reindexing is idempotent, so include sequence 0.
		if rec.Sequence > lastSeq || lastSeq == 0 {
			behind = append(behind, rec)
		}
	}
	if len(behind) > 0 {
		slog.Info("catching up query index", "records", len(behind))
		l.index.Reindex(behind)
	}
}

// Log records one governance decision. It returns the fully populated
// record as persisted, or (nil, nil) when the logger is disabled.
//
// If the backend rejects the append the chain tip is rolled back, so a
// later Log call reuses the failed record's sequence and previous hash
// and the persisted chain stays linear.
func (l *Logger) Log(ctx context.Context, input DecisionInput, auditCtx Context) (*Record, error) {
	if l.disabled {
		return nil, nil
	}
	switch input.Outcome {
	case OutcomePermit, OutcomeDeny:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, input.Outcome)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pending := newPendingRecord(l.newID(), nowTimestamp(l.now()), input, auditCtx)
	rec, err := l.chain.Append(pending)
	if err != nil {
		return nil, fmt.Errorf("hash record: %w", err)
	}
	if err := l.storage.Append(ctx, rec); err != nil {
		l.chain.rollback(rec)
		return nil, fmt.Errorf("persist record: %w", err)
	}

	if l.index != nil {
		l.index.Insert(&rec)
	}
	if l.onRecord != nil {
		l.onRecord(rec)
	}
	return &rec, nil
}

// Query returns records matching the filter in ascending timestamp order.
// Queries always go to the ledger backend, the source of truth; the index
// serves only the read paths that opt into it (Tail).
func (l *Logger) Query(ctx context.Context, f Filter) ([]Record, error) {
	if l.disabled {
		return []Record{}, nil
	}
	return l.storage.Query(ctx, f)
}

// Tail returns the n most recent records, oldest first. The index serves
// this when available so tailing a large file ledger stays cheap.
func (l *Logger) Tail(ctx context.Context, n int) ([]Record, error) {
	if l.disabled {
		return []Record{}, nil
	}
	if l.index != nil {
		records, err := l.index.Tail(n)
		if err == nil {
			return records, nil
		}
		slog.Warn("index tail failed, falling back to storage", "error", err)
	}
	all, err := l.storage.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Verify checks the integrity of the persisted chain. Backends that evict
// old records anchor the check on their retained window; the file backend
// verifies back to genesis.
func (l *Logger) Verify(ctx context.Context) (VerifyResult, error) {
	if l.disabled {
		return VerifyResult{Valid: true}, nil
	}
	all, err := l.storage.All(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("read ledger: %w", err)
	}
	start := GenesisHash
	if ws, ok := l.storage.(windowStarter); ok {
		start = ws.WindowStartHash()
	}
	return VerifyWindow(all, start), nil
}

// Export writes records to w in the given format. A nil filter exports
// everything.
func (l *Logger) Export(ctx context.Context, w io.Writer, format Format, f *Filter) error {
	if l.disabled {
		return Export(w, format, nil)
	}
	var filter Filter
	if f != nil {
		filter = *f
	}
	records, err := l.storage.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	return Export(w, format, records)
}

// Count returns the number of retained records.
func (l *Logger) Count(ctx context.Context) (int, error) {
	if l.disabled {
		return 0, nil
	}
	return l.storage.Count(ctx)
}

// LastHash returns the current chain tip.
func (l *Logger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.LastHash()
}

// Close releases the index and any closable backend.
func (l *Logger) Close() error {
	var firstErr error
	if l.index != nil {
		if err := l.index.Close(); err != nil {
			firstErr = err
		}
	}
	if c, ok := l.storage.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
