package audit

import "context"

// Storage is the capability interface every ledger backend implements.
//
// Implementations must guarantee append-only semantics: records written
// through Append are never altered or deleted by the storage layer (the
// bounded memory backend's FIFO eviction is the one sanctioned exception).
// All returns are in ascending append order.
type Storage interface {
	// Append persists a finalized record. The record must be stored as-is;
	// the hash was computed over exactly these field values.
	Append(ctx context.Context, rec Record) error

	// Query returns records matching the filter, sorted ascending by
	// timestamp (sequence tiebreak), with offset and limit applied last.
	Query(ctx context.Context, f Filter) ([]Record, error)

	// All returns every record in the store in ascending order. Used by
	// chain verification, which needs the full retained corpus.
	All(ctx context.Context) ([]Record, error)

	// Count returns the number of records currently in the store.
	Count(ctx context.Context) (int, error)
}

// tailReader is implemented by backends that can recover the trailing
// record without reading the whole store. The logger uses it to resume the
// chain cheaply on startup.
type tailReader interface {
	LastRecord(ctx context.Context) (*Record, error)
}

// windowStarter is implemented by backends whose oldest records may have
// been evicted. WindowStartHash returns the hash that verification should
// anchor on instead of genesis.
type windowStarter interface {
	WindowStartHash() string
}
