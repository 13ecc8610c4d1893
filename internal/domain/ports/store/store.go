// Package store defines the collection-of-documents abstraction the quota
// core is built against. It models a document store supporting
// single-document reads, conditional writes, indexed queries, batch
// writes, and multi-document transactions with optimistic concurrency,
// kept small so production (Postgres/JSONB) and test (in-memory)
// backends stay interchangeable.
//
// An opaque handle (Tx) is threaded through the same Get/Set/Query calls
// used outside a transaction: Postgres repositories accept a nullable
// executor and branch on whether it is a pgx.Tx or a bare pool
// connection; this port generalizes that shape to any backend.
package store

import "context"

// Collection names for the five logical collections this core persists.
const (
	CollectionUsers         = "users_quota"
	CollectionSubscriptions = "subscriptions_quota"
	CollectionWallets       = "quota_wallets"
	CollectionUsages        = "quota_usages"
	CollectionWebhookEvents = "webhook_events"
)

// Document is a generic read result: the raw field map plus the
// store-assigned optimistic-concurrency version.
type Document struct {
	ID      string
	Fields  map[string]any
	Version int64
}

// Filter selects documents within a collection by equality on promoted
// (indexed) fields, with optional ordering. The only fields the store is
// required to index are userId, status, and periodEnd — the secondary
// index backends maintain on quota_wallets — querying on anything else
// is a backend-specific capability, not part of this port.
type Filter struct {
	Equals  map[string]any
	OrderBy string // field name
	Desc    bool
	Limit   int
}

// Tx is the opaque transaction handle passed into transactional
// operations. Its concrete type is backend-defined (e.g. pgx.Tx for
// Postgres, or a snapshot token for the in-memory store); callers never
// inspect it, only pass it through.
type Tx interface{}

// Batch accumulates multiple document writes to be applied together. A
// batch is NOT required to be atomic as a group — each individual
// document update is atomic, but the batch as a whole is not — it exists
// purely to amortize round-trips against a real backend.
type Batch interface {
	Set(collection, id string, fields map[string]any, merge bool)
	Commit(ctx context.Context) error
}

// Store is the full abstraction the quota core depends on. Every method
// accepts a nullable Tx: nil means "run directly against the store", a
// non-nil value obtained from RunTransaction means "run as part of that
// transaction".
type Store interface {
	// Get reads one document by id. ok is false (err nil) when absent.
	Get(ctx context.Context, tx Tx, collection, id string) (Document, bool, error)

	// Set writes a document. When merge is true, fields are merged into
	// any existing document (upsert); when false, fields fully replace
	// it. expectedVersion, if non-zero, makes the write a compare-and-swap
	// that fails with domain.ErrVersionConflict if the stored version
	// differs — 0 means "no expectation" (blind write / first write).
	Set(ctx context.Context, tx Tx, collection, id string, fields map[string]any, merge bool, expectedVersion int64) error

	// Query returns documents in collection matching filter.
	Query(ctx context.Context, tx Tx, collection string, filter Filter) ([]Document, error)

	// Batch starts a batch of writes against the store; queued writes are
	// applied when Commit is called. Batches never run inside a
	// transaction.
	Batch(ctx context.Context) Batch

	// RunTransaction executes fn with a transactional handle. Get/Set/Query
	// calls made with that handle are atomic as a group; a conflicting
	// concurrent transaction surfaces as a transient error the caller may
	// retry.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
