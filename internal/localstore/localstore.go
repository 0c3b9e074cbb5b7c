// Package localstore defines the durable store every other component reads and
// writes through: queued transactions, the cached product catalog, and scalar
// sync markers, kept in three logical collections that survive restarts.
package localstore

import (
	"context"
	"errors"

	"kasirsync/agent/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSale = errors.New("invalid sale")
)

// StatusUpdate is the mutable trio (plus retry classification) of a stored
// transaction. Everything else is immutable after PutTransaction.
type StatusUpdate struct {
	Status       string
	SyncAttempts int
	Retryable    bool
	LastError    string
}

// Store implementations must be safe for concurrent use; the queue, the sync
// orchestrator and UI reads all interleave. Writes to the same record are
// serialized by the implementation.
type Store interface {
	// PutTransaction inserts or overwrites by id. Writing an existing id is
	// not an error.
	PutTransaction(ctx context.Context, tx domain.OfflineTransaction) error
	GetTransaction(ctx context.Context, id string) (*domain.OfflineTransaction, error)
	// ListPendingTransactions returns every transaction whose status is not
	// synced, oldest first.
	ListPendingTransactions(ctx context.Context) ([]domain.OfflineTransaction, error)
	// UpdateTransactionStatus atomically applies the mutable fields. Returns
	// ErrNotFound if the id is absent.
	UpdateTransactionStatus(ctx context.Context, id string, upd StatusUpdate) error
	// ClearFailedTransactions bulk-transitions all failed transactions to
	// synced and reports how many it touched.
	ClearFailedTransactions(ctx context.Context) (int, error)

	// ReplaceProductCache atomically swaps the entire cached catalog.
	ReplaceProductCache(ctx context.Context, products []domain.OfflineProduct) error
	ListCachedProducts(ctx context.Context) ([]domain.OfflineProduct, error)
	GetCachedProduct(ctx context.Context, id string) (*domain.OfflineProduct, error)

	GetScalar(ctx context.Context, key string) (string, error)
	SetScalar(ctx context.Context, key string, value string) error
}
