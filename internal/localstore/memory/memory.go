package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
)

type record struct {
	tx  domain.OfflineTransaction
	seq uint64
}

type Store struct {
	mu           sync.RWMutex
	transactions map[string]*record
	products     map[string]domain.OfflineProduct
	scalars      map[string]string
	nextSeq      uint64
}

func New() *Store {
	return &Store{
		transactions: make(map[string]*record),
		products:     make(map[string]domain.OfflineProduct),
		scalars:      make(map[string]string),
	}
}

// NewSeeded returns a store preloaded with a small demo catalog so the sale
// screen works before the first successful refresh.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	seed := []domain.OfflineProduct{
		{ID: "prd-1", Name: "Mie Goreng Instan", SKU: "SKU-MIE-01", Barcode: "8991002100015", PriceCents: 3500, Stock: 120, Category: "grocery", Status: "active", LastUpdated: now},
		{ID: "prd-2", Name: "Telur 10 Butir", SKU: "SKU-TELUR-01", Barcode: "8991002100022", PriceCents: 26500, Stock: 40, Category: "grocery", Status: "active", LastUpdated: now},
		{ID: "prd-3", Name: "Susu UHT 1L", SKU: "SKU-SUSU-01", Barcode: "8991002100039", PriceCents: 18900, Stock: 60, Category: "dairy", Status: "active", LastUpdated: now},
		{ID: "prd-4", Name: "Kopi Sachet", SKU: "SKU-KOPI-01", Barcode: "8991002100046", PriceCents: 2600, Stock: 200, Category: "beverage", Status: "active", LastUpdated: now},
		{ID: "prd-5", Name: "Air Mineral 600ml", SKU: "SKU-AIR-01", Barcode: "8991002100053", PriceCents: 3900, Stock: 150, Category: "beverage", Status: "active", LastUpdated: now},
	}
	for _, p := range seed {
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) PutTransaction(_ context.Context, tx domain.OfflineTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactions[tx.ID]; ok {
		existing.tx = tx
		return nil
	}
	s.nextSeq++
	s.transactions[tx.ID] = &record{tx: tx, seq: s.nextSeq}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.OfflineTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transactions[id]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	tx := rec.tx
	return &tx, nil
}

func (s *Store) ListPendingTransactions(_ context.Context) ([]domain.OfflineTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*record, 0, len(s.transactions))
	for _, rec := range s.transactions {
		if rec.tx.Status == domain.TxStatusSynced {
			continue
		}
		recs = append(recs, rec)
	}

	// Oldest first; the insertion sequence breaks timestamp ties so FIFO
	// holds even for sales captured within the same instant.
	slices.SortFunc(recs, func(a, b *record) int {
		if a.tx.Timestamp.Equal(b.tx.Timestamp) {
			return cmp.Compare(a.seq, b.seq)
		}
		if a.tx.Timestamp.Before(b.tx.Timestamp) {
			return -1
		}
		return 1
	})

	out := make([]domain.OfflineTransaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.tx)
	}
	return out, nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, upd localstore.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transactions[id]
	if !ok {
		return localstore.ErrNotFound
	}
	rec.tx.Status = upd.Status
	rec.tx.SyncAttempts = upd.SyncAttempts
	rec.tx.Retryable = upd.Retryable
	rec.tx.LastError = upd.LastError
	return nil
}

func (s *Store) ClearFailedTransactions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for _, rec := range s.transactions {
		if rec.tx.Status != domain.TxStatusFailed {
			continue
		}
		rec.tx.Status = domain.TxStatusSynced
		cleared++
	}
	return cleared, nil
}

func (s *Store) ReplaceProductCache(_ context.Context, products []domain.OfflineProduct) error {
	next := make(map[string]domain.OfflineProduct, len(products))
	for _, p := range products {
		next[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = next
	return nil
}

func (s *Store) ListCachedProducts(_ context.Context) ([]domain.OfflineProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.OfflineProduct, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.OfflineProduct) int {
		if a.Category == b.Category {
			if a.Name < b.Name {
				return -1
			}
			if a.Name > b.Name {
				return 1
			}
			return 0
		}
		if a.Category < b.Category {
			return -1
		}
		return 1
	})
	return products, nil
}

func (s *Store) GetCachedProduct(_ context.Context, id string) (*domain.OfflineProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetScalar(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.scalars[key]
	if !ok {
		return "", localstore.ErrNotFound
	}
	return val, nil
}

func (s *Store) SetScalar(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalars[key] = value
	return nil
}
