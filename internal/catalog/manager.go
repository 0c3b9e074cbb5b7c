// Package catalog keeps a read-only snapshot of the product catalog in the
// local store so sale entry works while offline.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
	"kasirsync/agent/internal/netmon"
)

var ErrOffline = errors.New("catalog refresh requires connectivity")

// Fetcher pulls the full active catalog. *remote.Client implements it.
type Fetcher interface {
	FetchCatalog(ctx context.Context) ([]domain.OfflineProduct, error)
}

type Manager struct {
	store           localstore.Store
	fetcher         Fetcher
	monitor         *netmon.Monitor
	refreshInterval time.Duration
	now             func() time.Time
}

func New(store localstore.Store, fetcher Fetcher, monitor *netmon.Monitor, refreshInterval time.Duration) *Manager {
	if refreshInterval <= 0 {
		refreshInterval = 6 * time.Hour
	}
	return &Manager{
		store:           store,
		fetcher:         fetcher,
		monitor:         monitor,
		refreshInterval: refreshInterval,
		now:             time.Now,
	}
}

// Refresh pulls the whole catalog and swaps it in atomically. Always a full
// pull; catalogs are small next to transaction volume, and a wholesale replace
// cannot leave stale-diff artifacts behind. A failed fetch keeps the previous
// snapshot untouched.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.monitor.Status().IsOnline {
		return ErrOffline
	}

	products, err := m.fetcher.FetchCatalog(ctx)
	if err != nil {
		return fmt.Errorf("catalog fetch: %w", err)
	}

	if err := m.store.ReplaceProductCache(ctx, products); err != nil {
		return fmt.Errorf("replace product cache: %w", err)
	}
	if err := m.store.SetScalar(ctx, domain.ScalarLastProductSync, m.now().UTC().Format(time.RFC3339)); err != nil {
		log.Printf("[catalog] record last product sync: %v", err)
	}
	log.Printf("[catalog] cached %d products", len(products))
	return nil
}

// Products returns the current snapshot for UI lookup; works offline.
func (m *Manager) Products(ctx context.Context) ([]domain.OfflineProduct, error) {
	return m.store.ListCachedProducts(ctx)
}

func (m *Manager) Product(ctx context.Context, id string) (*domain.OfflineProduct, error) {
	return m.store.GetCachedProduct(ctx, id)
}

// LastSync reports when the catalog was last refreshed successfully.
func (m *Manager) LastSync(ctx context.Context) (*time.Time, error) {
	raw, err := m.store.GetScalar(ctx, domain.ScalarLastProductSync)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	return &at, nil
}

// Run refreshes on start when online, on every reconnection, and on a coarse
// timer, until ctx is cancelled. Refresh failures are logged and retried on
// the next trigger; they never disturb queue processing.
func (m *Manager) Run(ctx context.Context) {
	var wasOnline atomic.Bool
	unsubscribe := m.monitor.Subscribe(func(status domain.NetworkStatus) {
		if !status.IsOnline {
			wasOnline.Store(false)
			return
		}
		if !wasOnline.Swap(true) {
			go func() {
				if err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrOffline) {
					log.Printf("[catalog] refresh on reconnect: %v", err)
				}
			}()
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrOffline) {
				log.Printf("[catalog] periodic refresh: %v", err)
			}
		}
	}
}
