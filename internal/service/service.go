// Package service is the surface the UI layer talks to: one façade over the
// queue, the network monitor, the sync orchestrator and the product cache.
package service

import (
	"context"
	"sync"

	"kasirsync/agent/internal/catalog"
	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/netmon"
	"kasirsync/agent/internal/queue"
	"kasirsync/agent/internal/syncer"
)

type Service struct {
	monitor *netmon.Monitor
	queue   *queue.Queue
	syncer  *syncer.Orchestrator
	catalog *catalog.Manager
}

func New(monitor *netmon.Monitor, q *queue.Queue, orch *syncer.Orchestrator, cat *catalog.Manager) *Service {
	q.SetNudge(orch.Nudge)
	return &Service{
		monitor: monitor,
		queue:   q,
		syncer:  orch,
		catalog: cat,
	}
}

// Run starts the background loops (probe, drain scheduling, catalog refresh)
// and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.syncer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.catalog.Run(ctx)
	}()
	wg.Wait()
}

func (s *Service) EnqueueTransaction(ctx context.Context, req domain.SaleRequest) (string, error) {
	return s.queue.Enqueue(ctx, req)
}

func (s *Service) GetNetworkStatus() domain.NetworkStatus {
	return s.monitor.Status()
}

func (s *Service) SubscribeNetworkStatus(l netmon.Listener) func() {
	return s.monitor.Subscribe(l)
}

// SetConnected forwards the platform connectivity signal reported by the UI
// shell into the network monitor.
func (s *Service) SetConnected(online bool, connectionType string) {
	s.monitor.SetConnected(online, connectionType)
}

func (s *Service) GetQueueStats(ctx context.Context) (domain.QueueStats, error) {
	return s.queue.Stats(ctx)
}

func (s *Service) ForceSyncNow(ctx context.Context) (domain.SyncResult, error) {
	return s.syncer.SyncNow(ctx)
}

func (s *Service) ClearFailedTransactions(ctx context.Context) (int, error) {
	return s.queue.ClearFailed(ctx)
}

func (s *Service) RetryFailedTransaction(ctx context.Context, id string) error {
	return s.queue.RetryFailed(ctx, id)
}

func (s *Service) RefreshProductCache(ctx context.Context) error {
	return s.catalog.Refresh(ctx)
}

func (s *Service) ListCachedProducts(ctx context.Context) ([]domain.OfflineProduct, error) {
	return s.catalog.Products(ctx)
}

func (s *Service) GetCachedProduct(ctx context.Context, id string) (*domain.OfflineProduct, error) {
	return s.catalog.Product(ctx, id)
}
