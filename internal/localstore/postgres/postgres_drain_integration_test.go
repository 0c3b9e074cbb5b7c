package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
)

func TestTransactionLifecycleRoundtrip(t *testing.T) {
	databaseURL := os.Getenv("KASIRSYNC_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRSYNC_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	oldID := fmt.Sprintf("txn-it-%d-a", stamp)
	newID := fmt.Sprintf("txn-it-%d-b", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM offline_transactions WHERE id IN ($1, $2)`, oldID, newID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sync_scalars WHERE key = $1`, domain.ScalarLastSyncAttempt)
	})

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, id := range []string{newID, oldID} {
		// Insert newest first; listing must still come back oldest first.
		ts := base.Add(time.Duration(1-i) * time.Second)
		err := s.PutTransaction(ctx, domain.OfflineTransaction{
			ID: id,
			Items: []domain.SaleItem{
				{ProductID: "prd-it", Name: "Produk IT", SKU: "SKU-IT-01", UnitPriceCents: 6000, Qty: 2, LineTotalCents: 12000},
			},
			SubtotalCents: 12000,
			TotalCents:    12000,
			PaymentMethod: domain.PaymentMethodCash,
			StaffID:       "staff-it",
			StaffName:     "Kasir IT",
			Timestamp:     ts,
			Status:        domain.TxStatusPending,
		})
		if err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	pending, err := s.ListPendingTransactions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var ours []string
	for _, tx := range pending {
		if tx.ID == oldID || tx.ID == newID {
			ours = append(ours, tx.ID)
		}
	}
	if len(ours) != 2 || ours[0] != oldID || ours[1] != newID {
		t.Fatalf("expected [%s %s] oldest first, got %v", oldID, newID, ours)
	}

	err = s.UpdateTransactionStatus(ctx, oldID, localstore.StatusUpdate{
		Status:       domain.TxStatusFailed,
		SyncAttempts: 1,
		Retryable:    true,
		LastError:    "submission failed with status 502",
	})
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := s.GetTransaction(ctx, oldID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Status != domain.TxStatusFailed || got.SyncAttempts != 1 || !got.Retryable {
		t.Fatalf("unexpected transaction after update: %+v", got)
	}
	if got.Items[0].LineTotalCents != 12000 {
		t.Fatalf("items did not roundtrip: %+v", got.Items)
	}
	if !got.Timestamp.Equal(base) {
		t.Fatalf("timestamp did not roundtrip: want %v, got %v", base, got.Timestamp)
	}

	err = s.UpdateTransactionStatus(ctx, newID, localstore.StatusUpdate{
		Status:       domain.TxStatusSynced,
		SyncAttempts: 1,
	})
	if err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	pending, err = s.ListPendingTransactions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	for _, tx := range pending {
		if tx.ID == newID {
			t.Fatal("synced transaction must not be listed")
		}
	}

	cleared, err := s.ClearFailedTransactions(ctx)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if cleared < 1 {
		t.Fatalf("expected at least our failed transaction cleared, got %d", cleared)
	}

	at := time.Now().UTC().Format(time.RFC3339)
	if err := s.SetScalar(ctx, domain.ScalarLastSyncAttempt, at); err != nil {
		t.Fatalf("set scalar: %v", err)
	}
	raw, err := s.GetScalar(ctx, domain.ScalarLastSyncAttempt)
	if err != nil {
		t.Fatalf("get scalar: %v", err)
	}
	if raw != at {
		t.Fatalf("scalar did not roundtrip: want %s, got %s", at, raw)
	}

	if err := s.UpdateTransactionStatus(ctx, "txn-it-missing", localstore.StatusUpdate{Status: domain.TxStatusSynced}); err != localstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProductCacheReplaceIsWholesale(t *testing.T) {
	databaseURL := os.Getenv("KASIRSYNC_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRSYNC_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_cache`)
		_ = s.Close()
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	first := []domain.OfflineProduct{
		{ID: "prd-it-1", Name: "Produk Lama", SKU: "SKU-IT-1", PriceCents: 3500, Stock: 10, Status: "active", LastUpdated: now},
	}
	if err := s.ReplaceProductCache(ctx, first); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	second := []domain.OfflineProduct{
		{ID: "prd-it-2", Name: "Produk Baru", SKU: "SKU-IT-2", PriceCents: 5000, Stock: 24, Status: "active", LastUpdated: now},
	}
	if err := s.ReplaceProductCache(ctx, second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	if _, err := s.GetCachedProduct(ctx, "prd-it-1"); err != localstore.ErrNotFound {
		t.Fatalf("expected previous snapshot gone, got %v", err)
	}
	p, err := s.GetCachedProduct(ctx, "prd-it-2")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.PriceCents != 5000 || p.Stock != 24 {
		t.Fatalf("product did not roundtrip: %+v", p)
	}
}
