package domain

import "time"

const (
	TxStatusPending = "pending"
	TxStatusSynced  = "synced"
	TxStatusFailed  = "failed"
)

const (
	PaymentMethodCash        = "cash"
	PaymentMethodPOS         = "pos"
	PaymentMethodTransfer    = "transfer"
	PaymentMethodMobileMoney = "mobile_money"
)

// Scalar keys persisted in the local store.
const (
	ScalarLastSyncAttempt = "last_sync_attempt"
	ScalarLastProductSync = "last_product_sync"
)

type SaleItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// SaleRequest is what the sale-entry screen hands over when a sale completes.
// Line totals and the transaction totals are computed by the queue, not trusted
// from the caller.
type SaleRequest struct {
	Items         []SaleItem `json:"items"`
	DiscountCents int64      `json:"discount_cents"`
	PaymentMethod string     `json:"payment_method"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	StaffID       string     `json:"staff_id"`
	StaffName     string     `json:"staff_name"`
}

// OfflineTransaction is one captured sale awaiting (or done with) remote
// submission. Items, monetary fields, staff identity and the timestamp are
// immutable once created; only Status, SyncAttempts, Retryable and LastError
// change afterwards.
type OfflineTransaction struct {
	ID            string     `json:"id"`
	Items         []SaleItem `json:"items"`
	SubtotalCents int64      `json:"subtotal_cents"`
	DiscountCents int64      `json:"discount_cents"`
	TotalCents    int64      `json:"total_cents"`
	PaymentMethod string     `json:"payment_method"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	StaffID       string     `json:"staff_id"`
	StaffName     string     `json:"staff_name"`
	Timestamp     time.Time  `json:"timestamp"`
	Status        string     `json:"status"`
	SyncAttempts  int        `json:"sync_attempts"`
	Retryable     bool       `json:"retryable"`
	LastError     string     `json:"last_error,omitempty"`
}

// OfflineProduct is a read-only snapshot of a catalog product. The whole
// collection is replaced on every successful cache refresh.
type OfflineProduct struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SKU         string    `json:"sku"`
	Barcode     string    `json:"barcode,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category"`
	Brand       string    `json:"brand,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
}

// NetworkStatus is transient and rebuilt wholesale on every observation.
type NetworkStatus struct {
	IsOnline         bool       `json:"is_online"`
	IsSlowConnection bool       `json:"is_slow_connection"`
	ConnectionType   string     `json:"connection_type,omitempty"`
	LatencyMS        int64      `json:"latency_ms"`
	LastOnlineTime   *time.Time `json:"last_online_time,omitempty"`
	LastOfflineTime  *time.Time `json:"last_offline_time,omitempty"`
}

type QueueStats struct {
	PendingCount    int        `json:"pending_count"`
	FailedCount     int        `json:"failed_count"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
	NextSyncAttempt *time.Time `json:"next_sync_attempt,omitempty"`
}

// SyncResult aggregates one drain pass. Skipped counts items deferred to the
// next pass because connectivity dropped mid-drain.
type SyncResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// SaleSubmissionRequest is the payload POSTed to the remote system of record.
// LocalID doubles as the server-side idempotency key; Note carries it again as
// a human-visible reference so duplicate submissions are detectable from the
// remote ledger too.
type SaleSubmissionRequest struct {
	LocalID       string     `json:"local_id"`
	Note          string     `json:"note"`
	Items         []SaleItem `json:"items"`
	SubtotalCents int64      `json:"subtotal_cents"`
	DiscountCents int64      `json:"discount_cents"`
	TotalCents    int64      `json:"total_cents"`
	PaymentMethod string     `json:"payment_method"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	StaffID       string     `json:"staff_id"`
	StaffName     string     `json:"staff_name"`
	SoldAt        time.Time  `json:"sold_at"`
}

type SaleSubmissionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Duplicate     bool   `json:"duplicate"`
}

type CatalogResponse struct {
	Products []OfflineProduct `json:"products"`
}

func ValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodPOS, PaymentMethodTransfer, PaymentMethodMobileMoney:
		return true
	}
	return false
}
