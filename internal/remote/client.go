// Package remote is the HTTP client for the system of record. It is the only
// place outbound sale submissions and catalog pulls happen.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kasirsync/agent/internal/domain"
)

const tokenTTL = 2 * time.Minute

// SubmitError is a submission the server answered with a non-2xx status.
// Anything below 500 is a rejection of the payload itself and will not succeed
// on resubmission without operator intervention.
type SubmitError struct {
	StatusCode int
	Message    string
}

func (e *SubmitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("submission failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("submission failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *SubmitError) Retryable() bool {
	return e.StatusCode >= 500
}

// IsRetryable classifies a SubmitSale failure. Transport-level errors
// (timeouts, refused connections, DNS) are transient and retryable; only a
// definitive 4xx rejection is not.
func IsRetryable(err error) bool {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	deviceID     string
	deviceSecret []byte
	now          func() time.Time
}

func NewClient(baseURL string, timeout time.Duration, deviceID string, deviceSecret string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		deviceID:     deviceID,
		deviceSecret: []byte(deviceSecret),
		now:          time.Now,
	}
}

// HealthURL is probed by the network monitor; any 200 counts as reachable.
func (c *Client) HealthURL() string {
	return c.baseURL + "/health"
}

// token mints a short-lived HS256 token identifying this terminal. Returns an
// empty string when no device secret is configured (dev mode, open server).
func (c *Client) token() (string, error) {
	if len(c.deviceSecret) == 0 {
		return "", nil
	}
	now := c.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   c.deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.deviceSecret)
}

func (c *Client) newRequest(ctx context.Context, method string, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("mint device token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// SubmitSale posts one captured sale. The local id rides along both as the
// idempotency key and inside the note field, so a submission whose success
// response was lost locally cannot create a second remote record.
func (c *Client) SubmitSale(ctx context.Context, tx domain.OfflineTransaction) (*domain.SaleSubmissionResponse, error) {
	payload := domain.SaleSubmissionRequest{
		LocalID:       tx.ID,
		Note:          "offline-sale:" + tx.ID,
		Items:         tx.Items,
		SubtotalCents: tx.SubtotalCents,
		DiscountCents: tx.DiscountCents,
		TotalCents:    tx.TotalCents,
		PaymentMethod: tx.PaymentMethod,
		CustomerName:  tx.CustomerName,
		CustomerPhone: tx.CustomerPhone,
		CustomerEmail: tx.CustomerEmail,
		StaffID:       tx.StaffID,
		StaffName:     tx.StaffName,
		SoldAt:        tx.Timestamp,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/sale-submission", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit sale %s: %w", tx.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SubmitError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var result domain.SaleSubmissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode submission response: %w", err)
	}
	return &result, nil
}

// FetchCatalog pulls the full active product list.
func (c *Client) FetchCatalog(ctx context.Context) ([]domain.OfflineProduct, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/product-catalog?limit=0", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
	}

	var result domain.CatalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return result.Products, nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
