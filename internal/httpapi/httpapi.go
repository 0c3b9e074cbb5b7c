// Package httpapi exposes the agent to the point-of-sale UI over a loopback
// HTTP surface: sale capture, queue visibility, manual sync controls, cached
// product lookup, and a websocket feed of connectivity changes.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"kasirsync/agent/internal/catalog"
	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
	"kasirsync/agent/internal/queue"
	"kasirsync/agent/internal/service"
	"kasirsync/agent/internal/syncer"
)

type API struct {
	service        *service.Service
	allowedOrigin  string
	managerPINHash string
	upgrader       websocket.Upgrader
}

func New(svc *service.Service, allowedOrigin string, managerPINHash string) *API {
	a := &API{
		service:        svc,
		allowedOrigin:  allowedOrigin,
		managerPINHash: managerPINHash,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == a.allowedOrigin
		},
	}
	return a
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.cors)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sales", a.handleEnqueueSale)
		r.Get("/queue/stats", a.handleQueueStats)
		r.Post("/sync/force", a.handleForceSync)
		r.Post("/queue/failed/clear", a.requirePIN(a.handleClearFailed))
		r.Post("/queue/failed/{id}/retry", a.requirePIN(a.handleRetryFailed))
		r.Get("/network/status", a.handleNetworkStatus)
		r.Post("/network/signal", a.handleNetworkSignal)
		r.Get("/network/ws", a.handleNetworkWS)
		r.Get("/products", a.handleListProducts)
		r.Get("/products/{id}", a.handleGetProduct)
		r.Post("/catalog/refresh", a.handleCatalogRefresh)
	})

	return r
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Manager-PIN")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePIN gates the destructive queue operations behind the manager PIN,
// verified against a bcrypt hash from configuration. With no hash configured
// the gate is open (single-operator kiosk mode).
func (a *API) requirePIN(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.managerPINHash != "" {
			pin := r.Header.Get("X-Manager-PIN")
			if err := bcrypt.CompareHashAndPassword([]byte(a.managerPINHash), []byte(pin)); err != nil {
				writeError(w, http.StatusForbidden, errors.New("manager PIN required"))
				return
			}
		}
		next(w, r)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleEnqueueSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}

	id, err := a.service.EnqueueTransaction(r.Context(), req)
	if err != nil {
		if errors.Is(err, localstore.ErrInvalidSale) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.GetQueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleForceSync(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.ForceSyncNow(r.Context())
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	cleared, err := a.service.ClearFailedTransactions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (a *API) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.service.RetryFailedTransaction(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, localstore.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, queue.ErrNotFailed):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleNetworkStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.service.GetNetworkStatus())
}

type networkSignalRequest struct {
	Online         bool   `json:"online"`
	ConnectionType string `json:"connection_type"`
}

// handleNetworkSignal receives the platform connectivity flag from the UI
// shell (navigator.onLine and friends); the active probe refines it.
func (a *API) handleNetworkSignal(w http.ResponseWriter, r *http.Request) {
	var req networkSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	a.service.SetConnected(req.Online, req.ConnectionType)
	writeJSON(w, http.StatusOK, a.service.GetNetworkStatus())
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListCachedProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CatalogResponse{Products: products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	product, err := a.service.GetCachedProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.service.RefreshProductCache(r.Context()); err != nil {
		if errors.Is(err, catalog.ErrOffline) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNetworkWS streams NetworkStatus changes to the UI. The subscription
// callback must not block, so updates go through a small buffer and a slow
// consumer just misses intermediate states; the latest one always arrives.
func (a *API) handleNetworkWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	updates := make(chan domain.NetworkStatus, 8)
	unsubscribe := a.service.SubscribeNetworkStatus(func(status domain.NetworkStatus) {
		select {
		case updates <- status:
		default:
		}
	})
	defer unsubscribe()

	// Drain the read side so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case status := <-updates:
			if err := conn.WriteJSON(status); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[httpapi] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
