// Package appservice implements the homeserver-facing side of the Matrix
// application service API: transaction push, user and alias queries.
package appservice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/registry"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/auth"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/server"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// TransactionCacheSize is how many transaction IDs are remembered for
// deduplication.
const TransactionCacheSize = 256

// MaxTransactionBytes caps a transaction body.
const MaxTransactionBytes = 10 << 20

// MatrixError is the standard Matrix error body.
type MatrixError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// Transaction is the body the homeserver PUTs.
type Transaction struct {
	Events []*event.Event `json:"events"`
}

type queuedTxn struct {
	ctx    context.Context
	events []*event.Event
}

type Handler struct {
	events       registry.EventRouter
	isBridgeUser func(id.UserID) bool
	metrics      *telemetry.Metrics
	logger       *slog.Logger

	seen *lru.Cache[string, struct{}]

	// pending holds routed transactions not yet handled. One drain
	// goroutine at a time works through it so events keep homeserver order
	// across transactions.
	mu       sync.Mutex
	pending  []queuedTxn
	draining bool
	wg       sync.WaitGroup
}

func NewHandler(events registry.EventRouter, isBridgeUser func(id.UserID) bool, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if isBridgeUser == nil {
		isBridgeUser = func(id.UserID) bool { return false }
	}
	seen, err := lru.New[string, struct{}](TransactionCacheSize)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &Handler{
		events:       events,
		isBridgeUser: isBridgeUser,
		metrics:      metrics,
		logger:       logger,
		seen:         seen,
	}
}

// HandleTransaction handles PUT /_matrix/app/v1/transactions/{txnId}. The
// events are queued behind earlier transactions and routed on a background
// goroutine, and the homeserver is acknowledged immediately. Replayed transaction IDs are
// acknowledged without routing anything.
func (h *Handler) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnId")
	server.AddLogField(r.Context(), "txn_id", txnID)

	if h.seen.Contains(txnID) {
		h.logger.Debug("ignoring replayed transaction", slog.String("txn_id", txnID))
		server.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}

	var txn Transaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxTransactionBytes)).Decode(&txn); err != nil {
		server.AddError(r.Context(), err)
		server.WriteJSON(w, http.StatusBadRequest, MatrixError{ErrCode: "M_NOT_JSON", Error: "Invalid transaction body"})
		return
	}

	// Add only after decoding so a malformed delivery can be retried.
	if ok, _ := h.seen.ContainsOrAdd(txnID, struct{}{}); ok {
		server.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}

	if h.metrics != nil {
		h.metrics.TransactionsReceived.Inc()
	}
	h.logger.Debug("received transaction",
		slog.String("txn_id", txnID),
		slog.Int("events", len(txn.Events)),
	)

	if len(txn.Events) > 0 && h.events != nil {
		h.enqueue(context.WithoutCancel(r.Context()), txn.Events)
	}

	server.WriteJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) enqueue(ctx context.Context, events []*event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, queuedTxn{ctx: ctx, events: events})
	if h.draining {
		return
	}
	h.draining = true
	h.wg.Add(1)
	go h.drain()
}

func (h *Handler) drain() {
	defer h.wg.Done()
	for {
		h.mu.Lock()
		if len(h.pending) == 0 {
			h.draining = false
			h.mu.Unlock()
			return
		}
		txn := h.pending[0]
		h.pending[0] = queuedTxn{}
		h.pending = h.pending[1:]
		h.mu.Unlock()

		for _, evt := range txn.events {
			if evt == nil {
				continue
			}
			h.events.HandleEvent(txn.ctx, evt)
		}
	}
}

// Wait blocks until every queued transaction has been handled.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleUserQuery handles GET /_matrix/app/v1/users/{userId}. Users in the
// bridge's namespace exist implicitly; they are registered on first use.
func (h *Handler) HandleUserQuery(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "userId")
	userID, err := url.PathUnescape(raw)
	if err != nil {
		userID = raw
	}

	if !h.isBridgeUser(id.UserID(userID)) {
		server.WriteJSON(w, http.StatusNotFound, MatrixError{ErrCode: "M_NOT_FOUND", Error: "User is not in the bridge namespace"})
		return
	}
	server.WriteJSON(w, http.StatusOK, struct{}{})
}

// HandleRoomQuery handles GET /_matrix/app/v1/rooms/{alias}. The bridge
// never creates rooms on demand.
func (h *Handler) HandleRoomQuery(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusNotFound, MatrixError{ErrCode: "M_NOT_FOUND", Error: "Room aliases are not provided by this bridge"})
}

// HandlePing handles POST /_matrix/app/v1/ping.
func (h *Handler) HandlePing(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, struct{}{})
}

// DenyUnauthorized renders hs_token failures as Matrix errors.
func DenyUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrMissingToken) {
		server.WriteJSON(w, http.StatusUnauthorized, MatrixError{ErrCode: "M_UNAUTHORIZED", Error: "Missing access token"})
		return
	}
	server.WriteJSON(w, http.StatusForbidden, MatrixError{ErrCode: "M_FORBIDDEN", Error: "Bad token supplied"})
}
