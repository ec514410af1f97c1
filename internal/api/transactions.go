package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/store"
)

// Ledger listing limits.
const (
	defaultTransactionLimit = 100
	maxTransactionLimit     = 1000
)

// TransactionsHandler serves the ledger.
type TransactionsHandler struct {
	DB *sql.DB
}

type amendTransactionRequest struct {
	OccurredAt *time.Time `json:"occurred_at"`
	Note       *string    `json:"note"`
	Reference  *string    `json:"reference"`
}

// List handles GET /api/transactions. Filters: item_id, room_id, kind,
// from and to (RFC 3339, on occurred_at) and limit.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	f := store.TransactionFilter{Limit: defaultTransactionLimit}
	q := r.URL.Query()

	var ok bool
	if f.ItemID, ok = queryID(r, "item_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid item_id")
		return
	}
	if f.RoomID, ok = queryID(r, "room_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid room_id")
		return
	}
	if v := q.Get("kind"); v != "" {
		kind, err := model.ParseTransactionKind(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid kind")
			return
		}
		f.Kind = kind
	}
	if f.From, ok = queryTime(r, "from"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid from, expected RFC 3339")
		return
	}
	if f.To, ok = queryTime(r, "to"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid to, expected RFC 3339")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = min(n, maxTransactionLimit)
	}

	txs, err := store.ListTransactions(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	jsonResponse(w, http.StatusOK, txs)
}

// Get handles GET /api/transactions/{id}.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	t, err := store.GetTransaction(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get transaction", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}
	if t == nil {
		jsonError(w, http.StatusNotFound, "transaction not found")
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// Amend handles PATCH /api/transactions/{id}. Only occurred_at, note and
// reference can change; a wrong quantity or room is corrected with a new
// movement.
func (h *TransactionsHandler) Amend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	var req amendTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body (only occurred_at, note and reference can be amended)")
		return
	}
	if req.OccurredAt == nil && req.Note == nil && req.Reference == nil {
		jsonError(w, http.StatusBadRequest, "nothing to amend")
		return
	}

	t, err := store.AmendTransaction(r.Context(), h.DB, id, store.TransactionAmendment{
		OccurredAt: req.OccurredAt,
		Note:       req.Note,
		Reference:  req.Reference,
	})
	if err != nil {
		slog.Error("failed to amend transaction", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to amend transaction")
		return
	}
	if t == nil {
		jsonError(w, http.StatusNotFound, "transaction not found")
		return
	}

	slog.Info("transaction amended", "user", GetClaims(r.Context()).Username, "transaction_id", id)
	jsonResponse(w, http.StatusOK, t)
}
