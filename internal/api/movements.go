package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
)

// MovementsHandler applies stock movements through the engine.
type MovementsHandler struct {
	Engine *stock.Engine
}

type movementRequest struct {
	ItemID     int64      `json:"item_id"`
	Quantity   int        `json:"quantity"`
	FromRoomID int64      `json:"from_room_id"`
	ToRoomID   int64      `json:"to_room_id"`
	OccurredAt *time.Time `json:"occurred_at"`
	Note       string     `json:"note"`
	Reference  string     `json:"reference"`
}

// Create handles POST /api/movements/{kind} for kind in, out or transfer.
// The authenticated user is recorded as the actor.
func (h *MovementsHandler) Create(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseTransactionKind(r.PathValue("kind"))
	if err != nil {
		jsonError(w, http.StatusNotFound, "unknown movement kind")
		return
	}

	claims := GetClaims(r.Context())
	if !model.CanMove(claims.Role, kind) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	var req movementRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case kind == model.KindIn && req.FromRoomID != 0:
		jsonError(w, http.StatusBadRequest, "stock-in takes to_room_id only")
		return
	case kind == model.KindOut && req.ToRoomID != 0:
		jsonError(w, http.StatusBadRequest, "stock-out takes from_room_id only")
		return
	}

	var occurredAt time.Time
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}
	if req.Reference == "" {
		req.Reference = uuid.NewString()
	}

	var res *stock.Result
	switch kind {
	case model.KindIn:
		res, err = h.Engine.ApplyStockIn(r.Context(), stock.StockIn{
			ItemID:     req.ItemID,
			Quantity:   req.Quantity,
			ToRoomID:   req.ToRoomID,
			ActorID:    claims.UserID,
			OccurredAt: occurredAt,
			Note:       req.Note,
			Reference:  req.Reference,
		})
	case model.KindOut:
		res, err = h.Engine.ApplyStockOut(r.Context(), stock.StockOut{
			ItemID:     req.ItemID,
			Quantity:   req.Quantity,
			FromRoomID: req.FromRoomID,
			ActorID:    claims.UserID,
			OccurredAt: occurredAt,
			Note:       req.Note,
			Reference:  req.Reference,
		})
	case model.KindTransfer:
		res, err = h.Engine.ApplyTransfer(r.Context(), stock.Transfer{
			ItemID:     req.ItemID,
			Quantity:   req.Quantity,
			FromRoomID: req.FromRoomID,
			ToRoomID:   req.ToRoomID,
			ActorID:    claims.UserID,
			OccurredAt: occurredAt,
			Note:       req.Note,
			Reference:  req.Reference,
		})
	}
	if err != nil {
		slog.Warn("stock movement rejected", "user", claims.Username, "kind", kind,
			"item_id", req.ItemID, "quantity", req.Quantity, "code", stock.CodeOf(err))
		movementError(w, r, err)
		return
	}

	slog.Info("stock movement applied", "user", claims.Username, "kind", kind,
		"item", res.Item.Name, "quantity", res.Transaction.Quantity,
		"new_quantity", res.Item.Quantity, "status", res.Item.Status,
		"reference", res.Transaction.Reference)
	jsonResponse(w, http.StatusCreated, res)
}
