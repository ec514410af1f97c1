package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/erazemk/sobe/internal/imaging"
	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
	"github.com/erazemk/sobe/internal/store"
)

// ItemsHandler handles item endpoints.
type ItemsHandler struct {
	DB     *sql.DB
	Engine *stock.Engine
}

type itemRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CategoryID  *int64          `json:"category_id"`
	Price       decimal.Decimal `json:"price"`
}

type createItemRequest struct {
	itemRequest
	InitialStock *initialStock `json:"initial_stock"`
}

type initialStock struct {
	Quantity  int    `json:"quantity"`
	RoomID    int64  `json:"room_id"`
	Note      string `json:"note"`
	Reference string `json:"reference"`
}

type createItemResponse struct {
	Item        *model.Item        `json:"item"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
}

// List handles GET /api/items. Filters: status, room_id, category_id, q.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	var f store.ItemFilter

	if v := r.URL.Query().Get("status"); v != "" {
		status, err := model.ParseStockStatus(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid status")
			return
		}
		f.Status = status
	}
	var ok bool
	if f.RoomID, ok = queryID(r, "room_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid room_id")
		return
	}
	if f.CategoryID, ok = queryID(r, "category_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid category_id")
		return
	}
	f.Search = strings.TrimSpace(r.URL.Query().Get("q"))

	items, err := store.ListItems(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items. With initial_stock the new item is stocked
// through the movement engine; if that fails the item is not kept.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fields, ok := h.validate(w, r, req.itemRequest)
	if !ok {
		return
	}
	if s := req.InitialStock; s != nil && (s.Quantity <= 0 || s.RoomID <= 0) {
		jsonError(w, http.StatusBadRequest, "initial_stock needs a positive quantity and a room_id")
		return
	}

	item, err := store.CreateItem(r.Context(), h.DB, fields)
	if err != nil {
		slog.Error("failed to create item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	claims := GetClaims(r.Context())
	resp := createItemResponse{Item: item}

	if s := req.InitialStock; s != nil {
		res, err := h.Engine.ApplyStockIn(r.Context(), stock.StockIn{
			ItemID:    item.ID,
			Quantity:  s.Quantity,
			ToRoomID:  s.RoomID,
			ActorID:   claims.UserID,
			Note:      s.Note,
			Reference: s.Reference,
		})
		if err != nil {
			if derr := store.DeleteItem(r.Context(), h.DB, item.ID); derr != nil {
				slog.Error("failed to discard unstocked item", "item_id", item.ID, "error", derr)
			}
			movementError(w, r, err)
			return
		}
		resp.Item = &res.Item
		resp.Transaction = &res.Transaction
	}

	slog.Info("item created", "user", claims.Username, "item", item.Name, "quantity", resp.Item.Quantity)
	jsonResponse(w, http.StatusCreated, resp)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}. Only metadata can change here; stock
// fields change through movements.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	if item.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body (quantity, room and status change only through movements)")
		return
	}

	fields, ok := h.validate(w, r, req)
	if !ok {
		return
	}

	if err := store.UpdateItem(r.Context(), h.DB, item.ID, fields); err != nil {
		slog.Error("failed to update item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update item")
		return
	}

	slog.Info("item updated", "user", GetClaims(r.Context()).Username, "item", fields.Name)
	updated, err := store.GetItem(r.Context(), h.DB, item.ID)
	if err != nil || updated == nil {
		slog.Error("failed to reload item", "item_id", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to reload item")
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/items/{id}. The ledger is kept.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	if item.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	if err := store.DeleteItem(r.Context(), h.DB, item.ID); err != nil {
		slog.Error("failed to delete item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}

	slog.Info("item deleted", "user", GetClaims(r.Context()).Username, "item", item.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadImage handles PUT /api/items/{id}/image.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusRequestEntityTooLarge, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		jsonError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, imaging.ErrUnsupported):
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("failed to process image", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to process image")
		return
	}

	if err := store.SetItemImage(r.Context(), h.DB, item.ID, photo.Data, photo.MIME); err != nil {
		slog.Error("failed to save image", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}

	slog.Info("item image uploaded", "user", GetClaims(r.Context()).Username, "item", item.Name,
		"width", photo.Width, "height", photo.Height)
	jsonResponse(w, http.StatusOK, map[string]any{"width": photo.Width, "height": photo.Height})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	data, mime, err := store.GetItemImage(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get image", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// GetHistory handles GET /api/items/{id}/history.
func (h *ItemsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}

	history, err := store.GetItemHistory(r.Context(), h.DB, item.ID)
	if err != nil {
		slog.Error("failed to get item history", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get item history")
		return
	}
	if history == nil {
		history = []model.Transaction{}
	}
	jsonResponse(w, http.StatusOK, history)
}

// Reconcile handles GET /api/items/{id}/reconcile.
func (h *ItemsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	rec, err := h.Engine.Reconcile(r.Context(), id)
	if err != nil {
		movementError(w, r, err)
		return
	}
	if !rec.Consistent {
		slog.Warn("item drifted from its ledger", "item_id", id,
			"stored_quantity", rec.Stored.Quantity, "replayed_quantity", rec.Replayed.Quantity)
	}
	jsonResponse(w, http.StatusOK, rec)
}

// validate checks an item request and resolves it to store fields.
func (h *ItemsHandler) validate(w http.ResponseWriter, r *http.Request, req itemRequest) (store.ItemFields, bool) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return store.ItemFields{}, false
	}
	if req.Price.IsNegative() {
		jsonError(w, http.StatusBadRequest, "price must not be negative")
		return store.ItemFields{}, false
	}

	if req.CategoryID != nil {
		c, err := store.GetCategory(r.Context(), h.DB, *req.CategoryID)
		if err != nil {
			slog.Error("failed to get category", "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
			return store.ItemFields{}, false
		}
		if c == nil || c.DeletedAt != nil {
			jsonError(w, http.StatusBadRequest, "category not found")
			return store.ItemFields{}, false
		}
	}

	return store.ItemFields{
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Price:       req.Price.Round(2),
	}, true
}

// load fetches the item named by the path, including deleted items.
func (h *ItemsHandler) load(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return nil, false
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return nil, false
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	return item, true
}
