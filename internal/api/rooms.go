package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/store"
)

// RoomsHandler handles room endpoints.
type RoomsHandler struct {
	DB *sql.DB
}

type roomRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Active   *bool  `json:"active"`
}

// List handles GET /api/rooms. ?active=true|false narrows the list.
func (h *RoomsHandler) List(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		active = &b
	}

	rooms, err := store.ListRooms(r.Context(), h.DB, active)
	if err != nil {
		slog.Error("failed to list rooms", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	if rooms == nil {
		rooms = []model.Room{}
	}
	jsonResponse(w, http.StatusOK, rooms)
}

// Create handles POST /api/rooms.
func (h *RoomsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	room, err := store.CreateRoom(r.Context(), h.DB, req.Name, req.Location)
	if err != nil {
		slog.Error("failed to create room", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	if req.Active != nil && !*req.Active {
		if err := store.UpdateRoom(r.Context(), h.DB, room.ID, room.Name, room.Location, false); err != nil {
			slog.Error("failed to deactivate room", "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		room.Active = false
	}

	claims := GetClaims(r.Context())
	slog.Info("room created", "user", claims.Username, "room", room.Name)
	jsonResponse(w, http.StatusCreated, room)
}

// Get handles GET /api/rooms/{id}.
func (h *RoomsHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, room)
}

// Update handles PUT /api/rooms/{id}. Omitting active keeps the current flag.
func (h *RoomsHandler) Update(w http.ResponseWriter, r *http.Request) {
	room, ok := h.load(w, r)
	if !ok {
		return
	}

	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}
	active := room.Active
	if req.Active != nil {
		active = *req.Active
	}

	if err := store.UpdateRoom(r.Context(), h.DB, room.ID, req.Name, req.Location, active); err != nil {
		slog.Error("failed to update room", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update room")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("room updated", "user", claims.Username, "room", req.Name, "active", active)

	updated, _ := store.GetRoom(r.Context(), h.DB, room.ID)
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/rooms/{id}.
func (h *RoomsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	room, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := store.DeleteRoom(r.Context(), h.DB, room.ID); err != nil {
		if errors.Is(err, store.ErrRoomOccupied) {
			jsonError(w, http.StatusConflict, "room still holds items")
			return
		}
		slog.Error("failed to delete room", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete room")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("room deleted", "user", claims.Username, "room", room.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "room deleted"})
}

// Items handles GET /api/rooms/{id}/items.
func (h *RoomsHandler) Items(w http.ResponseWriter, r *http.Request) {
	room, ok := h.load(w, r)
	if !ok {
		return
	}

	items, err := store.ListItems(r.Context(), h.DB, store.ItemFilter{RoomID: room.ID})
	if err != nil {
		slog.Error("failed to list room items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// load fetches the non-deleted room named by the path, writing the error
// response itself when it cannot.
func (h *RoomsHandler) load(w http.ResponseWriter, r *http.Request) (*model.Room, bool) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid room id")
		return nil, false
	}

	room, err := store.GetRoom(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get room", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get room")
		return nil, false
	}
	if room == nil || room.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "room not found")
		return nil, false
	}
	return room, true
}
