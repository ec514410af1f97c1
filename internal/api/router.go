package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, engine *stock.Engine, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	usersHandler := &UsersHandler{DB: db}
	roomsHandler := &RoomsHandler{DB: db}
	categoriesHandler := &CategoriesHandler{DB: db}
	itemsHandler := &ItemsHandler{DB: db, Engine: engine}
	movementsHandler := &MovementsHandler{Engine: engine}
	transactionsHandler := &TransactionsHandler{DB: db}

	authMW := AuthMiddleware(jwtSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Rooms: read (all roles), write (manager+).
	mux.Handle("GET /api/rooms", authMW(http.HandlerFunc(roomsHandler.List)))
	mux.Handle("POST /api/rooms", authMW(requireManager(http.HandlerFunc(roomsHandler.Create))))
	mux.Handle("GET /api/rooms/{id}", authMW(http.HandlerFunc(roomsHandler.Get)))
	mux.Handle("PUT /api/rooms/{id}", authMW(requireManager(http.HandlerFunc(roomsHandler.Update))))
	mux.Handle("DELETE /api/rooms/{id}", authMW(requireManager(http.HandlerFunc(roomsHandler.Delete))))
	mux.Handle("GET /api/rooms/{id}/items", authMW(http.HandlerFunc(roomsHandler.Items)))

	// Categories: read (all roles), write (manager+).
	mux.Handle("GET /api/categories", authMW(http.HandlerFunc(categoriesHandler.List)))
	mux.Handle("POST /api/categories", authMW(requireManager(http.HandlerFunc(categoriesHandler.Create))))
	mux.Handle("PUT /api/categories/{id}", authMW(requireManager(http.HandlerFunc(categoriesHandler.Update))))
	mux.Handle("DELETE /api/categories/{id}", authMW(requireManager(http.HandlerFunc(categoriesHandler.Delete))))

	// Items: read (all roles), write (manager+), reconcile (admin).
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(requireManager(http.HandlerFunc(itemsHandler.Create))))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}", authMW(requireManager(http.HandlerFunc(itemsHandler.Update))))
	mux.Handle("DELETE /api/items/{id}", authMW(requireManager(http.HandlerFunc(itemsHandler.Delete))))
	mux.Handle("PUT /api/items/{id}/image", authMW(requireManager(http.HandlerFunc(itemsHandler.UploadImage))))
	mux.Handle("GET /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.GetImage)))
	mux.Handle("GET /api/items/{id}/history", authMW(http.HandlerFunc(itemsHandler.GetHistory)))
	mux.Handle("GET /api/items/{id}/reconcile", authMW(requireAdmin(http.HandlerFunc(itemsHandler.Reconcile))))

	// Movements: permission depends on the kind, checked by the handler.
	mux.Handle("POST /api/movements/{kind}", authMW(http.HandlerFunc(movementsHandler.Create)))

	// Ledger: read (all roles), amend metadata (manager+).
	mux.Handle("GET /api/transactions", authMW(http.HandlerFunc(transactionsHandler.List)))
	mux.Handle("GET /api/transactions/{id}", authMW(http.HandlerFunc(transactionsHandler.Get)))
	mux.Handle("PATCH /api/transactions/{id}", authMW(requireManager(http.HandlerFunc(transactionsHandler.Amend))))

	return mux
}
