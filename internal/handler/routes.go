package handler

import (
	"net/http"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/Dan9191/card-service/internal/middleware"
	"github.com/gorilla/mux"
)

// NewRouter wires every route. decryptLimit guards the card number
// endpoint and may be nil.
func NewRouter(h *Handler, cfg *config.Config, decryptLimit mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(h.log))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")

	// Protected routes
	auth := r.PathPrefix("/").Subrouter()
	auth.Use(middleware.AuthMiddleware(cfg))
	auth.HandleFunc("/me", h.Me).Methods("GET")
	auth.HandleFunc("/cards", h.ListMyCards).Methods("GET")
	auth.HandleFunc("/cards/{id:[0-9]+}/balance", h.Balance).Methods("GET")
	auth.HandleFunc("/cards/{id:[0-9]+}/masked", h.MaskedNumber).Methods("GET")
	auth.HandleFunc("/cards/{id:[0-9]+}/block-request", h.RequestBlock).Methods("POST")
	auth.HandleFunc("/transfers", h.Transfer).Methods("POST")

	var decrypt http.Handler = http.HandlerFunc(h.DecryptNumber)
	if decryptLimit != nil {
		decrypt = decryptLimit(decrypt)
	}
	auth.Handle("/cards/{id:[0-9]+}/number", decrypt).Methods("GET")

	// Admin routes
	admin := auth.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/cards", h.CreateCard).Methods("POST")
	admin.HandleFunc("/cards", h.ListCards).Methods("GET")
	admin.HandleFunc("/cards/pending-block", h.ListPendingBlock).Methods("GET")
	admin.HandleFunc("/cards/{id:[0-9]+}", h.GetCard).Methods("GET")
	admin.HandleFunc("/cards/{id:[0-9]+}", h.DeleteCard).Methods("DELETE")
	admin.HandleFunc("/cards/{id:[0-9]+}/activate", h.Activate).Methods("POST")
	admin.HandleFunc("/cards/{id:[0-9]+}/block", h.Block).Methods("POST")
	admin.HandleFunc("/cards/{id:[0-9]+}/approve-block", h.ApproveBlock).Methods("POST")
	admin.HandleFunc("/cards/{id:[0-9]+}/reject-block", h.RejectBlock).Methods("POST")
	admin.HandleFunc("/cards/{id:[0-9]+}/credit", h.Credit).Methods("POST")
	admin.HandleFunc("/users/{id:[0-9]+}", h.GetUser).Methods("GET")
	admin.HandleFunc("/users/{id:[0-9]+}", h.DeleteUser).Methods("DELETE")
	admin.HandleFunc("/users/{id:[0-9]+}/promote", h.PromoteUser).Methods("POST")

	return r
}
