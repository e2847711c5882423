// internal/backend/routes.go

package backend

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig selects the optional surfaces of the router
type RouterConfig struct {
	// UploadDir is served under /uploads/ when set
	UploadDir string
	Metrics   bool
}

// NewRouter builds the HTTP API. Messaging routes live under /api/v1 and
// require an access token.
func NewRouter(handler *Handler, auth *AuthMiddleware, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware)

	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	if cfg.Metrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
	if cfg.UploadDir != "" {
		router.PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Authenticate)

	api.HandleFunc("/conversations", handler.ListConversations).Methods("GET")
	api.HandleFunc("/conversations", handler.CreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}/messages", handler.ListMessages).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", handler.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{id}", handler.EditMessage).Methods("PUT", "PATCH")
	api.HandleFunc("/messages/{id}", handler.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/uploads", handler.Upload).Methods("POST")

	return router
}
