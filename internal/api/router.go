/**
 * @description
 * This file sets up the HTTP router for the drop-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DropRoutes creates and returns a new router for the drop service.
func DropRoutes(h *DropHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(FunderAuthMiddleware(jwksURL))

		r.Post("/drops", h.CreateDropHandler)
		r.Post("/drops/{dropID}/keys", h.AddKeysHandler)
		r.Get("/drops/{dropID}", h.GetDropHandler)
		r.Get("/balance", h.GetBalanceHandler)
	})

	return r
}
