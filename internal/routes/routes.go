package routes

import (
	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/handlers"
	"github.com/velobill/authgate/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	resolver auth.SessionResolver,
) {
	// Rate limiting config for credential and code submission endpoints
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no session required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/2fa/verify", authHandler.Verify)
	router.Get("/auth/2fa/status", authHandler.Status)

	// Logout revokes whatever token is presented, so it stays public;
	// revoking an already-revoked session is a no-op.
	router.Post("/auth/logout", authHandler.Logout)

	// Protected routes - established session required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(resolver))

		r.Get("/auth/session", authHandler.Session)
		r.Post("/auth/2fa/reenroll", authHandler.Reenroll)
	})
}
