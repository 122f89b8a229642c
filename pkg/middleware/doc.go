// Package middleware provides HTTP middleware for authentication, authorization, and rate limiting.
//
// # Overview
//
// This package implements request processing middleware including API key
// authentication, role checks, read-only mode enforcement, and rate limiting
// (in-memory and Redis-backed).
//
// # Middleware Components
//
// AuthMiddleware: API key authentication
//
//	authMW := middleware.NewAuthMiddleware(keyManager, false)
//	router.Use(authMW.Handler)
//	// Extracts the Bearer key, resolves the user, adds AuthContext to request
//
// Role checks:
//
//	router.Handle("/forms", middleware.RequireWriter(createForm)).Methods("POST")
//	router.Handle("/users", middleware.RequireAdministrator(createUser)).Methods("POST")
//
// ReadOnlyMiddleware: rejects mutations while the instance is read-only
//
//	router.Use(middleware.ReadOnlyMiddleware(cfg.App.ReadOnly))
//
// RateLimitMiddleware: In-memory rate limiting
//
//	router.Use(middleware.NewRateLimitMiddleware().Handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting
//
//	router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient).Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
// Parse endpoints: 60 req/min, 10 burst
//
// # Related Packages
//
//   - pkg/auth: API key validation
//   - pkg/httputil: Error responses
package middleware
