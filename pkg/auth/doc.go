// Package auth provides per-user API key authentication for a fieldwork instance.
//
// # Overview
//
// This package implements the authentication infrastructure: cryptographically
// random API keys issued per user, role-based write access, the
// restricted-visibility decision derived from the application settings, and
// security audit logging.
//
// # API Keys
//
// Each user holds at most one API key. Keys are random and displayed once;
// only the SHA256 hash is persisted on the user row.
//
//	// Key format: old_[base64url(32 random bytes)]
//	manager := auth.NewKeyManager(store, logger)
//	key, err := manager.IssueKey(ctx, user.ID)
//
// Authentication resolves a presented key to its user:
//
//	authCtx, err := manager.Authenticate(ctx, key)
//	if err != nil {
//		return err // model.ErrUnauthenticated for unknown keys
//	}
//
// # Roles
//
// User roles come from pkg/model and gate mutation:
//
//	model.RoleAdministrator - full access, always unrestricted
//	model.RoleContributor   - may create and mutate resources
//	model.RoleViewer        - read-only access
//
// # Restricted Visibility
//
// AuthContext carries the visibility decision computed at authentication
// time: administrators and users listed as unrestricted in the application
// settings see restricted forms, files, and collections; everyone else has
// them filtered out of reads and searches.
//
//	if authCtx.Unrestricted {
//		// restricted resources are visible
//	}
//
// # Security Audit Logging
//
// Authentication outcomes and resource mutations go to the structured log:
//
//	audit := auth.NewAuditLogger(logger)
//	audit.LogFromRequest(r, authCtx, auth.ActionAuthFailure, "", 0, auth.StatusDenied, err)
//
// # Related Packages
//
//   - pkg/storage: Persists users and key hashes
//   - pkg/middleware: HTTP authentication middleware
package auth
