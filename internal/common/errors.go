// Package common defines the sentinel errors shared across service,
// repository, and transport layers. Callers match them with errors.Is;
// the HTTP layer maps each to its wire status.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// Request validation (missing or blank fields).
	ErrValidation = errors.New("validation error")

	// Authentication errors. ErrTokenExpired is an expected condition
	// that triggers the refresh flow; ErrInvalidToken means a malformed
	// token or bad signature and is rejected outright.
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")

	// Infrastructure failures. ErrDependency marks an unavailable
	// collaborator (blob store, database); ErrInternal everything else.
	ErrDependency = errors.New("dependency unavailable")
	ErrInternal   = errors.New("internal error")
)
