// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values let handlers distinguish failure
// scenarios: ErrConflict signals a state collision (duplicate account,
// analysis already in flight), ErrInvalidState a lifecycle violation such as
// appending files to a frozen study, and ErrTokenConsumed a replayed
// single-use token.
package repository

import "errors"

// ErrNotFound is returned when the requested user or study does not exist.
// Handlers translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an operation collides with existing state,
// such as starting analysis on a study that is already analyzing.  Handlers
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrUserExists is returned on signup when the username or email is taken.
var ErrUserExists = errors.New("username or email already exists")

// ErrInvalidState is returned when a study lifecycle rule is violated, e.g.
// appending files after analysis has begun.
var ErrInvalidState = errors.New("invalid study state")

// ErrTokenConsumed is returned when a single-use token is presented a second
// time.
var ErrTokenConsumed = errors.New("token already consumed")
