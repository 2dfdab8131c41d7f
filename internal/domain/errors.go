// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity's current state forbids the operation.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid caller input. Errors wrapping it are safe
// to echo back to the client.
var ErrValidation = errors.New("validation failed")
