package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("invalid input")
	ErrPersistence  = errors.New("persistence failure")
)
