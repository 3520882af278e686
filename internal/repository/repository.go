package repository

import "errors"

// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres, dynamodb) and the cache decorator.

// ErrNotFound is returned by every implementation when no row matches the requested ID.
var ErrNotFound = errors.New("record not found")
