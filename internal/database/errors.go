package database

import "errors"

// ErrNotFound is returned when a requested row does not exist.
// Callers should check with errors.Is().
var ErrNotFound = errors.New("row not found")

// ErrNotProcessed is returned when an operation requires a dataset URL that
// has completed its first processing run and the row has not been processed.
var ErrNotProcessed = errors.New("dataset URL has not been processed yet")
