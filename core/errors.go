package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// ErrDuplicateTx is returned when a transaction id is already known.
var ErrDuplicateTx = errors.New("duplicate transaction")
