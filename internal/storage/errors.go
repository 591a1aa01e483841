package storage

import "errors"

// ErrNotFound is returned when an account or session lookup finds no
// matching row.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned by CreateAccount when the email is already
// registered (§7 Conflict: "duplicate registration").
var ErrConflict = errors.New("storage: conflict")
