package repository

import "errors"

// ErrNotFound is returned when a queried event or session row does not
// exist. Callers match it with errors.Is.
var ErrNotFound = errors.New("repository: no matching row")
