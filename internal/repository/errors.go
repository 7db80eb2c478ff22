// Package repository holds the fixed, read-only statements run against the
// tv_shows table.  Sentinel errors declared here let handlers tell a missing
// record apart from a failing database.
package repository

import "errors"

// ErrShowNotFound is returned when no row matches the requested tvid.
// Handlers translate it into an HTTP 404 response.
var ErrShowNotFound = errors.New("show not found")
