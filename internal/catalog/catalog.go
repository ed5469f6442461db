// SPDX-License-Identifier: MIT

// Package catalog provides the approved-directory store. The SQLite database
// is owned by a single worker goroutine; callers talk to it over a request
// channel with per-call correlation IDs and timeouts, so every access is
// serialized the same way the settings store serializes its reads and writes.
package catalog

import (
	"errors"
)

// Kind distinguishes local filesystem roots from remote-provider mounts.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Directory is one administrator-approved media root.
type Directory struct {
	ID     int64  `json:"id"`
	Path   string `json:"path"` // absolute path
	Kind   Kind   `json:"kind"`
	Active bool   `json:"active"`
}

// ErrClosed is returned for calls made after the worker has shut down.
var ErrClosed = errors.New("catalog: store closed")

// ErrTimeout is returned when the worker does not answer within the call deadline.
var ErrTimeout = errors.New("catalog: call timed out")

// ErrNotFound is returned when a directory ID does not exist.
var ErrNotFound = errors.New("catalog: directory not found")
