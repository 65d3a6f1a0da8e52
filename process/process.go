// Package process provides interfaces and types for reading the memory of another process
package process

import "errors"

var (
	// ErrProcessNotFound is returned when no single running process matches the requested name.
	ErrProcessNotFound = errors.New("process not found")

	// ErrAddressUnreadable is returned when an address is unmapped, not readable,
	// only partially readable, or access to it is denied.
	ErrAddressUnreadable = errors.New("address unreadable")

	// ErrProcessDetached is returned when the target process has exited.
	ErrProcessDetached = errors.New("process detached")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrHandleClosed is returned by Open on a handle that was already closed.
	// Closed handles are never reopened; attach again with a new handle instead.
	ErrHandleClosed = errors.New("process handle closed, create a new handle")
)
