package service

import (
	"errors"

	"github.com/educhat/internal/repository"
)

// ErrNotFound is re-exported so handlers can map it without importing the
// repository package.
var ErrNotFound = repository.ErrNotFound

var (
	// ErrForbidden marks an operation on a resource the caller is not a
	// participant or owner of.
	ErrForbidden = errors.New("forbidden")
	// ErrSelfRequest rejects connection requests and channels to oneself.
	ErrSelfRequest = errors.New("cannot target yourself")
	// ErrDuplicateRequest rejects a second request for a pair that already
	// has a pending or accepted one, in either direction.
	ErrDuplicateRequest = errors.New("request already exists")
	// ErrEmptyMessage rejects messages with no text and no attachments.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotConnected rejects channel resolution between unconnected users.
	ErrNotConnected = errors.New("users are not connected")
)
