package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrServerOffline indicates the media server is unreachable
	ErrServerOffline = errors.New("media server is unreachable")

	// ErrAuthFailed indicates authentication failed
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrServerRejected indicates the server refused the request (4xx)
	ErrServerRejected = errors.New("server rejected request")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrManifestIncomplete indicates the server returned fewer tracks
	// than a usable download needs
	ErrManifestIncomplete = errors.New("track manifest is incomplete")

	// ErrStorageMove indicates a completed payload could not be moved
	// into stable storage
	ErrStorageMove = errors.New("failed to move payload into stable storage")

	// ErrTransferFailed indicates a binary transfer ended in failure
	ErrTransferFailed = errors.New("transfer failed")

	// ErrOrphanedTransfer indicates a completion callback arrived for a
	// transfer with no registered task ref (non-fatal, payload discarded)
	ErrOrphanedTransfer = errors.New("no task registered for transfer")
)
