// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the queue is closed and cannot accept mutations.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Validation errors. Rejected before an item is ever created.
var (
	// ErrValidation is the umbrella for malformed submissions and settings.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidURL indicates that the submitted URL is empty or not http(s).
	ErrInvalidURL = errors.New("invalid url")
	// ErrNoURLs indicates that a text submission contained no usable URL.
	ErrNoURLs = errors.New("no urls found")
	// ErrInvalidSettings indicates that a settings update failed validation.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrInvalidAction indicates an unknown duplicate action.
	ErrInvalidAction = errors.New("invalid duplicate action")
)

// Queue errors.
var (
	// ErrItemNotFound indicates that no item with the given id exists.
	ErrItemNotFound = errors.New("item not found")
	// ErrItemIDEmpty indicates that the item id is empty.
	ErrItemIDEmpty = errors.New("item id is empty")
	// ErrInvalidTransition indicates that the requested intent is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPromptNotFound indicates that the prompt is not the outstanding one.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrPlaylist indicates that a playlist URL could not be expanded into its entries.
	ErrPlaylist = errors.New("playlist expansion failed")
)

// Metadata errors. Never surfaced to the user, they drive the fallback chain.
var (
	// ErrMetadata indicates a metadata fetch failure that should skip the basic fetch.
	ErrMetadata = errors.New("metadata fetch failed")
	// ErrMetadataRecoverable indicates a rate-limit or timeout class failure.
	ErrMetadataRecoverable = errors.New("metadata fetch failed, recoverable")
)

// Transfer errors.
var (
	// ErrTransientTransfer indicates a failure the executor retries with backoff.
	ErrTransientTransfer = errors.New("transient transfer failure")
	// ErrTerminalTransfer indicates a failure surfaced as a Failed item.
	ErrTerminalTransfer = errors.New("terminal transfer failure")
	// ErrUnknownConvertFormat indicates an unsupported conversion target.
	ErrUnknownConvertFormat = errors.New("unknown convert format")
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that every configured proxy is backing off.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)

// Storage errors.
var (
	// ErrSchemaMismatch indicates the database schema version does not match.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrAlreadyRunning indicates another instance holds the data dir lock.
	ErrAlreadyRunning = errors.New("another instance is already running")
)
