// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultConvertDelay lets a finished transfer settle on disk before conversion reads it.
	DefaultConvertDelay = 2 * time.Second
	// DefaultSimulateTime is the default time to simulate processing in mock executor.
	DefaultSimulateTime = 1 * time.Second
	// DefaultEventInterval is the minimum gap between two non-terminal events for one item.
	DefaultEventInterval = 250 * time.Millisecond
	// DefaultNotifyTimeout bounds a single notification request.
	DefaultNotifyTimeout = 10 * time.Second
)

// Metadata scheduler bounds.
const (
	// MinMetadataWidth is the lower clamp of the metadata fetch width.
	MinMetadataWidth = 3
	// MaxMetadataWidth is the upper clamp of the metadata fetch width.
	MaxMetadataWidth = 12
)

// Transfer concurrency bounds.
const (
	MinConcurrent = 1
	MaxConcurrent = 10
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required path parameter is missing.
	RespQueryParamMissing = "path param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespItemAdmitted is returned when a submission created an item.
	RespItemAdmitted = "item admitted"
	// RespItemsAdmitted is returned for batch submissions.
	RespItemsAdmitted = "items admitted"
	// RespSubmitFail is returned when a submission fails.
	RespSubmitFail = "submit failed"
	// RespItemRetrieved is returned when an item is successfully retrieved.
	RespItemRetrieved = "item retrieved"
	// RespItemsRetrieved is returned when items are successfully retrieved.
	RespItemsRetrieved = "items retrieved"
	// RespItemNotFound is returned when an item is not found.
	RespItemNotFound = "item not found"
	// RespItemUpdated is returned after a successful intent.
	RespItemUpdated = "item updated"
	// RespItemRemoved is returned after remove.
	RespItemRemoved = "item removed"
	// RespQueueCleared is returned after clear.
	RespQueueCleared = "queue cleared"
	// RespIntentFail is returned when an intent cannot be applied.
	RespIntentFail = "intent failed"
	// RespSettingsRetrieved is returned with the current settings.
	RespSettingsRetrieved = "settings retrieved"
	// RespSettingsUpdated is returned after a settings update.
	RespSettingsUpdated = "settings updated"
	// RespSettingsFail is returned when settings cannot be updated.
	RespSettingsFail = "settings update failed"
	// RespNoPrompt is returned when no duplicate prompt is outstanding.
	RespNoPrompt = "no prompt"
	// RespPromptRetrieved is returned with the outstanding prompt.
	RespPromptRetrieved = "prompt retrieved"
	// RespPromptResolved is returned after a prompt is answered.
	RespPromptResolved = "prompt resolved"
	// RespURLsExtracted is returned by the extract endpoint.
	RespURLsExtracted = "urls extracted"
	// RespExportFail is returned when the snapshot cannot be written.
	RespExportFail = "export failed"
	// RespServiceClosed is returned when the queue is shutting down.
	RespServiceClosed = "service closed"
)

// Executor identifiers.
const (
	// ExecutorYTdlp is the yt-dlp executor identifier.
	ExecutorYTdlp = "ytdlp"
	// ExecutorMock is the simulated executor identifier.
	ExecutorMock = "mock"
	// ExecutorFFmpeg labels conversion metrics.
	ExecutorFFmpeg = "ffmpeg"
)
