package services

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/medrelay/uplink/journal"
)

// This package-specific helper function writes a JSON payload to an
// http.ResponseWriter.
func writeJson(w http.ResponseWriter, data []byte, code int) {
	w.WriteHeader(code)
	if len(data) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"uplink" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// This type holds information about an error that occurred responding to a
// request.
type ErrorResponse struct {
	// An HTTP error code
	Code int `json:"code"`
	// A descriptive error message
	Error string `json:"message"`
}

// This package-specific helper function writes an error to an
// http.ResponseWriter, giving it the proper status code, and encoding an
// ErrorResponse in the response body.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	e := ErrorResponse{Code: code, Error: message}
	data, _ := json.Marshal(e)
	w.Write(data)
}

// a request for an image upload (POST)
type TransferRequest struct {
	// name of the upload destination
	Destination string `json:"destination" example:"pacs" doc:"destination identifier from the service configuration"`
	// path of the payload file on the local filesystem (exclusive with data)
	Path string `json:"path,omitempty" doc:"path of the payload file on the device"`
	// inline payload bytes (exclusive with path; JSON encodes these as base64)
	Data []byte `json:"data,omitempty" doc:"inline payload data, base64-encoded"`
	// payload size in bytes (inferred when omitted)
	Size int64 `json:"size,omitempty" doc:"payload size in bytes"`
}

// a response for an image upload request (POST)
type TransferResponse struct {
	// transfer ID
	Id uuid.UUID `json:"id" doc:"a UUID for the requested transfer"`
}

// a response for a transfer status request (GET)
type TransferStatusResponse struct {
	// transfer ID
	Id string `json:"id"`
	// transfer status ("pending", "uploading", "pending-offline", "failed")
	Status string `json:"status"`
	// number of payload bytes acknowledged by the destination so far
	Offset int64 `json:"offset"`
	// total payload size in bytes
	Size int64 `json:"size"`
	// number of upload attempts made so far
	Attempts int `json:"attempts"`
	// message (if any) related to the most recent error
	Message string `json:"message,omitempty"`
}

// a response for a queue summary request (GET)
type QueueResponse struct {
	// numbers of queued transfers by disposition
	Pending   int `json:"pending" doc:"transfers eligible for dispatch (includes uploading)"`
	Uploading int `json:"uploading" doc:"transfers with an upload in flight"`
	Offline   int `json:"offline" doc:"transfers parked awaiting connectivity"`
	Failed    int `json:"failed" doc:"permanently failed transfers awaiting retry or clearing"`
}

// a response for a journal query (GET)
type JournalResponse struct {
	// terminal transfer records within the requested time range
	Records []journal.Record `json:"records"`
}

// a response for a connection state query (GET)
type ConnectionResponse struct {
	Online  bool   `json:"online"`
	Quality string `json:"quality" example:"good" doc:"offline, poor, fair, or good"`
}

// TransferService defines the interface for our image upload service.
type TransferService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
