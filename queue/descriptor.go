// Copyright (c) 2025 The Uplink Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package queue

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// status of a pending or completed transfer
type Status int

const (
	StatusPending Status = iota
	StatusUploading
	StatusPendingOffline
	StatusSucceeded
	StatusFailedPermanently
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploading:
		return "uploading"
	case StatusPendingOffline:
		return "pending-offline"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailedPermanently:
		return "failed"
	}
	return "unknown"
}

// A Payload refers to the bytes a transfer sends: either a file on disk or an
// in-memory buffer, plus the total size in bytes.
type Payload struct {
	// path of the payload file (empty for in-memory payloads)
	Path string `json:"path,omitempty"`
	// in-memory payload data (nil for file payloads)
	Bytes []byte `json:"bytes,omitempty"`
	// total payload size in bytes
	Size int64 `json:"size"`
}

// opens the payload for reading; the caller is responsible for closing it
func (p Payload) Open() (io.ReadSeekCloser, error) {
	if p.Path != "" {
		return os.Open(p.Path)
	}
	return bufferCloser{bytes.NewReader(p.Bytes)}, nil
}

// an in-memory payload reader with a no-op Close
type bufferCloser struct {
	*bytes.Reader
}

func (b bufferCloser) Close() error { return nil }

// A Descriptor is the durable record of one pending or in-progress upload.
// Descriptors are persisted as JSON so that records written by future
// versions of the service (which may add fields) still load.
type Descriptor struct {
	// transfer identifier, assigned at creation and never reused
	Id uuid.UUID `json:"id"`
	// name of the logical destination (a config.Destinations entry)
	Destination string `json:"destination"`
	// the bytes to send
	Payload Payload `json:"payload"`
	// upload session assigned by the destination server (invalid until the
	// session has been created)
	SessionId uuid.NullUUID `json:"session_id"`
	// number of payload bytes acknowledged by the server so far
	Offset int64 `json:"offset"`
	// transfer status
	Status Status `json:"status"`
	// number of upload attempts made so far
	Attempts int `json:"attempts"`
	// set for user-initiated manual retries, which jump the FIFO order
	Priority bool `json:"priority,omitempty"`
	// time at which the transfer was submitted
	CreationTime time.Time `json:"creation_time"`
	// time of the most recent upload attempt (zero if none)
	LastAttemptTime time.Time `json:"last_attempt_time,omitempty"`
	// earliest time at which the next attempt may be dispatched
	NextAttemptTime time.Time `json:"next_attempt_time,omitempty"`
	// message describing the most recent error (empty if none)
	LastError string `json:"last_error,omitempty"`
}
