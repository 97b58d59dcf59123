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

package uploader

import (
	"errors"
	"fmt"
)

// The error taxonomy for uploads:
//   - TransientError:      retry the same chunk / the same transfer
//   - DesyncError:         client and server disagree about received bytes;
//                          the transfer restarts from offset 0
//   - AuthExpiredError:    the whole queue pauses until re-authentication
//   - InvalidPayloadError: fatal; the transfer is removed and surfaced
// Transient and desync errors are handled internally via retry/restart; the
// others propagate to the caller with the transfer id attached by the engine.

// indicates a network-level failure or a server condition worth retrying
type TransientError struct {
	Message string
}

func (e TransientError) Error() string {
	return fmt.Sprintf("Transient upload error: %s", e.Message)
}

// indicates that the server's acknowledged offset doesn't match ours
type DesyncError struct {
	ClientOffset, ServerOffset int64
}

func (e DesyncError) Error() string {
	return fmt.Sprintf("Protocol desync: client offset %d, server offset %d; restarting from 0",
		e.ClientOffset, e.ServerOffset)
}

// indicates that the bearer credential was rejected
type AuthExpiredError struct{}

func (e AuthExpiredError) Error() string {
	return "The bearer credential was rejected; re-authentication is required."
}

// indicates that the destination rejected the payload itself
type InvalidPayloadError struct {
	Message string
}

func (e InvalidPayloadError) Error() string {
	return fmt.Sprintf("The payload was rejected: %s", e.Message)
}

// indicates that a descriptor names a destination absent from the
// configuration (fatal, like an invalid payload)
type UnknownDestinationError struct {
	Destination string
}

func (e UnknownDestinationError) Error() string {
	return fmt.Sprintf("Unknown upload destination: %s", e.Destination)
}

// classification helpers used by the reconciliation engine

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

func IsDesync(err error) bool {
	var desync *DesyncError
	return errors.As(err, &desync)
}

func IsAuthExpired(err error) bool {
	var expired *AuthExpiredError
	return errors.As(err, &expired)
}

// returns true for errors that permanently doom a transfer no matter how many
// times it is retried
func IsFatal(err error) bool {
	var invalid *InvalidPayloadError
	var unknown *UnknownDestinationError
	return errors.As(err, &invalid) || errors.As(err, &unknown)
}
