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

package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates that the engine is already running when Start() is called
type AlreadyRunningError struct {
}

func (e AlreadyRunningError) Error() string {
	return "The reconciliation engine is already running."
}

// indicates that the engine is not running and cannot respond to requests
type NotRunningError struct {
}

func (e NotRunningError) Error() string {
	return "The reconciliation engine is not running."
}

// indicates that a submission is missing required information
type InvalidSubmissionError struct {
	Message string
}

func (e InvalidSubmissionError) Error() string {
	return fmt.Sprintf("Invalid transfer submission: %s", e.Message)
}

// indicates that an operation is restricted to permanently failed transfers
type NotFailedError struct {
	Id uuid.UUID
}

func (e NotFailedError) Error() string {
	return fmt.Sprintf("The transfer %s has not failed permanently.", e.Id.String())
}

// indicates that a transfer has already reached a terminal state and cannot
// be canceled
type NotCancelableError struct {
	Id uuid.UUID
}

func (e NotCancelableError) Error() string {
	return fmt.Sprintf("The transfer %s cannot be canceled.", e.Id.String())
}
