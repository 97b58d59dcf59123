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
	"fmt"

	"github.com/google/uuid"
)

// indicates that the queue database couldn't be opened
type CantOpenError struct {
	Path, Message string
}

func (e CantOpenError) Error() string {
	return fmt.Sprintf("The transfer queue at %s could not be opened: %s",
		e.Path, e.Message)
}

// indicates that a descriptor is sought but not found
type NotFoundError struct {
	Id uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("The transfer %s was not found in the queue.", e.Id.String())
}

// indicates that a descriptor with the given id is already queued
type DuplicateIdError struct {
	Id uuid.UUID
}

func (e DuplicateIdError) Error() string {
	return fmt.Sprintf("A transfer with id %s is already queued.", e.Id.String())
}

// indicates that a persisted record couldn't be decoded
type CorruptRecordError struct {
	Id      uuid.UUID
	Message string
}

func (e CorruptRecordError) Error() string {
	return fmt.Sprintf("The record for transfer %s is corrupt: %s",
		e.Id.String(), e.Message)
}
