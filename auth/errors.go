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

package auth

import (
	"fmt"
)

// indicates that a token provider has no credential to offer
type NoCredentialError struct{}

func (e NoCredentialError) Error() string {
	return "No bearer credential is available."
}

// indicates that the configured fernet key could not be decoded
type InvalidKeyError struct {
	Message string
}

func (e InvalidKeyError) Error() string {
	return fmt.Sprintf("Invalid fernet key: %s", e.Message)
}

// indicates that a token file could not be decrypted or verified
type InvalidTokenFileError struct {
	Path string
}

func (e InvalidTokenFileError) Error() string {
	return fmt.Sprintf("The token file %s could not be decrypted.", e.Path)
}

// indicates that an access token doesn't belong to any known user
type InvalidTokenError struct{}

func (e InvalidTokenError) Error() string {
	return "Invalid access token!"
}
