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
	"os"
	"strings"
	"sync"
)

// A record containing information about an uplink user: a clinician or
// technician whose access token is used to authorize upload requests.
type User struct {
	// name (human-readable and display-friendly)
	Name string
	// email address
	Email string
	// organization (clinic, hospital, imaging center) with which this user is
	// affiliated
	Organization string
}

// A TokenProvider supplies the bearer credential attached to every outbound
// request made to an upload destination. Providers must be safe for use by
// multiple goroutines.
type TokenProvider interface {
	// returns a valid bearer credential or an error explaining why none is
	// available
	Token() (string, error)
}

// A StaticTokenProvider supplies a fixed bearer credential. It is useful for
// testing and for deployments whose credentials are rotated out of band.
type StaticTokenProvider struct {
	Credential string
}

func (p StaticTokenProvider) Token() (string, error) {
	if p.Credential == "" {
		return "", &NoCredentialError{}
	}
	return p.Credential, nil
}

// A FileTokenProvider supplies the bearer credential stored in a file that is
// rotated out of band (by a re-authentication agent, say). The credential is
// cached after the first read; call Reload after the file changes.
type FileTokenProvider struct {
	Path string

	mutex      sync.Mutex
	credential string
}

func NewFileTokenProvider(path string) *FileTokenProvider {
	return &FileTokenProvider{Path: path}
}

func (p *FileTokenProvider) Token() (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.credential != "" {
		return p.credential, nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return "", &NoCredentialError{}
	}
	p.credential = strings.TrimSpace(string(data))
	if p.credential == "" {
		return "", &NoCredentialError{}
	}
	return p.credential, nil
}

// discards the cached credential so the next Token call rereads the file
func (p *FileTokenProvider) Reload() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.credential = ""
}
