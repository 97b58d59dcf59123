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
	"fmt"
	"net/http"
	"time"

	"github.com/StalkR/hsts"
)

// Here's a secure HTTP client used for talking to upload destinations. It
// enables HTTP Strict Transport Security (HSTS), and it refuses redirects
// that would downgrade a connection to plain HTTP--we're carrying medical
// images, after all.
func SecureHttpClient(timeout time.Duration) http.Client {
	client := http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme == "http" && via[0].URL.Scheme == "https" {
				return &DowngradedRedirectError{
					Endpoint: fmt.Sprintf("%s%s", req.URL.Host, req.URL.Path),
				}
			}
			return http.ErrUseLastResponse
		},
	}
	client.Transport = hsts.New(client.Transport) // enable HSTS
	return client
}

// indicates that a redirect attempted to downgrade a secure connection
type DowngradedRedirectError struct {
	Endpoint string
}

func (e DowngradedRedirectError) Error() string {
	return fmt.Sprintf("Redirect to %s would downgrade the connection to plain HTTP.",
		e.Endpoint)
}
