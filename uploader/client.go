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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/medrelay/uplink/auth"
	"github.com/medrelay/uplink/config"
	"github.com/medrelay/uplink/connection"
	"github.com/medrelay/uplink/queue"
)

// wire protocol headers
const (
	offsetHeader   = "Upload-Offset"
	completeHeader = "Upload-Complete"
)

// A Client executes the resumable chunked upload protocol for one descriptor
// at a time. The payload is split into fixed-size chunks (the final chunk may
// be shorter); each chunk is sent with its starting offset, and the
// acknowledged offset is persisted after every chunk so a crash mid-transfer
// resumes from the last confirmed byte rather than from zero.
type Client struct {
	client http.Client
	tokens auth.TokenProvider
	// reports the current connection quality; chunk timeouts stretch when the
	// link is poor (nil means "assume good")
	quality func() connection.Quality

	chunkSize     int64
	chunkAttempts int
	chunkTimeout  time.Duration
	poorFactor    int
}

// creates a client that authorizes outbound requests with the given token
// provider; the remaining parameters come from the upload section of the
// service configuration
func NewClient(tokens auth.TokenProvider, quality func() connection.Quality) *Client {
	return &Client{
		client:        SecureHttpClient(0), // per-request timeouts via contexts
		tokens:        tokens,
		quality:       quality,
		chunkSize:     config.Upload.ChunkSize,
		chunkAttempts: config.Upload.ChunkAttempts,
		chunkTimeout:  time.Duration(config.Upload.ChunkTimeout) * time.Millisecond,
		poorFactor:    config.Upload.PoorQualityTimeoutFactor,
	}
}

// Uploads the payload referred to by the given descriptor, mutating its
// offset and session as the server acknowledges chunks. The persist callback
// is invoked after every acknowledged chunk (and on any session change) so
// the caller can write the descriptor to durable storage; the progress
// callback (if non-nil) is invoked with (bytesSent, totalBytes) after every
// acknowledged chunk. On a protocol desync the descriptor's offset and
// session are reset to zero before the error is returned.
func (c *Client) Upload(ctx context.Context, descriptor *queue.Descriptor,
	persist func(*queue.Descriptor) error,
	progress func(bytesSent, totalBytes int64)) error {

	destination, found := config.Destinations[descriptor.Destination]
	if !found {
		return &UnknownDestinationError{Destination: descriptor.Destination}
	}
	baseURL := fmt.Sprintf("%s/api/v1/uploads", destination.URL)

	// create a session, or pick up where an existing one left off
	if !descriptor.SessionId.Valid {
		if err := c.createSession(ctx, baseURL, destination.Modality,
			destination.ModelId, descriptor); err != nil {
			return err
		}
		if err := persist(descriptor); err != nil {
			return err
		}
	} else {
		complete, err := c.resumeSession(ctx, baseURL, descriptor)
		if err != nil {
			return c.maybeRestart(err, descriptor, persist)
		}
		if complete {
			// the server already has everything; don't resend a byte
			slog.Info(fmt.Sprintf("Transfer %s: session already complete on server",
				descriptor.Id.String()))
			if progress != nil {
				progress(descriptor.Payload.Size, descriptor.Payload.Size)
			}
			return nil
		}
	}

	payload, err := descriptor.Payload.Open()
	if err != nil {
		return &InvalidPayloadError{Message: err.Error()}
	}
	defer payload.Close()

	// send chunks from the current offset
	sessionURL := fmt.Sprintf("%s/%s", baseURL, descriptor.SessionId.UUID.String())
	buffer := make([]byte, c.chunkSize)
	for descriptor.Offset < descriptor.Payload.Size {
		// cancellation is cooperative: we check between chunks and never kill
		// a request mid-flight ourselves
		if err := ctx.Err(); err != nil {
			return err
		}

		chunkLen := min(c.chunkSize, descriptor.Payload.Size-descriptor.Offset)
		if _, err := payload.Seek(descriptor.Offset, io.SeekStart); err != nil {
			return &InvalidPayloadError{Message: err.Error()}
		}
		if _, err := io.ReadFull(payload, buffer[:chunkLen]); err != nil {
			return &InvalidPayloadError{Message: err.Error()}
		}

		newOffset, err := c.sendChunkWithRetry(ctx, sessionURL, descriptor.Offset,
			buffer[:chunkLen])
		if err != nil {
			return c.maybeRestart(err, descriptor, persist)
		}

		descriptor.Offset = newOffset
		if err := persist(descriptor); err != nil {
			return err
		}
		if progress != nil {
			progress(descriptor.Offset, descriptor.Payload.Size)
		}
	}

	// only after the final chunk is acknowledged do we issue the completion
	// handshake that triggers downstream analysis
	if err := c.complete(ctx, sessionURL); err != nil {
		return c.maybeRestart(err, descriptor, persist)
	}
	return nil
}

//-----------
// Internals
//-----------

// creates an upload session on the server, recording it in the descriptor
func (c *Client) createSession(ctx context.Context, baseURL, modality,
	modelId string, descriptor *queue.Descriptor) error {

	body, err := json.Marshal(map[string]any{
		"name":     descriptor.Id.String(),
		"modality": modality,
		"model_id": modelId,
		"size":     descriptor.Payload.Size,
	})
	if err != nil {
		return err
	}

	var sessionId uuid.UUID
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout())
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, baseURL,
			bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.authorize(req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &TransientError{Message: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return asRetryable(classifyResponse(resp))
		}

		var response struct {
			Id     uuid.UUID `json:"id"`
			Offset int64     `json:"offset"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return &TransientError{Message: err.Error()}
		}
		sessionId = response.Id
		return nil
	}
	if err := c.retry(ctx, operation); err != nil {
		return err
	}

	descriptor.SessionId = uuid.NullUUID{UUID: sessionId, Valid: true}
	descriptor.Offset = 0
	return nil
}

// asks the server where an existing session stands, returning true if the
// session has already been completed; a server offset that disagrees with
// ours is a protocol desync
func (c *Client) resumeSession(ctx context.Context, baseURL string,
	descriptor *queue.Descriptor) (bool, error) {

	sessionURL := fmt.Sprintf("%s/%s", baseURL, descriptor.SessionId.UUID.String())
	var complete bool
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout())
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, sessionURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := c.authorize(req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &TransientError{Message: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			// the session evaporated server-side; partial state can't be
			// trusted, so restart from scratch
			return backoff.Permanent(&DesyncError{ClientOffset: descriptor.Offset})
		}
		if resp.StatusCode >= 400 {
			return asRetryable(classifyResponse(resp))
		}

		complete = resp.Header.Get(completeHeader) == "true"
		if complete {
			return nil
		}
		serverOffset, err := strconv.ParseInt(resp.Header.Get(offsetHeader), 10, 64)
		if err != nil {
			return &TransientError{Message: fmt.Sprintf("bad %s header: %s",
				offsetHeader, err.Error())}
		}
		if serverOffset != descriptor.Offset {
			return backoff.Permanent(&DesyncError{
				ClientOffset: descriptor.Offset,
				ServerOffset: serverOffset,
			})
		}
		return nil
	}
	return complete, c.retry(ctx, operation)
}

// sends one chunk, retrying transient failures of that chunk alone up to the
// configured attempt count; returns the new acknowledged offset
func (c *Client) sendChunkWithRetry(ctx context.Context, sessionURL string,
	offset int64, chunk []byte) (int64, error) {

	var newOffset int64
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout())
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPatch, sessionURL,
			bytes.NewReader(chunk))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set(offsetHeader, strconv.FormatInt(offset, 10))
		if err := c.authorize(req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &TransientError{Message: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return asRetryable(classifyResponse(resp))
		}
		newOffset, err = strconv.ParseInt(resp.Header.Get(offsetHeader), 10, 64)
		if err != nil {
			return &TransientError{Message: fmt.Sprintf("bad %s header: %s",
				offsetHeader, err.Error())}
		}
		return nil
	}
	if err := c.retry(ctx, operation); err != nil {
		return 0, err
	}

	// the server's acknowledgement must line up with what we just sent
	if expected := offset + int64(len(chunk)); newOffset != expected {
		return 0, &DesyncError{ClientOffset: expected, ServerOffset: newOffset}
	}
	return newOffset, nil
}

// issues the completion handshake for a fully-acknowledged session
func (c *Client) complete(ctx context.Context, sessionURL string) error {
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout())
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
			sessionURL+"/complete", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := c.authorize(req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &TransientError{Message: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return asRetryable(classifyResponse(resp))
		}
		return nil
	}
	return c.retry(ctx, operation)
}

// attaches the bearer credential to an outbound request
func (c *Client) authorize(req *http.Request) error {
	token, err := c.tokens.Token()
	if err != nil {
		return &AuthExpiredError{}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// runs an operation under the per-chunk retry policy
func (c *Client) retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.chunkAttempts-1)), ctx))
}

// the per-chunk timeout, stretched when the connection quality is poor
func (c *Client) timeout() time.Duration {
	timeout := c.chunkTimeout
	if c.quality != nil && c.quality() == connection.QualityPoor {
		timeout *= time.Duration(c.poorFactor)
	}
	return timeout
}

// on a desync, resets the descriptor to a clean slate (offset 0, no session)
// before handing the error upward; other errors pass through untouched
func (c *Client) maybeRestart(err error, descriptor *queue.Descriptor,
	persist func(*queue.Descriptor) error) error {

	if IsDesync(err) {
		slog.Warn(fmt.Sprintf("Transfer %s: %s", descriptor.Id.String(), err.Error()))
		descriptor.Offset = 0
		descriptor.SessionId = uuid.NullUUID{}
		if persistErr := persist(descriptor); persistErr != nil {
			return persistErr
		}
	}
	return err
}

// maps an HTTP error response to our taxonomy
func classifyResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(body))

	switch {
	case resp.StatusCode == http.StatusConflict:
		serverOffset, _ := strconv.ParseInt(resp.Header.Get(offsetHeader), 10, 64)
		return &DesyncError{ServerOffset: serverOffset}
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthExpiredError{}
	case resp.StatusCode == http.StatusNotFound:
		return &DesyncError{}
	case resp.StatusCode == http.StatusRequestEntityTooLarge,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return &InvalidPayloadError{Message: message}
	default:
		return &TransientError{Message: message}
	}
}

// wraps non-transient errors so the retry loop gives up on them immediately
func asRetryable(err error) error {
	if IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}
