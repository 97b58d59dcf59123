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

package retry

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/medrelay/uplink/config"
)

// A Scheduler decides when a failed transfer may be attempted again. Each
// transfer gets its own exponential backoff with jitter, so one flapping
// destination can't synchronize a thundering herd of retries. Delays grow
// per transfer until the configured cap and reset when the transfer is
// forgotten (on success, permanent failure, or removal).
type Scheduler struct {
	mutex    sync.Mutex
	backoffs map[uuid.UUID]*backoff.ExponentialBackOff

	base, cap time.Duration
}

// creates a scheduler with delays governed by the retry parameters in the
// upload section of the service configuration
func NewScheduler() *Scheduler {
	return &Scheduler{
		backoffs: make(map[uuid.UUID]*backoff.ExponentialBackOff),
		base:     time.Duration(config.Upload.RetryBase) * time.Millisecond,
		cap:      time.Duration(config.Upload.RetryCap) * time.Millisecond,
	}
}

// Returns the earliest time at which the given transfer may be attempted
// again. Each consecutive call for the same transfer yields a longer delay
// until the cap is reached.
func (s *Scheduler) ScheduleRetry(id uuid.UUID) time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, found := s.backoffs[id]
	if !found {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = s.base
		b.MaxInterval = s.cap
		b.Multiplier = 2
		// jitter small enough that consecutive delays never overlap
		b.RandomizationFactor = 0.25
		b.MaxElapsedTime = 0 // transfers are retried until told otherwise
		b.Reset()
		s.backoffs[id] = b
	}
	return time.Now().Add(b.NextBackOff())
}

// Discards the retry state for the given transfer, so a future failure
// starts over from the base delay.
func (s *Scheduler) Forget(id uuid.UUID) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.backoffs, id)
}

// Discards all retry state. The reconciliation engine calls this when
// connectivity returns, since failures accumulated while offline say nothing
// about the restored link.
func (s *Scheduler) ResetAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.backoffs = make(map[uuid.UUID]*backoff.ExponentialBackOff)
}
