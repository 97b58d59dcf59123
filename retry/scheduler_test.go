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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/medrelay/uplink/config"
)

const schedulerConfig string = `
service:
  data_directory: /tmp
probe:
  url: http://localhost:9999/health
upload:
  retry_base: 100
  retry_cap: 10000
destinations:
  pacs:
    url: http://localhost:9999
    modality: CT
`

// measures the delay the scheduler assigns to the next attempt
func nextDelay(s *Scheduler, id uuid.UUID) time.Duration {
	return time.Until(s.ScheduleRetry(id))
}

// consecutive failures of the same transfer wait strictly longer each time,
// up to the cap (the jitter is small enough not to reorder them)
func TestDelaysGrow(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler()
	id := uuid.New()

	previous := nextDelay(s, id)
	assert.True(previous > 0)
	for i := 0; i < 5; i++ {
		delay := nextDelay(s, id)
		assert.Greater(delay, previous)
		previous = delay
	}
}

func TestDelaysAreCapped(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler()
	id := uuid.New()

	var delay time.Duration
	for i := 0; i < 20; i++ {
		delay = nextDelay(s, id)
	}
	assert.LessOrEqual(delay, time.Duration(float64(10*time.Second)*1.25)+100*time.Millisecond)
}

// transfers back off independently of one another
func TestTransfersBackOffIndependently(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler()

	first, second := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		nextDelay(s, first)
	}
	// the second transfer still starts from the base delay
	assert.Less(nextDelay(s, second), nextDelay(s, first))
}

func TestForgetResetsTheDelay(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler()
	id := uuid.New()

	for i := 0; i < 5; i++ {
		nextDelay(s, id)
	}
	grown := nextDelay(s, id)
	s.Forget(id)
	assert.Less(nextDelay(s, id), grown)
}

func TestResetAll(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler()

	first, second := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		nextDelay(s, first)
		nextDelay(s, second)
	}
	s.ResetAll()
	assert.Less(nextDelay(s, first), 200*time.Millisecond)
	assert.Less(nextDelay(s, second), 200*time.Millisecond)
}

func TestMain(m *testing.M) {
	if err := config.Init([]byte(schedulerConfig)); err != nil {
		panic(err.Error())
	}
	os.Exit(m.Run())
}
