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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/medrelay/uplink/auth"
	"github.com/medrelay/uplink/config"
	"github.com/medrelay/uplink/connection"
	"github.com/medrelay/uplink/journal"
	"github.com/medrelay/uplink/queue"
	"github.com/medrelay/uplink/uplinktest"
	"github.com/medrelay/uplink/uploader"
)

const testToken = "uplink-test-token"

// the destination fixture shared by these tests
var server *uplinktest.ChunkServer

// working directory from which the tests are invoked
var testDir string

// a configuration template pointing at the fixture; timings are tightened so
// retries and polls play out in milliseconds (%s fields are the data
// directory and the fixture's base URL, twice)
const engineConfig string = `
service:
  data_directory: %s
  poll_interval: 25
probe:
  url: %s/health
upload:
  chunk_size: 1024
  concurrency: 3
  max_attempts: 3
  chunk_attempts: 1
  chunk_timeout: 2000
  retry_base: 50
  retry_cap: 200
destinations:
  pacs:
    name: Radiology PACS
    url: %s
    modality: CT
    model_id: chest-ct-v2
`

// performs testing setup
func setup() {
	uplinktest.EnableDebugLogging()
	server = uplinktest.NewChunkServer(testToken)

	var err error
	testDir, err = os.MkdirTemp(os.TempDir(), "uplink-engine-tests-")
	if err != nil {
		panic(err.Error())
	}
	yaml := fmt.Sprintf(engineConfig, testDir, server.URL(), server.URL())
	if err := config.Init([]byte(yaml)); err != nil {
		panic(err.Error())
	}
	if err := journal.Init(); err != nil {
		panic(err.Error())
	}
}

// performs testing breakdown
func breakdown() {
	journal.Finalize()
	server.Close()
	os.RemoveAll(testDir)
}

// creates a started engine (and its supporting pieces) with its own queue file
func startTestEngine(t *testing.T, monitor *connection.Monitor) (*Engine, *queue.Queue) {
	q, err := queue.Open(filepath.Join(testDir, uuid.New().String()+".db"))
	if err != nil {
		t.Fatalf("Couldn't open test queue: %s", err.Error())
	}
	client := uploader.NewClient(auth.StaticTokenProvider{Credential: testToken}, nil)
	e := New(q, monitor, client)
	if err := e.Start(); err != nil {
		t.Fatalf("Couldn't start the engine: %s", err.Error())
	}
	return e, q
}

func stopTestEngine(e *Engine, q *queue.Queue) {
	e.Stop()
	q.Close()
}

func testSpec(size int) Specification {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return Specification{Destination: "pacs", Data: data}
}

// drains events until one of the wanted type arrives
func awaitEvent(t *testing.T, e *Engine, eventType EventType, timeout time.Duration) Event {
	deadline := time.After(timeout)
	for {
		select {
		case event := <-e.Events():
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("Timed out awaiting an event of type %d", eventType)
		}
	}
}

// drains n events of the wanted type
func awaitEvents(t *testing.T, e *Engine, eventType EventType, n int,
	timeout time.Duration) []Event {
	events := make([]Event, 0, n)
	for len(events) < n {
		events = append(events, awaitEvent(t, e, eventType, timeout))
	}
	return events
}

// To run the tests serially, we attach them to a SerialTests type and
// have them run by a a single test runner.
type SerialTests struct{ Test *testing.T }

func TestRunner(t *testing.T) {
	tester := SerialTests{Test: t}
	tester.TestStartAndStop()
	tester.TestSubmitAndComplete()
	tester.TestOfflineSubmissionsAreParked()
	tester.TestTransientFailureIsRescheduled()
	tester.TestPermanentFailureRetryAndClear()
	tester.TestCancelQueuedTransfer()
	tester.TestRejectedCredentialPausesDispatch()
	tester.TestRestartRecoversPersistedTransfers()
}

func (t *SerialTests) TestStartAndStop() {
	assert := assert.New(t.Test)
	e, q := startTestEngine(t.Test, nil)
	defer q.Close()

	assert.True(e.Running())
	assert.IsType(&AlreadyRunningError{}, e.Start())
	assert.Nil(e.Stop())
	assert.False(e.Running())
	assert.IsType(&NotRunningError{}, e.Stop())
	_, err := e.Submit(testSpec(16))
	assert.IsType(&NotRunningError{}, err)
}

func (t *SerialTests) TestSubmitAndComplete() {
	assert := assert.New(t.Test)
	e, q := startTestEngine(t.Test, nil)
	defer stopTestEngine(e, q)

	spec := testSpec(3 * 1024) // three chunks
	id, err := e.Submit(spec)
	assert.Nil(err)

	event := awaitEvent(t.Test, e, EventSucceeded, 10*time.Second)
	assert.Equal(id, event.Id)
	assert.Equal(int64(3*1024), event.TotalBytes)

	// the payload arrived intact
	assert.Equal(spec.Data, server.CompletedPayloads()[id.String()])

	// successful transfers leave the queue; their history is in the journal
	_, err = e.Status(id)
	assert.IsType(&queue.NotFoundError{}, err)
	records, err := journal.Records(time.Now().Add(-1*time.Minute), time.Now().Add(1*time.Minute))
	assert.Nil(err)
	found := false
	for _, record := range records {
		if record.Id == id {
			found = true
			assert.Equal("succeeded", record.Status)
			assert.Equal("CT", record.Modality)
			assert.Equal(int64(3*1024), record.PayloadSize)
		}
	}
	assert.True(found)
}

// transfers submitted while offline wait in the queue and drain on
// reconnection, never more than upload.concurrency at once
func (t *SerialTests) TestOfflineSubmissionsAreParked() {
	assert := assert.New(t.Test)
	monitor := connection.NewMonitor()
	monitor.SetPlatformOnline(false)
	e, q := startTestEngine(t.Test, monitor)
	defer stopTestEngine(e, q)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		var err error
		ids[i], err = e.Submit(testSpec(5 * 1024))
		assert.Nil(err)
	}

	// no bytes move while offline
	patchesBefore := server.PatchCount()
	time.Sleep(200 * time.Millisecond)
	counts, err := e.Counts()
	assert.Nil(err)
	assert.Equal(5, counts.Offline)
	assert.Equal(0, counts.Pending)
	assert.Equal(patchesBefore, server.PatchCount())

	// reconnection drains the queue
	monitor.SetPlatformOnline(true)
	events := awaitEvents(t.Test, e, EventSucceeded, 5, 30*time.Second)
	assert.Equal(5, len(events))
	assert.LessOrEqual(server.MaxInFlight(), 3)

	counts, err = e.Counts()
	assert.Nil(err)
	assert.Equal(0, counts.Pending+counts.Offline+counts.Failed)
}

func (t *SerialTests) TestTransientFailureIsRescheduled() {
	assert := assert.New(t.Test)
	e, q := startTestEngine(t.Test, nil)
	defer stopTestEngine(e, q)

	// the first attempt fails; a later poll retries and succeeds
	server.FailPatches(1)
	id, err := e.Submit(testSpec(1024))
	assert.Nil(err)

	event := awaitEvent(t.Test, e, EventSucceeded, 10*time.Second)
	assert.Equal(id, event.Id)
}

func (t *SerialTests) TestPermanentFailureRetryAndClear() {
	assert := assert.New(t.Test)
	e, q := startTestEngine(t.Test, nil)
	defer stopTestEngine(e, q)

	// enough failures to exhaust upload.max_attempts
	server.FailPatches(1000)
	id, err := e.Submit(testSpec(1024))
	assert.Nil(err)

	event := awaitEvent(t.Test, e, EventFailed, 10*time.Second)
	assert.Equal(id, event.Id)
	assert.NotEmpty(event.Error)

	status, err := e.Status(id)
	assert.Nil(err)
	assert.Equal(queue.StatusFailedPermanently, status.Status)
	assert.Equal(3, status.Attempts)

	// a manual retry jumps the queue and, with the fault gone, succeeds
	server.FailPatches(0)
	assert.Nil(e.Retry(id))
	event = awaitEvent(t.Test, e, EventSucceeded, 10*time.Second)
	assert.Equal(id, event.Id)

	// clearing is only for permanently failed transfers
	assert.NotNil(e.Clear(id))
}

func (t *SerialTests) TestCancelQueuedTransfer() {
	assert := assert.New(t.Test)
	monitor := connection.NewMonitor()
	monitor.SetPlatformOnline(false) // park the queue so nothing dispatches
	e, q := startTestEngine(t.Test, monitor)
	defer stopTestEngine(e, q)

	id, err := e.Submit(testSpec(1024))
	assert.Nil(err)
	assert.Nil(e.Cancel(id))

	event := awaitEvent(t.Test, e, EventCanceled, 10*time.Second)
	assert.Equal(id, event.Id)
	_, err = e.Status(id)
	assert.IsType(&queue.NotFoundError{}, err)

	assert.NotNil(e.Cancel(uuid.New()))
}

func (t *SerialTests) TestRejectedCredentialPausesDispatch() {
	assert := assert.New(t.Test)
	e, q := startTestEngine(t.Test, nil)
	defer stopTestEngine(e, q)

	server.RejectTokens(true)
	id, err := e.Submit(testSpec(1024))
	assert.Nil(err)

	awaitEvent(t.Test, e, EventAuthExpired, 10*time.Second)

	// the transfer waits; nothing is dispatched while paused
	time.Sleep(200 * time.Millisecond)
	status, err := e.Status(id)
	assert.Nil(err)
	assert.Equal(queue.StatusPending, status.Status)

	// once re-authentication is reported, the queue drains
	server.RejectTokens(false)
	assert.Nil(e.Resume())
	event := awaitEvent(t.Test, e, EventSucceeded, 10*time.Second)
	assert.Equal(id, event.Id)
}

// transfers persisted mid-flight by an abrupt shutdown (and transfers parked
// during an outage that has since ended) resume when a fresh engine starts
// over the reopened queue, picking up from their acknowledged offsets
func (t *SerialTests) TestRestartRecoversPersistedTransfers() {
	assert := assert.New(t.Test)

	path := filepath.Join(testDir, uuid.New().String()+".db")
	q, err := queue.Open(path)
	assert.Nil(err)
	client := uploader.NewClient(auth.StaticTokenProvider{Credential: testToken}, nil)

	// partially upload a transfer so its descriptor carries a session and a
	// nonzero acknowledged offset, then abandon it the way a dying process
	// would: committed as Uploading
	interrupted := &queue.Descriptor{
		Destination: "pacs",
		Payload:     queue.Payload{Bytes: testSpec(3 * 1024).Data, Size: 3 * 1024},
	}
	_, err = q.Enqueue(interrupted)
	assert.Nil(err)
	ctx, abandon := context.WithCancel(context.Background())
	err = client.Upload(ctx, interrupted,
		func(d *queue.Descriptor) error { return q.Update(d) },
		func(sent, total int64) { abandon() }) // quit after the first chunk
	assert.NotNil(err)
	assert.Equal(int64(1024), interrupted.Offset)
	interrupted.Status = queue.StatusUploading
	interrupted.Attempts = 1
	assert.Nil(q.Update(interrupted))

	// a second transfer was parked offline; connectivity is back now
	parked := &queue.Descriptor{
		Destination: "pacs",
		Payload:     queue.Payload{Bytes: testSpec(1024).Data, Size: 1024},
		Status:      queue.StatusPendingOffline,
	}
	parkedId, err := q.Enqueue(parked)
	assert.Nil(err)
	assert.Nil(q.Close())

	// restart: reopen the queue and run a fresh engine over it
	patchesBefore := server.PatchCount()
	q, err = queue.Open(path)
	assert.Nil(err)
	e := New(q, nil, client)
	assert.Nil(e.Start())
	defer stopTestEngine(e, q)

	events := awaitEvents(t.Test, e, EventSucceeded, 2, 10*time.Second)
	completed := map[uuid.UUID]bool{}
	for _, event := range events {
		completed[event.Id] = true
	}
	assert.True(completed[interrupted.Id])
	assert.True(completed[parkedId])

	// the interrupted transfer sent only its two remaining chunks, and the
	// reassembled payload is intact
	assert.Equal(patchesBefore+3, server.PatchCount())
	assert.Equal(interrupted.Payload.Bytes,
		server.CompletedPayloads()[interrupted.Id.String()])
}

// this function gets called at the begin of the test suite and the breakdown
// function gets called after all tests have completed
func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}
