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
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/medrelay/uplink/auth"
	"github.com/medrelay/uplink/config"
	"github.com/medrelay/uplink/queue"
	"github.com/medrelay/uplink/uplinktest"
)

const mebibyte = 1024 * 1024

const testToken = "uplink-test-token"

// the destination fixture shared by these tests
var server *uplinktest.ChunkServer

// a configuration template pointing at the fixture (%s is its base URL)
const uploaderConfig string = `
service:
  data_directory: /tmp
probe:
  url: %s/health
upload:
  chunk_size: 5242880
  chunk_attempts: 3
  chunk_timeout: 5000
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
	yaml := fmt.Sprintf(uploaderConfig, server.URL(), server.URL())
	if err := config.Init([]byte(yaml)); err != nil {
		panic(err.Error())
	}
}

// performs testing breakdown
func breakdown() {
	server.Close()
}

// creates a pending descriptor with a deterministic in-memory payload
func testDescriptor(size int64) *queue.Descriptor {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &queue.Descriptor{
		Id:          uuid.New(),
		Destination: "pacs",
		Payload:     queue.Payload{Bytes: data, Size: size},
		Status:      queue.StatusPending,
	}
}

func testClient() *Client {
	return NewClient(auth.StaticTokenProvider{Credential: testToken}, nil)
}

// a persist callback that simply counts its invocations
func countingPersist(count *int) func(*queue.Descriptor) error {
	return func(*queue.Descriptor) error {
		*count++
		return nil
	}
}

// To run the tests serially, we attach them to a SerialTests type and
// have them run by a a single test runner.
type SerialTests struct{ Test *testing.T }

func TestRunner(t *testing.T) {
	tester := SerialTests{Test: t}
	tester.TestFullUpload()
	tester.TestResumePicksUpWhereItLeftOff()
	tester.TestResumeOfCompletedSessionIsIdempotent()
	tester.TestTransientChunkFailuresAreRetried()
	tester.TestDesyncRestartsFromScratch()
	tester.TestLostSessionRestartsFromScratch()
	tester.TestRejectedCredential()
	tester.TestRejectedPayload()
	tester.TestUnknownDestination()
}

// a 12 MiB payload goes up as two full chunks plus a short one, followed by
// the completion handshake
func (t *SerialTests) TestFullUpload() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(12 * mebibyte)

	var persisted int
	var progressOffsets []int64
	patchesBefore := server.PatchCount()
	err := testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted),
		func(sent, total int64) {
			assert.Equal(int64(12*mebibyte), total)
			progressOffsets = append(progressOffsets, sent)
		})
	assert.Nil(err)

	assert.Equal(3, server.PatchCount()-patchesBefore)
	assert.Equal([]int64{5 * mebibyte, 10 * mebibyte, 12 * mebibyte}, progressOffsets)
	assert.Equal(int64(12*mebibyte), descriptor.Offset)
	assert.True(descriptor.SessionId.Valid)
	// session creation plus one persist per acknowledged chunk
	assert.Equal(4, persisted)

	payload := server.CompletedPayloads()[descriptor.Id.String()]
	assert.Equal(descriptor.Payload.Bytes, payload)
}

// an interrupted transfer resumes from its last acknowledged offset instead
// of resending bytes the server already has
func (t *SerialTests) TestResumePicksUpWhereItLeftOff() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(12 * mebibyte)

	// interrupt the transfer after its first acknowledged chunk
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var persisted int
	err := testClient().Upload(ctx, descriptor, countingPersist(&persisted),
		func(sent, total int64) {
			if sent >= 5*mebibyte {
				cancel()
			}
		})
	assert.ErrorIs(err, context.Canceled)
	assert.Equal(int64(5*mebibyte), descriptor.Offset)
	assert.True(descriptor.SessionId.Valid)

	// the resumed transfer needs only the two remaining chunks
	patchesBefore := server.PatchCount()
	err = testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.Nil(err)
	assert.Equal(2, server.PatchCount()-patchesBefore)
	assert.Equal(int64(12*mebibyte), descriptor.Offset)

	payload := server.CompletedPayloads()[descriptor.Id.String()]
	assert.Equal(descriptor.Payload.Bytes, payload)
}

func (t *SerialTests) TestResumeOfCompletedSessionIsIdempotent() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(1 * mebibyte)

	var persisted int
	err := testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.Nil(err)

	// uploading the same descriptor again moves no bytes
	patchesBefore := server.PatchCount()
	err = testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.Nil(err)
	assert.Equal(0, server.PatchCount()-patchesBefore)
}

func (t *SerialTests) TestTransientChunkFailuresAreRetried() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(1 * mebibyte)

	// two failures fit within the configured three attempts per chunk
	server.FailPatches(2)
	patchesBefore := server.PatchCount()
	var persisted int
	err := testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.Nil(err)
	assert.Equal(3, server.PatchCount()-patchesBefore)

	// three failures exhaust them
	descriptor = testDescriptor(1 * mebibyte)
	server.FailPatches(3)
	err = testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.NotNil(err)
	assert.True(IsTransient(err))
	server.FailPatches(0)
}

// a 409 resets the descriptor to offset 0 with no session, and the next
// attempt starts over cleanly
func (t *SerialTests) TestDesyncRestartsFromScratch() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(1 * mebibyte)

	server.DesyncNextPatch()
	var persisted int
	err := testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.True(IsDesync(err))
	assert.Equal(int64(0), descriptor.Offset)
	assert.False(descriptor.SessionId.Valid)

	err = testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.Nil(err)
	assert.Equal(int64(1*mebibyte), descriptor.Offset)
}

// a session the server no longer remembers is treated the same way
func (t *SerialTests) TestLostSessionRestartsFromScratch() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(12 * mebibyte)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var persisted int
	err := testClient().Upload(ctx, descriptor, countingPersist(&persisted),
		func(sent, total int64) {
			if sent >= 5*mebibyte {
				cancel()
			}
		})
	assert.ErrorIs(err, context.Canceled)

	server.DropSessions()
	err = testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.True(IsDesync(err))
	assert.Equal(int64(0), descriptor.Offset)
	assert.False(descriptor.SessionId.Valid)
}

func (t *SerialTests) TestRejectedCredential() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(1 * mebibyte)

	server.RejectTokens(true)
	var persisted int
	err := testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.True(IsAuthExpired(err))
	server.RejectTokens(false)
}

func (t *SerialTests) TestRejectedPayload() {
	assert := assert.New(t.Test)

	// the fixture refuses sessions for empty payloads with a 422
	descriptor := testDescriptor(0)
	var persisted int
	err := testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.True(IsFatal(err))
}

func (t *SerialTests) TestUnknownDestination() {
	assert := assert.New(t.Test)
	descriptor := testDescriptor(16)
	descriptor.Destination = "nonexistent"

	var persisted int
	err := testClient().Upload(context.Background(), descriptor,
		countingPersist(&persisted), nil)
	assert.True(IsFatal(err))
}

// this function gets called at the begin of the test suite and the breakdown
// function gets called after all tests have completed
func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}
