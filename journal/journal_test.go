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

package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/medrelay/uplink/config"
)

// a configuration template for journal testing (%s is the data directory)
const journalConfig string = `
service:
  data_directory: %s
probe:
  url: http://localhost:9999/health
destinations:
  pacs:
    url: http://localhost:9999
    modality: CT
`

// working directory from which the tests are invoked
var testDir string

// performs testing setup
func setup() {
	var err error
	testDir, err = os.MkdirTemp(os.TempDir(), "uplink-journal-tests-")
	if err != nil {
		panic(err.Error())
	}
	yaml := fmt.Sprintf(journalConfig, testDir)
	if err := config.Init([]byte(yaml)); err != nil {
		panic(err.Error())
	}
}

// performs testing breakdown
func breakdown() {
	Finalize()
	os.RemoveAll(testDir)
}

func testRecord(status string, start time.Time) Record {
	return Record{
		Id:          uuid.New(),
		Destination: "pacs",
		Modality:    "CT",
		PayloadSize: 12 * 1024 * 1024,
		Attempts:    1,
		StartTime:   start,
		StopTime:    start.Add(30 * time.Second),
		Status:      status,
	}
}

// To run the tests serially, we attach them to a SerialTests type and
// have them run by a a single test runner.
type SerialTests struct{ Test *testing.T }

func TestRunner(t *testing.T) {
	tester := SerialTests{Test: t}
	tester.TestInitReportsAnUnusableDataDirectory()
	tester.TestInitAndIsOpen()
	tester.TestRecordTransfer()
	tester.TestRecordsWithinTimeRange()
	tester.TestInvalidStatusIsRejected()
}

// a data directory that can't hold the database surfaces as an error from
// Init itself, not as a silently disabled journal
func (t *SerialTests) TestInitReportsAnUnusableDataDirectory() {
	assert := assert.New(t.Test)

	yaml := fmt.Sprintf(journalConfig, filepath.Join(testDir, "no", "such", "directory"))
	assert.Nil(config.Init([]byte(yaml)))
	err := Init()
	assert.NotNil(err)
	assert.IsType(&CantOpenError{}, err)
	assert.False(IsOpen())

	// restore the usable configuration for the tests that follow
	yaml = fmt.Sprintf(journalConfig, testDir)
	assert.Nil(config.Init([]byte(yaml)))
}

func (t *SerialTests) TestInitAndIsOpen() {
	assert := assert.New(t.Test)
	assert.False(IsOpen())
	assert.Nil(Init())
	assert.True(IsOpen())
}

func (t *SerialTests) TestRecordTransfer() {
	assert := assert.New(t.Test)

	start := time.Now().Add(-1 * time.Minute)
	record := testRecord("succeeded", start)
	assert.Nil(RecordTransfer(record))

	failed := testRecord("failed", start.Add(5*time.Second))
	failed.Error = "The payload was rejected: bad pixel data"
	failed.Attempts = 10
	assert.Nil(RecordTransfer(failed))

	records, err := Records(start.Add(-1*time.Hour), time.Now().Add(1*time.Hour))
	assert.Nil(err)
	assert.Equal(2, len(records))
	assert.Equal(record.Id, records[0].Id)
	assert.Equal("succeeded", records[0].Status)
	assert.Equal(int64(12*1024*1024), records[0].PayloadSize)
	assert.Equal(failed.Id, records[1].Id)
	assert.Equal("failed", records[1].Status)
	assert.Equal(failed.Error, records[1].Error)
	assert.Equal(10, records[1].Attempts)
}

func (t *SerialTests) TestRecordsWithinTimeRange() {
	assert := assert.New(t.Test)

	// a record well in the past, outside any range the other tests query
	ancient := testRecord("canceled", time.Now().Add(-24*time.Hour))
	assert.Nil(RecordTransfer(ancient))

	records, err := Records(time.Now().Add(-25*time.Hour), time.Now().Add(-23*time.Hour))
	assert.Nil(err)
	assert.Equal(1, len(records))
	assert.Equal(ancient.Id, records[0].Id)

	// an empty range yields no records
	records, err = Records(time.Now().Add(-48*time.Hour), time.Now().Add(-47*time.Hour))
	assert.Nil(err)
	assert.Equal(0, len(records))
}

func (t *SerialTests) TestInvalidStatusIsRejected() {
	assert := assert.New(t.Test)

	record := testRecord("in-progress", time.Now())
	err := RecordTransfer(record)
	assert.NotNil(err)
	assert.IsType(&NewRecordError{}, err)
}

// this function gets called at the begin of the test suite and the breakdown
// function gets called after all tests have completed
func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}
