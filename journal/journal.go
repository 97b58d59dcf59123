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
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/medrelay/uplink/config"
)

// This is the uplink transfer journal, which logs the terminal outcome of every
// transfer. The journal is a table of transfer records (one per transfer).

// a record storing all information relevant to a finished transfer
type Record struct {
	// UUID associated with the transfer
	Id uuid.UUID `json:"id"`
	// the destination to which the payload was sent
	Destination string `json:"destination"`
	// the image modality of the payload
	Modality string `json:"modality"`
	// size of the transfer's payload in bytes
	PayloadSize int64 `json:"payload_size"`
	// number of upload attempts the transfer took
	Attempts int `json:"attempts"`
	// times at which the transfer was submitted and at which it finished
	StartTime time.Time `json:"start_time"`
	StopTime  time.Time `json:"stop_time"`
	// outcome of the transfer ("succeeded", "failed", or "canceled")
	Status string `json:"status"`
	// message describing the final error for failed transfers (empty otherwise)
	Error string `json:"error,omitempty"`
}

// Initializes the uplink transfer journal, reporting synchronously whether its
// database could be opened. The service can run without a journal (writes are
// gated on IsOpen), but a misconfigured data directory should surface here, at
// startup, not as a silently disabled journal.
func Init() error {
	if IsOpen() {
		return nil
	}

	// open the database, creating the schema if necessary
	dbPath := filepath.Join(config.Service.DataDirectory, "transfer_journal.db")
	conn, err := sqlite.OpenConn(dbPath, sqlite.OpenReadWrite, sqlite.OpenCreate)
	if err != nil {
		return &CantOpenError{
			Message: err.Error(),
		}
	}
	if err := sqlitex.ExecuteScript(conn, journalSchema, nil); err != nil {
		conn.Close()
		return &CantOpenError{
			Message: err.Error(),
		}
	}

	openChannels()
	go transferJournalProcess(conn)
	return nil
}

// saves and closes the uplink transfer journal (if it's been opened)
func Finalize() error {
	if IsOpen() {
		channels_.Input.Shutdown <- struct{}{}
		closeChannels()
	}
	return nil
}

// returns true if the journal is open for writing, false if not
func IsOpen() bool {
	if channels_.Open { // has Init() been called?
		channels_.Input.CheckIfOpen <- struct{}{}
		select {
		case isOpen := <-channels_.Output.IsOpen:
			return isOpen
		case <-time.After(1 * time.Second): // after a second, we assume the goroutine has crashed
			closeChannels()
			return false
		}
	}
	return false
}

// records a finished transfer
// record: the record containing all transfer information
func RecordTransfer(record Record) error {
	switch record.Status {
	case "succeeded", "failed", "canceled":
		// pass-through (see below)
	default:
		return &NewRecordError{
			Id:      record.Id,
			Message: fmt.Sprintf("Invalid status: %s", record.Status),
		}
	}

	if !IsOpen() {
		return &NotOpenError{}
	}

	channels_.Input.CreateRecord <- record
	return <-channels_.Output.Error
}

// retrieves records for transfers that started and finished within the time range with the given
// (inclusive) bounds
// start: the beginning of the time period of interest
// stop: the end of the time period of interest
func Records(start, stop time.Time) ([]Record, error) {
	if !IsOpen() {
		return nil, &NotOpenError{}
	}
	channels_.Input.FetchRecords <- TimeRange{Start: start, Stop: stop}
	var records []Record
	var err error
	select {
	case records = <-channels_.Output.Records:
		return records, err
	case err = <-channels_.Output.Error:
		return records, err
	}
}

//-----------
// Internals
//-----------

// The transfer journal gets its own goroutine so it doesn't bring down the entire service if it
// crashes. Here we define "input" channels (main process -> goroutine) and "output" channels
// (goroutine -> main process) for passing data back and forth

type TimeRange struct {
	Start, Stop time.Time
}

var channels_ struct {
	Open  bool // true if channels are open, false if not
	Input struct {
		CreateRecord chan Record    // for creating new records
		CheckIfOpen  chan struct{}  // for checking to see whether the database is open
		FetchRecords chan TimeRange // for fetching records within a time range
		Shutdown     chan struct{}  // for shutting down the database
	}

	Output struct {
		Records chan []Record // for returning records
		Error   chan error    // for returning errors
		IsOpen  chan bool     // for answering queries about whether the database is open
	}
}

const journalSchema string = `
CREATE TABLE IF NOT EXISTS transfers (
  id TEXT PRIMARY KEY,
  destination TEXT NOT NULL,
  modality TEXT NOT NULL,
  payload_size INTEGER NOT NULL,
  attempts INTEGER NOT NULL,
  start_time INTEGER NOT NULL,
  stop_time INTEGER NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS transfers_by_start_time ON transfers(start_time);
`

func transferJournalProcess(conn *sqlite.Conn) {

	// handle requests
	running := true
	for running {
		select {

		case <-channels_.Input.CheckIfOpen:
			channels_.Output.IsOpen <- true // always true if this goroutine is running!

		case record := <-channels_.Input.CreateRecord:
			err := createRecord(conn, record)
			channels_.Output.Error <- err

		case timeRange := <-channels_.Input.FetchRecords:
			records, err := fetchRecords(conn, timeRange.Start, timeRange.Stop)
			if err != nil {
				channels_.Output.Error <- err
			} else {
				channels_.Output.Records <- records
			}

		case <-channels_.Input.Shutdown:
			err := conn.Close()
			if err != nil {
				channels_.Output.Error <- &CantCloseError{
					Message: err.Error(),
				}
			}
			running = false
		}
	}
}

func openChannels() {
	channels_.Open = true
	channels_.Input.CreateRecord = make(chan Record)
	channels_.Input.CheckIfOpen = make(chan struct{})
	channels_.Input.FetchRecords = make(chan TimeRange)
	channels_.Input.Shutdown = make(chan struct{})
	channels_.Output.Records = make(chan []Record)
	channels_.Output.Error = make(chan error)
	channels_.Output.IsOpen = make(chan bool)
}

func closeChannels() {
	channels_.Open = false
	close(channels_.Input.CreateRecord)
	close(channels_.Input.CheckIfOpen)
	close(channels_.Input.FetchRecords)
	close(channels_.Input.Shutdown)
	close(channels_.Output.Records)
	close(channels_.Output.Error)
	close(channels_.Output.IsOpen)
}

func createRecord(conn *sqlite.Conn, record Record) error {
	err := sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO transfers (id, destination, modality, payload_size,
		                                   attempts, start_time, stop_time, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.Id.String(),
				record.Destination,
				record.Modality,
				record.PayloadSize,
				record.Attempts,
				record.StartTime.UnixNano(),
				record.StopTime.UnixNano(),
				record.Status,
				record.Error,
			},
		})
	if err != nil {
		return &NewRecordError{
			Id:      record.Id,
			Message: err.Error(),
		}
	}
	return nil
}

func fetchRecords(conn *sqlite.Conn, start, stop time.Time) ([]Record, error) {
	records := make([]Record, 0)
	err := sqlitex.Execute(conn,
		`SELECT id, destination, modality, payload_size, attempts,
		        start_time, stop_time, status, error
		 FROM transfers
		 WHERE start_time >= ? AND stop_time <= ?
		 ORDER BY start_time`,
		&sqlitex.ExecOptions{
			Args: []any{start.UnixNano(), stop.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id, err := uuid.Parse(stmt.ColumnText(0))
				if err != nil {
					return &InvalidRecordError{Message: err.Error()}
				}
				records = append(records, Record{
					Id:          id,
					Destination: stmt.ColumnText(1),
					Modality:    stmt.ColumnText(2),
					PayloadSize: stmt.ColumnInt64(3),
					Attempts:    stmt.ColumnInt(4),
					StartTime:   time.Unix(0, stmt.ColumnInt64(5)),
					StopTime:    time.Unix(0, stmt.ColumnInt64(6)),
					Status:      stmt.ColumnText(7),
					Error:       stmt.ColumnText(8),
				})
				return nil
			},
		})
	return records, err
}
