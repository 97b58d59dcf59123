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
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/medrelay/uplink/config"
	"github.com/medrelay/uplink/connection"
	"github.com/medrelay/uplink/journal"
	"github.com/medrelay/uplink/queue"
	"github.com/medrelay/uplink/retry"
	"github.com/medrelay/uplink/uploader"
)

// The reconciliation engine drives every queued transfer toward a terminal
// state. A single goroutine owns all queue mutation; workers (at most
// upload.concurrency of them) run the chunked uploads and report back over
// channels. Connectivity transitions from the monitor park and unpark the
// queue, and a polling heartbeat wakes the engine to dispatch transfers whose
// retry time has arrived.

// kinds of events emitted by the engine
type EventType int

const (
	EventProgress EventType = iota
	EventSucceeded
	EventFailed
	EventCanceled
	EventAuthExpired
)

// an event describing the progress or outcome of a transfer
type Event struct {
	Type EventType
	// transfer to which the event applies (zero for EventAuthExpired)
	Id uuid.UUID
	// bytes acknowledged so far and the total payload size
	BytesSent, TotalBytes int64
	// message describing the error for EventFailed
	Error string
}

// this type holds a specification used to submit a new transfer
type Specification struct {
	// the name of the destination to which the payload is sent (as specified
	// in the uplink config file)
	Destination string
	// path of the payload file (exclusive with Data)
	Path string
	// inline payload bytes (exclusive with Path)
	Data []byte
	// payload size in bytes (inferred from Data or from the file when zero)
	Size int64
}

// a snapshot of one transfer's progress
type TransferStatus struct {
	Id       uuid.UUID
	Status   queue.Status
	Offset   int64
	Size     int64
	Attempts int
	// message describing the most recent error (empty if none)
	LastError string
}

// numbers of queued transfers by disposition
type Counts struct {
	Pending   int // eligible for dispatch (includes uploading)
	Uploading int
	Offline   int // parked awaiting connectivity
	Failed    int // permanently failed, awaiting Retry or Clear
}

// This type coordinates the transfer queue, the upload client, the retry
// scheduler, and the connection monitor. Create one with New, then call
// Start.
type Engine struct {
	queue     *queue.Queue
	monitor   *connection.Monitor
	client    *uploader.Client
	scheduler *retry.Scheduler

	channels channelsType
	events   chan Event
	running  bool
}

// creates an engine that dispatches transfers from the given queue with the
// given upload client, parking and unparking as the monitor reports
// connectivity changes
func New(q *queue.Queue, monitor *connection.Monitor, client *uploader.Client) *Engine {
	e := &Engine{
		queue:     q,
		monitor:   monitor,
		client:    client,
		scheduler: retry.NewScheduler(),
		channels: channelsType{
			Submit:         make(chan submitRequest, 32),
			CancelTransfer: make(chan opRequest, 32),
			RetryTransfer:  make(chan opRequest, 32),
			ClearTransfer:  make(chan opRequest, 32),
			GetStatus:      make(chan statusRequest, 32),
			GetCounts:      make(chan countsRequest, 32),
			Resume:         make(chan struct{}, 1),
			Poll:           make(chan struct{}, 1),
			Connectivity:   make(chan connection.State, 8),
			Persist:        make(chan persistRequest),
			WorkerResult:   make(chan workerResult),
			Stop:           make(chan stopRequest),
		},
		events: make(chan Event, 256),
	}
	if monitor != nil {
		monitor.Subscribe(func(state connection.State) {
			select { // drop transitions rather than block the monitor
			case e.channels.Connectivity <- state:
			default:
			}
		})
	}
	return e
}

// starts dispatching transfers, returning an informative error if anything
// prevents this
func (e *Engine) Start() error {
	if e.running {
		return &AlreadyRunningError{}
	}
	go e.reconcile()

	// start the polling heartbeat
	slog.Info(fmt.Sprintf("Transfers are dispatched every %d ms",
		config.Service.PollInterval))
	pollInterval := time.Duration(config.Service.PollInterval) * time.Millisecond
	e.running = true
	go e.heartbeat(pollInterval)

	return nil
}

// Stops dispatching transfers. In-flight uploads are interrupted and their
// descriptors returned to the queue with their acknowledged offsets intact,
// so they resume on the next Start.
func (e *Engine) Stop() error {
	if !e.running {
		return &NotRunningError{}
	}
	request := stopRequest{Reply: make(chan error, 1)}
	e.channels.Stop <- request
	err := <-request.Reply
	e.running = false
	return err
}

// Returns true if the engine is dispatching transfers, false if not.
func (e *Engine) Running() bool {
	return e.running
}

// Submits a new transfer for the given specification, returning a UUID with
// which its progress can be tracked.
func (e *Engine) Submit(spec Specification) (uuid.UUID, error) {
	var transferId uuid.UUID
	if !e.running {
		return transferId, &NotRunningError{}
	}
	if _, found := config.Destinations[spec.Destination]; !found {
		return transferId, &InvalidSubmissionError{
			Message: fmt.Sprintf("unknown destination %q", spec.Destination),
		}
	}
	if (spec.Path == "") == (spec.Data == nil) {
		return transferId, &InvalidSubmissionError{
			Message: "exactly one of a payload path and inline payload data is required",
		}
	}

	size := spec.Size
	if size == 0 {
		if spec.Data != nil {
			size = int64(len(spec.Data))
		} else {
			info, err := os.Stat(spec.Path)
			if err != nil {
				return transferId, &InvalidSubmissionError{Message: err.Error()}
			}
			size = info.Size()
		}
	}
	if size <= 0 {
		return transferId, &InvalidSubmissionError{Message: "the payload is empty"}
	}

	request := submitRequest{
		Descriptor: &queue.Descriptor{
			Destination: spec.Destination,
			Payload: queue.Payload{
				Path:  spec.Path,
				Bytes: spec.Data,
				Size:  size,
			},
		},
		Reply: make(chan submitReply, 1),
	}
	e.channels.Submit <- request
	reply := <-request.Reply
	return reply.Id, reply.Err
}

// Given a transfer UUID, returns a snapshot of its progress (or a non-nil
// error indicating any issues encountered). Transfers that have succeeded or
// been canceled leave the queue; their history lives in the journal.
func (e *Engine) Status(transferId uuid.UUID) (TransferStatus, error) {
	if !e.running {
		return TransferStatus{}, &NotRunningError{}
	}
	request := statusRequest{Id: transferId, Reply: make(chan statusReply, 1)}
	e.channels.GetStatus <- request
	reply := <-request.Reply
	return reply.Status, reply.Err
}

// Requests that the transfer with the given UUID be canceled. An in-flight
// upload is interrupted cooperatively; a queued transfer is removed outright.
func (e *Engine) Cancel(transferId uuid.UUID) error {
	return e.op(e.channels.CancelTransfer, transferId)
}

// Returns a permanently failed transfer to the queue with priority, ahead of
// routine submissions. Its attempt count starts over.
func (e *Engine) Retry(transferId uuid.UUID) error {
	return e.op(e.channels.RetryTransfer, transferId)
}

// Removes the record of a permanently failed transfer from the queue.
func (e *Engine) Clear(transferId uuid.UUID) error {
	return e.op(e.channels.ClearTransfer, transferId)
}

// Returns the numbers of queued transfers by disposition.
func (e *Engine) Counts() (Counts, error) {
	if !e.running {
		return Counts{}, &NotRunningError{}
	}
	request := countsRequest{Reply: make(chan Counts, 1)}
	e.channels.GetCounts <- request
	return <-request.Reply, nil
}

// Resumes dispatch after the engine paused itself on a rejected credential.
// Call this once re-authentication has produced a fresh token.
func (e *Engine) Resume() error {
	if !e.running {
		return &NotRunningError{}
	}
	select {
	case e.channels.Resume <- struct{}{}:
	default: // a resume is already pending
	}
	return nil
}

// Returns the channel on which the engine publishes transfer events. The
// consumer must drain it: progress events are dropped under backpressure, but
// terminal events are not.
func (e *Engine) Events() <-chan Event {
	return e.events
}

//-----------
// Internals
//-----------

// this type holds various channels used by the engine to communicate with
// its reconciliation goroutine (requests carry their own reply channels, since
// several API handlers may issue them at once)
type channelsType struct {
	Submit         chan submitRequest    // used by client to submit a transfer
	CancelTransfer chan opRequest        // used by client to cancel a transfer
	RetryTransfer  chan opRequest        // used by client to retry a failed transfer
	ClearTransfer  chan opRequest        // used by client to clear a failed transfer
	GetStatus      chan statusRequest    // used by client to request transfer status
	GetCounts      chan countsRequest    // used by client to request queue counts
	Resume         chan struct{}         // used by client to resume after re-auth
	Poll           chan struct{}         // carries heartbeat signal for dispatch
	Connectivity   chan connection.State // carries connectivity transitions
	Persist        chan persistRequest   // used by workers to persist progress
	WorkerResult   chan workerResult     // used by workers to report outcomes
	Stop           chan stopRequest      // used by client to stop the engine
}

type submitRequest struct {
	Descriptor *queue.Descriptor
	Reply      chan submitReply
}

type submitReply struct {
	Id  uuid.UUID
	Err error
}

type opRequest struct {
	Id    uuid.UUID
	Reply chan error
}

type statusRequest struct {
	Id    uuid.UUID
	Reply chan statusReply
}

type statusReply struct {
	Status TransferStatus
	Err    error
}

type countsRequest struct {
	Reply chan Counts
}

type persistRequest struct {
	Descriptor *queue.Descriptor
	Reply      chan error
}

type workerResult struct {
	Descriptor *queue.Descriptor
	Err        error
}

type stopRequest struct {
	Reply chan error
}

// sends a cancel/retry/clear request and awaits its reply
func (e *Engine) op(channel chan opRequest, transferId uuid.UUID) error {
	if !e.running {
		return &NotRunningError{}
	}
	request := opRequest{Id: transferId, Reply: make(chan error, 1)}
	channel <- request
	return <-request.Reply
}

// this function sends a regular pulse on the poll channel until the engine
// stops running
func (e *Engine) heartbeat(pollInterval time.Duration) {
	for {
		time.Sleep(pollInterval)
		if !e.running {
			break
		}
		select {
		case e.channels.Poll <- struct{}{}:
		default: // a pulse is already pending
		}
	}
}

// this function runs in its own goroutine, using the engine's channels to
// communicate with the main thread and with workers
func (e *Engine) reconcile() {
	online := true
	if e.monitor != nil {
		online = e.monitor.Current().Online
	}
	paused := false                            // true after a rejected credential
	inFlight := make(map[uuid.UUID]context.CancelFunc) // cancelers for running uploads
	canceledIds := make(map[uuid.UUID]bool)    // in-flight uploads being canceled

	// hands eligible transfers to workers, up to the concurrency limit
	dispatch := func() {
		for !paused && online && len(inFlight) < config.Upload.Concurrency {
			descriptor, err := e.queue.DequeueNext(time.Now())
			if err != nil {
				slog.Error(fmt.Sprintf("Dequeuing next transfer: %s", err.Error()))
				return
			}
			if descriptor == nil { // nothing eligible
				return
			}

			descriptor.Status = queue.StatusUploading
			descriptor.Attempts++
			descriptor.LastAttemptTime = time.Now()
			descriptor.NextAttemptTime = time.Time{}
			if err := e.queue.Update(descriptor); err != nil {
				slog.Error(fmt.Sprintf("Transfer %s: %s", descriptor.Id.String(), err.Error()))
				return
			}

			ctx, cancel := context.WithCancel(context.Background())
			inFlight[descriptor.Id] = cancel
			slog.Info(fmt.Sprintf("Transfer %s: beginning upload attempt %d (%d byte(s))",
				descriptor.Id.String(), descriptor.Attempts, descriptor.Payload.Size))
			go e.work(ctx, descriptor)
		}
	}

	// returns a descriptor to the queue after a recoverable failure,
	// scheduling its next attempt
	reschedule := func(descriptor *queue.Descriptor, err error) {
		descriptor.LastError = err.Error()
		if descriptor.Attempts >= config.Upload.MaxAttempts {
			e.failPermanently(descriptor)
			return
		}
		if online {
			descriptor.Status = queue.StatusPending
		} else {
			descriptor.Status = queue.StatusPendingOffline
		}
		descriptor.NextAttemptTime = e.scheduler.ScheduleRetry(descriptor.Id)
		if updateErr := e.queue.Update(descriptor); updateErr != nil {
			slog.Error(fmt.Sprintf("Transfer %s: %s", descriptor.Id.String(), updateErr.Error()))
		}
		slog.Info(fmt.Sprintf("Transfer %s: attempt %d failed (%s); next attempt at %s",
			descriptor.Id.String(), descriptor.Attempts, err.Error(),
			descriptor.NextAttemptTime.Format(time.RFC3339)))
	}

	// digests the outcome of a finished worker
	handleResult := func(result workerResult) {
		descriptor := result.Descriptor
		delete(inFlight, descriptor.Id)
		wasCanceled := canceledIds[descriptor.Id]
		delete(canceledIds, descriptor.Id)

		switch {
		case wasCanceled:
			e.finish(descriptor, "canceled", "")
			e.events <- Event{Type: EventCanceled, Id: descriptor.Id}
		case result.Err == nil:
			slog.Info(fmt.Sprintf("Transfer %s: completed successfully",
				descriptor.Id.String()))
			e.finish(descriptor, "succeeded", "")
			e.events <- Event{
				Type:       EventSucceeded,
				Id:         descriptor.Id,
				BytesSent:  descriptor.Payload.Size,
				TotalBytes: descriptor.Payload.Size,
			}
		case uploader.IsAuthExpired(result.Err):
			// every transfer shares the credential, so pause them all until
			// Resume() reports that re-authentication has happened
			slog.Error("Upload credential rejected; pausing dispatch until re-authentication")
			paused = true
			descriptor.Status = queue.StatusPending
			descriptor.LastError = result.Err.Error()
			if err := e.queue.Update(descriptor); err != nil {
				slog.Error(fmt.Sprintf("Transfer %s: %s", descriptor.Id.String(), err.Error()))
			}
			e.events <- Event{Type: EventAuthExpired, Error: result.Err.Error()}
		case uploader.IsFatal(result.Err):
			descriptor.LastError = result.Err.Error()
			e.failPermanently(descriptor)
		default: // transient failures and desyncs come back around
			reschedule(descriptor, result.Err)
		}
	}

	// park or unpark queued transfers on a connectivity transition
	applyConnectivity := func(state connection.State) {
		if online == state.Online {
			return
		}
		online = state.Online
		if online {
			slog.Info("Connectivity restored; resuming queued transfers")
			e.flipStatuses(queue.StatusPendingOffline, queue.StatusPending)
			// failures accumulated while offline say nothing about the new link
			e.scheduler.ResetAll()
			dispatch()
		} else {
			slog.Info("Connectivity lost; parking queued transfers")
			e.flipStatuses(queue.StatusPending, queue.StatusPendingOffline)
		}
	}

	// An abrupt shutdown leaves interrupted transfers persisted as Uploading,
	// and transfers parked as PendingOffline may have outlived the outage.
	// Return both to the queue (offsets intact) so they resume now rather
	// than waiting for a connectivity transition that may never come.
	e.flipStatuses(queue.StatusUploading, queue.StatusPending)
	if online {
		e.flipStatuses(queue.StatusPendingOffline, queue.StatusPending)
	}
	dispatch()

	running := true
	for running {
		select {
		case request := <-e.channels.Submit:
			descriptor := request.Descriptor
			if online {
				descriptor.Status = queue.StatusPending
			} else {
				descriptor.Status = queue.StatusPendingOffline
			}
			id, err := e.queue.Enqueue(descriptor)
			if err == nil {
				slog.Info(fmt.Sprintf("Submitted transfer %s to %s (%d byte(s))",
					id.String(), descriptor.Destination, descriptor.Payload.Size))
			}
			request.Reply <- submitReply{Id: id, Err: err}
			dispatch()

		case request := <-e.channels.CancelTransfer:
			request.Reply <- e.cancel(request.Id, inFlight, canceledIds)

		case request := <-e.channels.RetryTransfer:
			err := e.retryFailed(request.Id)
			request.Reply <- err
			if err == nil {
				dispatch()
			}

		case request := <-e.channels.ClearTransfer:
			request.Reply <- e.clearFailed(request.Id)

		case request := <-e.channels.GetStatus:
			request.Reply <- e.status(request.Id)

		case request := <-e.channels.GetCounts:
			request.Reply <- e.counts()

		case <-e.channels.Resume:
			if paused {
				slog.Info("Re-authentication reported; resuming dispatch")
				paused = false
				dispatch()
			}

		case state := <-e.channels.Connectivity:
			applyConnectivity(state)

		case <-e.channels.Poll: // time to move things along
			dispatch()

		case request := <-e.channels.Persist:
			request.Reply <- e.queue.Update(request.Descriptor)

		case result := <-e.channels.WorkerResult:
			handleResult(result)
			dispatch()

		case request := <-e.channels.Stop:
			// interrupt the workers and return their transfers to the queue
			// with their acknowledged offsets intact
			for _, cancel := range inFlight {
				cancel()
			}
			for len(inFlight) > 0 {
				select {
				case persist := <-e.channels.Persist:
					persist.Reply <- e.queue.Update(persist.Descriptor)
				case result := <-e.channels.WorkerResult:
					descriptor := result.Descriptor
					delete(inFlight, descriptor.Id)
					if result.Err == nil {
						e.finish(descriptor, "succeeded", "")
					} else {
						descriptor.Status = queue.StatusPending
						if err := e.queue.Update(descriptor); err != nil {
							slog.Error(fmt.Sprintf("Transfer %s: %s",
								descriptor.Id.String(), err.Error()))
						}
					}
				}
			}
			request.Reply <- nil
			running = false
		}
	}
}

// this function runs one upload in a worker goroutine
func (e *Engine) work(ctx context.Context, descriptor *queue.Descriptor) {
	persist := func(d *queue.Descriptor) error {
		request := persistRequest{Descriptor: d, Reply: make(chan error, 1)}
		e.channels.Persist <- request
		return <-request.Reply
	}
	progress := func(sent, total int64) {
		select { // progress is droppable under backpressure
		case e.events <- Event{
			Type:       EventProgress,
			Id:         descriptor.Id,
			BytesSent:  sent,
			TotalBytes: total,
		}:
		default:
		}
	}
	err := e.client.Upload(ctx, descriptor, persist, progress)
	e.channels.WorkerResult <- workerResult{Descriptor: descriptor, Err: err}
}

// cancels the transfer with the given id, whatever state it is in
func (e *Engine) cancel(transferId uuid.UUID, inFlight map[uuid.UUID]context.CancelFunc,
	canceledIds map[uuid.UUID]bool) error {

	if cancel, found := inFlight[transferId]; found {
		slog.Info(fmt.Sprintf("Transfer %s: received cancellation request",
			transferId.String()))
		canceledIds[transferId] = true
		cancel()
		return nil
	}
	descriptor, err := e.queue.Get(transferId)
	if err != nil {
		return err
	}
	switch descriptor.Status {
	case queue.StatusPending, queue.StatusPendingOffline:
		e.finish(descriptor, "canceled", "")
		e.events <- Event{Type: EventCanceled, Id: transferId}
		return nil
	case queue.StatusFailedPermanently: // already journaled as failed
		return e.queue.Remove(transferId)
	default:
		return &NotCancelableError{Id: transferId}
	}
}

// returns a permanently failed transfer to the queue, at the front
func (e *Engine) retryFailed(transferId uuid.UUID) error {
	descriptor, err := e.queue.Get(transferId)
	if err != nil {
		return err
	}
	if descriptor.Status != queue.StatusFailedPermanently {
		return &NotFailedError{Id: transferId}
	}
	descriptor.Status = queue.StatusPending
	descriptor.Attempts = 0
	descriptor.NextAttemptTime = time.Time{}
	e.scheduler.Forget(transferId)
	if err := e.queue.Update(descriptor); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("Transfer %s: returned to the queue with priority",
		transferId.String()))
	return e.queue.Promote(transferId)
}

// removes the record of a permanently failed transfer
func (e *Engine) clearFailed(transferId uuid.UUID) error {
	descriptor, err := e.queue.Get(transferId)
	if err != nil {
		return err
	}
	if descriptor.Status != queue.StatusFailedPermanently {
		return &NotFailedError{Id: transferId}
	}
	return e.queue.Remove(transferId)
}

// builds a status snapshot for the transfer with the given id
func (e *Engine) status(transferId uuid.UUID) statusReply {
	descriptor, err := e.queue.Get(transferId)
	if err != nil {
		return statusReply{Err: err}
	}
	return statusReply{
		Status: TransferStatus{
			Id:        descriptor.Id,
			Status:    descriptor.Status,
			Offset:    descriptor.Offset,
			Size:      descriptor.Payload.Size,
			Attempts:  descriptor.Attempts,
			LastError: descriptor.LastError,
		},
	}
}

// tallies queued transfers by disposition
func (e *Engine) counts() Counts {
	var counts Counts
	descriptors, err := e.queue.Pending()
	if err != nil {
		slog.Error(fmt.Sprintf("Counting queued transfers: %s", err.Error()))
		return counts
	}
	for _, descriptor := range descriptors {
		switch descriptor.Status {
		case queue.StatusPending:
			counts.Pending++
		case queue.StatusUploading:
			counts.Pending++
			counts.Uploading++
		case queue.StatusPendingOffline:
			counts.Offline++
		case queue.StatusFailedPermanently:
			counts.Failed++
		}
	}
	return counts
}

// rewrites every queued descriptor in one status to another
func (e *Engine) flipStatuses(from, to queue.Status) {
	descriptors, err := e.queue.Pending()
	if err != nil {
		slog.Error(fmt.Sprintf("Listing queued transfers: %s", err.Error()))
		return
	}
	for _, descriptor := range descriptors {
		if descriptor.Status != from {
			continue
		}
		descriptor.Status = to
		descriptor.NextAttemptTime = time.Time{}
		if err := e.queue.Update(&descriptor); err != nil {
			slog.Error(fmt.Sprintf("Transfer %s: %s", descriptor.Id.String(), err.Error()))
		}
	}
}

// marks a transfer permanently failed and journals the outcome
func (e *Engine) failPermanently(descriptor *queue.Descriptor) {
	slog.Error(fmt.Sprintf("Transfer %s: failed permanently after %d attempt(s): %s",
		descriptor.Id.String(), descriptor.Attempts, descriptor.LastError))
	descriptor.Status = queue.StatusFailedPermanently
	if err := e.queue.Update(descriptor); err != nil {
		slog.Error(fmt.Sprintf("Transfer %s: %s", descriptor.Id.String(), err.Error()))
	}
	e.journalOutcome(descriptor, "failed", descriptor.LastError)
	e.scheduler.Forget(descriptor.Id)
	e.events <- Event{Type: EventFailed, Id: descriptor.Id, Error: descriptor.LastError}
}

// journals a transfer's terminal outcome and removes it from the queue
func (e *Engine) finish(descriptor *queue.Descriptor, status, errorMessage string) {
	e.journalOutcome(descriptor, status, errorMessage)
	if err := e.queue.Remove(descriptor.Id); err != nil {
		slog.Error(fmt.Sprintf("Transfer %s: %s", descriptor.Id.String(), err.Error()))
	}
	e.scheduler.Forget(descriptor.Id)
}

// records a terminal outcome in the transfer journal (journal trouble is
// logged, never propagated)
func (e *Engine) journalOutcome(descriptor *queue.Descriptor, status, errorMessage string) {
	if !journal.IsOpen() {
		return
	}
	record := journal.Record{
		Id:          descriptor.Id,
		Destination: descriptor.Destination,
		Modality:    config.Destinations[descriptor.Destination].Modality,
		PayloadSize: descriptor.Payload.Size,
		Attempts:    descriptor.Attempts,
		StartTime:   descriptor.CreationTime,
		StopTime:    time.Now(),
		Status:      status,
		Error:       errorMessage,
	}
	if err := journal.RecordTransfer(record); err != nil {
		slog.Error(fmt.Sprintf("Transfer %s: recording outcome: %s",
			descriptor.Id.String(), err.Error()))
	}
}
