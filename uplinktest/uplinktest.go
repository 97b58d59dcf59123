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

// This package contains testing utilities for the Uplink service.
package uplinktest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Enables DEBUG log messages for Uplink's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

//---------------------------
// Destination Test Fixtures
//---------------------------

// a single upload session held by the fixture
type session struct {
	Name     string
	Modality string
	ModelId  string
	Size     int64
	Data     []byte
	Offset   int64
	Complete bool
}

// This type is a test fixture standing in for an upload destination. It
// implements the chunked upload protocol over a local httptest server and
// offers knobs for injecting the failures the real world supplies for free:
// transient errors, offset desyncs, and credential rejection.
type ChunkServer struct {
	Server *httptest.Server
	// the bearer token accepted by the fixture (all others get a 401)
	Token string

	mutex    sync.Mutex
	sessions map[uuid.UUID]*session

	// fault injection (guarded by mutex)
	failPatches  int  // fail this many PATCH requests with a 503
	desyncOnce   bool // answer the next PATCH with a bogus 409 offset
	rejectTokens bool // reject every credential with a 401

	// request accounting (guarded by mutex)
	patchCount  int
	inFlight    int
	maxInFlight int
}

// Creates and starts a destination fixture accepting the given bearer token.
// Call Close when finished with it.
func NewChunkServer(token string) *ChunkServer {
	server := &ChunkServer{
		Token:    token,
		sessions: make(map[uuid.UUID]*session),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/uploads", server.create).Methods("POST")
	router.HandleFunc("/api/v1/uploads/{id}", server.head).Methods("HEAD")
	router.HandleFunc("/api/v1/uploads/{id}", server.patch).Methods("PATCH")
	router.HandleFunc("/api/v1/uploads/{id}/complete", server.complete).Methods("POST")
	server.Server = httptest.NewServer(router)
	return server
}

// the fixture's base URL, suitable for a destination's url config field
func (cs *ChunkServer) URL() string {
	return cs.Server.URL
}

func (cs *ChunkServer) Close() {
	cs.Server.Close()
}

// Instructs the fixture to fail the next n PATCH requests with a 503.
func (cs *ChunkServer) FailPatches(n int) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.failPatches = n
}

// Instructs the fixture to answer the next PATCH with a 409 carrying an
// offset that disagrees with the client's.
func (cs *ChunkServer) DesyncNextPatch() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.desyncOnce = true
}

// Instructs the fixture to reject (or resume accepting) all credentials.
func (cs *ChunkServer) RejectTokens(reject bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.rejectTokens = reject
}

// Discards all session state, as a server that lost its database would.
func (cs *ChunkServer) DropSessions() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.sessions = make(map[uuid.UUID]*session)
}

// Returns the number of PATCH requests the fixture has seen.
func (cs *ChunkServer) PatchCount() int {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return cs.patchCount
}

// Returns the largest number of simultaneously in-flight PATCH requests the
// fixture has observed.
func (cs *ChunkServer) MaxInFlight() int {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return cs.maxInFlight
}

// Returns the payload bytes of every completed session, keyed by the name
// given at session creation.
func (cs *ChunkServer) CompletedPayloads() map[string][]byte {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	payloads := make(map[string][]byte)
	for _, s := range cs.sessions {
		if s.Complete {
			payloads[s.Name] = s.Data
		}
	}
	return payloads
}

//-----------
// Internals
//-----------

// checks the bearer credential, writing a 401 and returning false on failure
func (cs *ChunkServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	cs.mutex.Lock()
	reject := cs.rejectTokens
	cs.mutex.Unlock()
	if reject || r.Header.Get("Authorization") != "Bearer "+cs.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

// fetches the session named in the request path, writing a 404 on failure
func (cs *ChunkServer) session(w http.ResponseWriter, r *http.Request) (uuid.UUID, *session) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return uuid.UUID{}, nil
	}
	cs.mutex.Lock()
	s, found := cs.sessions[id]
	cs.mutex.Unlock()
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return uuid.UUID{}, nil
	}
	return id, s
}

// POST /api/v1/uploads
func (cs *ChunkServer) create(w http.ResponseWriter, r *http.Request) {
	if !cs.authorize(w, r) {
		return
	}
	var request struct {
		Name     string `json:"name"`
		Modality string `json:"modality"`
		ModelId  string `json:"model_id"`
		Size     int64  `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	if request.Size <= 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, "payload size must be positive")
		return
	}

	id := uuid.New()
	cs.mutex.Lock()
	cs.sessions[id] = &session{
		Name:     request.Name,
		Modality: request.Modality,
		ModelId:  request.ModelId,
		Size:     request.Size,
	}
	cs.mutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"id": id, "offset": 0})
}

// HEAD /api/v1/uploads/{id}
func (cs *ChunkServer) head(w http.ResponseWriter, r *http.Request) {
	if !cs.authorize(w, r) {
		return
	}
	_, s := cs.session(w, r)
	if s == nil {
		return
	}
	cs.mutex.Lock()
	w.Header().Set("Upload-Offset", strconv.FormatInt(s.Offset, 10))
	w.Header().Set("Upload-Complete", strconv.FormatBool(s.Complete))
	cs.mutex.Unlock()
	w.WriteHeader(http.StatusOK)
}

// PATCH /api/v1/uploads/{id}
func (cs *ChunkServer) patch(w http.ResponseWriter, r *http.Request) {
	cs.mutex.Lock()
	cs.patchCount++
	cs.inFlight++
	if cs.inFlight > cs.maxInFlight {
		cs.maxInFlight = cs.inFlight
	}
	cs.mutex.Unlock()
	defer func() {
		cs.mutex.Lock()
		cs.inFlight--
		cs.mutex.Unlock()
	}()

	if !cs.authorize(w, r) {
		return
	}
	_, s := cs.session(w, r)
	if s == nil {
		return
	}

	cs.mutex.Lock()
	if cs.failPatches > 0 {
		cs.failPatches--
		cs.mutex.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if cs.desyncOnce {
		cs.desyncOnce = false
		bogus := s.Offset + 12345
		cs.mutex.Unlock()
		w.Header().Set("Upload-Offset", strconv.FormatInt(bogus, 10))
		w.WriteHeader(http.StatusConflict)
		return
	}
	cs.mutex.Unlock()

	clientOffset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	chunk, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	if clientOffset != s.Offset {
		w.Header().Set("Upload-Offset", strconv.FormatInt(s.Offset, 10))
		w.WriteHeader(http.StatusConflict)
		return
	}
	if s.Offset+int64(len(chunk)) > s.Size {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	s.Data = append(s.Data, chunk...)
	s.Offset += int64(len(chunk))
	w.Header().Set("Upload-Offset", strconv.FormatInt(s.Offset, 10))
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/uploads/{id}/complete
func (cs *ChunkServer) complete(w http.ResponseWriter, r *http.Request) {
	if !cs.authorize(w, r) {
		return
	}
	_, s := cs.session(w, r)
	if s == nil {
		return
	}
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	if s.Offset != s.Size {
		w.Header().Set("Upload-Offset", strconv.FormatInt(s.Offset, 10))
		w.WriteHeader(http.StatusConflict)
		return
	}
	s.Complete = true
	w.WriteHeader(http.StatusNoContent)
}
