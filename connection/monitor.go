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

package connection

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/medrelay/uplink/config"
)

// classification of connection quality, derived from a sliding window of
// probe outcomes
type Quality int

const (
	QualityOffline Quality = iota
	QualityPoor
	QualityFair
	QualityGood
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	}
	return "offline"
}

// a snapshot of the current connection classification
type State struct {
	// true if the connection is considered usable for uploads
	Online bool
	// quality classification over the recent probe window
	Quality Quality
	// numbers of consecutive probe failures and successes
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// The Monitor classifies connectivity from two sources: coarse online/offline
// signals reported by the hosting platform, and active health probes against a
// lightweight endpoint. Platform signals give immediate reactions; probes
// catch silent degradation and stale platform state (captive portals and the
// like). A Monitor is constructed explicitly and owned by the process.
type Monitor struct {
	client           http.Client
	probeURL         string
	interval         time.Duration // probe cadence while online
	offlineCap       time.Duration // cap on probe backoff while offline
	window           int
	failureThreshold int

	mutex          sync.Mutex
	state          State
	outcomes       []bool // sliding window of probe outcomes, newest last
	platformOnline bool
	lastProbeOK    bool
	subscribers    []func(State)

	running bool
	kick    chan struct{} // prompts an immediate probe
	stop    chan struct{}
	done    chan struct{}
}

// creates a monitor from the probe section of the service configuration
func NewMonitor() *Monitor {
	return &Monitor{
		client: http.Client{
			Timeout: time.Duration(config.Probe.Timeout) * time.Millisecond,
		},
		probeURL:         config.Probe.URL,
		interval:         time.Duration(config.Probe.Interval) * time.Millisecond,
		offlineCap:       time.Duration(config.Probe.OfflineCap) * time.Millisecond,
		window:           config.Probe.Window,
		failureThreshold: config.Probe.FailureThreshold,
		platformOnline:   true, // assume the best until the platform says otherwise
		state:            State{Online: true, Quality: QualityGood},
	}
}

// starts the probe loop
func (m *Monitor) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.running {
		return &AlreadyRunningError{}
	}
	m.kick = make(chan struct{}, 1)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.state = m.classify()
	m.running = true
	go m.probeLoop()
	return nil
}

// stops the probe loop
func (m *Monitor) Stop() error {
	m.mutex.Lock()
	if !m.running {
		m.mutex.Unlock()
		return &NotRunningError{}
	}
	m.running = false
	m.mutex.Unlock()
	close(m.stop)
	<-m.done
	return nil
}

// returns a snapshot of the current connection state
func (m *Monitor) Current() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// registers a callback invoked on every connectivity or quality transition
func (m *Monitor) Subscribe(callback func(State)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.subscribers = append(m.subscribers, callback)
}

// feeds a coarse online/offline signal from the hosting platform into the
// monitor, prompting an immediate probe
func (m *Monitor) SetPlatformOnline(online bool) {
	m.mutex.Lock()
	m.platformOnline = online
	m.refreshLocked()
	running := m.running
	m.mutex.Unlock()
	if running {
		select { // non-blocking: a pending kick is just as good
		case m.kick <- struct{}{}:
		default:
		}
	}
}

//-----------
// Internals
//-----------

// the probe loop alternates between a slow fixed cadence while online and a
// capped exponential backoff while offline, so recovery is detected quickly
// without hammering a dead link
func (m *Monitor) probeLoop() {
	defer close(m.done)

	offlineBackoff := backoff.NewExponentialBackOff()
	offlineBackoff.InitialInterval = min(500*time.Millisecond, m.offlineCap)
	offlineBackoff.MaxInterval = m.offlineCap
	offlineBackoff.MaxElapsedTime = 0 // never give up
	offlineBackoff.Reset()

	for {
		var wait time.Duration
		if m.Current().Online {
			wait = m.interval
			offlineBackoff.Reset()
		} else {
			wait = offlineBackoff.NextBackOff()
		}

		select {
		case <-m.stop:
			return
		case <-m.kick:
		case <-time.After(wait):
		}

		m.recordOutcome(m.probe())
	}
}

// issues a single health probe; failures here are never fatal
func (m *Monitor) probe() bool {
	resp, err := m.client.Get(m.probeURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

// folds a probe outcome into the sliding window and refreshes the state
func (m *Monitor) recordOutcome(ok bool) {
	m.mutex.Lock()

	m.outcomes = append(m.outcomes, ok)
	if len(m.outcomes) > m.window {
		m.outcomes = m.outcomes[len(m.outcomes)-m.window:]
	}
	if ok {
		m.state.ConsecutiveSuccesses++
		m.state.ConsecutiveFailures = 0
		if !m.platformOnline {
			// the platform thinks we're offline, but a probe just got through,
			// so we synthesize an online signal
			slog.Info("Probe succeeded while platform reports offline; treating connection as online")
		}
	} else {
		m.state.ConsecutiveFailures++
		m.state.ConsecutiveSuccesses = 0
	}
	m.lastProbeOK = ok

	m.refreshLocked()
	m.mutex.Unlock()
}

// recomputes the state from current statistics and notifies subscribers of
// any transition (call with the mutex held)
func (m *Monitor) refreshLocked() {
	oldState := m.state
	newState := m.classify()
	newState.ConsecutiveFailures = m.state.ConsecutiveFailures
	newState.ConsecutiveSuccesses = m.state.ConsecutiveSuccesses
	m.state = newState

	if newState.Online != oldState.Online || newState.Quality != oldState.Quality {
		slog.Info(fmt.Sprintf("Connection state changed: online=%t quality=%s",
			newState.Online, newState.Quality))
		subscribers := make([]func(State), len(m.subscribers))
		copy(subscribers, m.subscribers)
		m.mutex.Unlock() // don't hold the lock across callbacks
		for _, subscriber := range subscribers {
			subscriber(newState)
		}
		m.mutex.Lock()
	}
}

// derives Online and Quality from the platform signal, the failure streak,
// and the probe window (call with the mutex held)
func (m *Monitor) classify() State {
	online := m.platformOnline
	if m.state.ConsecutiveFailures >= m.failureThreshold {
		// a sustained run of failures overrides a stale platform signal
		online = false
	} else if !m.platformOnline && m.lastProbeOK {
		online = true
	}

	state := State{Online: online}
	if !online {
		state.Quality = QualityOffline
		return state
	}

	if len(m.outcomes) == 0 {
		state.Quality = QualityGood
		return state
	}
	successes := 0
	for _, outcome := range m.outcomes {
		if outcome {
			successes++
		}
	}
	ratio := float64(successes) / float64(len(m.outcomes))
	switch {
	case ratio > 0.9:
		state.Quality = QualityGood
	case ratio > 0.7:
		state.Quality = QualityFair
	default:
		state.Quality = QualityPoor
	}
	return state
}
