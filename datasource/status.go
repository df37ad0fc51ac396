// Package datasource keeps the data store synchronized with a flag data
// origin. It contains the event handler shared by all sources, the status
// manager that broadcasts connection health, and the streaming, polling and
// file-based sources themselves.
package datasource

import (
	"log/slog"
	"sync"
	"time"
)

// State describes the connection health of the data source.
type State string

const (
	// StateInitializing means the source has never delivered a complete
	// payload. Connection failures during this phase do not change the state.
	StateInitializing State = "INITIALIZING"
	// StateValid means the store holds a complete payload from the source.
	StateValid State = "VALID"
	// StateInterrupted means the connection failed after having been valid;
	// the store still serves the last known data.
	StateInterrupted State = "INTERRUPTED"
	// StateOff is terminal: the source was stopped explicitly or hit an
	// unrecoverable error such as a rejected credential.
	StateOff State = "OFF"
)

// ErrorInfoKind classifies the last error recorded by a data source.
type ErrorInfoKind string

const (
	ErrorInfoUnknown       ErrorInfoKind = "UNKNOWN"
	ErrorInfoNetworkError  ErrorInfoKind = "NETWORK_ERROR"
	ErrorInfoErrorResponse ErrorInfoKind = "ERROR_RESPONSE"
	ErrorInfoInvalidData   ErrorInfoKind = "INVALID_DATA"
	ErrorInfoStoreError    ErrorInfoKind = "STORE_ERROR"
)

// ErrorInfo describes a data source failure.
type ErrorInfo struct {
	Kind       ErrorInfoKind `json:"kind"`
	StatusCode int           `json:"statusCode,omitempty"`
	Message    string        `json:"message,omitempty"`
	Time       time.Time     `json:"time"`
}

// Status is a snapshot of the data source state.
type Status struct {
	State      State     `json:"state"`
	StateSince time.Time `json:"stateSince"`
	// LastError is the most recent failure, which may be newer than the
	// state itself: repeated failed reconnects update it while the state
	// stays Interrupted.
	LastError *ErrorInfo `json:"lastError,omitempty"`
}

// StatusListener receives status snapshots. Listeners run synchronously on
// the goroutine that detected the transition, after the store has been
// updated, so a listener may immediately read fresh data.
type StatusListener func(Status)

// StatusManager owns the data source state machine and its listeners.
type StatusManager struct {
	logger *slog.Logger

	mu        sync.Mutex
	status    Status
	listeners []StatusListener
}

// NewStatusManager creates a manager in the Initializing state.
func NewStatusManager(logger *slog.Logger) *StatusManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusManager{
		logger: logger,
		status: Status{State: StateInitializing, StateSince: time.Now()},
	}
}

// Status returns the current snapshot.
func (m *StatusManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// AddListener registers a listener for future transitions.
func (m *StatusManager) AddListener(listener StatusListener) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// UpdateState requests a transition. Two requests are adjusted rather than
// applied verbatim: Interrupted before the first Valid stays Initializing,
// and nothing leaves Off. Listeners fire only when the state actually
// changes; errInfo is recorded either way.
func (m *StatusManager) UpdateState(newState State, errInfo *ErrorInfo) {
	m.mu.Lock()

	if m.status.State == StateOff {
		m.mu.Unlock()
		return
	}
	if newState == StateInterrupted && m.status.State == StateInitializing {
		// Not a regression: the source has simply not finished starting up.
		newState = StateInitializing
	}

	if errInfo != nil {
		if errInfo.Time.IsZero() {
			errInfo.Time = time.Now()
		}
		m.status.LastError = errInfo
	}

	if newState == m.status.State {
		m.mu.Unlock()
		return
	}

	m.status.State = newState
	m.status.StateSince = time.Now()
	snapshot := m.status
	listeners := make([]StatusListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("data source state changed",
		slog.String("state", string(snapshot.State)),
	)
	for _, listener := range listeners {
		listener(snapshot)
	}
}

// ReportError records a failure without requesting a state change.
func (m *StatusManager) ReportError(errInfo ErrorInfo) {
	if errInfo.Time.IsZero() {
		errInfo.Time = time.Now()
	}
	m.mu.Lock()
	m.status.LastError = &errInfo
	m.mu.Unlock()
}
