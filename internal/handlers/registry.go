package handlers

import (
	"fmt"
	"sync"
	"time"

	"github.com/tessari/passport/internal/interfaces"
)

// connectionState is the registry's record for one live connection
type connectionState struct {
	Principal   *interfaces.Principal
	JobIDs      map[string]time.Time // jobID -> subscribedAt
	ConnectedAt time.Time
	missedBeats int
}

// Registry is the server-side bookkeeping of which live connections watch
// which jobs. It is an explicit object injected into the hub, not ambient
// state, so it can be tested in isolation and cleaned up on shutdown. Both
// directions are indexed: who is watching a job, and what a connection
// watches.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*connectionState
	watchers    map[string]map[string]bool // jobID -> set of connectionIDs
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*connectionState),
		watchers:    make(map[string]map[string]bool),
	}
}

// Register records an authenticated connection
func (r *Registry) Register(connectionID string, principal *interfaces.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[connectionID] = &connectionState{
		Principal:   principal,
		JobIDs:      make(map[string]time.Time),
		ConnectedAt: time.Now().UTC(),
	}
}

// Unregister removes a connection and all its subscriptions. Returns the job
// IDs it was watching. The registry deliberately keeps no memory of a
// disconnected client's subscriptions; re-subscribing is the client's job.
func (r *Registry) Unregister(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.connections[connectionID]
	if !ok {
		return nil
	}

	jobIDs := make([]string, 0, len(state.JobIDs))
	for jobID := range state.JobIDs {
		jobIDs = append(jobIDs, jobID)
		if conns, ok := r.watchers[jobID]; ok {
			delete(conns, connectionID)
			if len(conns) == 0 {
				delete(r.watchers, jobID)
			}
		}
	}

	delete(r.connections, connectionID)
	return jobIDs
}

// Subscribe links a connection to a job
func (r *Registry) Subscribe(connectionID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.connections[connectionID]
	if !ok {
		return fmt.Errorf("unknown connection: %s", connectionID)
	}

	state.JobIDs[jobID] = time.Now().UTC()
	if r.watchers[jobID] == nil {
		r.watchers[jobID] = make(map[string]bool)
	}
	r.watchers[jobID][connectionID] = true
	return nil
}

// Unsubscribe unlinks a connection from a job
func (r *Registry) Unsubscribe(connectionID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.connections[connectionID]; ok {
		delete(state.JobIDs, jobID)
	}
	if conns, ok := r.watchers[jobID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(r.watchers, jobID)
		}
	}
}

// Watchers returns the connection IDs currently subscribed to a job
func (r *Registry) Watchers(jobID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.watchers[jobID]
	result := make([]string, 0, len(conns))
	for connectionID := range conns {
		result = append(result, connectionID)
	}
	return result
}

// Subscriptions returns the job IDs a connection is watching
func (r *Registry) Subscriptions(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(state.JobIDs))
	for jobID := range state.JobIDs {
		result = append(result, jobID)
	}
	return result
}

// Principal returns the authenticated principal for a connection, or nil
func (r *Registry) Principal(connectionID string) *interfaces.Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if state, ok := r.connections[connectionID]; ok {
		return state.Principal
	}
	return nil
}

// ConnectionCount returns how many connections are registered
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// RecordHeartbeatSent increments the missed-heartbeat counter and returns the
// new count. The hub purges connections whose count exceeds its limit.
func (r *Registry) RecordHeartbeatSent(connectionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.connections[connectionID]; ok {
		state.missedBeats++
		return state.missedBeats
	}
	return 0
}

// RecordPong resets the missed-heartbeat counter for a connection
func (r *Registry) RecordPong(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.connections[connectionID]; ok {
		state.missedBeats = 0
	}
}

// ConnectionIDs returns all registered connection IDs
func (r *Registry) ConnectionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.connections))
	for connectionID := range r.connections {
		result = append(result, connectionID)
	}
	return result
}
