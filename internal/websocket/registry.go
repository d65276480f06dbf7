package websocket

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the in-memory connection map: at most one student client per
// session id, plus the set of connected operators. It is owned by the
// broker and never escapes it. One mutex covers both maps so a relay
// decision can never observe a half-updated state during a concurrent
// connect or disconnect.
type Registry struct {
	mu        sync.Mutex
	students  map[string]*Client
	operators map[*Client]string
}

func NewRegistry() *Registry {
	return &Registry{
		students:  make(map[string]*Client),
		operators: make(map[*Client]string),
	}
}

// RegisterStudent maps a session id to a client. A second registration for
// the same id replaces the first (last writer wins for the live socket) and
// the previous client is returned so the caller can close it.
func (r *Registry) RegisterStudent(sessionID string, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.students[sessionID]
	r.students[sessionID] = client
	if previous == nil {
		wsStudents.Inc()
	}
	return previous
}

// UnregisterStudent removes the mapping only if the given client still owns
// it. A stale disconnect from a replaced handle is a no-op and must never
// evict the newer connection.
func (r *Registry) UnregisterStudent(sessionID string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.students[sessionID]
	if !ok || current != client {
		return false
	}
	delete(r.students, sessionID)
	wsStudents.Dec()
	return true
}

func (r *Registry) LookupStudent(sessionID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.students[sessionID]
	return client, ok
}

// RegisterOperator adds an operator client and mints the ephemeral id used
// to match its later claims and messages.
func (r *Registry) RegisterOperator(client *Client) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	operatorID := uuid.NewString()
	r.operators[client] = operatorID
	wsOperators.Inc()
	return operatorID
}

func (r *Registry) UnregisterOperator(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.operators[client]; !ok {
		return false
	}
	delete(r.operators, client)
	wsOperators.Dec()
	return true
}

// SnapshotOperators returns the current operator clients. Sends happen on
// the snapshot outside the lock so a slow recipient never blocks the
// registry.
func (r *Registry) SnapshotOperators() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	operators := make([]*Client, 0, len(r.operators))
	for client := range r.operators {
		operators = append(operators, client)
	}
	return operators
}

func (r *Registry) StudentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.students)
}

func (r *Registry) OperatorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.operators)
}
