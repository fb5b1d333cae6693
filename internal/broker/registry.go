package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/XERGER/EmbedPython/internal/protocol"
)

// record tracks one in-flight execution from acceptance to its
// terminal response.
type record struct {
	executionID string
	op          protocol.OperationType
	owner       *conn // may outlive the connection; broadcast still works
	started     time.Time
}

// registry is the broker's table of live executions keyed by
// executionId.
type registry struct {
	mu      sync.Mutex
	records map[string]*record
}

func newRegistry() *registry {
	return &registry{records: make(map[string]*record)}
}

// add registers a new execution. Duplicate ids are rejected; no two
// concurrent records may share an executionId.
func (r *registry) add(id string, op protocol.OperationType, owner *conn) (*record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; exists {
		return nil, fmt.Errorf("execution ID '%s' is already in use", id)
	}
	rec := &record{executionID: id, op: op, owner: owner, started: time.Now()}
	r.records[id] = rec
	return rec, nil
}

func (r *registry) get(id string) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// remove drops the record once its terminal response has been queued
// and the child reaped.
func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
