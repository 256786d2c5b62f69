package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/readerline/backend/internal/models"
)

// sessionRuntime is the in-process state of one session. mu guards every
// field except view and is held for the whole application of a billing tick.
type sessionRuntime struct {
	mu         sync.Mutex
	session    models.Session
	clock      *BillingClock
	endReason  models.EndReason
	settling   bool
	settleDone chan struct{}
	settlement *models.SettlementLog

	// last published copy of session, readable without mu
	view atomic.Pointer[models.Session]
}

func newSessionRuntime(s models.Session) *sessionRuntime {
	rt := &sessionRuntime{session: s}
	rt.publishView()
	return rt
}

// publishView must be called with mu held after every change to session.
func (rt *sessionRuntime) publishView() {
	s := rt.session
	rt.view.Store(&s)
}

// snapshot never blocks on an in-flight tick.
func (rt *sessionRuntime) snapshot() *models.Session {
	s := *rt.view.Load()
	return &s
}

// endedAt must be called with mu held on a terminal runtime.
func (rt *sessionRuntime) endedAt(fallback time.Time) time.Time {
	if rt.session.EndedAt != nil {
		return *rt.session.EndedAt
	}
	return fallback
}

// Registry is the concurrency-safe map of sessions live in this process.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]*sessionRuntime
}

func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]*sessionRuntime)}
}

func (r *Registry) get(sessionID string) (*sessionRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[sessionID]
	return rt, ok
}

// put registers rt unless the id is already taken.
func (r *Registry) put(rt *sessionRuntime) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runtimes[rt.session.ID]; exists {
		return false
	}
	r.runtimes[rt.session.ID] = rt
	return true
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runtimes, sessionID)
}

func (r *Registry) all() []*sessionRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sessionRuntime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt)
	}
	return out
}

// Len is the number of sessions tracked in this process.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runtimes)
}
