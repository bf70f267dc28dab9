package session

import (
	"sync"
	"time"
)

type Limits struct {
	MaxChecks   int
	MaxActive   int
	IdleTimeout time.Duration
}

type CreateOutcome int

const (
	Created CreateOutcome = iota
	AtCapacity
	AlreadyActive
)

func (o CreateOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AtCapacity:
		return "at_capacity"
	case AlreadyActive:
		return "already_active"
	default:
		return "unknown"
	}
}

// Registry maps user ids to sessions and enforces the active-session ceiling.
type Registry struct {
	limits Limits
	onIdle IdleFunc

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewRegistry(limits Limits, onIdle IdleFunc) *Registry {
	return &Registry{
		limits:   limits,
		onIdle:   onIdle,
		sessions: make(map[int64]*Session),
	}
}

// Create opens a session with full quota and an armed idle timer. Nothing is
// created when the ceiling is reached or the user already has an active
// session. An inactive entry for the same user is replaced.
func (r *Registry) Create(userID int64, target ReplyTarget) (*Session, CreateOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[userID]; ok && prev.Active() {
		return prev, AlreadyActive
	}
	if r.activeLocked() >= r.limits.MaxActive {
		return nil, AtCapacity
	}

	s := newSession(userID, target, r.limits.MaxChecks, r.limits.IdleTimeout, r.onIdle)
	s.Touch()
	r.sessions[userID] = s
	return s, Created
}

func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Remove drops the entry and silently closes it, freeing its slot at once.
func (r *Registry) Remove(userID int64) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.Active() {
			n++
		}
	}
	return n
}

// Sweep forgets inactive sessions that have no check in flight and returns
// how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if !s.Active() && !s.Processing() {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// CloseAll deactivates every session without notifications.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.Close()
	}
}
