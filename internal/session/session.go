// Package session holds per-user check state: quota, the processing claim,
// conversation history and the idle timer.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"report-checker/internal/gateway"
	"report-checker/internal/history"
	"report-checker/internal/llm"
)

// ReplyTarget is the chat the session sends asynchronous notices to.
type ReplyTarget int64

var (
	ErrInactive = errors.New("session is not active")
	ErrBusy     = errors.New("check already in progress")
)

// IdleFunc is called once after the idle timer closed the session, outside
// of the session lock.
type IdleFunc func(s *Session)

type Session struct {
	userID      int64
	idleTimeout time.Duration
	onIdle      IdleFunc
	history     *history.Transcript

	mu              sync.Mutex
	target          ReplyTarget
	checksRemaining int
	active          bool
	processing      bool
	settled         chan struct{} // closed when the running check ends
	lastResult      *gateway.Result
	cancelTimer     context.CancelFunc

}

func newSession(userID int64, target ReplyTarget, maxChecks int, idleTimeout time.Duration, onIdle IdleFunc) *Session {
	return &Session{
		userID:          userID,
		idleTimeout:     idleTimeout,
		onIdle:          onIdle,
		history:         history.NewTranscript(),
		target:          target,
		checksRemaining: maxChecks,
		active:          true,
	}
}

func (s *Session) UserID() int64 { return s.userID }

func (s *Session) Target() ReplyTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) SetTarget(t ReplyTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Session) ChecksRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checksRemaining
}

// LastResult returns the most recent check result, if any.
func (s *Session) LastResult() (gateway.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return gateway.Result{}, false
	}
	return *s.lastResult, true
}

func (s *Session) History() []llm.Message { return s.history.Messages() }

// Begin claims the session for one check. It fails with ErrInactive when the
// session cannot accept checks and with ErrBusy while another check runs.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.checksRemaining <= 0 {
		return ErrInactive
	}
	if s.processing {
		return ErrBusy
	}
	s.processing = true
	s.settled = make(chan struct{})
	return nil
}

// AddUserMessage appends the submitted report and returns the history that
// preceded it.
func (s *Session) AddUserMessage(content string) []llm.Message {
	prior := s.history.Messages()
	s.history.AppendUser(content)
	return prior
}

// Complete records a finished check: the corrected report joins the history,
// the result replaces the previous one and one unit of quota is consumed.
// exhausted is true when this call spent the last unit and closed the
// session.
func (s *Session) Complete(res gateway.Result) (remaining int, exhausted bool) {
	s.history.AppendAssistant(res.CorrectedReport)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = &res
	if s.checksRemaining > 0 {
		s.checksRemaining--
	}
	if s.checksRemaining == 0 && s.active {
		s.active = false
		s.stopTimerLocked()
		exhausted = true
	}
	return s.checksRemaining, exhausted
}

// Finish releases the processing claim and re-arms the idle timer while the
// session can still accept checks.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.processing {
		return
	}
	s.processing = false
	close(s.settled)
	s.settled = nil
	if s.active && s.checksRemaining > 0 {
		s.armLocked()
	}
}

// Touch restarts the idle timer of an active session.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.checksRemaining > 0 {
		s.armLocked()
	}
}

// Close deactivates the session and cancels its timer. It reports false when
// the session was already inactive.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.active = false
	s.stopTimerLocked()
	return true
}

func (s *Session) armLocked() {
	s.stopTimerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelTimer = cancel
	go s.watch(ctx)
}

func (s *Session) stopTimerLocked() {
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
}

// watch closes the session after idleTimeout unless ctx is cancelled first.
// A timer that fires during a check waits for the check to settle and then
// re-evaluates.
func (s *Session) watch(ctx context.Context) {
	t := time.NewTimer(s.idleTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	for {
		s.mu.Lock()
		// cancellation happens under mu, so this check cannot race a re-arm
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		if s.processing {
			settled := s.settled
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-settled:
			}
			continue
		}
		if !s.active || s.checksRemaining <= 0 {
			s.mu.Unlock()
			return
		}
		s.active = false
		s.stopTimerLocked()
		s.mu.Unlock()

		if s.onIdle != nil {
			s.onIdle(s)
		}
		return
	}
}
