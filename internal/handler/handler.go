// Package handler orchestrates sessions and the gateway for inbound user
// actions and produces the outbound notices.
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"report-checker/internal/auth"
	"report-checker/internal/config"
	"report-checker/internal/gateway"
	"report-checker/internal/llm"
	"report-checker/internal/metrics"
	"report-checker/internal/session"
	"report-checker/internal/storage"
)

// notifyTimeout bounds notices sent outside of a user request.
const notifyTimeout = 15 * time.Second

// Checker is the gateway as seen by the handler.
type Checker interface {
	Submit(ctx context.Context, userText string, history []llm.Message) (gateway.Result, error)
}

// ResultDelivery is what the chat platform renders for a finished check.
type ResultDelivery struct {
	Result          gateway.Result
	ChecksRemaining int
	SessionActive   bool
}

// Notifier is the messaging side of the chat platform.
type Notifier interface {
	Notify(ctx context.Context, target session.ReplyTarget, text string) error
	SendResult(ctx context.Context, target session.ReplyTarget, d ResultDelivery) error
	DisableControls(ctx context.Context, target session.ReplyTarget) error
}

type Options struct {
	Limits             session.Limits
	MaxAttachmentBytes int64
	CheckTimeout       time.Duration
	Messages           config.Messages
	Auth               *auth.Service
	Recorder           storage.Recorder
	Metrics            *metrics.Metrics
	Logger             logrus.FieldLogger
}

type Handler struct {
	checker  Checker
	notifier Notifier
	registry *session.Registry

	msgs          config.Messages
	maxAttachment int64
	checkTimeout  time.Duration
	auth          *auth.Service
	recorder      storage.Recorder
	metrics       *metrics.Metrics
	log           logrus.FieldLogger
}

func New(checker Checker, notifier Notifier, opts Options) *Handler {
	h := &Handler{
		checker:       checker,
		notifier:      notifier,
		msgs:          opts.Messages,
		maxAttachment: opts.MaxAttachmentBytes,
		checkTimeout:  opts.CheckTimeout,
		auth:          opts.Auth,
		recorder:      opts.Recorder,
		metrics:       opts.Metrics,
		log:           opts.Logger,
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	h.log = h.log.WithField("component", "handler")
	h.registry = session.NewRegistry(opts.Limits, h.onIdle)
	h.metrics.TrackActiveSessions(h.registry.ActiveCount)
	return h
}

func (h *Handler) Registry() *session.Registry { return h.registry }

type StartOutcome string

const (
	StartCreated       StartOutcome = "created"
	StartAtCapacity    StartOutcome = "at_capacity"
	StartAlreadyActive StartOutcome = "already_active"
	StartUnreachable   StartOutcome = "unreachable"
	StartNotAllowed    StartOutcome = "not_allowed"
)

// StartSession opens a session and greets the user at target. The returned
// text acknowledges the initiating action.
func (h *Handler) StartSession(ctx context.Context, userID int64, target session.ReplyTarget) (StartOutcome, string) {
	log := h.log.WithField("user_id", userID)
	if !h.auth.IsAllowed(userID) {
		log.Info("session start refused: not allowlisted")
		return StartNotAllowed, h.msgs.NotAllowed
	}

	_, outcome := h.registry.Create(userID, target)
	switch outcome {
	case session.AlreadyActive:
		return StartAlreadyActive, h.msgs.AlreadyStarted
	case session.AtCapacity:
		log.WithField("active", h.registry.ActiveCount()).Warn("session start refused: at capacity")
		return StartAtCapacity, h.msgs.TooManyClients
	}

	if err := h.notifier.Notify(ctx, target, h.msgs.Start); err != nil {
		log.WithError(err).Warn("user unreachable, dropping new session")
		h.registry.Remove(userID)
		return StartUnreachable, h.msgs.Unreachable
	}
	log.Info("session created")
	return StartCreated, h.msgs.StartNotify
}

// CloseSession ends the user's session on request. Closing a missing or
// inactive session is a no-op and returns closed=false with no text.
func (h *Handler) CloseSession(ctx context.Context, userID int64) (closed bool, ack string) {
	s, ok := h.registry.Get(userID)
	if !ok || !s.Close() {
		return false, ""
	}
	h.disableControls(ctx, s)
	h.metrics.SessionClosed("manual")
	h.log.WithField("user_id", userID).Info("session closed manually")
	return true, h.msgs.ManualClosed
}

func (h *Handler) onIdle(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	log := h.log.WithField("user_id", s.UserID())
	h.disableControls(ctx, s)
	if err := h.notifier.Notify(ctx, s.Target(), h.msgs.IdleClosed); err != nil {
		log.WithError(err).Warn("failed to send idle timeout notice")
	}
	h.metrics.SessionClosed("idle")
	log.Info("session closed after idle timeout")
}

func (h *Handler) disableControls(ctx context.Context, s *session.Session) {
	if err := h.notifier.DisableControls(ctx, s.Target()); err != nil {
		h.log.WithError(err).WithField("user_id", s.UserID()).Warn("failed to disable session controls")
	}
}

// notify sends a notice and only logs failures.
func (h *Handler) notify(ctx context.Context, target session.ReplyTarget, text string) {
	if err := h.notifier.Notify(ctx, target, text); err != nil {
		h.log.WithError(err).WithField("target", int64(target)).Warn("failed to send notice")
	}
}

func (h *Handler) record(ev storage.CheckEvent) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.AppendCheck(ev); err != nil {
		h.log.WithError(err).Warn("failed to record check")
	}
}

func newCheckID() string { return uuid.NewString() }

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
