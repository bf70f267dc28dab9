package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"report-checker/internal/session"
	"report-checker/internal/storage"
)

// errorDetailLimit bounds the error text shown to users.
const errorDetailLimit = 300

// Attachment is a file sent with a submission. Fetch downloads its content.
type Attachment struct {
	FileName string
	Size     int64
	Fetch    func(ctx context.Context) ([]byte, error)
}

type Submission struct {
	UserID     int64
	Target     session.ReplyTarget
	Text       string
	Attachment *Attachment
}

type Outcome string

const (
	OutcomeChecked     Outcome = "checked"
	OutcomeNoSession   Outcome = "no_session"
	OutcomeBusy        Outcome = "busy"
	OutcomeWrongFormat Outcome = "wrong_format"
	OutcomeEmpty       Outcome = "empty"
	OutcomeFailed      Outcome = "failed"
)

var (
	errWrongFormat = errors.New("unsupported attachment")
	errEmpty       = errors.New("empty report")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Submit runs one check for an existing session. Every rejection produces
// exactly one notice and leaves quota and history untouched.
func (h *Handler) Submit(ctx context.Context, sub Submission) Outcome {
	outcome := h.submit(ctx, sub)
	h.metrics.CheckOutcome(string(outcome))
	return outcome
}

func (h *Handler) submit(ctx context.Context, sub Submission) Outcome {
	log := h.log.WithField("user_id", sub.UserID)

	s, ok := h.registry.Get(sub.UserID)
	if !ok || !s.Active() {
		h.notify(ctx, sub.Target, h.msgs.InactiveSession)
		return OutcomeNoSession
	}
	if err := s.Begin(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			h.notify(ctx, sub.Target, h.msgs.PleaseWait)
			return OutcomeBusy
		}
		h.notify(ctx, sub.Target, h.msgs.InactiveSession)
		return OutcomeNoSession
	}
	s.SetTarget(sub.Target)
	s.Touch()

	content, err := h.readContent(ctx, sub)
	if err != nil {
		s.Finish()
		switch {
		case errors.Is(err, errWrongFormat):
			h.notify(ctx, sub.Target, h.msgs.WrongFormat)
			return OutcomeWrongFormat
		case errors.Is(err, errEmpty):
			h.notify(ctx, sub.Target, h.msgs.EmptyInput)
			return OutcomeEmpty
		default:
			log.WithError(err).Error("failed to read attachment")
			h.notify(ctx, sub.Target, h.msgs.CheckFailed+" "+shorten(err.Error()))
			return OutcomeFailed
		}
	}

	return h.runCheck(ctx, s, content, log)
}

func (h *Handler) runCheck(ctx context.Context, s *session.Session, content string, log logrus.FieldLogger) Outcome {
	checkID := newCheckID()
	log = log.WithField("check_id", checkID)
	target := s.Target()
	started := time.Now()

	exhausted := false
	defer func() {
		s.Finish()
		if exhausted {
			h.disableControls(ctx, s)
			h.notify(ctx, target, h.msgs.LimitReached)
			h.metrics.SessionClosed("limit")
			log.Info("session closed: check limit reached")
		}
	}()

	h.notify(ctx, target, h.msgs.CheckStarted)

	checkCtx := ctx
	if h.checkTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, h.checkTimeout)
		defer cancel()
	}

	prior := s.AddUserMessage(content)
	res, err := h.checker.Submit(checkCtx, content, prior)
	if err != nil {
		entry := log.WithError(err).WithField("elapsed", time.Since(started).String())
		if isCanceled(err) {
			entry.Warn("check aborted")
		} else {
			entry.Errorf("check failed: %+v", err)
		}
		h.notify(ctx, target, h.msgs.CheckFailed+" "+shorten(err.Error()))
		h.record(storage.CheckEvent{
			Timestamp:       time.Now().UTC(),
			CheckID:         checkID,
			UserID:          s.UserID(),
			Status:          storage.StatusFailed,
			ReportChars:     utf8.RuneCountInString(content),
			ChecksRemaining: s.ChecksRemaining(),
			Duration:        time.Since(started).String(),
			Error:           err.Error(),
		})
		return OutcomeFailed
	}

	var remaining int
	remaining, exhausted = s.Complete(res)
	log.WithFields(logrus.Fields{
		"recommendations":  len(res.Recommendations),
		"checks_remaining": remaining,
		"elapsed":          time.Since(started).String(),
	}).Info("check completed")

	if err := h.notifier.SendResult(ctx, target, ResultDelivery{
		Result:          res,
		ChecksRemaining: remaining,
		SessionActive:   s.Active(),
	}); err != nil {
		log.WithError(err).Warn("failed to deliver result")
	}
	h.record(storage.CheckEvent{
		Timestamp:       time.Now().UTC(),
		CheckID:         checkID,
		UserID:          s.UserID(),
		Status:          storage.StatusOK,
		ReportChars:     utf8.RuneCountInString(content),
		Recommendations: len(res.Recommendations),
		ChecksRemaining: remaining,
		Duration:        time.Since(started).String(),
	})
	return OutcomeChecked
}

// readContent returns the trimmed report text of a submission.
func (h *Handler) readContent(ctx context.Context, sub Submission) (string, error) {
	text := sub.Text
	if a := sub.Attachment; a != nil {
		if !strings.EqualFold(filepath.Ext(a.FileName), ".txt") {
			return "", fmt.Errorf("%w: %s", errWrongFormat, a.FileName)
		}
		if h.maxAttachment > 0 && a.Size > h.maxAttachment {
			return "", fmt.Errorf("%w: %s is %d bytes", errWrongFormat, a.FileName, a.Size)
		}
		data, err := a.Fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", a.FileName, err)
		}
		if h.maxAttachment > 0 && int64(len(data)) > h.maxAttachment {
			return "", fmt.Errorf("%w: %s is %d bytes", errWrongFormat, a.FileName, len(data))
		}
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not UTF-8", errWrongFormat, a.FileName)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmpty
	}
	return text, nil
}

func shorten(s string) string {
	if utf8.RuneCountInString(s) <= errorDetailLimit {
		return s
	}
	r := []rune(s)
	return string(r[:errorDetailLimit]) + "…"
}
