package handler

import (
	"context"
	"runtime/debug"

	"report-checker/internal/session"
)

type EventKind int

const (
	EventStart EventKind = iota
	EventSubmit
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventSubmit:
		return "submit"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one user action delivered by the chat platform. Submission is set
// for EventSubmit only.
type Event struct {
	Kind       EventKind
	UserID     int64
	Target     session.ReplyTarget
	Submission *Submission
}

// Dispatch routes an event and returns the acknowledgement for the
// initiating action, if any. A panic in a handler is logged and swallowed.
func (h *Handler) Dispatch(ctx context.Context, ev Event) (ack string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("user_id", ev.UserID).WithField("event", ev.Kind.String()).
				Errorf("panic while handling event: %v\n%s", r, debug.Stack())
		}
	}()

	switch ev.Kind {
	case EventStart:
		_, ack = h.StartSession(ctx, ev.UserID, ev.Target)
	case EventSubmit:
		if ev.Submission != nil {
			h.Submit(ctx, *ev.Submission)
		}
	case EventClose:
		_, ack = h.CloseSession(ctx, ev.UserID)
	default:
		h.log.WithField("event", int(ev.Kind)).Warn("unknown event kind")
	}
	return ack
}
