package handler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"report-checker/internal/auth"
	"report-checker/internal/config"
	"report-checker/internal/gateway"
	"report-checker/internal/llm"
	"report-checker/internal/logging"
	"report-checker/internal/session"
	"report-checker/internal/storage"
)

type sentNotice struct {
	target session.ReplyTarget
	text   string
}

type fakeNotifier struct {
	mu       sync.Mutex
	notices  []sentNotice
	results  []ResultDelivery
	disabled int
	failFor  map[session.ReplyTarget]bool
	noticeCh chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: map[session.ReplyTarget]bool{}, noticeCh: make(chan string, 64)}
}

func (f *fakeNotifier) Notify(_ context.Context, target session.ReplyTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[target] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	f.notices = append(f.notices, sentNotice{target: target, text: text})
	select {
	case f.noticeCh <- text:
	default:
	}
	return nil
}

func (f *fakeNotifier) SendResult(_ context.Context, _ session.ReplyTarget, d ResultDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, d)
	return nil
}

func (f *fakeNotifier) DisableControls(context.Context, session.ReplyTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled++
	return nil
}

func (f *fakeNotifier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.notices))
	for _, n := range f.notices {
		out = append(out, n.text)
	}
	return out
}

func (f *fakeNotifier) waitFor(t *testing.T, text string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-f.noticeCh:
			if got == text {
				return
			}
		case <-deadline:
			t.Fatalf("notice %q not sent; got %q", text, f.texts())
		}
	}
}

type fakeChecker struct {
	mu    sync.Mutex
	calls []checkCall
	fn    func(ctx context.Context, text string) (gateway.Result, error)
}

type checkCall struct {
	text    string
	history []llm.Message
}

func (f *fakeChecker) Submit(ctx context.Context, text string, history []llm.Message) (gateway.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, checkCall{text: text, history: history})
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return gateway.Result{
			Recommendations: []gateway.Recommendation{{Criterion: "Стиль", Issues: []string{"длинно"}}},
			CorrectedReport: "fixed: " + text,
		}, nil
	}
	return fn(ctx, text)
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memRecorder struct {
	mu     sync.Mutex
	events []storage.CheckEvent
}

func (m *memRecorder) AppendCheck(ev storage.CheckEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRecorder) LoadChecks() ([]storage.CheckEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.CheckEvent{}, m.events...), nil
}

type fixture struct {
	h        *Handler
	notifier *fakeNotifier
	checker  *fakeChecker
	recorder *memRecorder
	msgs     config.Messages
}

func newFixture(t *testing.T, limits session.Limits) *fixture {
	t.Helper()
	f := &fixture{
		notifier: newFakeNotifier(),
		checker:  &fakeChecker{},
		recorder: &memRecorder{},
		msgs:     config.DefaultMessages(),
	}
	f.h = New(f.checker, f.notifier, Options{
		Limits:             limits,
		MaxAttachmentBytes: 64,
		CheckTimeout:       time.Second,
		Messages:           f.msgs,
		Recorder:           f.recorder,
		Logger:             logging.Discard(),
	})
	t.Cleanup(f.h.Registry().CloseAll)
	return f
}

func defaultLimits(maxChecks int) session.Limits {
	return session.Limits{MaxChecks: maxChecks, MaxActive: 10, IdleTimeout: time.Hour}
}

func (f *fixture) start(t *testing.T, userID int64) {
	t.Helper()
	if outcome, _ := f.h.StartSession(context.Background(), userID, session.ReplyTarget(userID)); outcome != StartCreated {
		t.Fatalf("start: %s", outcome)
	}
}

func textSubmission(userID int64, text string) Submission {
	return Submission{UserID: userID, Target: session.ReplyTarget(userID), Text: text}
}

func TestSubmit_SingleCheckQuotaScenario(t *testing.T) {
	f := newFixture(t, defaultLimits(1))
	outcome, ack := f.h.StartSession(context.Background(), 7, 7)
	if outcome != StartCreated || ack != f.msgs.StartNotify {
		t.Fatalf("start: %s %q", outcome, ack)
	}

	if got := f.h.Submit(context.Background(), textSubmission(7, "  отчет  ")); got != OutcomeChecked {
		t.Fatalf("submit: %s", got)
	}
	if f.checker.calls[0].text != "отчет" {
		t.Fatalf("content not trimmed: %q", f.checker.calls[0].text)
	}
	if len(f.notifier.results) != 1 {
		t.Fatalf("want one result, got %d", len(f.notifier.results))
	}
	d := f.notifier.results[0]
	if d.ChecksRemaining != 0 || d.SessionActive {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	want := []string{f.msgs.Start, f.msgs.CheckStarted, f.msgs.LimitReached}
	if got := f.notifier.texts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("notices: want %q, got %q", want, got)
	}
	if f.notifier.disabled != 1 {
		t.Fatalf("controls not disabled on limit: %d", f.notifier.disabled)
	}
	s, _ := f.h.Registry().Get(7)
	if s.Active() || s.ChecksRemaining() != 0 || s.Processing() {
		t.Fatalf("unexpected session state after limit")
	}

	if got := f.h.Submit(context.Background(), textSubmission(7, "ещё")); got != OutcomeNoSession {
		t.Fatalf("submit after limit: %s", got)
	}
	if f.checker.callCount() != 1 {
		t.Fatalf("gateway called after limit")
	}
	texts := f.notifier.texts()
	if texts[len(texts)-1] != f.msgs.InactiveSession {
		t.Fatalf("want inactive notice, got %q", texts[len(texts)-1])
	}
	if len(f.recorder.events) != 1 || f.recorder.events[0].Status != storage.StatusOK {
		t.Fatalf("unexpected audit: %+v", f.recorder.events)
	}
}

func TestSubmit_PassesPriorHistory(t *testing.T) {
	f := newFixture(t, defaultLimits(3))
	f.start(t, 1)

	f.h.Submit(context.Background(), textSubmission(1, "first"))
	f.h.Submit(context.Background(), textSubmission(1, "second"))

	if len(f.checker.calls) != 2 {
		t.Fatalf("want 2 calls, got %d", len(f.checker.calls))
	}
	if len(f.checker.calls[0].history) != 0 {
		t.Fatalf("first call got history: %+v", f.checker.calls[0].history)
	}
	h := f.checker.calls[1].history
	if len(h) != 2 || h[0].Content != "first" || h[1].Content != "fixed: first" {
		t.Fatalf("unexpected history: %+v", h)
	}
	s, _ := f.h.Registry().Get(1)
	if s.ChecksRemaining() != 1 || !s.Active() {
		t.Fatalf("unexpected quota state")
	}
	if res, ok := s.LastResult(); !ok || res.CorrectedReport != "fixed: second" {
		t.Fatalf("last result not replaced: %+v", res)
	}
}

func TestSubmit_BusyRejection(t *testing.T) {
	f := newFixture(t, defaultLimits(3))
	f.start(t, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.checker.fn = func(ctx context.Context, text string) (gateway.Result, error) {
		close(entered)
		<-release
		return gateway.Result{CorrectedReport: "ok"}, nil
	}

	done := make(chan Outcome)
	go func() { done <- f.h.Submit(context.Background(), textSubmission(1, "first")) }()
	<-entered

	if got := f.h.Submit(context.Background(), textSubmission(1, "second")); got != OutcomeBusy {
		t.Fatalf("want busy, got %s", got)
	}
	f.notifier.waitFor(t, f.msgs.PleaseWait)
	close(release)
	if got := <-done; got != OutcomeChecked {
		t.Fatalf("first submit: %s", got)
	}
	if f.checker.callCount() != 1 {
		t.Fatalf("busy submission reached the gateway")
	}
	s, _ := f.h.Registry().Get(1)
	if got := len(s.History()); got != 2 {
		t.Fatalf("busy submission touched history: %d messages", got)
	}
}

func TestSubmit_GatewayErrorKeepsQuota(t *testing.T) {
	f := newFixture(t, defaultLimits(2))
	f.start(t, 1)
	f.checker.fn = func(context.Context, string) (gateway.Result, error) {
		return gateway.Result{}, &gateway.GatewayError{Op: gateway.OpComplete, Err: errors.New("connection reset")}
	}

	if got := f.h.Submit(context.Background(), textSubmission(1, "report")); got != OutcomeFailed {
		t.Fatalf("want failed, got %s", got)
	}
	texts := f.notifier.texts()
	last := texts[len(texts)-1]
	if !strings.HasPrefix(last, f.msgs.CheckFailed) || !strings.Contains(last, "connection reset") {
		t.Fatalf("unexpected error notice: %q", last)
	}
	errorNotices := 0
	for _, txt := range texts {
		if strings.HasPrefix(txt, f.msgs.CheckFailed) {
			errorNotices++
		}
	}
	if errorNotices != 1 {
		t.Fatalf("want one error notice, got %d", errorNotices)
	}
	if len(f.notifier.results) != 0 {
		t.Fatalf("result rendered after failure")
	}

	s, _ := f.h.Registry().Get(1)
	if s.Processing() || !s.Active() || s.ChecksRemaining() != 2 {
		t.Fatalf("unexpected state: processing=%v active=%v remaining=%d", s.Processing(), s.Active(), s.ChecksRemaining())
	}
	if h := s.History(); len(h) != 1 || h[0].Role != llm.RoleUser {
		t.Fatalf("history should hold only the submitted report: %+v", h)
	}
	if len(f.recorder.events) != 1 || f.recorder.events[0].Status != storage.StatusFailed {
		t.Fatalf("unexpected audit: %+v", f.recorder.events)
	}
}

func TestSubmit_InputRejections(t *testing.T) {
	f := newFixture(t, defaultLimits(2))
	f.start(t, 1)

	fetched := 0
	att := func(name string, data []byte) *Attachment {
		return &Attachment{FileName: name, Size: int64(len(data)), Fetch: func(context.Context) ([]byte, error) {
			fetched++
			return data, nil
		}}
	}

	cases := []struct {
		name string
		sub  Submission
		want Outcome
		text string
	}{
		{"pdf", Submission{UserID: 1, Target: 1, Attachment: att("report.pdf", []byte("x"))}, OutcomeWrongFormat, f.msgs.WrongFormat},
		{"too large", Submission{UserID: 1, Target: 1, Attachment: att("big.txt", make([]byte, 65))}, OutcomeWrongFormat, f.msgs.WrongFormat},
		{"not utf8", Submission{UserID: 1, Target: 1, Attachment: att("bad.txt", []byte{0xff, 0xfe, 0x00})}, OutcomeWrongFormat, f.msgs.WrongFormat},
		{"blank text", textSubmission(1, " \n\t "), OutcomeEmpty, f.msgs.EmptyInput},
		{"blank file", Submission{UserID: 1, Target: 1, Attachment: att("empty.TXT", []byte("\xEF\xBB\xBF  "))}, OutcomeEmpty, f.msgs.EmptyInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(f.notifier.texts())
			if got := f.h.Submit(context.Background(), tc.sub); got != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
			texts := f.notifier.texts()
			if len(texts) != before+1 || texts[before] != tc.text {
				t.Fatalf("want exactly notice %q, got %q", tc.text, texts[before:])
			}
		})
	}

	if fetched != 2 {
		t.Fatalf("want 2 fetches (pdf and oversize rejected early), got %d", fetched)
	}
	if f.checker.callCount() != 0 {
		t.Fatalf("rejected input reached the gateway")
	}
	s, _ := f.h.Registry().Get(1)
	if s.Processing() || s.ChecksRemaining() != 2 || len(s.History()) != 0 {
		t.Fatalf("rejection changed the session")
	}
}

func TestSubmit_TextAttachment(t *testing.T) {
	f := newFixture(t, defaultLimits(2))
	f.start(t, 1)
	sub := Submission{UserID: 1, Target: 1, Attachment: &Attachment{
		FileName: "report.txt",
		Size:     12,
		Fetch:    func(context.Context) ([]byte, error) { return []byte("\xEF\xBB\xBFтекст\n"), nil },
	}}
	if got := f.h.Submit(context.Background(), sub); got != OutcomeChecked {
		t.Fatalf("submit: %s", got)
	}
	if f.checker.calls[0].text != "текст" {
		t.Fatalf("unexpected content: %q", f.checker.calls[0].text)
	}
}

func TestSubmit_NoSession(t *testing.T) {
	f := newFixture(t, defaultLimits(2))
	if got := f.h.Submit(context.Background(), textSubmission(5, "report")); got != OutcomeNoSession {
		t.Fatalf("want no_session, got %s", got)
	}
	if texts := f.notifier.texts(); len(texts) != 1 || texts[0] != f.msgs.InactiveSession {
		t.Fatalf("unexpected notices: %q", texts)
	}
}

func TestStartSession_Outcomes(t *testing.T) {
	f := newFixture(t, session.Limits{MaxChecks: 1, MaxActive: 1, IdleTimeout: time.Hour})
	ctx := context.Background()

	f.start(t, 1)
	if outcome, ack := f.h.StartSession(ctx, 1, 1); outcome != StartAlreadyActive || ack != f.msgs.AlreadyStarted {
		t.Fatalf("second start: %s %q", outcome, ack)
	}
	if outcome, ack := f.h.StartSession(ctx, 2, 2); outcome != StartAtCapacity || ack != f.msgs.TooManyClients {
		t.Fatalf("capacity: %s %q", outcome, ack)
	}
	if _, ok := f.h.Registry().Get(2); ok {
		t.Fatalf("capacity rejection created a session")
	}

	f.h.CloseSession(ctx, 1)
	if outcome, _ := f.h.StartSession(ctx, 3, 3); outcome != StartCreated {
		t.Fatalf("start after close: %s", outcome)
	}
}

func TestStartSession_UnreachableFreesSlot(t *testing.T) {
	f := newFixture(t, session.Limits{MaxChecks: 1, MaxActive: 1, IdleTimeout: time.Hour})
	f.notifier.failFor[9] = true

	outcome, ack := f.h.StartSession(context.Background(), 9, 9)
	if outcome != StartUnreachable || ack != f.msgs.Unreachable {
		t.Fatalf("want unreachable, got %s %q", outcome, ack)
	}
	if _, ok := f.h.Registry().Get(9); ok {
		t.Fatalf("unreachable session kept")
	}
	f.start(t, 2)
}

func TestStartSession_NotAllowed(t *testing.T) {
	notifier := newFakeNotifier()
	h := New(&fakeChecker{}, notifier, Options{
		Limits:   defaultLimits(1),
		Messages: config.DefaultMessages(),
		Auth:     auth.New([]int64{1}, 0),
		Logger:   logging.Discard(),
	})
	defer h.Registry().CloseAll()

	if outcome, _ := h.StartSession(context.Background(), 2, 2); outcome != StartNotAllowed {
		t.Fatalf("want not_allowed, got %s", outcome)
	}
	if outcome, _ := h.StartSession(context.Background(), 1, 1); outcome != StartCreated {
		t.Fatalf("allowlisted user refused: %s", outcome)
	}
}

func TestCloseSession_Idempotent(t *testing.T) {
	f := newFixture(t, defaultLimits(2))
	f.start(t, 1)
	before := len(f.notifier.texts())

	closed, ack := f.h.CloseSession(context.Background(), 1)
	if !closed || ack != f.msgs.ManualClosed {
		t.Fatalf("first close: %v %q", closed, ack)
	}
	closed, ack = f.h.CloseSession(context.Background(), 1)
	if closed || ack != "" {
		t.Fatalf("second close should be a no-op: %v %q", closed, ack)
	}
	if closed, _ := f.h.CloseSession(context.Background(), 404); closed {
		t.Fatalf("closing an unknown session reported success")
	}
	if f.notifier.disabled != 1 {
		t.Fatalf("want controls disabled once, got %d", f.notifier.disabled)
	}
	if len(f.notifier.texts()) != before {
		t.Fatalf("manual close must not send proactive notices")
	}
}

func TestIdleTimeout_NotifiesOnce(t *testing.T) {
	f := newFixture(t, session.Limits{MaxChecks: 2, MaxActive: 1, IdleTimeout: 20 * time.Millisecond})
	f.start(t, 1)

	f.notifier.waitFor(t, f.msgs.IdleClosed)
	time.Sleep(60 * time.Millisecond)

	idle := 0
	for _, txt := range f.notifier.texts() {
		if txt == f.msgs.IdleClosed {
			idle++
		}
	}
	if idle != 1 {
		t.Fatalf("want one idle notice, got %d", idle)
	}
	if got := f.h.Submit(context.Background(), textSubmission(1, "late")); got != OutcomeNoSession {
		t.Fatalf("submit after idle close: %s", got)
	}
}

func TestDispatch_RoutesAndRecovers(t *testing.T) {
	f := newFixture(t, defaultLimits(2))
	ctx := context.Background()

	if ack := f.h.Dispatch(ctx, Event{Kind: EventStart, UserID: 1, Target: 1}); ack != f.msgs.StartNotify {
		t.Fatalf("start ack: %q", ack)
	}

	f.checker.fn = func(context.Context, string) (gateway.Result, error) { panic("boom") }
	sub := textSubmission(1, "report")
	if ack := f.h.Dispatch(ctx, Event{Kind: EventSubmit, UserID: 1, Target: 1, Submission: &sub}); ack != "" {
		t.Fatalf("submit ack: %q", ack)
	}
	s, _ := f.h.Registry().Get(1)
	if s.Processing() {
		t.Fatalf("processing claim leaked after panic")
	}

	if ack := f.h.Dispatch(ctx, Event{Kind: EventClose, UserID: 1}); ack != f.msgs.ManualClosed {
		t.Fatalf("close ack: %q", ack)
	}
}
