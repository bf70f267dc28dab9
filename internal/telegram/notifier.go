package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	cache "github.com/patrickmn/go-cache"

	"report-checker/internal/config"
	"report-checker/internal/gateway"
	"report-checker/internal/handler"
	"report-checker/internal/session"
)

const (
	pageSize = 5
	viewTTL  = time.Hour

	pagePrefix = "page:"
	finishCmd  = "finish"
)

var errViewExpired = errors.New("result view expired")

// resultView is a paginated result message kept around for page turns.
type resultView struct {
	chatID    int64
	messageID int
	recs      []gateway.Recommendation
	remaining int
	page      int
	active    bool
}

func (v *resultView) pages() int {
	if len(v.recs) == 0 {
		return 1
	}
	return (len(v.recs) + pageSize - 1) / pageSize
}

// Notifier delivers notices and check results to Telegram chats.
type Notifier struct {
	s    sender
	msgs config.Messages

	mu    sync.Mutex
	views *cache.Cache
}

var _ handler.Notifier = (*Notifier)(nil)

func newNotifier(s sender, msgs config.Messages) *Notifier {
	return &Notifier{
		s:     s,
		msgs:  msgs,
		views: cache.New(viewTTL, 10*time.Minute),
	}
}

func viewKey(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

func (n *Notifier) Notify(_ context.Context, target session.ReplyTarget, text string) error {
	_, err := n.s.Send(tgbotapi.NewMessage(int64(target), text))
	return err
}

// SendResult posts the first page of recommendations and the corrected
// report as a document.
func (n *Notifier) SendResult(_ context.Context, target session.ReplyTarget, d handler.ResultDelivery) error {
	chatID := int64(target)
	v := &resultView{
		chatID:    chatID,
		recs:      d.Result.Recommendations,
		remaining: d.ChecksRemaining,
		active:    d.SessionActive,
	}

	n.mu.Lock()
	msg := tgbotapi.NewMessage(chatID, n.render(v))
	if kb, ok := n.keyboard(v); ok {
		msg.ReplyMarkup = kb
	}
	n.mu.Unlock()

	sent, err := n.s.Send(msg)
	if err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	v.messageID = sent.MessageID
	n.views.SetDefault(viewKey(chatID, sent.MessageID), v)

	if d.Result.CorrectedReport == "" {
		return nil
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  n.msgs.ReportFileName,
		Bytes: []byte(d.Result.CorrectedReport),
	})
	if _, err := n.s.Send(doc); err != nil {
		return fmt.Errorf("send corrected report: %w", err)
	}
	return nil
}

// ShowPage switches a result message to the given zero-based page.
func (n *Notifier) ShowPage(chatID int64, messageID, page int) error {
	obj, ok := n.views.Get(viewKey(chatID, messageID))
	if !ok {
		return errViewExpired
	}
	v := obj.(*resultView)

	n.mu.Lock()
	if page < 0 || page >= v.pages() || page == v.page {
		n.mu.Unlock()
		return nil
	}
	v.page = page
	text := n.render(v)
	kb, _ := n.keyboard(v)
	n.mu.Unlock()

	_, err := n.s.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, kb))
	return err
}

// DisableControls drops the finish button from every tracked result in the
// chat.
func (n *Notifier) DisableControls(_ context.Context, target session.ReplyTarget) error {
	chatID := int64(target)
	var errs []error
	for _, item := range n.views.Items() {
		v, ok := item.Object.(*resultView)
		if !ok || v.chatID != chatID {
			continue
		}
		n.mu.Lock()
		if !v.active {
			n.mu.Unlock()
			continue
		}
		v.active = false
		kb, _ := n.keyboard(v)
		n.mu.Unlock()

		if _, err := n.s.Send(tgbotapi.NewEditMessageReplyMarkup(chatID, v.messageID, kb)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) render(v *resultView) string {
	var b strings.Builder
	b.WriteString(n.msgs.ResultTitle)
	b.WriteString("\n\n")

	if len(v.recs) == 0 {
		b.WriteString(n.msgs.NoIssues)
		b.WriteString("\n")
	}
	start := v.page * pageSize
	end := min(start+pageSize, len(v.recs))
	for i := start; i < end; i++ {
		rec := v.recs[i]
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec.Criterion)
		if len(rec.Issues) == 0 {
			fmt.Fprintf(&b, "   • %s\n", n.msgs.NoIssues)
		}
		for _, issue := range rec.Issues {
			fmt.Fprintf(&b, "   • %s\n", issue)
		}
		b.WriteString("\n")
	}

	if total := v.pages(); total > 1 {
		b.WriteString(fmt.Sprintf(n.msgs.PageFooter, v.page+1, total))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf(n.msgs.ChecksLeft, v.remaining))
	return b.String()
}

// keyboard returns the inline keyboard for v; ok is false when it has no
// buttons. The markup is never nil so Telegram accepts it in edits.
func (n *Notifier) keyboard(v *resultView) (tgbotapi.InlineKeyboardMarkup, bool) {
	rows := [][]tgbotapi.InlineKeyboardButton{}

	var nav []tgbotapi.InlineKeyboardButton
	if v.page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(n.msgs.PrevButton, pagePrefix+strconv.Itoa(v.page-1)))
	}
	if v.page < v.pages()-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(n.msgs.NextButton, pagePrefix+strconv.Itoa(v.page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	if v.active {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(n.msgs.FinishButton, finishCmd),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}, len(rows) > 0
}
