package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"report-checker/internal/config"
	"report-checker/internal/handler"
	"report-checker/internal/session"
)

const (
	startCmd = "start"
	helpCmd  = "help"
)

// Dispatcher consumes user actions. It is implemented by handler.Handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev handler.Event) string
}

type Options struct {
	Token            string
	Messages         config.Messages
	MaxDownloadBytes int64
	Logger           logrus.FieldLogger
}

type Bot struct {
	api      *tgbotapi.BotAPI
	s        sender
	token    string
	msgs     config.Messages
	notifier *Notifier
	download downloadFunc
	maxBytes int64
	log      logrus.FieldLogger

	wg sync.WaitGroup
}

func New(opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := newBot(botAPISender{api: api}, opts.Token, opts.Messages, log)
	b.api = api
	b.maxBytes = opts.MaxDownloadBytes
	b.log.WithField("username", api.Self.UserName).Info("authorized on telegram")
	return b, nil
}

func newBot(s sender, token string, msgs config.Messages, log logrus.FieldLogger) *Bot {
	return &Bot{
		s:        s,
		token:    token,
		msgs:     msgs,
		notifier: newNotifier(s, msgs),
		download: httpDownload,
		log:      log.WithField("component", "telegram"),
	}
}

// Notifier returns the outbound side of the bot.
func (b *Bot) Notifier() *Notifier { return b.notifier }

// Run polls updates until ctx is cancelled. Each update is handled in its own
// goroutine; Run waits for them before returning.
func (b *Bot) Run(ctx context.Context, d Dispatcher) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, d, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, d Dispatcher, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleIncomingMessage(ctx, d, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, d, update.CallbackQuery)
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, d Dispatcher, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	log := b.log.WithFields(logrus.Fields{"user_id": msg.From.ID, "chat_id": msg.Chat.ID})

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "menu":
			b.sendMenu(msg.Chat.ID)
		case "help":
			b.sendMessage(msg.Chat.ID, b.msgs.Help)
		case "stop":
			if ack := d.Dispatch(ctx, handler.Event{Kind: handler.EventClose, UserID: msg.From.ID}); ack != "" {
				b.sendMessage(msg.Chat.ID, ack)
			}
		default:
			log.WithField("command", msg.Command()).Debug("unknown command")
		}
		return
	}

	// отчеты принимаются только в личке
	if !msg.Chat.IsPrivate() {
		return
	}

	sub := handler.Submission{
		UserID: msg.From.ID,
		Target: session.ReplyTarget(msg.Chat.ID),
		Text:   msg.Text,
	}
	if doc := msg.Document; doc != nil {
		log.WithField("file", doc.FileName).Debug("document received")
		sub.Attachment = &handler.Attachment{
			FileName: doc.FileName,
			Size:     int64(doc.FileSize),
			Fetch:    b.documentFetcher(doc.FileID),
		}
	} else if att := b.mediaAttachment(msg); att != nil {
		log.WithField("file", att.FileName).Debug("media received")
		sub.Attachment = att
	}
	d.Dispatch(ctx, handler.Event{
		Kind:       handler.EventSubmit,
		UserID:     msg.From.ID,
		Target:     sub.Target,
		Submission: &sub,
	})
}

// mediaAttachment maps non-document media to an attachment so it is rejected
// as a wrong format instead of an empty report.
func (b *Bot) mediaAttachment(msg *tgbotapi.Message) *handler.Attachment {
	var name, fileID string
	switch {
	case len(msg.Photo) > 0:
		name, fileID = "photo.jpg", msg.Photo[len(msg.Photo)-1].FileID
	case msg.Voice != nil:
		name, fileID = "voice.ogg", msg.Voice.FileID
	case msg.Audio != nil:
		name, fileID = "audio.mp3", msg.Audio.FileID
	case msg.Video != nil:
		name, fileID = "video.mp4", msg.Video.FileID
	case msg.VideoNote != nil:
		name, fileID = "video_note.mp4", msg.VideoNote.FileID
	case msg.Animation != nil:
		name, fileID = "animation.mp4", msg.Animation.FileID
	case msg.Sticker != nil:
		name, fileID = "sticker.webp", msg.Sticker.FileID
	default:
		return nil
	}
	return &handler.Attachment{FileName: name, Fetch: b.documentFetcher(fileID)}
}

func (b *Bot) documentFetcher(fileID string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		file, err := b.s.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			return nil, err
		}
		return b.download(ctx, file.Link(b.token), b.maxBytes)
	}
}

func (b *Bot) handleCallback(ctx context.Context, d Dispatcher, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	var ack string
	switch {
	case cb.Data == startCmd:
		// сессия всегда живет в личном чате, даже если меню в группе
		ack = d.Dispatch(ctx, handler.Event{
			Kind:   handler.EventStart,
			UserID: cb.From.ID,
			Target: session.ReplyTarget(cb.From.ID),
		})
	case cb.Data == helpCmd:
		ack = b.msgs.Help
	case cb.Data == finishCmd:
		ack = d.Dispatch(ctx, handler.Event{Kind: handler.EventClose, UserID: cb.From.ID})
	case strings.HasPrefix(cb.Data, pagePrefix):
		ack = b.turnPage(cb)
	default:
		b.log.WithField("data", cb.Data).Debug("unknown callback")
	}
	b.answerCallback(cb.ID, ack)
}

func (b *Bot) turnPage(cb *tgbotapi.CallbackQuery) string {
	if cb.Message == nil || cb.Message.Chat == nil {
		return ""
	}
	page, err := strconv.Atoi(strings.TrimPrefix(cb.Data, pagePrefix))
	if err != nil {
		return ""
	}
	if err := b.notifier.ShowPage(cb.Message.Chat.ID, cb.Message.MessageID, page); err != nil {
		if errors.Is(err, errViewExpired) {
			return b.msgs.ResultExpired
		}
		b.log.WithError(err).Warn("failed to turn result page")
	}
	return ""
}

func (b *Bot) answerCallback(id, text string) {
	cfg := tgbotapi.NewCallback(id, "")
	if text != "" {
		cfg = tgbotapi.NewCallbackWithAlert(id, text)
	}
	if _, err := b.s.Request(cfg); err != nil {
		b.log.WithError(err).Warn("failed to answer callback")
	}
}

func (b *Bot) menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.msgs.StartButton, startCmd),
			tgbotapi.NewInlineKeyboardButtonData(b.msgs.HelpButton, helpCmd),
		),
	)
}

func (b *Bot) sendMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, b.msgs.MenuTitle+"\n\n"+b.msgs.MenuDescription)
	msg.ReplyMarkup = b.menuKeyboard()
	if _, err := b.s.Send(msg); err != nil {
		b.log.WithError(err).WithField("chat_id", chatID).Warn("failed to send menu")
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.WithError(err).WithField("chat_id", chatID).Warn("failed to send message")
	}
}
