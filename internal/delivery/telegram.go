package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"clipfit/internal/logging"
	"clipfit/internal/services"
)

// HTTPDoer describes the HTTP client used by the Telegram channel.
type HTTPDoer = tgbotapi.HTTPClient

const maxCaptionRunes = 1024

// DefaultTelegramBaseURL is the public Bot API endpoint.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// Telegram delivers to Telegram chats through the Bot API. Requester IDs take
// the form "telegram:<chat id>". The first progress report for a job sends a
// status message that later reports edit in place.
type Telegram struct {
	bot    tgbotapi.BotAPI
	client HTTPDoer
	logger *slog.Logger

	mu     sync.Mutex
	status map[string]int
}

// NewTelegram constructs a Bot API channel. baseURL defaults to the public
// API endpoint.
func NewTelegram(baseURL, token string, client HTTPDoer, logger *slog.Logger) *Telegram {
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{
		bot:    NewBotAPI(baseURL, token, client),
		client: client,
		logger: logging.NewComponentLogger(logger, "delivery-telegram"),
		status: make(map[string]int),
	}
}

// NewBotAPI builds a Bot API client without the getMe round trip that
// tgbotapi.NewBotAPI performs on construction.
func NewBotAPI(baseURL, token string, client HTTPDoer) tgbotapi.BotAPI {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	bot := tgbotapi.BotAPI{Token: strings.TrimSpace(token), Client: client, Buffer: 100}
	bot.SetAPIEndpoint(baseURL + "/bot%s/%s")
	return bot
}

// BindContext returns a copy of bot whose requests carry ctx.
func BindContext(ctx context.Context, bot tgbotapi.BotAPI, client HTTPDoer) *tgbotapi.BotAPI {
	bot.Client = contextDoer{ctx: ctx, client: client}
	return &bot
}

// contextDoer attaches a context to requests built by tgbotapi, which
// creates them without one.
type contextDoer struct {
	ctx    context.Context
	client HTTPDoer
}

func (d contextDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(d.ctx))
}

func (t *Telegram) api(ctx context.Context) *tgbotapi.BotAPI {
	return BindContext(ctx, t.bot, t.client)
}

func (t *Telegram) ReportProgress(ctx context.Context, target Target, text string) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	messageID, ok := t.status[target.JobID]
	t.mu.Unlock()

	if ok {
		_, err := t.api(ctx).Request(tgbotapi.NewEditMessageText(chatID, messageID, text))
		if err != nil && strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return t.wrap("editMessageText", err)
	}

	msg, err := t.api(ctx).Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return t.wrap("sendMessage", err)
	}
	t.mu.Lock()
	t.status[target.JobID] = msg.MessageID
	t.mu.Unlock()
	return nil
}

func (t *Telegram) DeliverFile(ctx context.Context, target Target, path, caption string) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrDelivery, "delivery", "telegram", "open file", err)
	}
	defer file.Close()

	upload := tgbotapi.FileReader{Name: filepath.Base(path), Reader: file}
	caption = truncateRunes(caption, maxCaptionRunes)

	method := "sendVideo"
	var msg tgbotapi.Chattable
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		audio := tgbotapi.NewAudio(chatID, upload)
		audio.Caption = caption
		method, msg = "sendAudio", audio
	} else {
		video := tgbotapi.NewVideo(chatID, upload)
		video.Caption = caption
		video.SupportsStreaming = true
		msg = video
	}
	if _, err := t.api(ctx).Send(msg); err != nil {
		return t.wrap(method, err)
	}
	t.clearStatus(ctx, chatID, target)
	return nil
}

func (t *Telegram) ReportError(ctx context.Context, target Target, message string) error {
	t.mu.Lock()
	delete(t.status, target.JobID)
	t.mu.Unlock()
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	_, err = t.api(ctx).Send(tgbotapi.NewMessage(chatID, "❌ "+message))
	return t.wrap("sendMessage", err)
}

// clearStatus deletes the job's status message. Failures only get logged.
func (t *Telegram) clearStatus(ctx context.Context, chatID int64, target Target) {
	t.mu.Lock()
	messageID, ok := t.status[target.JobID]
	delete(t.status, target.JobID)
	t.mu.Unlock()
	if !ok {
		return
	}
	if _, err := t.api(ctx).Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, t.logger), "failed to delete status message", "telegram_cleanup_failed",
			logging.Error(t.wrap("deleteMessage", err)),
			logging.String(logging.FieldImpact, "stale status message left in chat"),
		)
	}
}

func (t *Telegram) wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	return services.Wrap(services.ErrDelivery, "delivery", method, "telegram request failed", redactToken(err, t.bot.Token))
}

func parseChatID(target Target) (int64, error) {
	id, err := strconv.ParseInt(target.Address(), 10, 64)
	if err != nil {
		return 0, services.Wrap(services.ErrDelivery, "delivery", "telegram",
			fmt.Sprintf("invalid chat id %q", target.Address()), err)
	}
	return id, nil
}

// redactToken keeps the bot token out of transport errors, which embed the
// request URL.
func redactToken(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
