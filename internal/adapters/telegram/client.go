package telegram

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

// Bot long-polls for updates and sends replies through one shared
// outgoing rate limit.
type Bot struct {
	api      *tgbotapi.BotAPI
	http     *http.Client
	log      *logger.Logger
	poll     int
	outgoing *rate.Limiter

	mu       sync.Mutex
	running  bool
	handler  func(context.Context, tgbotapi.Update)
	inflight sync.WaitGroup
}

type Config struct {
	Token string
	Debug bool
	// Timeout is the long-polling timeout in seconds.
	Timeout     int
	HTTPTimeout time.Duration
	// Telegram allows about 30 messages per second per bot.
	RateLimitBurst int
	RateLimitRate  int
}

func NewBot(cfg Config, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "telegram bot token is required")
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 60
	}
	if cfg.HTTPTimeout == 0 {
		// Must outlive the long-polling timeout.
		cfg.HTTPTimeout = time.Duration(cfg.Timeout+30) * time.Second
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 30
	}
	if cfg.RateLimitRate == 0 {
		cfg.RateLimitRate = 20
	}

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	api.Debug = cfg.Debug

	log = log.With("component", "telegram_bot")
	log.Infow("Authorized on Telegram", "account", api.Self.UserName)

	return &Bot{
		api:      api,
		http:     httpClient,
		log:      log,
		poll:     cfg.Timeout,
		outgoing: rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst),
	}, nil
}

// SetHandler registers the update handler. Each update runs on its own goroutine.
func (b *Bot) SetHandler(handler func(context.Context, tgbotapi.Update)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// Start long-polls for updates until ctx is cancelled, then waits for
// handlers still running.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyExists, "bot is already running")
	}
	b.running = true
	handler := b.handler
	b.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.poll
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("Telegram bot started, waiting for updates")

	for {
		select {
		case <-ctx.Done():
			b.Stop()
			b.inflight.Wait()
			return nil

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if handler == nil {
				b.log.Debugw("Dropping update, no handler registered", "update_id", update.UpdateID)
				continue
			}
			b.inflight.Add(1)
			go func(update tgbotapi.Update) {
				defer b.inflight.Done()
				defer func() {
					if p := recover(); p != nil {
						b.log.Errorw("Update handler panicked", "update_id", update.UpdateID, "panic", p)
					}
				}()
				// Handlers outlive shutdown long enough to answer the user.
				handler(context.WithoutCancel(ctx), update)
			}(update)
		}
	}
}

// Stop ends polling. Handlers already running are not interrupted.
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.api.StopReceivingUpdates()
	b.running = false
	b.log.Info("Telegram bot stopped")
}

// SendMessage sends MarkdownV2 text. If Telegram rejects the markup, the
// message is resent as plain text so the user still gets an answer.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := b.outgoing.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for send slot")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	start := time.Now()
	_, err := b.api.Send(msg)
	if err != nil && strings.Contains(err.Error(), "can't parse entities") {
		b.log.Warnw("Markdown rejected, resending as plain text", "chat_id", chatID, "error", err)
		msg.ParseMode = ""
		msg.Text = stripEscapes(text)
		_, err = b.api.Send(msg)
	}
	if err != nil {
		b.log.Errorw("Failed to send message", "chat_id", chatID, "error", err)
		return errors.Wrap(err, "failed to send message")
	}

	b.log.Debugw("Message sent", "chat_id", chatID, "length", len(text), "duration", time.Since(start))
	return nil
}

// SendTyping sends the "typing..." chat action.
func (b *Bot) SendTyping(chatID int64) error {
	_, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// DownloadFile saves a Telegram file to dst.
func (b *Bot) DownloadFile(ctx context.Context, fileID, dst string) error {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return errors.Wrap(err, "resolve file url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "download file")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrExternal, "download file: status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.Wrap(err, "create file")
	}
	_, err = io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return errors.Wrap(err, "write file")
	}
	return nil
}

// stripEscapes undoes MarkdownV2 escaping for the plain-text fallback.
func stripEscapes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		sb.WriteRune(r)
	}
	return sb.String()
}
