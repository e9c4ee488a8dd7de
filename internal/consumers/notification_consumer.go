package consumers

import (
	"context"
	"strconv"
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	"finanalyst/internal/events"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// TelegramUserPrefix marks requester IDs that are Telegram chats.
const TelegramUserPrefix = "tg:"

// Notifier delivers a finished analysis to a Telegram chat.
type Notifier interface {
	NotifyAnalysis(ctx context.Context, chatID int64, done events.AnalysisCompleted) error
}

// NotificationConsumer reports completed analyses back to the chats that
// queued them. Runs requested from other surfaces are ignored.
type NotificationConsumer struct {
	source   MessageSource
	notifier Notifier
	log      *logger.Logger
}

// NewNotificationConsumer creates a completion consumer.
func NewNotificationConsumer(source MessageSource, notifier Notifier, log *logger.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		source:   source,
		notifier: notifier,
		log:      log.With("component", "notification_consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	c.log.Info("Starting notification consumer...")
	defer func() {
		if err := c.source.Close(); err != nil {
			c.log.Errorw("Failed to close reader", "error", err)
		}
	}()

	if err := c.source.Consume(ctx, c.Handle); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Handle sends one completion to its chat.
func (c *NotificationConsumer) Handle(ctx context.Context, msg kafkago.Message) error {
	done, err := events.DecodeAnalysisCompleted(msg)
	if err != nil {
		return errors.Wrap(err, "decode completion")
	}

	chatID, ok := TelegramChatID(done.UserID)
	if !ok {
		c.log.Debugw("Ignoring completion for non-telegram requester", "run_id", done.RunID, "user_id", done.UserID)
		return nil
	}

	if err := c.notifier.NotifyAnalysis(ctx, chatID, done); err != nil {
		return errors.Wrapf(err, "notify chat %d", chatID)
	}
	c.log.Debugw("Completion delivered", "run_id", done.RunID, "chat_id", chatID, "status", done.Status)
	return nil
}

// TelegramUserID formats a chat ID as a requester ID.
func TelegramUserID(chatID int64) string {
	return TelegramUserPrefix + strconv.FormatInt(chatID, 10)
}

// TelegramChatID parses a requester ID produced by TelegramUserID.
func TelegramChatID(userID string) (int64, bool) {
	raw, ok := strings.CutPrefix(userID, TelegramUserPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
