package telegram

import (
	"context"

	"finanalyst/internal/events"
	"finanalyst/pkg/logger"
)

// Notifier posts completion events from the analysis queue to chats.
type Notifier struct {
	sender Sender
	log    *logger.Logger
}

// NewNotifier creates a Notifier that sends through sender.
func NewNotifier(sender Sender, log *logger.Logger) *Notifier {
	return &Notifier{sender: sender, log: log.With("component", "telegram_notifier")}
}

// NotifyAnalysis sends the outcome of a queued run to chatID.
func (n *Notifier) NotifyAnalysis(ctx context.Context, chatID int64, done events.AnalysisCompleted) error {
	text, err := FormatCompletion(done)
	if err != nil {
		return err
	}
	if err := n.sender.SendMessage(ctx, chatID, text); err != nil {
		return err
	}
	n.log.Infow("Delivered analysis result", "chat_id", chatID, "run_id", done.RunID, "status", done.Status)
	return nil
}
