package telegram

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finanalyst/internal/agents"
	"finanalyst/internal/consumers"
	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/metrics"
	analysissvc "finanalyst/internal/services/analysis"
	"finanalyst/internal/workers"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
	"finanalyst/pkg/templates"
)

// Telegram bots may not download files above 20 MB.
const maxDownloadMB = 20

const typingInterval = 5 * time.Second

// Sender is the part of Bot the handler talks through.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendTyping(chatID int64) error
	DownloadFile(ctx context.Context, fileID, dst string) error
}

// Analyzer runs or queues analyses.
type Analyzer interface {
	Run(ctx context.Context, req analysissvc.Request) (*analysissvc.Result, error)
	Enqueue(ctx context.Context, req analysissvc.Request) (uuid.UUID, error)
	Queued() bool
}

// Budget reports a user's remaining daily spend.
type Budget interface {
	RemainingDailyBudget(ctx context.Context, userID string) (decimal.Decimal, error)
}

// HandlerConfig wires a Handler. Budget is optional.
type HandlerConfig struct {
	Sender       Sender
	Analyzer     Analyzer
	Budget       Budget
	Definitions  *agents.Definitions
	UploadDir    string
	MaxUploadMB  int
	AllowedUsers []int64
	Log          *logger.Logger
}

// Handler turns chat messages into analyses.
type Handler struct {
	sender    Sender
	analyzer  Analyzer
	budget    Budget
	defs      *agents.Definitions
	uploadDir string
	maxBytes  int64
	allowed   map[int64]struct{}
	log       *logger.Logger
}

// NewHandler validates cfg and builds a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Sender == nil || cfg.Analyzer == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "sender and analyzer are required")
	}
	if cfg.Definitions == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "crew definitions are required")
	}
	if cfg.Log == nil {
		cfg.Log = logger.Get()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if cfg.MaxUploadMB <= 0 || cfg.MaxUploadMB > maxDownloadMB {
		cfg.MaxUploadMB = maxDownloadMB
	}

	allowed := make(map[int64]struct{}, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = struct{}{}
	}

	return &Handler{
		sender:    cfg.Sender,
		analyzer:  cfg.Analyzer,
		budget:    cfg.Budget,
		defs:      cfg.Definitions,
		uploadDir: cfg.UploadDir,
		maxBytes:  int64(cfg.MaxUploadMB) << 20,
		allowed:   allowed,
		log:       cfg.Log.With("component", "telegram_handler"),
	}, nil
}

// HandleUpdate processes one update. Errors are reported to the chat.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	kind := messageKind(msg)
	log := h.log.With("chat_id", msg.Chat.ID, "kind", kind)

	if !h.authorized(msg) {
		metrics.TelegramUpdates.WithLabelValues(kind, "denied").Inc()
		log.Warnw("Rejected message from unauthorized user")
		h.reply(ctx, msg.Chat.ID, "You are not allowed to use this bot\\.")
		return
	}

	var err error
	switch kind {
	case "command":
		err = h.handleCommand(ctx, msg)
	case "document":
		err = h.handleDocument(ctx, msg, log)
	default:
		h.reply(ctx, msg.Chat.ID, "Send me a PDF document\\. Put your question in the caption\\.")
	}

	metrics.TelegramUpdates.WithLabelValues(kind, statusLabel(err)).Inc()
	if err != nil {
		log.Errorw("Failed to handle message", "error", err)
		h.reply(ctx, msg.Chat.ID, "*Something went wrong*\n"+esc(userMessage(err)))
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "agents":
		text, err := FormatAgents(h.defs)
		if err != nil {
			return err
		}
		h.reply(ctx, chatID, text)

	case "status":
		h.reply(ctx, chatID, h.status(ctx, chatID))

	default:
		text, err := templates.Get().Render("telegram/welcome", nil)
		if err != nil {
			return err
		}
		h.reply(ctx, chatID, text)
	}
	return nil
}

func (h *Handler) status(ctx context.Context, chatID int64) string {
	mode := "Analyses run right away\\."
	if h.analyzer.Queued() {
		mode = "Analyses are queued; I message you when each one finishes\\."
	}

	if h.budget == nil {
		return mode
	}
	remaining, err := h.budget.RemainingDailyBudget(ctx, consumers.TelegramUserID(chatID))
	switch {
	case errors.Is(err, errors.ErrUnavailable):
		return mode + "\nNo daily budget is configured\\."
	case err != nil:
		h.log.Warnw("Failed to read remaining budget", "chat_id", chatID, "error", err)
		return mode + "\nYour remaining budget is unknown right now\\."
	default:
		return mode + "\nRemaining budget today: " + esc("$"+remaining.StringFixed(4))
	}
}

func (h *Handler) handleDocument(ctx context.Context, msg *tgbotapi.Message, log *logger.Logger) error {
	doc := msg.Document
	chatID := msg.Chat.ID

	if !isPDF(doc) {
		return errors.Wrap(errors.ErrUnsupportedFormat, "only PDF documents can be analyzed")
	}
	if int64(doc.FileSize) > h.maxBytes {
		return errors.Wrapf(errors.ErrInvalidInput, "document is larger than %d MB", h.maxBytes>>20)
	}

	path := filepath.Join(h.uploadDir, workers.UploadPrefix+uuid.NewString()+".pdf")
	if err := h.sender.DownloadFile(ctx, doc.FileID, path); err != nil {
		return err
	}
	if err := checkPDF(path); err != nil {
		_ = os.Remove(path)
		return err
	}

	req := analysissvc.Request{
		RunID:      uuid.New(),
		Query:      strings.TrimSpace(msg.Caption),
		FilePath:   path,
		UserID:     consumers.TelegramUserID(chatID),
		Source:     analysis.SourceTelegram,
		RemoveFile: true,
	}
	log = log.With("run_id", req.RunID)

	if h.analyzer.Queued() {
		id, err := h.analyzer.Enqueue(ctx, req)
		if err != nil {
			_ = os.Remove(path)
			return err
		}
		log.Infow("Queued analysis from Telegram")
		h.reply(ctx, chatID, "Queued analysis `"+id.String()+"`\\. I will message you when it is done\\.")
		return nil
	}

	h.reply(ctx, chatID, "Analyzing your document\\. This usually takes a few minutes\\.")
	stop := h.keepTyping(ctx, chatID)
	res, err := h.analyzer.Run(ctx, req)
	stop()
	if err != nil {
		return err
	}

	text, err := FormatResult(res.Output)
	if err != nil {
		return err
	}
	log.Infow("Sent analysis result", "cached", res.Cached)
	h.reply(ctx, chatID, text)
	return nil
}

// keepTyping shows the typing indicator until stop is called.
func (h *Handler) keepTyping(ctx context.Context, chatID int64) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			_ = h.sender.SendTyping(chatID)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sender.SendMessage(ctx, chatID, text); err != nil {
		h.log.Errorw("Failed to reply", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) authorized(msg *tgbotapi.Message) bool {
	if len(h.allowed) == 0 {
		return true
	}
	if msg.From == nil {
		return false
	}
	_, ok := h.allowed[msg.From.ID]
	return ok
}

func messageKind(msg *tgbotapi.Message) string {
	switch {
	case msg.IsCommand():
		return "command"
	case msg.Document != nil:
		return "document"
	case msg.Text != "":
		return "text"
	default:
		return "other"
	}
}

func isPDF(doc *tgbotapi.Document) bool {
	return doc.MimeType == "application/pdf" || strings.EqualFold(filepath.Ext(doc.FileName), ".pdf")
}

func checkPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open download")
	}
	defer f.Close()

	magic := make([]byte, 5)
	if _, err := io.ReadFull(f, magic); err != nil || !bytes.Equal(magic, []byte("%PDF-")) {
		return errors.Wrap(errors.ErrUnsupportedFormat, "file is not a PDF")
	}
	return nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// userMessage keeps internal detail out of chat replies.
func userMessage(err error) string {
	switch {
	case errors.Is(err, errors.ErrUnsupportedFormat),
		errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrDocumentUnreadable),
		errors.Is(err, errors.ErrDocumentEmpty):
		return err.Error()
	case errors.Is(err, errors.ErrQuotaExceeded):
		return "Your daily analysis budget is used up. Try again tomorrow."
	case errors.Is(err, errors.ErrExecutionLimitExceeded):
		return "The analysis reached its cost limit and was stopped."
	case errors.Is(err, errors.ErrUnavailable):
		return "The analysis queue is unavailable. Try again later."
	case errors.Is(err, errors.ErrTimeout):
		return "The analysis took too long and was stopped."
	default:
		return "The analysis failed. Try again later."
	}
}
