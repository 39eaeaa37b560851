package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Handler delivers an alert to one destination
type Handler interface {
	Type() ActionType
	Handle(ctx context.Context, alert Alert) error
}

// Broadcaster is the stream hub surface used for alert fan-out
type Broadcaster interface {
	BroadcastMessage(msgType string, data interface{}) error
}

// BroadcastHandler pushes alerts to stream subscribers
type BroadcastHandler struct {
	broadcaster Broadcaster
}

func NewBroadcastHandler(b Broadcaster) *BroadcastHandler {
	return &BroadcastHandler{broadcaster: b}
}

func (h *BroadcastHandler) Type() ActionType { return ActionWebSocket }

func (h *BroadcastHandler) Handle(_ context.Context, alert Alert) error {
	return h.broadcaster.BroadcastMessage("alert", alert)
}

// LogHandler writes alerts to the structured log
type LogHandler struct{}

func NewLogHandler() *LogHandler { return &LogHandler{} }

func (h *LogHandler) Type() ActionType { return ActionLog }

func (h *LogHandler) Handle(_ context.Context, alert Alert) error {
	log.Info().
		Str("alert_id", alert.ID).
		Str("rule_id", alert.RuleID).
		Str("type", string(alert.Type)).
		Str("symbol", alert.Symbol).
		Str("severity", string(alert.Severity)).
		Str("message", alert.Message).
		Msg("Alert triggered")
	return nil
}

// Sender is the part of the bot API the Telegram handler needs
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramHandler sends alerts to a chat with linear-backoff retry
type TelegramHandler struct {
	sender         Sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramHandler connects to the Bot API with token
func NewTelegramHandler(token string, chatID int64) (*TelegramHandler, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegramHandler(bot, chatID, 3, time.Second), nil
}

func newTelegramHandler(s Sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *TelegramHandler {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &TelegramHandler{sender: s, chatID: chatID, maxRetries: maxRetries, retryDelayBase: retryDelayBase}
}

func (h *TelegramHandler) Type() ActionType { return ActionTelegram }

func (h *TelegramHandler) Handle(ctx context.Context, alert Alert) error {
	msg := tgbotapi.NewMessage(h.chatID, formatTelegram(alert))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < h.maxRetries; i++ {
		if _, err := h.sender.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == h.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", h.maxRetries, lastErr)
}

func severityIcon(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "📈"
	}
}

func formatTelegram(a Alert) string {
	return fmt.Sprintf("%s *%s* %s\n%s",
		severityIcon(a.Severity),
		escapeMarkdownV2(a.Symbol),
		escapeMarkdownV2(string(a.Type)),
		escapeMarkdownV2(a.Message))
}

// escapeMarkdownV2 escapes Telegram MarkdownV2 control characters
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
