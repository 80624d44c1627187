package alerting

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/config"
	"github.com/praetor-sec/praetor/internal/types"
)

// TelegramNotifier delivers alerts as Markdown messages to a set of chats.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	cfg    config.TelegramConfig
	logger zerolog.Logger
}

// NewTelegramNotifier creates and verifies a Telegram bot connection.
func NewTelegramNotifier(cfg config.TelegramConfig, logger zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	logger.Info().Str("username", bot.Self.UserName).Msg("Telegram bot initialized")

	return &TelegramNotifier{
		bot:    bot,
		cfg:    cfg,
		logger: logger.With().Str("component", "telegram").Logger(),
	}, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

// Dispatch sends the formatted alert to every configured chat.
func (t *TelegramNotifier) Dispatch(ctx context.Context, alert *types.SecurityAlert) error {
	text := t.format(alert)

	var lastErr error
	for _, chatID := range t.cfg.ChatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "Markdown"
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send telegram alert")
			lastErr = err
		}
	}
	return lastErr
}

func (t *TelegramNotifier) format(alert *types.SecurityAlert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s Security Alert*\n\n", severityIcon(alert.Severity), strings.ToUpper(alert.Severity.String()))
	fmt.Fprintf(&sb, "*Type:* `%s`\n", alert.Type)
	fmt.Fprintf(&sb, "*Title:* %s\n", escapeMarkdown(alert.Title))
	if alert.Actor.IP != "" {
		fmt.Fprintf(&sb, "*IP:* `%s`\n", alert.Actor.IP)
	}
	if alert.Actor.Username != "" {
		fmt.Fprintf(&sb, "*User:* `%s`\n", alert.Actor.Username)
	} else if alert.Actor.UserID != "" {
		fmt.Fprintf(&sb, "*User:* `%s`\n", alert.Actor.UserID)
	}
	if alert.Metrics.Threshold > 0 {
		fmt.Fprintf(&sb, "*Count:* %d (threshold %d)\n", alert.Metrics.Count, alert.Metrics.Threshold)
	}
	fmt.Fprintf(&sb, "*ID:* `%s`", alert.ID)
	return sb.String()
}

func severityIcon(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "🔴"
	case types.SeverityHigh:
		return "🟠"
	case types.SeverityMedium:
		return "🟡"
	case types.SeverityLow:
		return "🟢"
	default:
		return "🔵"
	}
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"`", "\\`",
		"[", "\\[",
	)
	return replacer.Replace(s)
}
