// Package notify implements the notification sinks fed by the delivery
// controller: Telegram and generic webhooks.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dkrylov/coinsentry/internal/models"
)

// TelegramSink sends batch summaries to a Telegram chat.
type TelegramSink struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegramSink creates a Telegram sink.
func NewTelegramSink(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &TelegramSink{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Name implements the delivery sink interface.
func (s *TelegramSink) Name() string { return "telegram" }

// Send delivers one batch summary as a single MarkdownV2 message.
func (s *TelegramSink) Send(summary models.Summary) error {
	return s.sendMarkdownV2(s.formatSummary(summary))
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when
// ctx is cancelled.
func (s *TelegramSink) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					s.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (s *TelegramSink) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		s.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (s *TelegramSink) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		if _, err := s.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(s.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", s.maxRetries, lastErr)
}

// SendError sends a feed/engine error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (s *TelegramSink) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Screener error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return s.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (s *TelegramSink) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Screener recovered* after %d consecutive failure\\(s\\)", failureCount)
	return s.sendMarkdownV2(text)
}

var severityEmoji = map[string]string{
	models.SeverityCritical: "🔴",
	models.SeverityHigh:     "🟠",
	models.SeverityMedium:   "🟡",
	models.SeverityLow:      "⚪",
}

// formatSummary formats one batch summary into a Telegram MarkdownV2
// message.
func (s *TelegramSink) formatSummary(summary models.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *%d alerts* \\(%s\\)\n\n",
		summary.Total,
		escapeMarkdownV2(summary.WindowEnd.Format("2006-01-02 15:04:05")))

	for _, sev := range []string{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
		if n := summary.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&b, "%s %s: %d\n", severityEmoji[sev], escapeMarkdownV2(sev), n)
		}
	}
	b.WriteString("\n")

	for _, sym := range summary.Symbols {
		fmt.Fprintf(&b, "*%s*: %d now, %d/1h, %d/24h",
			escapeMarkdownV2(sym.Symbol), sym.Count, sym.CountLast1h, sym.CountLast24)
		if len(sym.RecentTypes) > 0 {
			fmt.Fprintf(&b, " \\(%s\\)", escapeMarkdownV2(strings.Join(sym.RecentTypes, ", ")))
		}
		b.WriteString("\n")
	}

	if len(summary.ByTimeframe) > 0 {
		b.WriteString("\nTimeframes: ")
		first := true
		for _, tf := range []string{"1m", "3m", "5m", "15m"} {
			if n := summary.ByTimeframe[tf]; n > 0 {
				if !first {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%s×%d", escapeMarkdownV2(tf), n)
				first = false
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
