// Package telegram formats and delivers text notifications to subscribers
// over the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Provider delivers a single text message to a chat. Implementations must
// treat delivery as at-least-once; callers may retry.
type Provider interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// BotProvider delivers messages through the Telegram Bot API.
type BotProvider struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewBotProvider creates a provider backed by an authenticated bot.
func NewBotProvider(api *tgbotapi.BotAPI, logger *slog.Logger) *BotProvider {
	return &BotProvider{api: api, logger: logger}
}

// Deliver sends one message, retrying transient API failures. Link previews
// are disabled so venue URLs don't bloat the chat.
func (p *BotProvider) Deliver(ctx context.Context, chatID int64, text string) error {
	err := retry.Do(
		func() error {
			msg := tgbotapi.NewMessage(chatID, text)
			msg.DisableWebPagePreview = true

			startTime := time.Now()
			_, err := p.api.Send(msg)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Telegram send failed, will retry",
					"chat_id", chatID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying Telegram delivery after error", "attempt", n, "chat_id", chatID, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}
	return nil
}
