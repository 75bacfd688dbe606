package telegram

import (
	"context"
	"log/slog"
)

// MockProvider logs messages instead of delivering them. Used in local
// development when no bot token is configured.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Deliver logs the message instead of sending it.
func (m *MockProvider) Deliver(_ context.Context, chatID int64, text string) error {
	m.logger.Info("MOCK TELEGRAM MESSAGE",
		"chat_id", chatID,
		"text_length", len(text),
		"text", text)
	return nil
}
