// Package notify forwards notable bot events to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"github.com/vadiminshakov/dipbuyer/pkg/retrier"
	"go.uber.org/zap"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram sends success and error events as HTML messages.
type Telegram struct {
	sender  messageSender
	chatID  int64
	retrier *retrier.Retrier
	l       *zap.Logger
}

// NewTelegram creates a notifier for chatID using the bot token.
func NewTelegram(token string, chatID int64, l *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}

	return newTelegram(b, chatID, l), nil
}

func newTelegram(sender messageSender, chatID int64, l *zap.Logger) *Telegram {
	if l == nil {
		l = zap.NewNop()
	}

	return &Telegram{
		sender:  sender,
		chatID:  chatID,
		retrier: retrier.New(retrier.Notifications),
		l:       l,
	}
}

// Handle sends the event if it is a success or an error. Everything else is ignored.
func (t *Telegram) Handle(ctx context.Context, e domain.Event) {
	text, ok := format(e)
	if !ok {
		return
	}

	err := t.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    t.chatID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		})
		return err
	})
	if err != nil {
		t.l.Error("failed to send telegram message", zap.Error(err))
		return
	}

	t.l.Debug("telegram message sent", zap.String("event", e.ID))
}

func format(e domain.Event) (string, bool) {
	var icon string
	switch e.Level {
	case domain.LevelSuccess:
		icon = "✅"
	case domain.LevelError:
		icon = "❌"
	default:
		return "", false
	}

	if e.AssetID == "" {
		return fmt.Sprintf("%s %s", icon, html.EscapeString(e.Message)), true
	}

	return fmt.Sprintf("%s <b>%s</b>\n%s", icon, html.EscapeString(e.AssetID), html.EscapeString(e.Message)), true
}
