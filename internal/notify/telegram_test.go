package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"github.com/vadiminshakov/dipbuyer/pkg/retrier"
)

type senderMock struct {
	mock.Mock
}

func (m *senderMock) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func TestTelegram_SendsOnlySuccessAndErrors(t *testing.T) {
	sender := &senderMock{}
	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *bot.SendMessageParams) bool {
		return p.ChatID == int64(42) && p.ParseMode == models.ParseModeHTML
	})).Return(&models.Message{}, nil)

	n := newTelegram(sender, 42, nil)
	ctx := context.Background()

	n.Handle(ctx, domain.NewEvent(domain.LevelInfo, domain.EventPrice, "WBTC", "price 100000"))
	n.Handle(ctx, domain.NewEvent(domain.LevelWarn, domain.EventBudget, "", "low balance"))
	n.Handle(ctx, domain.NewEvent(domain.LevelSuccess, domain.EventPurchase, "WBTC", "bought 0.01 <WBTC>"))
	n.Handle(ctx, domain.NewEvent(domain.LevelError, domain.EventFailure, "WETH", "swap failed"))

	sender.AssertNumberOfCalls(t, "SendMessage", 2)

	first := sender.Calls[0].Arguments.Get(1).(*bot.SendMessageParams)
	assert.Equal(t, "✅ <b>WBTC</b>\nbought 0.01 &lt;WBTC&gt;", first.Text)
}

func TestTelegram_RetriesThenGivesUp(t *testing.T) {
	sender := &senderMock{}
	sender.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("429 too many requests"))

	n := newTelegram(sender, 42, nil)
	n.retrier = retrier.New(retrier.Policy{Attempts: 3, Base: time.Millisecond})

	n.Handle(context.Background(), domain.NewEvent(domain.LevelError, domain.EventFailure, "", "store failed"))

	sender.AssertNumberOfCalls(t, "SendMessage", 3)
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	_, err := NewTelegram("", 1, nil)
	require.Error(t, err)
	_, err = NewTelegram("token", 0, nil)
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	text, ok := format(domain.NewEvent(domain.LevelError, domain.EventLifecycle, "", "bot & chain down"))
	require.True(t, ok)
	assert.Equal(t, "❌ bot &amp; chain down", text)
}
