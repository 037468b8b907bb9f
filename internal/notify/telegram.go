package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the part of *tgbotapi.BotAPI the sink needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram messages the emergency contact's chat on dispatch.
type Telegram struct {
	bot    sender
	chatID int64
}

// DialTelegram authenticates the bot token against the Telegram API.
func DialTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegram(bot, chatID), nil
}

func NewTelegram(bot sender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Advise(context.Context, Notice) error { return nil }

// Notify sends the dispatch text. The bot API takes no context, so a send
// that outlives ctx is abandoned and finishes in the background.
func (t *Telegram) Notify(ctx context.Context, n Notice) error {
	text := fmt.Sprintf("%s\nA Haven user may need support (session %s).", n.Text, n.SessionID)

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}
