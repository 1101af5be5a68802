package telegram

import (
	"context"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	tgsender "github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// BotSink delivers agent replies back into Telegram chats. Deliver is
// synchronous through the dispatcher so one chat's replies keep their
// order; typing indicators are queued best-effort.
type BotSink struct {
	bot  *tele.Bot
	disp *tgsender.Dispatcher
}

// NewBotSink wires a sink over the bot and its outbound dispatcher.
func NewBotSink(bot *tele.Bot, disp *tgsender.Dispatcher) *BotSink {
	return &BotSink{bot: bot, disp: disp}
}

// Deliver sends one agent reply to the chat.
func (s *BotSink) Deliver(chatID int64, text string) error {
	ctx := logger.WithChatID(context.Background(), chatID)
	recipient := &tele.Chat{ID: chatID}
	return s.disp.Do(ctx, chatID, "send.text", func() error {
		_, err := s.bot.Send(recipient, text)
		return err
	})
}

// Typing shows the typing indicator while the agent prepares a reply.
// Failures are logged by the dispatcher and otherwise ignored.
func (s *BotSink) Typing(chatID int64) {
	ctx := logger.WithChatID(context.Background(), chatID)
	recipient := &tele.Chat{ID: chatID}
	_ = s.disp.Enqueue(ctx, chatID, "chat.typing", func() error {
		return s.bot.Notify(recipient, tele.Typing)
	})
}
