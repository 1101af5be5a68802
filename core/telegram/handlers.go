package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/prefs"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/commands"
	tghelpers "github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/helpers"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// RelayService is the session relay surface the bot drives. It is satisfied
// by *relay.Registry.
type RelayService interface {
	HandleIncoming(ctx context.Context, chatID, userID int64, text string) error
	Reset(ctx context.Context, chatID int64) error
	Languages(ctx context.Context, chatID int64) (*prefs.Record, error)
}

const (
	greetingReply  = "Hi! I translate everything said in this chat between your chosen languages. Tell me which languages you need, for example: English, Spanish and French."
	resetReply     = "Settings cleared. Send me your languages to start over."
	noPrefsReply   = "No languages set yet. Just send me the languages you want, for example: English and Polish."
	agentDownReply = "The translation service is not responding right now. Please try again in a minute."
)

// registerHandlers binds the relay routes and commands on the registry.
func registerHandlers(reg *Registry, rly RelayService) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     onStart(rly),
		Description: "Greet and begin language setup",
	})
	reg.RegisterCommand("/reset", commands.Command{
		Handler:     onReset(rly),
		Description: "Clear languages and start over",
	})
	reg.RegisterCommand("/languages", commands.Command{
		Handler:     onLanguages(rly),
		Description: "Show the active translation languages",
	})
}

// onText relays a plain chat message into the agent session.
func onText(rly RelayService) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.WithHandler(c, "relay.text")
		chat, user := c.Chat(), c.Sender()
		if chat == nil || user == nil {
			return nil
		}
		text := strings.TrimSpace(c.Text())
		if text == "" || strings.HasPrefix(text, "/") {
			return nil
		}
		if err := rly.HandleIncoming(ctx, chat.ID, user.ID, text); err != nil {
			logger.Error(ctx, "tg", "relay.incoming",
				slog.Int64("chat_id", chat.ID),
				slog.String("err", err.Error()),
			)
			return tghelpers.SendText(c, agentDownReply)
		}
		return nil
	}
}

// onStart greets the chat and forwards the agent's setup trigger.
func onStart(rly RelayService) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.WithHandler(c, "cmd.start")
		chat, user := c.Chat(), c.Sender()
		if chat == nil || user == nil {
			return nil
		}
		if err := tghelpers.SendText(c, greetingReply); err != nil {
			return err
		}
		if err := rly.HandleIncoming(ctx, chat.ID, user.ID, "start"); err != nil {
			logger.Error(ctx, "tg", "relay.start",
				slog.Int64("chat_id", chat.ID),
				slog.String("err", err.Error()),
			)
		}
		return nil
	}
}

// onReset drops the chat's session and stored languages.
func onReset(rly RelayService) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.WithHandler(c, "cmd.reset")
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		if err := rly.Reset(ctx, chat.ID); err != nil {
			logger.Error(ctx, "tg", "relay.reset",
				slog.Int64("chat_id", chat.ID),
				slog.String("err", err.Error()),
			)
			return tghelpers.SendText(c, "Could not clear stored settings, please try again.")
		}
		return tghelpers.SendText(c, resetReply)
	}
}

// onLanguages reports the chat's active language list.
func onLanguages(rly RelayService) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.WithHandler(c, "cmd.languages")
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		rec, err := rly.Languages(ctx, chat.ID)
		if err != nil {
			logger.Error(ctx, "tg", "relay.languages",
				slog.Int64("chat_id", chat.ID),
				slog.String("err", err.Error()),
			)
			return tghelpers.SendText(c, "Could not read stored settings, please try again.")
		}
		if rec == nil || len(rec.LanguageNames) == 0 {
			return tghelpers.SendText(c, noPrefsReply)
		}
		reply := fmt.Sprintf("Active languages: %s (%s)",
			strings.Join(rec.LanguageNames, ", "),
			strings.Join(rec.LanguageCodes, ", "),
		)
		return tghelpers.SendText(c, reply)
	}
}
