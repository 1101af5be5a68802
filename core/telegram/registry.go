package telegram

import (
	"sort"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/commands"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// Registry holds the bot's command table.
type Registry struct {
	commands map[string]commands.Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]commands.Command)}
}

// RegisterCommand adds a command. Invalid or duplicate registrations are
// logged and skipped.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	if r == nil || name == "" || name[0] != '/' || cmd.Handler == nil || cmd.Description == "" {
		logger.TG.Warn("command registration skipped",
			slog.String("event", "register.command.skip"),
			slog.String("handler", name),
		)
		return
	}
	if _, exists := r.commands[name]; exists {
		logger.TG.Warn("duplicate command registration",
			slog.String("event", "register.command.duplicate"),
			slog.String("handler", name),
		)
		return
	}
	r.commands[name] = cmd
}

// Commands returns the registered command table.
func (r *Registry) Commands() map[string]commands.Command {
	return r.commands
}

// ListCommands returns menu entries, sorted, excluding hidden commands.
func (r *Registry) ListCommands() []tele.Command {
	var list []tele.Command
	for name, meta := range r.commands {
		if meta.Hidden {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// InitBotCommands publishes the command menu to Telegram.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	if err := bot.SetCommands(reg.ListCommands()); err != nil {
		logger.TG.Error("failed to set bot commands",
			slog.String("event", "register.commands.set_failed"),
			slog.String("err", err.Error()),
		)
	}
}
