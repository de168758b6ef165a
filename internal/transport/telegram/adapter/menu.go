package adapter

import (
	"context"
	"slices"

	tele "gopkg.in/telebot.v4"

	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

// Telegram accepts at most 100 menu commands with 256-char descriptions.
const (
	maxMenuCommands = 100
	maxMenuDesc     = 256
)

// UpdateMenuCommands publishes the command list shown in Telegram's menu.
// An unchanged list is not resent.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	menu := menuCommands(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, menu) {
		return nil
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menu = menu
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

func menuCommands(cmds []kit.BotCommand) []tele.Command {
	out := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if r := []rune(desc); len(r) > maxMenuDesc {
			desc = string(r[:maxMenuDesc])
		}
		out = append(out, tele.Command{Text: c.Command, Description: desc})
		if len(out) == maxMenuCommands {
			break
		}
	}
	return out
}
