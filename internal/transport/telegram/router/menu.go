package router

import (
	"slices"
	"strings"
	"unicode"

	kit "feedbot/internal/transport"
)

const adminMark = "🔒 "

const maxCommandLen = 32

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// charset: [a-z0-9_], at most 32 chars, starting with a letter.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route with underscores:
//
//	["schedule","add"] -> "schedule_add"
func telegramCommandNameFromRoute(route []string) (string, bool) {
	if len(route) == 0 {
		return "", false
	}
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists top-level commands, then the underscore
// shortcuts of multi-token routes. A name already taken by a top-level
// command is not repeated. Admin-only entries carry adminMark.
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []kit.BotCommand {
	var out []kit.BotCommand
	seen := map[string]bool{}
	push := func(name, desc string, admin bool) {
		name = sanitizeTelegramCommand(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		desc = strings.Join(strings.Fields(desc), " ")
		if desc == "" {
			desc = name
		}
		if admin {
			desc = adminMark + desc
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}

	if root != nil {
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			push(name, summarizeNodeDesc(n), n.minAccess() == AccessAdmin)
		}
	}

	var shortcuts []Command
	for _, c := range leafCmds {
		if len(splitRoute(c.Route)) > 1 {
			shortcuts = append(shortcuts, c)
		}
	}
	slices.SortFunc(shortcuts, func(a, b Command) int { return strings.Compare(a.Route, b.Route) })
	for _, c := range shortcuts {
		route := splitRoute(c.Route)
		name, _ := telegramCommandNameFromRoute(route)
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		push(name, desc, c.Access == AccessAdmin)
	}
	return out
}
