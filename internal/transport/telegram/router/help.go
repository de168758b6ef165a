package router

import (
	"sort"
	"strings"

	"feedbot/pkg/tgui"
)

// helpText renders help in Telegram HTML. Admin-only commands are hidden
// from non-admins.
func (m *CommandManager) helpText(path []string, userID int64) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return m.helpTopHTML(root, userID)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ <b>Unknown command</b>\nType <code>/help</code> for the command list."
		}
		cur = n
		full = append(full, p)
	}
	return helpNodeHTML(cur, full)
}

func (m *CommandManager) helpTopHTML(root *cmdNode, userID int64) string {
	isAdmin := m.allowed(AccessAdmin, userID)
	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;command&gt;</code> for details.",
		"",
	}
	type row struct {
		name, desc string
		admin      bool
	}
	var rows []row
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		admin := n.minAccess() == AccessAdmin
		if admin && !isAdmin {
			continue
		}
		rows = append(rows, row{name: name, desc: summarizeNodeDesc(n), admin: admin})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].admin != rows[j].admin {
			return !rows[i].admin
		}
		return rows[i].name < rows[j].name
	})
	for _, r := range rows {
		prefix := "• "
		if r.admin {
			prefix += adminMark
		}
		line := tgui.H(prefix) + tgui.Code("/"+r.name)
		if r.desc != "" {
			line += ": " + tgui.Esc(r.desc)
		}
		lines = append(lines, string(line))
	}
	return strings.Join(lines, "\n")
}

func helpNodeHTML(cur *cmdNode, full []string) string {
	title := "/" + strings.Join(full, " ")
	lines := []string{string("📚 " + tgui.B("Help") + " " + tgui.Code(title))}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, string(tgui.Esc(d)))
		}
		if c.Access == AccessAdmin {
			lines = append(lines, adminMark+"<i>admins only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", string(tgui.Code(u)))
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, string("• "+tgui.Code("/"+s)))
			}
		}
	}

	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			cmd := "/" + strings.Join(append(append([]string(nil), full...), name), " ")
			line := tgui.H("• ")
			if n.minAccess() == AccessAdmin {
				line += adminMark
			}
			line += tgui.Code(cmd)
			if d := summarizeNodeDesc(n); d != "" {
				line += ": " + tgui.Esc(d)
			}
			lines = append(lines, string(line))
		}
	}
	return strings.Join(lines, "\n")
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	k := min(len(kids), 3)
	s := strings.Join(kids[:k], ", ")
	if len(kids) > k {
		s += ", …"
	}
	return "subcommands: " + s
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	route := splitRoute(c.Route)
	if menu, ok := telegramCommandNameFromRoute(route); ok && len(route) > 1 {
		add(menu)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
