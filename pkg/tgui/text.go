package tgui

import "unicode/utf8"

// MaxMessageRunes is Telegram's limit for one text message.
const MaxMessageRunes = 4096

// TruncRunes cuts s to at most n runes, ending with "…" when it had to cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}
