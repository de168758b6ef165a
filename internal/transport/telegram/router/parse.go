package router

import (
	"slices"
	"strings"
	"unicode"

	"github.com/oklog/ulid/v2"
)

func newReqID() string {
	return strings.ToLower(ulid.Make().String())
}

// tokenizeCommandLine splits a message into words. Single or double quotes
// group words and a backslash escapes the next rune:
//
//	/schedule add "late snack" 21:30 25
func tokenizeCommandLine(s string) []string {
	var (
		words   []string
		cur     []rune
		open    rune // active quote, 0 outside quotes
		escaped bool
		started bool // cur holds a word, possibly empty ("")
	)
	for _, r := range strings.TrimSpace(s) {
		switch {
		case escaped:
			cur, escaped = append(cur, r), false
		case r == '\\':
			escaped, started = true, true
		case open != 0 && r == open:
			open = 0
		case open != 0:
			cur = append(cur, r)
		case r == '"' || r == '\'':
			open, started = r, true
		case unicode.IsSpace(r):
			if started {
				words = append(words, string(cur))
				cur, started = cur[:0], false
			}
		default:
			cur, started = append(cur, r), true
		}
	}
	if started {
		words = append(words, string(cur))
	}
	return words
}

// parseFlags separates --name=value, --name value and bare --name switches
// from positional args. Names listed in switches are always bare. Single-dash
// words such as "-5" stay positional unless they follow a valued flag.
func parseFlags(args, switches []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags, bools = make(map[string]string), make(map[string]bool)
	isFlag := func(a string) bool { return len(a) > 2 && strings.HasPrefix(a, "--") }
	for i := 0; i < len(args); i++ {
		if !isFlag(args[i]) {
			pos = append(pos, args[i])
			continue
		}
		name, val, hasVal := strings.Cut(args[i][2:], "=")
		switch {
		case hasVal:
			flags[name] = val
		case slices.Contains(switches, name):
			bools[name] = true
		case i+1 < len(args) && !isFlag(args[i+1]):
			i++
			flags[name] = args[i]
		default:
			bools[name] = true
		}
	}
	return pos, flags, bools
}
