package tgui

import (
	"strings"
	"testing"
)

func TestCardEscapesText(t *testing.T) {
	t.Parallel()
	got := NewCard("📜", "Log <1>").
		Line("a < b & c").
		KV("Today", "5 g").
		Hint("More", "/logs 2").
		String()
	want := "📜 <b>Log &lt;1&gt;</b>\na &lt; b &amp; c\nToday: 5 g\nMore: <code>/logs 2</code>"
	if got != want {
		t.Fatalf("card:\n got %q\nwant %q", got, want)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"héllo wörld", 3, "hé…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
	long := strings.Repeat("a", MaxMessageRunes+10)
	if n := len([]rune(NewCard("", "t").Line(long).String())); n != MaxMessageRunes {
		t.Fatalf("card not capped: %d runes", n)
	}
}

func TestNextPage(t *testing.T) {
	t.Parallel()
	if _, ok := NextPage("/logs", 1, 10, 9); ok {
		t.Fatal("short page must not offer more")
	}
	hint, ok := NextPage("/logs", 2, 10, 10)
	if !ok || hint != "/logs 3" {
		t.Fatalf("got %q %v", hint, ok)
	}
}

func TestJoinSkipsBlank(t *testing.T) {
	t.Parallel()
	if got := Join(" · ", B("a"), "", Esc("<b>")); got != "<b>a</b> · &lt;b&gt;" {
		t.Fatalf("got %q", got)
	}
}
