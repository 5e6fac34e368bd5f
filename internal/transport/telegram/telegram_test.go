package telegram

import (
	"strings"
	"testing"

	logx "pogoscan/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      int
	}{
		{name: "short", in: "hello", limit: 10, want: 1},
		{name: "exact", in: strings.Repeat("a", 10), limit: 10, want: 1},
		{name: "hard cut", in: strings.Repeat("a", 25), limit: 10, want: 3},
		{name: "newline", in: strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), limit: 10, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.in, tt.limit, tt.parseMode)
			if len(got) != tt.want {
				t.Fatalf("chunks = %d (%q), want %d", len(got), got, tt.want)
			}
			for _, c := range got {
				if len([]rune(c)) > tt.limit {
					t.Fatalf("chunk %q exceeds limit", c)
				}
			}
		})
	}
}

func TestSplitTextKeepsNewlineChunksWhole(t *testing.T) {
	t.Parallel()

	got := splitText("aaaaaa\nbbbbbb", 10, "")
	if got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestSplitTextAvoidsOpenTag(t *testing.T) {
	t.Parallel()

	in := "abcdef<b>bold</b>"
	got := splitText(in, 8, "HTML")
	if strings.Contains(got[0], "<") {
		t.Fatalf("first chunk split inside a tag: %q", got)
	}
	if strings.Join(got, "") != in {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
