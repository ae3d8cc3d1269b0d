package generate

import (
	"strings"
	"testing"
)

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		history []string
		want    string
	}{
		{"no history", "hi", nil, "hi"},
		{"short history", "next", []string{"a", "b"}, "a b next"},
		{"exactly five", "x", []string{"1", "2", "3", "4", "5"}, "1 2 3 4 5 x"},
		{"keeps last five", "x", []string{"1", "2", "3", "4", "5", "6", "7"}, "3 4 5 6 7 x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildPrompt(tt.input, tt.history); got != tt.want {
				t.Errorf("buildPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateKeepsHead(t *testing.T) {
	tr := newTruncator()
	if tr.codec == nil {
		t.Skip("tokenizer unavailable")
	}

	got := tr.Truncate(strings.Repeat("alpha ", 20)+"omega", 3)
	if !strings.HasPrefix(got, "alpha") || strings.Contains(got, "omega") {
		t.Errorf("expected the leading tokens, got %q", got)
	}
	if n := tr.Count(got); n > 3 {
		t.Errorf("expected at most 3 tokens, got %d (%q)", n, got)
	}

	long := "first words " + strings.Repeat("alpha beta gamma ", 50)
	got = tr.Truncate(long, 10)
	if n := tr.Count(got); n > 10 {
		t.Errorf("expected at most 10 tokens, got %d (%q)", n, got)
	}
	if !strings.HasPrefix(got, "first words") {
		t.Errorf("expected the start of the prompt to survive, got %q", got)
	}
}

func TestTruncateShortPromptUnchanged(t *testing.T) {
	tr := newTruncator()
	prompt := "hello there"
	if got := tr.Truncate(prompt, 1024); got != prompt {
		t.Errorf("expected unchanged prompt, got %q", got)
	}
}

func TestTruncateNoBudget(t *testing.T) {
	tr := newTruncator()
	prompt := strings.Repeat("word ", 100)
	if got := tr.Truncate(prompt, 0); got != prompt {
		t.Error("a zero budget should leave the prompt unchanged")
	}
}

func TestTruncateWithoutCodec(t *testing.T) {
	tr := &truncator{}
	if got := tr.Truncate("a b c", 1); got != "a b c" {
		t.Errorf("expected unchanged prompt without codec, got %q", got)
	}
	if got := tr.Count("a b c"); got != -1 {
		t.Errorf("expected -1 without codec, got %d", got)
	}
}
