package generate

import (
	"log/slog"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// historyWindow is how many prior entries are prepended to the input.
const historyWindow = 5

// buildPrompt joins the last historyWindow entries and the input with spaces.
func buildPrompt(input string, history []string) string {
	if len(history) == 0 {
		return input
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	return strings.Join(history, " ") + " " + input
}

// truncator trims prompts to a token budget, keeping the leading tokens.
type truncator struct {
	codec tokenizer.Codec
}

func newTruncator() *truncator {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		slog.Warn("tokenizer unavailable, prompts will not be truncated", "error", err)
		return &truncator{}
	}
	return &truncator{codec: codec}
}

// Truncate returns the first maxTokens tokens of prompt.
// A zero or negative budget, or a missing codec, leaves prompt unchanged.
func (t *truncator) Truncate(prompt string, maxTokens int) string {
	if t == nil || t.codec == nil || maxTokens <= 0 {
		return prompt
	}
	ids, _, err := t.codec.Encode(prompt)
	if err != nil {
		slog.Warn("tokenize prompt", "error", err)
		return prompt
	}
	if len(ids) <= maxTokens {
		return prompt
	}
	out, err := t.codec.Decode(ids[:maxTokens])
	if err != nil {
		slog.Warn("decode truncated prompt", "error", err)
		return prompt
	}
	slog.Debug("prompt truncated", "tokens", len(ids), "max_length", maxTokens)
	return strings.TrimRight(out, " ")
}

// Count returns the number of tokens in s, or -1 without a codec.
func (t *truncator) Count(s string) int {
	if t == nil || t.codec == nil {
		return -1
	}
	ids, _, err := t.codec.Encode(s)
	if err != nil {
		return -1
	}
	return len(ids)
}
