package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// Per-message serialization overhead and conversation trailer, in
// tokens, matching the OpenAI chat format.
const (
	messageOverheadTokens  = 4
	conversationTailTokens = 3
)

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the model's BPE encoding. The
// encoding loads lazily on first use; if loading fails (offline
// environments), counting falls back to a character heuristic.
type TiktokenCounter struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktokenCounter creates a counter for the given model name.
// Unknown models use cl100k_base.
func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding, ok := modelEncodings[model]
	if !ok {
		// Longest prefix wins: "gpt-4o-2024-11-20" matches both
		// "gpt-4o" and "gpt-4" and must take the former's encoding.
		best := ""
		for prefix, enc := range modelEncodings {
			if len(prefix) > len(best) && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				best, encoding = prefix, enc
			}
		}
		ok = best != ""
	}
	if !ok {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// estimateTokens approximates token counts without an encoding: CJK
// runs ~1.5 chars per token, everything else ~4.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}

// CountMessages returns the approximate token footprint of a prompt.
func CountMessages(counter TokenCounter, messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		total += counter.Count(msg.Content)
		total += counter.Count(string(msg.Role))
	}
	return total + conversationTailTokens
}

// TrimHistory drops the oldest messages until the rest fit the token
// budget. Order is preserved and messages are never split. A tool
// result whose originating assistant turn was dropped is dropped too,
// so the window never opens on an orphaned tool message.
func TrimHistory(counter TokenCounter, history []types.Message, budget int) []types.Message {
	if budget <= 0 || len(history) == 0 {
		return history
	}

	total := conversationTailTokens
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := messageOverheadTokens + counter.Count(history[i].Content) + counter.Count(string(history[i].Role))
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}

	for start < len(history) && history[start].Role == types.RoleTool {
		start++
	}
	return history[start:]
}
