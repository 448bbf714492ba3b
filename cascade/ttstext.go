package cascade

import (
	"regexp"
	"strings"
	"unicode"
)

// sentenceTerms are the punctuation characters treated as sentence
// boundaries for streaming synthesis.
const sentenceTerms = ".!?"

var (
	markdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	codeSpanRe     = regexp.MustCompile("`{1,3}([^`]+)`{1,3}")
	whitespaceRe   = regexp.MustCompile(`\s+`)
	formattingRepl = strings.NewReplacer(
		"\r", " ", "\n", " ",
		"*", " ", "_", " ",
		"~", " ", "`", " ",
	)
)

// SanitizeText strips markdown so the synthesizer speaks plain prose:
// links keep their label, code spans keep their content, formatting
// characters and newlines collapse to single spaces.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	s := markdownLinkRe.ReplaceAllString(text, "$1")
	s = codeSpanRe.ReplaceAllString(s, "$1")
	s = formattingRepl.Replace(s)
	return whitespaceRe.ReplaceAllString(s, " ")
}

// FindBoundary returns the index of the first sentence-ending
// punctuation at or after minIndex that is safe to split on, or -1.
// Decimals like 3.14 and punctuation glued to the next word are
// skipped; a closing quote or bracket directly after the terminator is
// still a boundary when followed by whitespace or end of text.
func FindBoundary(text string, minIndex int) int {
	runes := []rune(text)
	for i, r := range runes {
		if i < minIndex || !strings.ContainsRune(sentenceTerms, r) {
			continue
		}

		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		if next != 0 && !unicode.IsSpace(next) {
			if strings.ContainsRune(`"')]}`, next) {
				if i+2 < len(runes) && !unicode.IsSpace(runes[i+2]) {
					continue
				}
			} else {
				continue
			}
		}

		if r == '.' && i > 0 && unicode.IsDigit(runes[i-1]) && next != 0 && unicode.IsDigit(next) {
			continue
		}

		return i
	}
	return -1
}

// SplitBuffer splits text after end, keeping trailing whitespace with
// the left chunk so synthesized segments end cleanly.
func SplitBuffer(text string, end int) (string, string) {
	if text == "" {
		return "", ""
	}
	runes := []rune(text)
	if end < 0 {
		end = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	for end < len(runes) && unicode.IsSpace(runes[end]) {
		end++
	}
	return string(runes[:end]), string(runes[end:])
}

// sentenceChunker accumulates streamed text and emits speakable
// sentences as they complete. minChars suppresses boundaries that
// would produce very short, choppy chunks.
type sentenceChunker struct {
	buffer   string
	minChars int
}

// Write sanitizes the chunk, appends it and returns any complete
// sentences now available.
func (c *sentenceChunker) Write(chunk string) []string {
	c.buffer += SanitizeText(chunk)

	var sentences []string
	for {
		idx := FindBoundary(c.buffer, c.minChars)
		if idx < 0 {
			break
		}
		var sentence string
		sentence, c.buffer = SplitBuffer(c.buffer, idx+1)
		if strings.TrimSpace(sentence) != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}

// Flush returns whatever remains in the buffer, or "" when it holds
// only whitespace. The buffer is reset either way.
func (c *sentenceChunker) Flush() string {
	rest := c.buffer
	c.buffer = ""
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest
}
