package voice

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultSpeechChunkCeiling      = 900
	DefaultSynthesisRequestCeiling = 340
	DefaultSynthesisConcurrency    = 3
)

var (
	speechToolCallPattern     = regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>|\[TOOL_CALL[^\]]*\]`)
	speechCitationPattern     = regexp.MustCompile(`【[^】]*】|\[\d+\]|(?i)\(source:[^)]*\)`)
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	speechHTMLTagPattern      = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

// sanitizeSpeechText strips tool-call markup, citations, markdown, URLs, and
// symbol noise from a reply so the synthesized speech sounds conversational.
func sanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechToolCallPattern.ReplaceAllString(raw, " ")
	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechCitationPattern.ReplaceAllString(raw, " ")
	raw = speechURLPattern.ReplaceAllString(raw, " ")
	raw = speechHTMLTagPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol glyphs read terribly out loud.
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')', '%', '/':
		return true
	default:
		return false
	}
}

// splitSpeechChunks divides sanitized text into playback chunks of at most
// ceiling bytes, cutting at sentence boundaries. A single sentence longer
// than the ceiling is hard-split at the last word boundary before it.
func splitSpeechChunks(text string, ceiling int) []string {
	if ceiling <= 0 {
		ceiling = DefaultSpeechChunkCeiling
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, sentence := range splitSentences(text) {
		for _, piece := range hardSplit(sentence, ceiling) {
			if current.Len() > 0 && current.Len()+1+len(piece) > ceiling {
				flush()
			}
			if current.Len() > 0 {
				current.WriteByte(' ')
			}
			current.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// splitSentences cuts after sentence-final punctuation followed by space or
// end of text, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []byte(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			end := i + 1
			// Swallow trailing closers like quotes or parens.
			for end < len(runes) && (runes[end] == '"' || runes[end] == '\'' || runes[end] == ')') {
				end++
			}
			if end >= len(runes) || runes[end] == ' ' {
				if s := strings.TrimSpace(text[start:end]); s != "" {
					out = append(out, s)
				}
				start = end
				i = end - 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// hardSplit breaks a single over-long sentence at word boundaries, falling
// back to a byte cut for a pathological unbroken run.
func hardSplit(sentence string, ceiling int) []string {
	sentence = strings.TrimSpace(sentence)
	if len(sentence) <= ceiling {
		if sentence == "" {
			return nil
		}
		return []string{sentence}
	}

	var out []string
	rest := sentence
	for len(rest) > ceiling {
		cut := strings.LastIndexByte(rest[:ceiling+1], ' ')
		if cut <= 0 {
			// No word boundary in reach: cut at the ceiling, backed up so a
			// multibyte rune never straddles the cut.
			cut = ceiling
			for cut > 0 && !utf8.RuneStart(rest[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(rest)
			}
		}
		out = append(out, strings.TrimSpace(rest[:cut]))
		rest = strings.TrimSpace(rest[cut:])
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

// splitSynthesisRequests breaks one playback chunk into backend-sized
// requests. Same boundary rules as chunking, smaller ceiling.
func splitSynthesisRequests(chunk string, ceiling int) []string {
	if ceiling <= 0 {
		ceiling = DefaultSynthesisRequestCeiling
	}
	return splitSpeechChunks(chunk, ceiling)
}
