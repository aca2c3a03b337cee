package bot

import (
	"unicode"
	"unicode/utf8"
)

// DefaultMessageLimit is the outbound message size in runes. Telegram
// allows 4096; the margin leaves room for transport overhead.
const DefaultMessageLimit = 4000

// SplitMessage cuts text into chunks of at most limit runes, the first one
// prefixed with label. The label counts against the first chunk. Joining
// the chunks reproduces label+text exactly. Cuts land after whitespace when
// there is some in the second half of a chunk. A label that leaves no room
// in the first chunk is split like the rest of the text.
func SplitMessage(label, text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	if utf8.RuneCountInString(label) >= limit {
		label, text = "", label+text
	}
	budget := limit - utf8.RuneCountInString(label)

	var chunks []string
	prefix := label
	for text != "" {
		part := cut(text, budget)
		chunks = append(chunks, prefix+part)
		text = text[len(part):]
		prefix = ""
		budget = limit
	}
	if len(chunks) == 0 {
		chunks = append(chunks, label)
	}
	return chunks
}

// cut returns the longest prefix of s holding at most n runes, shortened to
// end after whitespace when that keeps at least half of it.
func cut(s string, n int) string {
	end, runes := 0, 0
	for end < len(s) && runes < n {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
		runes++
	}
	if end == len(s) {
		return s
	}

	half := end / 2
	for i := end; i > half; {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if unicode.IsSpace(r) {
			return s[:i]
		}
		i -= size
	}
	return s[:end]
}
