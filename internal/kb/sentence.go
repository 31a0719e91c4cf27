// File path: internal/kb/sentence.go
package kb

import "strings"

// sentence-terminal runes for both CJK and western punctuation
var sentenceTerminals = map[rune]struct{}{
	'。': {}, '！': {}, '？': {}, '；': {},
	'.': {}, '!': {}, '?': {}, ';': {},
	'\n': {},
}

// SplitSentences breaks block content into sentences on terminal punctuation.
// The split is deterministic: the same content always yields the same
// sentences in the same order. Whitespace-only fragments are dropped.
func SplitSentences(content string) []string {
	var out []string
	var builder strings.Builder
	flush := func() {
		sentence := strings.TrimSpace(builder.String())
		builder.Reset()
		if sentence != "" {
			out = append(out, sentence)
		}
	}
	for _, r := range content {
		if _, terminal := sentenceTerminals[r]; terminal {
			if r != '\n' {
				builder.WriteRune(r)
			}
			flush()
			continue
		}
		builder.WriteRune(r)
	}
	flush()
	return out
}
