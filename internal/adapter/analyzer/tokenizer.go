// Package analyzer splits text into a language-neutral bag of terms used by
// both the chunker and the embedder.
package analyzer

import (
	"strings"
	"unicode/utf8"
)

// Tokenize scans UTF-8 text left to right. Runs of ASCII letters and digits
// become one lowercased token; tokens of length 1 are dropped as noise. Every
// non-ASCII codepoint is emitted as its own token, so each CJK character is
// one term.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 1 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}

	for i := 0; i < len(text); {
		c := text[i]
		if c < 0x80 {
			if isASCIIWord(c) {
				cur.WriteByte(lowerASCII(c))
			} else {
				flush()
			}
			i++
			continue
		}

		flush()
		_, size := utf8.DecodeRuneInString(text[i:])
		tokens = append(tokens, text[i:i+size])
		i += size
	}
	flush()
	return tokens
}

func isASCIIWord(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
