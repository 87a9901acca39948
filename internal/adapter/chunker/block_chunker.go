// Package chunker splits documents into retrieval-sized chunks aligned to
// semantic boundaries: headings, lists, tables and paragraphs.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"ragserve/internal/adapter/textenc"
)

// DefaultChunkChars is used when the caller passes a non-positive budget.
const DefaultChunkChars = 512

// sentence look-back window for splitting oversized blocks.
const lookBack = 256

type lineClass int

const (
	classParagraph lineClass = iota
	classHeading
	classList
	classTable
)

var (
	reCJKChapter = regexp.MustCompile(`^第[0-9０-９一二三四五六七八九十百千零]+[章节條条篇部]`)
	reCJKNumber  = regexp.MustCompile(`^[一二三四五六七八九十百千零]+、`)
	// A bare section number on its own line: N, N., N.N, N.N.N, optionally
	// closed by ) ） or 、.
	reNumHeading = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,2}\.?[)）、]?$`)
	reNumList    = regexp.MustCompile(`^[0-9]+[.)、]`)
	reSpaceRun   = regexp.MustCompile(` {3,}`)
)

// SplitText splits text into ordered chunks of at most maxChars bytes each.
// Every chunk is trimmed, non-empty and cut on a codepoint boundary.
func SplitText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var chunks []string
	var current strings.Builder

	flushChunk := func() {
		if current.Len() == 0 {
			return
		}
		emitBlock(&chunks, current.String(), maxChars)
		current.Reset()
	}

	appendBlock := func(block string) {
		if current.Len() > 0 && current.Len()+2+len(block) > maxChars {
			flushChunk()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(block)
	}

	var blockLines []string
	blockClass := classParagraph

	flushBlock := func() {
		if len(blockLines) == 0 {
			return
		}
		appendBlock(strings.Join(blockLines, "\n"))
		blockLines = blockLines[:0]
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			// Blank lines end both the block and the chunk.
			flushBlock()
			flushChunk()
			continue
		}

		cls := classify(line)
		if cls == classHeading {
			// A heading is a hard boundary: its own one-line block and chunk.
			flushBlock()
			flushChunk()
			emitBlock(&chunks, line, maxChars)
			continue
		}
		if cls != blockClass {
			flushBlock()
			blockClass = cls
		}
		blockLines = append(blockLines, line)
	}
	flushBlock()
	flushChunk()

	return chunks
}

func classify(line string) lineClass {
	if isHeading(line) {
		return classHeading
	}
	if isList(line) {
		return classList
	}
	if isTable(line) {
		return classTable
	}
	return classParagraph
}

func isHeading(line string) bool {
	if len(line) > 120 {
		return false
	}
	if reCJKChapter.MatchString(line) || reCJKNumber.MatchString(line) {
		return true
	}
	if strings.HasPrefix(line, "附录") || strings.HasPrefix(line, "目录") {
		return true
	}
	return reNumHeading.MatchString(line)
}

func isList(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "•") || strings.HasPrefix(line, "(") ||
		strings.HasPrefix(line, "（") {
		return true
	}
	return reNumList.MatchString(line)
}

func isTable(line string) bool {
	if strings.Count(line, "|") >= 2 {
		return true
	}
	return len(reSpaceRun.FindAllStringIndex(line, 3)) >= 2
}

// emitBlock appends block to chunks, splitting it when it exceeds maxChars.
func emitBlock(chunks *[]string, block string, maxChars int) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	if len(block) <= maxChars {
		*chunks = append(*chunks, block)
		return
	}

	pos := 0
	for pos < len(block) {
		rest := block[pos:]
		if len(rest) <= maxChars {
			if piece := strings.TrimSpace(rest); piece != "" {
				*chunks = append(*chunks, piece)
			}
			break
		}
		cut := splitPoint(rest, maxChars)
		piece := strings.TrimSpace(rest[:cut])
		if piece != "" {
			*chunks = append(*chunks, piece)
		}
		pos += cut
	}
}

// splitPoint picks a cut offset no greater than maxChars, preferring the
// last sentence boundary within the look-back window and falling back to a
// codepoint boundary.
func splitPoint(s string, maxChars int) int {
	limit := len(textenc.TruncateRunes(s, maxChars))
	if limit == 0 {
		// Budget smaller than one codepoint: emit the first codepoint whole
		// rather than cutting inside it.
		_, size := utf8.DecodeRuneInString(s)
		if size == 0 {
			return maxChars
		}
		return size
	}

	windowStart := limit - lookBack
	if windowStart < 0 {
		windowStart = 0
	}
	window := s[windowStart:limit]

	best := -1
	for _, delim := range []string{"\n", ".", "!", "?", ";", "。", "！", "？", "；"} {
		if i := strings.LastIndex(window, delim); i >= 0 {
			end := windowStart + i + len(delim)
			if end > best {
				best = end
			}
		}
	}
	if best > 0 {
		return best
	}
	return limit
}
