// Package chunker splits text into sections that fit a token budget,
// preferring to end each section on a division marker.
package chunker

import (
	"sort"
	"strings"
	"unicode"
)

// Counter is the token measure the splitter packs against.
type Counter interface {
	Count(text string) int
}

// Section is a contiguous run of whole words from the source text.
type Section struct {
	Index  int
	Text   string
	Tokens int
}

type span struct{ start, end int }

// Split cuts text into sections of at most maxTokens tokens. Each section
// is the longest run of whole words that fits, shortened to end after the
// last word carrying marker when one exists. A single word over budget
// becomes its own oversized section rather than being broken.
//
// maxTokens <= 0 returns the whole text as one section. Whitespace at the
// cut points is dropped, so joining the sections with spaces yields the
// original word sequence.
func Split(counter Counter, text string, maxTokens int, marker string) []Section {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		return []Section{{Index: 0, Text: text, Tokens: counter.Count(text)}}
	}

	words := wordSpans(text)
	var sections []Section
	for i := 0; i < len(words); {
		start := words[i].start

		// Largest j such that words[i..j] fits. Gallop to a run that
		// overflows, then binary search below it, so the text counted per
		// section stays proportional to the section and not to the rest of
		// the document.
		over := func(k int) bool {
			return counter.Count(text[start:words[i+k].end]) > maxTokens
		}
		rem := len(words) - i
		hi := 1
		for hi < rem && !over(hi-1) {
			hi *= 2
		}
		n := sort.Search(min(hi, rem), over)
		j := i + n - 1
		if j < i {
			j = i
		}

		if j < len(words)-1 {
			if k := lastMarkerWord(text, words, i, j, marker); k >= i {
				j = k
			}
		}

		body := text[start:words[j].end]
		sections = append(sections, Section{
			Index:  len(sections),
			Text:   body,
			Tokens: counter.Count(body),
		})
		i = j + 1
	}
	return sections
}

// lastMarkerWord returns the last k in [i, j] whose word ends with marker
// or is followed by whitespace containing it, or -1.
func lastMarkerWord(text string, words []span, i, j int, marker string) int {
	if marker == "" {
		return -1
	}
	for k := j; k >= i; k-- {
		if strings.HasSuffix(text[words[k].start:words[k].end], marker) {
			return k
		}
		if k+1 < len(words) && strings.Contains(text[words[k].end:words[k+1].start], marker) {
			return k
		}
	}
	return -1
}

func wordSpans(text string) []span {
	var out []span
	start := -1
	for idx, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{start, idx})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = idx
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(text)})
	}
	return out
}
