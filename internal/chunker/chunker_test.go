package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/dgallion1/docsum/internal/tokens"
)

// words counts one token per whitespace-separated word.
var words = tokens.Estimator{Ratio: 1}

type runeCounter struct{}

func (runeCounter) Count(text string) int { return utf8.RuneCountInString(text) }

func texts(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Text
	}
	return out
}

func TestSplit_BacksOffToMarker(t *testing.T) {
	got := texts(Split(words, "a b c. d e f. g h", 4, "."))
	want := []string{"a b c.", "d e f.", "g h"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_HardCutWithoutMarker(t *testing.T) {
	got := texts(Split(words, "a b c d e f g", 3, "."))
	want := []string{"a b c", "d e f", "g"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_RemainderIsNotShortened(t *testing.T) {
	// Everything fits, so the trailing words after the last marker stay.
	got := texts(Split(words, "a b. c d", 10, "."))
	if diff := cmp.Diff([]string{"a b. c d"}, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_WhitespaceMarker(t *testing.T) {
	text := "one two\n\nthree four five\n\nsix"
	got := texts(Split(words, text, 3, "\n\n"))
	want := []string{"one two", "three four five", "six"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_OversizedWordStandsAlone(t *testing.T) {
	sections := Split(runeCounter{}, "aa bbbbbbbbbb cc", 5, ".")
	want := []Section{
		{Index: 0, Text: "aa", Tokens: 2},
		{Index: 1, Text: "bbbbbbbbbb", Tokens: 10},
		{Index: 2, Text: "cc", Tokens: 2},
	}
	if diff := cmp.Diff(want, sections); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_RespectsBudget(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 300)
	sections := Split(words, text, 500, ".")

	if len(sections) < 2 {
		t.Fatalf("expected several sections, got %d", len(sections))
	}
	for i, s := range sections {
		if s.Index != i {
			t.Errorf("section %d: expected index %d, got %d", i, i, s.Index)
		}
		if s.Tokens > 500 {
			t.Errorf("section %d: %d tokens exceeds budget", i, s.Tokens)
		}
		if i < len(sections)-1 && !strings.HasSuffix(s.Text, ".") {
			t.Errorf("section %d does not end on the marker: %q", i, s.Text[len(s.Text)-20:])
		}
	}
}

// meteredCounter counts words and records how many bytes it was asked
// to measure.
type meteredCounter struct{ bytes int }

func (m *meteredCounter) Count(text string) int {
	m.bytes += len(text)
	return words.Count(text)
}

func TestSplit_CountsProportionalToSections(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 4000))
	mc := &meteredCounter{}
	sections := Split(mc, text, 50, "")

	if len(sections) != 80 {
		t.Fatalf("expected 80 sections of 50 words, got %d", len(sections))
	}
	for i, s := range sections {
		if s.Tokens != 50 {
			t.Errorf("section %d: expected 50 tokens, got %d", i, s.Tokens)
		}
	}
	if limit := 20 * len(text); mc.bytes > limit {
		t.Errorf("measured %d bytes splitting a %d byte text, want at most %d", mc.bytes, len(text), limit)
	}
}

func TestSplit_ReconstructsWordSequence(t *testing.T) {
	text := "  Call me Ishmael.  Some years ago,\tnever mind how long precisely.\n\n" +
		strings.Repeat("It is a way I have of driving off the spleen. ", 40) + "\n"
	for _, budget := range []int{1, 3, 7, 50, 1000} {
		sections := Split(words, text, budget, ".")
		joined := strings.Join(texts(sections), " ")
		if diff := cmp.Diff(strings.Fields(text), strings.Fields(joined)); diff != "" {
			t.Fatalf("budget %d: word sequence changed (-want +got):\n%s", budget, diff)
		}
		for i, s := range sections {
			if s.Text != strings.TrimSpace(s.Text) {
				t.Errorf("budget %d: section %d not trimmed: %q", budget, i, s.Text)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("Lorem ipsum dolor sit amet. ", 100)
	first := Split(words, text, 37, ".")
	second := Split(words, text, 37, ".")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("split not deterministic:\n%s", diff)
	}
}

func TestSplit_EdgeCases(t *testing.T) {
	if got := Split(words, "", 10, "."); got != nil {
		t.Errorf("expected nil for empty text, got %v", got)
	}
	if got := Split(words, " \n\t ", 10, "."); got != nil {
		t.Errorf("expected nil for whitespace text, got %v", got)
	}

	got := Split(words, " a b c d ", 0, ".")
	want := []Section{{Index: 0, Text: "a b c d", Tokens: 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("zero budget mismatch (-want +got):\n%s", diff)
	}

	noMarker := texts(Split(words, "a. b. c.", 2, ""))
	if diff := cmp.Diff([]string{"a. b.", "c."}, noMarker); diff != "" {
		t.Errorf("empty marker mismatch (-want +got):\n%s", diff)
	}
}
