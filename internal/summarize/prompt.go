package summarize

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docsum/internal/backend"
)

const summarySystemPrompt = `You are an expert summarizer. You condense text faithfully: keep the key events, people, ideas and conclusions, preserve their order, and never add information that is not in the text.`

// SummaryMessages builds the prompt that asks the summary model to
// condense text into at most target tokens. With empty text it measures
// the fixed prompt overhead.
func SummaryMessages(text string, target int) []backend.Message {
	user := fmt.Sprintf(
		"Summarize the following text in no more than %d tokens. Write plain prose without headings or bullet points.\n\nText:\n%s",
		target, text,
	)
	return []backend.Message{
		{Role: backend.RoleSystem, Content: summarySystemPrompt},
		{Role: backend.RoleUser, Content: user},
	}
}

// SynthesisMessages asks the synthesis model to merge the intermediate
// summaries, labelled by position, into one.
func SynthesisMessages(summaries []string) []backend.Message {
	var sb strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&sb, "Summary %d: %s\n\n", i+1, s)
	}

	content := fmt.Sprintf(`A less powerful GPT model generated %d summaries of a book.

Because of the way that the summaries are generated, they may not be perfect. Please review them
and synthesize them into a single more detailed summary that you think is best.

The summaries are as follows: %s`, len(summaries), sb.String())

	return []backend.Message{
		{Role: backend.RoleUser, Content: strings.TrimSpace(content)},
	}
}
