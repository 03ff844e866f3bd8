// Package summarize reduces text of any length to a bounded summary by
// recursive splitting, and merges intermediate summaries into one.
package summarize

import (
	"errors"
	"fmt"

	"github.com/dgallion1/docsum/internal/tokens"
)

var ErrInvalidParams = errors.New("invalid summarization parameters")

// Params is the token budget of one summarization. SummaryInputSize is
// the largest text that fits one call alongside the prompt and the
// requested summary.
type Params struct {
	TargetSummarySize int `cbor:"1,keyasint" json:"target_summary_size"`
	SummaryInputSize  int `cbor:"2,keyasint" json:"summary_input_size"`
}

// NewParams derives the input budget from the model context size:
// contextSize - (prompt overhead + target).
func NewParams(counter tokens.Counter, target, contextSize int) (Params, error) {
	if target <= 0 {
		return Params{}, fmt.Errorf("%w: target summary size %d", ErrInvalidParams, target)
	}
	overhead := counter.CountMessages(SummaryMessages("", target))
	input := contextSize - (overhead + target)
	if input <= 0 {
		return Params{}, fmt.Errorf("%w: context of %d tokens leaves no room for input (prompt %d + target %d)",
			ErrInvalidParams, contextSize, overhead, target)
	}
	return Params{TargetSummarySize: target, SummaryInputSize: input}, nil
}
