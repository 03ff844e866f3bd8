// Package tokens counts model tokens for text and chat prompts.
package tokens

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/dgallion1/docsum/internal/backend"
)

var ErrUnknownModel = errors.New("no tokenizer for model")

// Counter measures text the way the backend model will.
type Counter interface {
	Count(text string) int
	CountMessages(msgs []backend.Message) int
}

var loaderOnce sync.Once

// Tiktoken counts with the BPE encoding the model uses. Encodings are
// embedded, so construction never touches the network.
type Tiktoken struct {
	model string
	enc   *tiktoken.Tiktoken
}

func NewTiktoken(model string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrUnknownModel, model, err)
	}
	return &Tiktoken{model: model, enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages follows the OpenAI chat accounting: a fixed overhead per
// message plus the encoded role and content, plus reply priming.
func (t *Tiktoken) CountMessages(msgs []backend.Message) int {
	perMessage := 3
	if strings.HasSuffix(t.model, "-0301") {
		perMessage = 4
	}
	n := 0
	for _, m := range msgs {
		n += perMessage
		n += t.Count(string(m.Role))
		n += t.Count(m.Content)
	}
	return n + 3
}

// Estimator approximates tokens from the word count. Use it for models
// the BPE tables do not cover.
type Estimator struct {
	Ratio float64 // tokens per word, 1.33 when zero
}

func (e Estimator) Count(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	ratio := e.Ratio
	if ratio <= 0 {
		ratio = 1.33
	}
	n := int(float64(words) * ratio)
	if n < 1 {
		n = 1
	}
	return n
}

func (e Estimator) CountMessages(msgs []backend.Message) int {
	n := 0
	for _, m := range msgs {
		n += 4 + e.Count(m.Content)
	}
	return n + 3
}

// New returns the counter named by kind: "tiktoken" or "estimate".
func New(kind, model string) (Counter, error) {
	switch kind {
	case "", "tiktoken":
		return NewTiktoken(model)
	case "estimate":
		return Estimator{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", kind)
	}
}
