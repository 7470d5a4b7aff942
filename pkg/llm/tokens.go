package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens for text that never reaches a provider, such as
// prompts assembled locally before dispatch. Providers report exact usage;
// this fills the gaps.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator returns an estimator backed by the cl100k_base encoding. The
// encoding loads lazily on first use because tiktoken fetches its BPE ranks.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count returns the token count of text. When the BPE encoding cannot be
// loaded (offline environments), it falls back to a bytes/4 heuristic, which
// tracks English prose within roughly 15%.
func (e *Estimator) Count(text string) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	n := len(text) / 4
	if n == 0 && utf8.RuneCountInString(text) > 0 {
		n = 1
	}
	return n
}
