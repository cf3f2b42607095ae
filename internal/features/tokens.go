package features

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Token Counting ─────────────────────────────────────────────────────────

// TokenCounter estimates input token counts. It prefers a real BPE encoding
// and falls back to the four-characters-per-token estimate when the encoding
// cannot be loaded (offline start, first run before the encoding is cached).
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a lazy token counter. The encoding loads on first
// use so construction never blocks startup.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// bpeCap bounds the text handed to the BPE encoder. Encoding very large
// prompts costs more than the extraction budget allows; beyond the cap the
// chars/4 estimate is accurate enough for routing.
const bpeCap = 32 << 10

// Count returns the estimated token count of text.
func (t *TokenCounter) Count(text string) int {
	if len(text) > bpeCap {
		return domain.EstimateTokens(text)
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return domain.EstimateTokens(text)
}
