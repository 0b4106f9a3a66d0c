package openrouter

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenCount sizes a prompt with the cl100k_base encoding, falling back to
// a bytes/4 heuristic when the encoding is unavailable (it is fetched on
// first use and the process may be offline).
func tokenCount(s string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(s, nil, nil))
	}
	return heuristicTokens(s)
}

func heuristicTokens(s string) int {
	n := (len(s) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateCost predicts the USD cost of a generation before calling
// upstream: prompt tokens plus the full completion budget, priced at the
// configured blended per-1k rate.
func (c *Client) EstimateCost(prompt string) float64 {
	tokens := tokenCount(prompt) + c.cfg.MaxTokens
	return float64(tokens) / 1000.0 * c.cfg.PricePer1KTokens
}
