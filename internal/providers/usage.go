package providers

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const estimateEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken

	loadEncoding = func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding(estimateEncoding)
	}
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := loadEncoding()
		if err != nil {
			slog.Warn("providers.tiktoken_unavailable", "encoding", estimateEncoding, "error", err)
			return
		}
		enc = e
	})
	return enc
}

// CountTokens estimates the token count of text. Without an encoding it
// falls back to four characters per token.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return (len([]rune(text)) + 3) / 4
}

// EstimateUsage fills in token counts a backend did not report.
func EstimateUsage(req CompletionRequest, comp *Completion) {
	if comp == nil || comp.Usage.InputTokens > 0 || comp.Usage.OutputTokens > 0 {
		return
	}
	// Per-message framing overhead as in the chat format.
	const perMessage = 3
	in := CountTokens(req.SystemPrompt)
	for _, m := range req.Messages {
		in += perMessage + CountTokens(m.Content)
	}
	out := CountTokens(comp.Text)
	for _, tc := range comp.ToolCalls {
		out += CountTokens(tc.Name)
	}
	comp.Usage = Usage{InputTokens: int64(in), OutputTokens: int64(out), Estimated: true}
}
