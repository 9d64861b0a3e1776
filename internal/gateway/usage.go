package gateway

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/modelgate/modelgate/internal/canonical"
)

// fillUsage patches in approximate token counts when a backend reported
// none. The estimate uses the cl100k_base encoding regardless of vendor;
// relayed vendor counters are never overwritten.
func (g *Gateway) fillUsage(req *canonical.CompletionRequest, resp *canonical.CompletionResponse) {
	if resp == nil {
		return
	}
	if resp.Usage == nil {
		resp.Usage = &canonical.Usage{}
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		return
	}

	resp.Usage.InputTokens = g.countTokens(requestText(req))
	resp.Usage.OutputTokens = g.countTokens(resp.Text())
}

func (g *Gateway) countTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		g.logger.Error("Failed to get tiktoken encoding", "error", err)
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// requestText flattens the prompt-side text of a request for estimation.
func requestText(req *canonical.CompletionRequest) string {
	if req == nil {
		return ""
	}
	out := req.System
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.Type == canonical.BlockText {
				if out != "" {
					out += "\n"
				}
				out += b.Text
			}
		}
	}
	return out
}
