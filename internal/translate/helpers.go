// Package translate implements the protocol translation engine: pure,
// bidirectional mappings between the canonical schema and the Anthropic,
// OpenAI, Vertex Gemini, and Ollama wire dialects. Nothing in this package
// performs network I/O; image URLs that need fetching go through a
// caller-supplied ImageFetcher.
package translate

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/canonical"
)

// UnknownToolName is used when a tool_result block cannot be correlated to a
// prior tool_use. Translation stays lenient here: the vendor reports its own
// tool-not-found error downstream.
const UnknownToolName = "unknown_tool"

// ImageFetcher resolves a non-data image URL into a media type and base64
// payload. Translators never fetch themselves; a nil fetcher rejects such
// URLs.
type ImageFetcher func(url string) (mediaType, base64Data string, err error)

// SystemPrompt joins the request's dedicated system field with any
// system-role messages in the list, space-separated, for vendors with a
// dedicated system slot.
func SystemPrompt(req canonical.CompletionRequest) string {
	parts := make([]string, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		parts = append(parts, req.System)
	}
	for _, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			if t := m.Text(); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// DecomposeDataURL splits a data: URL into its media type and base64
// payload. Payloads that are not base64-encoded are re-encoded.
func DecomposeDataURL(url string) (mediaType, data string, err error) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", fmt.Errorf("not a data URL")
	}
	rest := strings.TrimPrefix(url, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", fmt.Errorf("malformed data URL")
	}
	meta, payload := rest[:comma], rest[comma+1:]

	mediaType = meta
	if idx := strings.IndexByte(meta, ';'); idx >= 0 {
		mediaType = meta[:idx]
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	if strings.Contains(meta, ";base64") {
		return mediaType, payload, nil
	}
	return mediaType, base64.StdEncoding.EncodeToString([]byte(payload)), nil
}

// ResolveImageURL turns an image URL into inline (mediaType, base64) data.
// data: URLs are decomposed locally; anything else goes through the
// caller-supplied fetcher, or is rejected when none is configured.
func ResolveImageURL(url string, fetch ImageFetcher) (mediaType, data string, err error) {
	if strings.HasPrefix(url, "data:") {
		return DecomposeDataURL(url)
	}
	if fetch == nil {
		return "", "", fmt.Errorf("remote image URL rejected: no image fetcher configured")
	}
	return fetch(url)
}

// ToolNameForResult scans backward through the request's assistant messages
// for the tool_use block whose id matches toolUseID and returns its name.
// Unresolvable ids yield UnknownToolName rather than failing translation.
func ToolNameForResult(req canonical.CompletionRequest, toolUseID string) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != canonical.RoleAssistant {
			continue
		}
		for _, b := range m.Content {
			if b.Type == canonical.BlockToolUse && b.ID == toolUseID {
				return b.Name
			}
		}
	}
	return UnknownToolName
}
