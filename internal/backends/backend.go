// Package backends wraps each vendor's HTTP API behind a common adapter
// contract producing canonical requests, responses and stream events.
package backends

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/modelgate/modelgate/internal/apierr"
	"github.com/modelgate/modelgate/internal/canonical"
)

// Vendor identifiers accepted in backend configuration.
const (
	VendorAnthropic = "anthropic"
	VendorOpenAI    = "openai"
	VendorGemini    = "gemini"
	VendorOllama    = "ollama"
)

const defaultTimeout = 120 * time.Second

// Capabilities are the feature flags a backend declares to the router.
type Capabilities struct {
	Streaming bool `json:"streaming"`
	Tools     bool `json:"tools"`
	Images    bool `json:"images"`
}

// Config describes one configured backend instance.
type Config struct {
	Name         string            `json:"name" yaml:"name"`
	Vendor       string            `json:"vendor" yaml:"vendor"`
	APIKey       string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL      string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model        string            `json:"model,omitempty" yaml:"model,omitempty"`
	ModelMapping map[string]string `json:"model_mapping,omitempty" yaml:"model_mapping,omitempty"`
	Enabled      *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	TimeoutSec   int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// DisableStreaming forces the gateway onto the synthetic stream path
	// for this backend even when the vendor supports incremental output.
	DisableStreaming bool `json:"disable_streaming,omitempty" yaml:"disable_streaming,omitempty"`
}

// resolveModel picks the vendor model id for a requested canonical name:
// explicit mapping first, then the pinned model, then the name as given.
func resolveModel(cfg Config, requested string) string {
	if m, ok := cfg.ModelMapping[requested]; ok {
		return m
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return requested
}

// IsEnabled treats a missing enabled flag as true.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Backend is the adapter contract shared by all vendors. Complete performs
// one blocking request/response exchange. CompleteStream delivers canonical
// stream events on the returned channel; the channel is closed when the
// upstream stream ends or the context is cancelled.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	Complete(ctx context.Context, req *canonical.CompletionRequest) (*canonical.CompletionResponse, error)
	CompleteStream(ctx context.Context, req *canonical.CompletionRequest) (<-chan canonical.StreamEvent, error)
}

// New constructs the adapter for cfg.Vendor.
func New(cfg Config) (Backend, error) {
	switch cfg.Vendor {
	case VendorAnthropic:
		return NewAnthropic(cfg), nil
	case VendorOpenAI:
		return NewOpenAI(cfg), nil
	case VendorGemini:
		return NewGemini(cfg), nil
	case VendorOllama:
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend vendor %q", cfg.Vendor)
	}
}

// transport holds the HTTP plumbing shared by every adapter.
type transport struct {
	name   string
	client *http.Client
}

func newTransport(cfg Config) transport {
	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return transport{
		name:   cfg.Name,
		client: &http.Client{Timeout: timeout},
	}
}

// post sends a JSON body and returns the decompressed response body. A
// non-2xx status is surfaced as an UpstreamError carrying status and body.
func (t transport) post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error) {
	resp, err := t.do(ctx, url, headers, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, &apierr.UpstreamError{Backend: t.name, Err: fmt.Errorf("decompress response: %w", err)}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &apierr.UpstreamError{Backend: t.name, Err: fmt.Errorf("read response: %w", err)}
	}
	return data, nil
}

// postStream sends a JSON body and hands back the decompressed body reader
// for incremental consumption. The caller owns closing the returned closer.
func (t transport) postStream(ctx context.Context, url string, headers map[string]string, body []byte) (io.Reader, io.Closer, error) {
	resp, err := t.do(ctx, url, headers, body)
	if err != nil {
		return nil, nil, err
	}
	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, nil, &apierr.UpstreamError{Backend: t.name, Err: fmt.Errorf("decompress response: %w", err)}
	}
	return reader, resp.Body, nil
}

func (t transport) do(ctx context.Context, url string, headers map[string]string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apierr.UpstreamError{Backend: t.name, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		reader, derr := decompressReader(resp)
		if derr != nil {
			reader = resp.Body
		}
		data, _ := io.ReadAll(io.LimitReader(reader, 4096))
		return nil, &apierr.UpstreamError{
			Backend:    t.name,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	return resp, nil
}

// decompressReader unwraps gzip and brotli encoded response bodies.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// chunkParser re-translates one raw upstream line into canonical events.
type chunkParser func(line []byte) ([]canonical.StreamEvent, bool, error)

// scanStream pumps upstream lines through parse and delivers the resulting
// events on out, extracting SSE data payloads when sse is set. Malformed
// lines are skipped; the reader is always released on exit.
func scanStream(ctx context.Context, reader io.Reader, closer io.Closer, sse bool, parse chunkParser, out chan<- canonical.StreamEvent) {
	defer close(out)
	defer closer.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if sse {
			text := string(line)
			if !strings.HasPrefix(text, "data:") {
				continue
			}
			text = strings.TrimSpace(strings.TrimPrefix(text, "data:"))
			if text == "" || text == "[DONE]" {
				continue
			}
			line = []byte(text)
		}
		events, done, err := parse(line)
		if err != nil {
			// Skip malformed chunks rather than aborting the stream.
			continue
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if done {
			return
		}
	}
}
