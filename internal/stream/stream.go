// Package stream synthesizes incremental event streams from complete
// responses, for backends whose vendors have no native streaming output.
package stream

import (
	"github.com/modelgate/modelgate/internal/canonical"
)

// TextSliceSize is the number of characters carried by each synthetic
// text delta. The last slice of a block may be shorter.
const TextSliceSize = 10

// Synthesize converts one complete response into an ordered synthetic
// event stream: message_start, then per content block a start/delta/stop
// triplet, then message_delta with the real finish reason and output
// token count, then message_stop. Concatenating all text deltas of a
// block reproduces the block's text exactly.
func Synthesize(resp *canonical.CompletionResponse) []canonical.StreamEvent {
	events := make([]canonical.StreamEvent, 0, 8)

	head := &canonical.CompletionResponse{
		ID:      resp.ID,
		Role:    resp.Role,
		Model:   resp.Model,
		Content: []canonical.ContentBlock{},
		Usage:   &canonical.Usage{},
	}
	if resp.Usage != nil {
		head.Usage.InputTokens = resp.Usage.InputTokens
	}
	events = append(events, canonical.StreamEvent{
		Type:    canonical.EventMessageStart,
		Message: head,
	})

	for i, block := range resp.Content {
		b := block
		switch b.Type {
		case canonical.BlockText:
			open := b
			open.Text = ""
			events = append(events, canonical.StreamEvent{
				Type:  canonical.EventContentBlockStart,
				Index: i,
				Block: &open,
			})
			for _, slice := range sliceText(b.Text, TextSliceSize) {
				events = append(events, canonical.StreamEvent{
					Type:  canonical.EventTextDelta,
					Index: i,
					Text:  slice,
				})
			}
		case canonical.BlockToolUse:
			open := b
			open.Input = nil
			events = append(events, canonical.StreamEvent{
				Type:  canonical.EventContentBlockStart,
				Index: i,
				Block: &open,
			})
			if len(b.Input) > 0 {
				events = append(events, canonical.StreamEvent{
					Type:        canonical.EventToolArgsDelta,
					Index:       i,
					PartialJSON: string(b.Input),
				})
			}
		default:
			events = append(events, canonical.StreamEvent{
				Type:  canonical.EventContentBlockStart,
				Index: i,
				Block: &b,
			})
		}
		events = append(events, canonical.StreamEvent{
			Type:  canonical.EventContentBlockStop,
			Index: i,
		})
	}

	tail := &canonical.Usage{}
	if resp.Usage != nil {
		tail.OutputTokens = resp.Usage.OutputTokens
	}
	events = append(events, canonical.StreamEvent{
		Type:         canonical.EventMessageDelta,
		FinishReason: resp.FinishReason,
		Usage:        tail,
	})
	events = append(events, canonical.StreamEvent{Type: canonical.EventMessageStop})
	return events
}

// sliceText splits s into rune-safe slices of at most size characters.
// An empty string yields zero slices.
func sliceText(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// Iterator walks a fixed event sequence one event at a time, so callers
// that consume live upstream streams and synthetic ones can share a
// single pull loop.
type Iterator struct {
	events []canonical.StreamEvent
	pos    int
}

func NewIterator(events []canonical.StreamEvent) *Iterator {
	return &Iterator{events: events}
}

// Next returns the next event, or ok=false once the sequence is drained.
func (it *Iterator) Next() (canonical.StreamEvent, bool) {
	if it.pos >= len(it.events) {
		return canonical.StreamEvent{}, false
	}
	ev := it.events[it.pos]
	it.pos++
	return ev, true
}
