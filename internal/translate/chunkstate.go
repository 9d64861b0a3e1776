package translate

import "github.com/modelgate/modelgate/internal/canonical"

// ChunkState tracks live-stream translation progress across upstream chunks
// so that partial tool-call arguments accumulate under a stable zero-based
// block index. One ChunkState serves exactly one upstream connection.
type ChunkState struct {
	MessageStartSent bool
	Finished         bool

	MessageID   string
	Model       string
	InputTokens int

	nextIndex int
	blocks    map[int]*blockState

	// vendor tool-call identity → canonical block index
	toolByID    map[string]int
	toolByIndex map[int]int

	textIndex int
}

type blockState struct {
	blockType string
	open      bool
}

// NewChunkState builds the per-connection translation state.
func NewChunkState() *ChunkState {
	return &ChunkState{
		blocks:      make(map[int]*blockState),
		toolByID:    make(map[string]int),
		toolByIndex: make(map[int]int),
		textIndex:   -1,
	}
}

// openTextBlock returns the text block index, emitting a content_block_start
// the first time.
func (st *ChunkState) openTextBlock(events []canonical.StreamEvent) ([]canonical.StreamEvent, int) {
	if st.textIndex >= 0 {
		return events, st.textIndex
	}
	idx := st.nextIndex
	st.nextIndex++
	st.textIndex = idx
	st.blocks[idx] = &blockState{blockType: canonical.BlockText, open: true}

	block := canonical.TextBlock("")
	events = append(events, canonical.StreamEvent{
		Type:  canonical.EventContentBlockStart,
		Index: idx,
		Block: &block,
	})
	return events, idx
}

// openToolBlock allocates a block index for a tool call keyed by vendor id
// and/or vendor index, emitting content_block_start on first sight.
func (st *ChunkState) openToolBlock(events []canonical.StreamEvent, vendorID string, vendorIndex int, name string) ([]canonical.StreamEvent, int) {
	if vendorID != "" {
		if idx, ok := st.toolByID[vendorID]; ok {
			return events, idx
		}
	}
	if idx, ok := st.toolByIndex[vendorIndex]; ok && vendorID == "" {
		return events, idx
	}

	idx := st.nextIndex
	st.nextIndex++
	st.blocks[idx] = &blockState{blockType: canonical.BlockToolUse, open: true}
	if vendorID != "" {
		st.toolByID[vendorID] = idx
	}
	st.toolByIndex[vendorIndex] = idx

	block := canonical.ToolUseBlock(vendorID, name, nil)
	events = append(events, canonical.StreamEvent{
		Type:  canonical.EventContentBlockStart,
		Index: idx,
		Block: &block,
	})
	return events, idx
}

// finish closes every open block and emits the terminal message_delta and
// message_stop pair. Further chunks are ignored by callers once Finished.
func (st *ChunkState) finish(events []canonical.StreamEvent, reason canonical.FinishReason, usage *canonical.Usage) []canonical.StreamEvent {
	if st.Finished {
		return events
	}
	st.Finished = true

	for idx := 0; idx < st.nextIndex; idx++ {
		if b, ok := st.blocks[idx]; ok && b.open {
			b.open = false
			events = append(events, canonical.StreamEvent{
				Type:  canonical.EventContentBlockStop,
				Index: idx,
			})
		}
	}

	events = append(events, canonical.StreamEvent{
		Type:         canonical.EventMessageDelta,
		FinishReason: reason,
		Usage:        usage,
	})
	events = append(events, canonical.StreamEvent{Type: canonical.EventMessageStop})
	return events
}

// start emits the message_start envelope once, with empty content and a
// zero-output usage placeholder.
func (st *ChunkState) start(events []canonical.StreamEvent) []canonical.StreamEvent {
	if st.MessageStartSent {
		return events
	}
	st.MessageStartSent = true
	events = append(events, canonical.StreamEvent{
		Type: canonical.EventMessageStart,
		Message: &canonical.CompletionResponse{
			ID:      st.MessageID,
			Role:    canonical.RoleAssistant,
			Content: []canonical.ContentBlock{},
			Model:   st.Model,
			Usage:   &canonical.Usage{InputTokens: st.InputTokens},
		},
	})
	return events
}
