package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/canonical"
)

func textResponse(text string) *canonical.CompletionResponse {
	return &canonical.CompletionResponse{
		ID:           "msg_1",
		Role:         canonical.RoleAssistant,
		Model:        "test-model",
		Content:      []canonical.ContentBlock{canonical.TextBlock(text)},
		FinishReason: canonical.FinishEndTurn,
		Usage:        &canonical.Usage{InputTokens: 10, OutputTokens: 4},
	}
}

func TestSynthesize_TextSlicing(t *testing.T) {
	events := Synthesize(textResponse("hello world"))

	var deltas []string
	for _, ev := range events {
		if ev.Type == canonical.EventTextDelta {
			deltas = append(deltas, ev.Text)
		}
	}
	assert.Equal(t, []string{"hello worl", "d"}, deltas)
	assert.Equal(t, "hello world", strings.Join(deltas, ""))
}

func TestSynthesize_EventOrder(t *testing.T) {
	events := Synthesize(textResponse("short"))

	var types []canonical.StreamEventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []canonical.StreamEventType{
		canonical.EventMessageStart,
		canonical.EventContentBlockStart,
		canonical.EventTextDelta,
		canonical.EventContentBlockStop,
		canonical.EventMessageDelta,
		canonical.EventMessageStop,
	}, types)
}

func TestSynthesize_HeadAndTailUsage(t *testing.T) {
	events := Synthesize(textResponse("hi"))

	head := events[0]
	require.NotNil(t, head.Message)
	assert.Equal(t, "msg_1", head.Message.ID)
	assert.Equal(t, "test-model", head.Message.Model)
	// the envelope carries empty content and input tokens only
	assert.Empty(t, head.Message.Content)
	assert.Equal(t, 10, head.Message.Usage.InputTokens)
	assert.Zero(t, head.Message.Usage.OutputTokens)

	tail := events[len(events)-2]
	assert.Equal(t, canonical.EventMessageDelta, tail.Type)
	assert.Equal(t, canonical.FinishEndTurn, tail.FinishReason)
	assert.Equal(t, 4, tail.Usage.OutputTokens)
}

func TestSynthesize_EmptyTextBlockHasNoDeltas(t *testing.T) {
	events := Synthesize(textResponse(""))

	for _, ev := range events {
		assert.NotEqual(t, canonical.EventTextDelta, ev.Type)
	}
	// start/stop still bracket the block
	assert.Equal(t, canonical.EventContentBlockStart, events[1].Type)
	assert.Equal(t, canonical.EventContentBlockStop, events[2].Type)
}

func TestSynthesize_RuneSafeSlicing(t *testing.T) {
	// 12 multibyte runes split into a slice of 10 and a slice of 2
	events := Synthesize(textResponse("ありがとうありがとうあり"))
	var deltas []string
	for _, ev := range events {
		if ev.Type == canonical.EventTextDelta {
			deltas = append(deltas, ev.Text)
		}
	}
	require.Len(t, deltas, 2)
	assert.Equal(t, 10, len([]rune(deltas[0])))
	assert.Equal(t, 2, len([]rune(deltas[1])))
	assert.Equal(t, "ありがとうありがとうあり", strings.Join(deltas, ""))
}

func TestSynthesize_ToolUseBlock(t *testing.T) {
	resp := &canonical.CompletionResponse{
		ID:   "msg_1",
		Role: canonical.RoleAssistant,
		Content: []canonical.ContentBlock{
			canonical.TextBlock("calling"),
			canonical.ToolUseBlock("toolu_1", "get_weather", json.RawMessage(`{"city":"Oslo"}`)),
		},
		FinishReason: canonical.FinishToolUse,
		Usage:        &canonical.Usage{InputTokens: 1, OutputTokens: 1},
	}

	events := Synthesize(resp)

	var toolStart, argsDelta *canonical.StreamEvent
	for i := range events {
		ev := &events[i]
		if ev.Type == canonical.EventContentBlockStart && ev.Index == 1 {
			toolStart = ev
		}
		if ev.Type == canonical.EventToolArgsDelta {
			argsDelta = ev
		}
	}

	require.NotNil(t, toolStart)
	assert.Equal(t, "get_weather", toolStart.Block.Name)
	// the opening block is empty; arguments arrive as a delta
	assert.Empty(t, toolStart.Block.Input)

	require.NotNil(t, argsDelta)
	assert.Equal(t, 1, argsDelta.Index)
	assert.JSONEq(t, `{"city":"Oslo"}`, argsDelta.PartialJSON)
}

func TestIterator(t *testing.T) {
	events := Synthesize(textResponse("abc"))
	it := NewIterator(events)

	var count int
	for {
		ev, ok := it.Next()
		if !ok {
			break
		}
		assert.Equal(t, events[count].Type, ev.Type)
		count++
	}
	assert.Equal(t, len(events), count)

	_, ok := it.Next()
	assert.False(t, ok)
}
