package sse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const turnStream = "event: message_start\ndata: {}\n\n" +
	"event: content_block_start\ndata: {\"index\":0}\n\n" +
	"event: content_block_delta\ndata: {\"delta\":{\"text\":\"pong\"}}\n\n" +
	"event: content_block_stop\ndata: {\"index\":0}\n\n" +
	"event: message_stop\ndata: {}\n\n"

func TestParser_FullTurn(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte(turnStream))
	require.Len(t, events, 5)

	kinds := []Kind{
		KindMessageStart,
		KindContentBlockStart,
		KindContentBlockDelta,
		KindContentBlockStop,
		KindMessageStop,
	}
	for i, want := range kinds {
		assert.Equal(t, want, events[i].Kind)
	}
	delta := events[2].PayloadMap()
	require.NotNil(t, delta)
	inner, ok := delta["delta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pong", inner["text"])
}

func TestParser_SplitAtArbitraryBoundaries(t *testing.T) {
	whole := NewParser().Feed([]byte(turnStream))

	for _, size := range []int{1, 2, 3, 7, 16} {
		p := NewParser()
		var split []Event
		data := []byte(turnStream)
		for start := 0; start < len(data); start += size {
			end := start + size
			if end > len(data) {
				end = len(data)
			}
			split = append(split, p.Feed(data[start:end])...)
		}
		require.Len(t, split, len(whole), "chunk size %d", size)
		for i := range whole {
			assert.Equal(t, whole[i].Kind, split[i].Kind, "chunk size %d", size)
			assert.Equal(t, whole[i].Raw, split[i].Raw, "chunk size %d", size)
		}
	}
}

func TestParser_CRLFAndComments(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte(": keep-alive\r\nevent: ping\r\ndata: {}\r\n\r\n"))
	require.Len(t, events, 1)
	assert.Equal(t, KindPing, events[0].Kind)
}

func TestParser_MultiDataJoinedWithLF(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: first\ndata: second\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "first\nsecond", events[0].Raw)
	assert.Equal(t, "first\nsecond", events[0].Payload)
}

func TestParser_DefaultEventName(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: {\"x\":1}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, KindCustom, events[0].Kind)
	assert.Equal(t, "message", events[0].Name)
}

func TestParser_MalformedJSONKeptAsString(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: {not json\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "{not json", events[0].Payload)
	assert.Equal(t, int64(1), p.Stats().ErrorCount)
}

func TestParser_Retry(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("retry: 1500\ndata: x\n\n"))
	require.Len(t, events, 1)
	assert.True(t, events[0].HasRetry)
	assert.Equal(t, 1500*time.Millisecond, events[0].Retry)

	events = p.Feed([]byte("retry: nope\ndata: y\n\n"))
	require.Len(t, events, 1)
	assert.False(t, events[0].HasRetry)
}

func TestParser_UnknownFieldsIgnored(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("unknown: value\nevent: message_stop\ndata: {}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, KindMessageStop, events[0].Kind)
}

func TestParser_PartialLineRetained(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.Feed([]byte("event: message_st")))
	assert.Empty(t, p.Feed([]byte("op\ndata: {}\n")))
	events := p.Feed([]byte("\n"))
	require.Len(t, events, 1)
	assert.Equal(t, KindMessageStop, events[0].Kind)
}

func TestParser_BlankLineWithoutPendingEmitsNothing(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.Feed([]byte("\n\n\n")))
	assert.Equal(t, int64(0), p.Stats().EventsProduced)
}

func TestParser_Reset(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("event: message_start\ndata: {"))
	p.Reset()
	events := p.Feed([]byte("event: ping\ndata: {}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, KindPing, events[0].Kind)
}

func TestParser_Stats(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(turnStream))
	stats := p.Stats()
	assert.Equal(t, int64(len(turnStream)), stats.BytesConsumed)
	assert.Equal(t, int64(5), stats.EventsProduced)
	assert.False(t, stats.FirstEventAt.IsZero())
	assert.False(t, stats.LastEventAt.Before(stats.FirstEventAt))
}
