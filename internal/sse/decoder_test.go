package sse

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_BasicDataEvents(t *testing.T) {
	raw := "data: {\"a\":1}\n\ndata: {\"a\":2}\n\ndata: [DONE]\n\n"
	d := NewDecoder(strings.NewReader(raw), 0)
	ctx := context.Background()

	ev, err := d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, `{"a":1}`, ev.Data)

	ev, err = d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, ev.Data)

	ev, err = d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, DoneData, ev.Data)
}

func TestDecoder_NamedEventsAndHeartbeats(t *testing.T) {
	raw := ":heartbeat\n\nevent: message_start\ndata: {\"id\":\"1\"}\n\n"
	d := NewDecoder(strings.NewReader(raw), 0)
	ctx := context.Background()

	ev, err := d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "message_start", ev.Type)
	assert.Equal(t, `{"id":"1"}`, ev.Data)
}

func TestDecoder_MultiLineData(t *testing.T) {
	raw := "data: line1\ndata: line2\n\n"
	d := NewDecoder(strings.NewReader(raw), 0)

	ev, err := d.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", ev.Data)
}

func TestDecoder_EOF(t *testing.T) {
	d := NewDecoder(strings.NewReader(""), 0)
	_, err := d.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
