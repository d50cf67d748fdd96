package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseDataFrames splits the raw SSE output into individual "data:" payloads.
func parseDataFrames(body string) []string {
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestWriter_SetsSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	_, err := NewWriter(w)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}

func TestWriter_WriteDataFramesAndDone(t *testing.T) {
	w := httptest.NewRecorder()
	sw, err := NewWriter(w)
	require.NoError(t, err)

	require.NoError(t, sw.WriteData(map[string]string{"content": "Hello"}))
	require.NoError(t, sw.WriteData(map[string]string{"content": " world"}))
	require.NoError(t, sw.WriteDone())

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	frames := parseDataFrames(body)
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"content":"Hello"}`, frames[0])
	assert.JSONEq(t, `{"content":" world"}`, frames[1])
	assert.Equal(t, "[DONE]", frames[2])
}

func TestWriter_WriteEventAbort(t *testing.T) {
	w := httptest.NewRecorder()
	sw, err := NewWriter(w)
	require.NoError(t, err)

	require.NoError(t, sw.WriteEvent("abort", map[string]string{"type": "abort", "message": "client disconnected"}))

	body := w.Body.String()
	assert.Contains(t, body, "event: abort\n")
	assert.Contains(t, body, `"type":"abort"`)
}

func TestWriter_WriteHeartbeat(t *testing.T) {
	w := httptest.NewRecorder()
	sw, err := NewWriter(w)
	require.NoError(t, err)

	require.NoError(t, sw.WriteHeartbeat())
	assert.Equal(t, ":heartbeat\n\n", w.Body.String())
}

func TestWriter_RejectsNonFlushingWriter(t *testing.T) {
	_, err := NewWriter(&nonFlushingWriter{header: make(http.Header)})
	assert.Error(t, err)
}

// nonFlushingWriter implements http.ResponseWriter only — no Flush method —
// so NewWriter's type assertion to http.Flusher fails.
type nonFlushingWriter struct {
	header http.Header
}

func (n *nonFlushingWriter) Header() http.Header       { return n.header }
func (n *nonFlushingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (n *nonFlushingWriter) WriteHeader(int)           {}
