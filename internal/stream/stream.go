// Package stream implements the downstream half of the SSE codec: writing
// StandardChunk JSON, heartbeats, and typed events (abort/error) to an
// http.ResponseWriter, flushing after every frame so clients see tokens as
// they arrive instead of waiting for Go's HTTP buffer to fill.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer wraps an http.ResponseWriter that supports flushing and exposes
// one method per SSE frame shape the gateway emits. Unlike an
// OpenAI-specific wire shape, Writer stays agnostic of its payload type —
// callers pass the StandardChunk (or error envelope) they want serialized,
// and Writer only owns framing and flushing.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the SSE response headers and returns a Writer, or an error
// if w doesn't support flushing (http.Flusher). Headers must be set before
// the first write — once the body starts, they're locked in.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("stream: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteData writes one `data: <json>\n\n` frame and flushes it immediately.
func (s *Writer) WriteData(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshaling data frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("stream: writing data frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteEvent writes a named `event: <name>\ndata: <json>\n\n` frame, used
// for the typed "abort" and "error" terminal events.
func (s *Writer) WriteEvent(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshaling %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return fmt.Errorf("stream: writing %s event: %w", name, err)
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat writes a comment-line keep-alive frame. Comment frames
// never fire a client's onmessage handler but keep intermediate proxies
// from timing out an idle connection.
func (s *Writer) WriteHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ":heartbeat\n\n"); err != nil {
		return fmt.Errorf("stream: writing heartbeat: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteDone writes the terminal `data: [DONE]\n\n` sentinel.
func (s *Writer) WriteDone() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("stream: writing done marker: %w", err)
	}
	s.flusher.Flush()
	return nil
}
