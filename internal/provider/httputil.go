package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
)

// mapProviderHTTPError reads an upstream error body (best-effort, since
// error payload shapes vary by vendor) and classifies it into a typed
// apperr.Error via the shared upstream-error mapper.
func mapProviderHTTPError(providerName string, resp *http.Response) error {
	var errBody map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&errBody)

	message := fmt.Sprintf("%s returned status %d", providerName, resp.StatusCode)
	if errBody != nil {
		if b, err := json.Marshal(errBody); err == nil {
			message = string(b)
		}
	}

	return apperr.ClassifyUpstreamError(providerName, message, resp.StatusCode)
}

// sendChunk sends chunk on ch, returning false (and leaving the channel
// unsent) if ctx is cancelled first. Every streaming adapter uses this
// instead of a bare `ch <- chunk` so a disconnected client never leaves the
// adapter's goroutine blocked forever on an unbuffered channel.
func sendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendErr wraps err in a terminal, Done StreamChunk and sends it, silently
// giving up if ctx is cancelled first (the stream is ending either way).
func sendErr(ctx context.Context, ch chan<- StreamChunk, err error) {
	select {
	case ch <- StreamChunk{Done: true, Error: err}:
	case <-ctx.Done():
	}
}

// isCleanStreamEnd reports whether err from an sse.Decoder.Next call
// represents an ordinary end of stream rather than a failure worth
// surfacing to the client: EOF (upstream closed without a trailing blank
// line) or context cancellation (the client already disconnected, so
// there's nobody left to report an error to).
func isCleanStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
