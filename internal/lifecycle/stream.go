package lifecycle

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
	"github.com/NICxKMS/chat-gateway/internal/provider"
	"github.com/NICxKMS/chat-gateway/internal/stream"
)

// inactivityCheckPeriod is how often the inactivity ticker fires to compare
// against lastActivity; it's independent of (and coarser than) the
// heartbeat interval itself.
const inactivityCheckPeriod = 60 * time.Second

// abortEvent is the payload of the typed `event: abort` SSE frame.
type abortEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// errorEvent is the payload of the typed `event: error` SSE frame, emitted
// when a provider fails mid-stream after response headers are already
// committed, so the failure can't be surfaced as an HTTP status anymore.
type errorEvent struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// PrepareStream validates and resolves req, and opens the upstream stream,
// all before any SSE bytes are written. Callers use the returned error (if
// any) to answer with a plain JSON error response; once this returns
// successfully, RunStream takes over and every subsequent failure must be
// reported as an SSE frame instead.
func (e *Engine) PrepareStream(ctx context.Context, req *provider.ChatRequest) (provider.Provider, <-chan provider.StreamChunk, string, error) {
	p, providerName, err := e.prepareRequest(req)
	if err != nil {
		return nil, nil, "", err
	}

	chunks, err := p.ChatCompletionStream(ctx, req)
	if err != nil {
		return nil, nil, "", mapProviderErr(err, providerName)
	}
	return p, chunks, providerName, nil
}

// RunStream drives the streaming completion path (§4.6 steps 2-9) once
// headers are ready to be written: it sets up the SSE writer, a heartbeat
// ticker, an inactivity ticker, the in-flight registration, and forwards
// chunks from the provider channel until a clean end, an abort, or a
// mid-stream provider error.
func (e *Engine) RunStream(w http.ResponseWriter, r *http.Request, req *provider.ChatRequest, providerName string, chunks <-chan provider.StreamChunk, headerRequestID string) error {
	requestID := DeriveRequestID(req.RequestID, headerRequestID)
	ctx, done := e.inFlight.Register(r.Context(), requestID)
	defer done()

	w.Header().Set("X-Request-ID", requestID)
	sw, err := stream.NewWriter(w)
	if err != nil {
		return err
	}

	heartbeat := time.NewTicker(e.heartbeatInterval)
	defer heartbeat.Stop()
	inactivityTicker := time.NewTicker(inactivityCheckPeriod)
	defer inactivityTicker.Stop()

	streamStart := time.Now()
	firstChunk := true
	lastActivity := time.Now()

	for {
		select {
		case <-ctx.Done():
			_ = sw.WriteEvent("abort", abortEvent{Type: "abort", Message: "request aborted"})
			return nil

		case <-heartbeat.C:
			if err := sw.WriteHeartbeat(); err != nil {
				return nil
			}

		case <-inactivityTicker.C:
			if time.Since(lastActivity) > e.inactivityTimeout {
				appErr := apperr.TimeoutError("stream inactivity timeout exceeded")
				_ = sw.WriteEvent("error", errorEvent{
					Code: string(appErr.Code), Message: appErr.Message, Status: appErr.StatusCode,
					Provider: providerName, Model: req.ModelName,
				})
				_ = sw.WriteDone()
				return nil
			}

		case chunk, ok := <-chunks:
			if !ok {
				_ = sw.WriteDone()
				return nil
			}

			lastActivity = time.Now()

			if firstChunk {
				e.logger.Debug("stream first chunk", zap.String("provider", providerName), zap.Duration("ttfb", time.Since(streamStart)))
				firstChunk = false
			}

			if chunk.Error != nil {
				appErr := mapProviderErr(chunk.Error, providerName)
				e.logger.Warn("provider stream error", zap.String("provider", providerName), zap.Error(chunk.Error))
				if ae, ok := apperr.As(appErr); ok {
					_ = sw.WriteEvent("error", errorEvent{
						Code: string(ae.Code), Message: ae.Message, Status: ae.StatusCode,
						Provider: providerName, Model: req.ModelName,
					})
				}
				_ = sw.WriteDone()
				return nil
			}

			if chunk.Done {
				_ = sw.WriteData(chunk)
				_ = sw.WriteDone()
				return nil
			}

			if err := sw.WriteData(chunk); err != nil {
				return nil
			}
		}
	}
}
