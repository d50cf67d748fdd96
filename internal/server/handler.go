package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
	"github.com/NICxKMS/chat-gateway/internal/classify"
	"github.com/NICxKMS/chat-gateway/internal/provider"
)

// ---------------------------------------------------------------------------
// Shared response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the §7 user-visible error envelope.
type errorBody struct {
	Error struct {
		Code      string           `json:"code"`
		Message   string           `json:"message"`
		Status    int              `json:"status"`
		Details   []apperr.Detail  `json:"details,omitempty"`
		Timestamp time.Time        `json:"timestamp"`
		Path      string           `json:"path"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.InternalError(err.Error(), err)
	}

	s.logger.Warn("request error",
		zap.String("code", string(appErr.Code)),
		zap.Int("status", appErr.StatusCode),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.String("remote", r.RemoteAddr),
		zap.Error(appErr),
	)

	var body errorBody
	body.Error.Code = string(appErr.Code)
	body.Error.Message = appErr.Message
	body.Error.Status = appErr.StatusCode
	body.Error.Details = appErr.Details
	body.Error.Timestamp = time.Now()
	body.Error.Path = r.URL.Path

	writeJSON(w, appErr.StatusCode, body)
}

// ---------------------------------------------------------------------------
// Health / status / version
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "version": version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now()})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version,
		"apiVersion": "v1",
		"timestamp":  time.Now(),
	})
}

// ---------------------------------------------------------------------------
// Models
// ---------------------------------------------------------------------------

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	descriptors := s.engine.Registry.GetProvidersInfo(r.Context())

	models := make(map[string]map[string]any, len(descriptors))
	providers := make([]string, 0, len(descriptors))
	for name, desc := range descriptors {
		providers = append(providers, name)
		models[name] = map[string]any{
			"models":       desc.Models,
			"defaultModel": desc.DefaultModel,
		}
	}

	defaultProvider := s.engine.Registry.DefaultProviderName()
	defaultModel := ""
	if desc, ok := descriptors[defaultProvider]; ok {
		defaultModel = desc.DefaultModel
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models":    models,
		"providers": providers,
		"default":   map[string]string{"provider": defaultProvider, "model": defaultModel},
	})
}

func (s *Server) handleModelsByProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "providerName")
	descriptors := s.engine.Registry.GetProvidersInfo(r.Context())

	desc, ok := descriptors[name]
	if !ok {
		s.writeError(w, r, apperr.NotFoundError(fmt.Sprintf("provider %q not found", name)))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// fallbackCategories is the hardcoded category list used when the external
// classification service is disabled or unavailable.
var fallbackCategories = []string{"chat", "vision", "reasoning", "general"}

func (s *Server) handleModelCategories(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		writeJSON(w, http.StatusOK, map[string]any{"categories": fallbackCategories, "source": "fallback"})
		return
	}

	resp, err := s.classifyFull(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"categories": fallbackCategories, "source": "fallback"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": resp.AvailableProperties, "source": "classifier"})
}

func (s *Server) handleModelProviders(w http.ResponseWriter, r *http.Request) {
	descriptors := s.engine.Registry.GetProvidersInfo(r.Context())
	writeJSON(w, http.StatusOK, descriptors)
}

// classifyFull builds the flattened model list (C7 ModelList construction)
// and runs it through the durable two-tier cache (C8) before hitting the
// classifier RPC.
func (s *Server) classifyFull(ctx context.Context) (*classify.ClassifiedModelResponse, error) {
	descriptors := s.engine.Registry.GetProvidersInfo(ctx)
	defaultProvider := s.engine.Registry.DefaultProviderName()
	defaultModel := ""
	if desc, ok := descriptors[defaultProvider]; ok {
		defaultModel = desc.DefaultModel
	}
	list := classify.BuildModelList(descriptors, defaultProvider, defaultModel)

	fetch := func(ctx context.Context) (any, error) {
		return s.classifier.ClassifyModels(ctx, list)
	}

	if s.durableCache == nil || !s.durableCache.IsEnabled() {
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return val.(*classify.ClassifiedModelResponse), nil
	}

	val, _, err := s.durableCache.GetOrRefresh(ctx, "", "models:classified", fetch)
	if err != nil {
		return nil, err
	}
	return coerceClassifiedResponse(val)
}

// coerceClassifiedResponse round-trips a cache hit (which decodes as
// map[string]any, since it came back through encoding/json as `any`) into
// the concrete response type.
func coerceClassifiedResponse(val any) (*classify.ClassifiedModelResponse, error) {
	if resp, ok := val.(*classify.ClassifiedModelResponse); ok {
		return resp, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, apperr.InternalError("re-encoding cached classification response", err)
	}
	var resp classify.ClassifiedModelResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, apperr.InternalError("decoding cached classification response", err)
	}
	return &resp, nil
}

func (s *Server) handleModelsClassified(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		s.writeError(w, r, &apperr.Error{Name: "NotImplementedError", Code: "not_implemented", StatusCode: http.StatusNotImplemented, Message: "classification service is disabled"})
		return
	}

	resp, err := s.classifyFull(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModelsClassifiedCriteria(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		s.writeError(w, r, &apperr.Error{Name: "NotImplementedError", Code: "not_implemented", StatusCode: http.StatusNotImplemented, Message: "classification service is disabled"})
		return
	}

	if r.URL.RawQuery != "" {
		s.writeError(w, r, apperr.ValidationError("classification criteria must be sent as a JSON request body, not query parameters"))
		return
	}

	var criteria classify.ClassificationCriteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		s.writeError(w, r, apperr.ValidationError("invalid classification criteria body: "+err.Error()))
		return
	}
	if len(criteria.Properties) == 0 {
		s.writeError(w, r, apperr.ValidationError("criteria.properties must be non-empty"))
		return
	}

	resp, err := s.classifier.ClassifyModelsWithCriteria(r.Context(), criteria)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Chat completions
// ---------------------------------------------------------------------------

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (*provider.ChatRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req provider.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apperr.ValidationError("invalid request body: " + err.Error())
	}
	return &req, nil
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, requestID, err := s.engine.Complete(r.Context(), req, r.Header.Get("X-Request-ID"))
	w.Header().Set("X-Request-ID", requestID)
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Code == apperr.CodeRequestAborted {
			writeJSON(w, appErr.StatusCode, map[string]string{"error": "Request aborted"})
			return
		}
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	_, chunks, providerName, err := s.engine.PrepareStream(r.Context(), req)
	if err != nil {
		// Nothing has been written yet: answer with a plain JSON error.
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.RunStream(w, r, req, providerName, chunks, r.Header.Get("X-Request-ID")); err != nil {
		// Headers weren't flushed (e.g. the ResponseWriter doesn't support
		// flushing): still safe to answer as plain JSON.
		s.writeError(w, r, apperr.InternalError("starting stream", err))
	}
}

type stopRequest struct {
	RequestID string `json:"requestId"`
}

// handleChatStop is intentionally idempotent and silent about unknown IDs:
// it always answers 200, whether or not requestId was ever tracked.
func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.RequestID != "" {
		s.engine.Stop(req.RequestID)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleChatCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":  s.engine.Registry.GetProvidersInfo(r.Context()),
		"breakers":   s.breakers.All(),
		"cache":      s.respCache.Stats(),
		"uptime":     time.Since(s.startedAt).String(),
		"classifier": s.classifier != nil,
	})
}
