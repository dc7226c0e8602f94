package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"redactgw/internal/policy"
	"redactgw/internal/provider"
	"redactgw/internal/redact"
	"redactgw/internal/safety"
)

var hopByHopHeaders = []string{
	"Host", "Content-Length", "Connection", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization", "Te", "Trailers",
	"Transfer-Encoding", "Upgrade",
}

func removeHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func (s *Server) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	s.proxyRequest(w, r, provider.KindOpenAI, s.cfg.ProviderBaseURLs["openai"]+"/v1/chat/completions")
}

func (s *Server) handleClaude(w http.ResponseWriter, r *http.Request) {
	s.proxyRequest(w, r, provider.KindClaude, s.cfg.ProviderBaseURLs["claude"]+"/v1/messages")
}

func (s *Server) handleGemini(w http.ResponseWriter, r *http.Request) {
	model := mux.Vars(r)["model"]
	s.proxyRequest(w, r, provider.KindGemini, fmt.Sprintf("%s/v1beta/models/%s:generateContent", s.cfg.ProviderBaseURLs["gemini"], model))
}

// proxyRequest implements the orchestrator state machine:
//
//	PARSE -> REDACT_INPUTS -> FORWARD -> (non-streaming: DETOKENIZE_RESPONSE
//	-> POST_VERIFY? -> RESPOND) | (streaming: STREAM_LOOP -> FLUSH_TAIL -> END)
func (s *Server) proxyRequest(w http.ResponseWriter, r *http.Request, kind provider.Kind, upstreamURL string) {
	adapter, err := provider.ForKind(kind)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "cannot read body"})
		return
	}

	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
		return
	}

	rctx := requestContext(r, bodyContext{})
	isStreaming, _ := body["stream"].(bool)

	handle, err := s.redactInputs(r.Context(), adapter, body, rctx)
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	rewritten, err := json.Marshal(body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.UpstreamTimeoutSeconds)*time.Second)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(rewritten))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
		return
	}
	upstreamReq.Header = r.Header.Clone()
	removeHopByHop(upstreamReq.Header)
	upstreamReq.Header.Set("Content-Type", "application/json")
	upstreamReq.ContentLength = int64(len(rewritten))

	resp, err := s.transport.RoundTrip(upstreamReq)
	if err != nil {
		status := http.StatusBadGateway
		if ctx.Err() != nil {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, map[string]any{"ok": false, "error": "upstream unreachable"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		removeHopByHop(resp.Header)
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	if isStreaming {
		s.streamLoop(w, resp, kind, handle)
		return
	}

	s.detokenizeResponse(w, resp, adapter, handle, rctx)
}

// redactInputs extracts every message's text via adapter, runs the Redact
// Pipeline over each non-empty one, and injects the sanitized text back
// into body. It returns the handle from the last non-empty message, which
// is the active handle for response detokenization.
func (s *Server) redactInputs(ctx context.Context, adapter provider.Adapter, body map[string]any, rctx policy.Context) (string, error) {
	messages, err := adapter.ExtractMessages(body)
	if err != nil {
		return "", err
	}

	var activeHandle string
	sanitized := make([]provider.Message, 0, len(messages))
	for _, m := range messages {
		if m.Text == "" {
			sanitized = append(sanitized, m)
			continue
		}
		result, err := s.redactor.Redact(ctx, m.Text, rctx)
		if err != nil {
			return "", err
		}
		sanitized = append(sanitized, provider.Message{Text: result.Sanitized, Index: m.Index})
		activeHandle = result.Handle
	}

	if _, err := adapter.InjectMessages(body, sanitized); err != nil {
		return "", err
	}
	return activeHandle, nil
}

// detokenizeResponse handles the non-streaming path: decode the upstream
// JSON body, detokenize the reply text with the {pii, ops_sensitive}
// allow-list, run the optional post-verify safety annotation, and respond.
func (s *Server) detokenizeResponse(w http.ResponseWriter, resp *http.Response, adapter provider.Adapter, handle string, rctx policy.Context) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "upstream read failed"})
		return
	}

	var respBody map[string]any
	if err := json.Unmarshal(data, &respBody); err != nil {
		// Not JSON (unexpected for these providers) - pass through verbatim.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	if handle != "" {
		if text, ok := adapter.ExtractResponseText(respBody); ok {
			// Response restoration runs as the internal proxy caller, not
			// whatever the request carried in x-mcp-caller. Matches
			// streamLoop, which restores through the TokenMap with no
			// caller check at all.
			internalCtx := rctx
			internalCtx.Caller = s.cfg.InternalProxyCaller
			restored, err := s.detoker.Detokenize(context.Background(), text, handle,
				[]redact.Category{redact.CategoryPII, redact.CategoryOpsSensitive}, internalCtx)
			if err == nil {
				if s.cfg.PostVerifyEnabled && s.safety != nil {
					restored = s.safety.Annotate(restored, safety.ModeWarning)
				}
				respBody = adapter.InjectResponseText(respBody, restored)
			}
		}
	}

	writeJSON(w, http.StatusOK, respBody)
}
