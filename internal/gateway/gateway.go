// Package gateway wires the detection, policy, token-map, and provider
// packages into the HTTP surface: the JSON control endpoints (/classify,
// /redact, /detokenize, /route, /audit/query, /health) and the transparent
// proxy endpoints that forward to OpenAI, Claude, and Gemini.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/http2"

	"redactgw/internal/audit"
	"redactgw/internal/config"
	"redactgw/internal/metrics"
	"redactgw/internal/pipeline"
	"redactgw/internal/policy"
	"redactgw/internal/provider"
	"redactgw/internal/redact"
	"redactgw/internal/safety"
	"redactgw/internal/tokenstore"
)

// Server holds every dependency the gateway's HTTP handlers need.
type Server struct {
	cfg       *config.Config
	store     tokenstore.Backend
	policies  *policy.Store
	redactor  *pipeline.RedactPipeline
	detoker   *pipeline.DetokenizePipeline
	audit     audit.Sink
	metrics   *metrics.Metrics
	safety    *safety.Filter
	transport *http.Transport
	startTime time.Time
}

// New builds a Server from its dependencies. cfg.TokenBackend selects which
// TokenMap backend store implements; the caller constructs it since backend
// construction can fail (e.g. a bad Redis passphrase).
func New(cfg *config.Config, store tokenstore.Backend, policies *policy.Store, auditSink audit.Sink, m *metrics.Metrics, safetyFilter *safety.Filter) *Server {
	redactor := pipeline.NewRedactPipeline(store, cfg.ProcessSecret, cfg.MaxPayloadKB, auditSink)
	detoker := pipeline.NewDetokenizePipeline(store, cfg.TrustedCallers, cfg.InternalProxyCaller, auditSink)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Printf("[GATEWAY] http2 configure failed, falling back to h1: %v", err)
	}

	return &Server{
		cfg:       cfg,
		store:     store,
		policies:  policies,
		redactor:  redactor,
		detoker:   detoker,
		audit:     auditSink,
		metrics:   m,
		safety:    safetyFilter,
		transport: transport,
		startTime: time.Now(),
	}
}

// Router builds the full HTTP route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)
	r.HandleFunc("/redact", s.handleRedact).Methods(http.MethodPost)
	r.HandleFunc("/detokenize", s.handleDetokenize).Methods(http.MethodPost)
	r.HandleFunc("/route", s.handleRoute).Methods(http.MethodPost)
	r.Handle("/audit/query", s.authMiddleware(http.HandlerFunc(s.handleAuditQuery))).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/v1/chat/completions", s.handleOpenAI).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages", s.handleClaude).Methods(http.MethodPost)
	r.HandleFunc("/v1beta/models/{model}:generateContent", s.handleGemini).Methods(http.MethodPost)
	r.HandleFunc("/v1/models/{model}:generateContent", s.handleGemini).Methods(http.MethodPost)

	return r
}

// authMiddleware enforces a bearer token on sensitive endpoints when one is
// configured; an empty ManagementToken disables the check.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ManagementToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.cfg.ManagementToken)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestContext(r *http.Request, body bodyContext) policy.Context {
	ctx := policy.Context{
		Caller:         firstNonEmptyStr(r.Header.Get("x-mcp-caller"), body.Caller),
		Region:         firstNonEmptyStr(r.Header.Get("x-mcp-region"), body.Region),
		Env:            firstNonEmptyStr(r.Header.Get("x-mcp-env"), body.Env),
		ConversationID: firstNonEmptyStr(r.Header.Get("x-mcp-conversation-id"), body.ConversationID),
	}
	return ctx
}

// bodyContext is the subset of an inbound JSON body that may carry a
// request context inline, as an alternative to the x-mcp-* headers.
type bodyContext struct {
	Caller         string `json:"caller"`
	Region         string `json:"region"`
	Env            string `json:"env"`
	ConversationID string `json:"conversation_id"`
}

func firstNonEmptyStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func classifyText(text string) []CategoryResult {
	spans := redact.FindSpans(text)
	seen := make(map[redact.Category]bool)
	var out []CategoryResult
	for _, span := range spans {
		if seen[span.Category] {
			continue
		}
		seen[span.Category] = true
		out = append(out, CategoryResult{Type: span.Category, Confidence: confidenceFor(span.Category)})
	}

	ec := redact.ClassifyExportControl(text, 0)
	if ec.Controlled && !seen[redact.CategoryExportControl] {
		out = append(out, CategoryResult{Type: redact.CategoryExportControl, Confidence: ec.Confidence})
	}
	return out
}

func confidenceFor(c redact.Category) float64 {
	switch c {
	case redact.CategorySecret:
		return 0.95
	case redact.CategoryPII:
		return 0.85
	default:
		return 0.7
	}
}

// CategoryResult is one detected category with a confidence score, as
// returned by /classify.
type CategoryResult struct {
	Type       redact.Category `json:"type"`
	Confidence float64         `json:"confidence"`
}

func categoriesOf(results []CategoryResult) []redact.Category {
	out := make([]redact.Category, len(results))
	for i, r := range results {
		out[i] = r.Type
	}
	return out
}

func payloadToText(payload any) (string, error) {
	if s, ok := payload.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gateway: canonicalize payload: %w", err)
	}
	return string(data), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[GATEWAY] JSON encode error: %v", err)
	}
}
