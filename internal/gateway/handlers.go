package gateway

import (
	"encoding/json"
	"net/http"

	"redactgw/internal/audit"
	"redactgw/internal/pipeline"
	"redactgw/internal/policy"
	"redactgw/internal/redact"
)

type classifyRequest struct {
	Payload any          `json:"payload"`
	Context *bodyContext `json:"context"`
}

type classifyResponse struct {
	OK              bool             `json:"ok"`
	Categories      []CategoryResult `json:"categories"`
	SuggestedAction string           `json:"suggested_action"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
		return
	}
	text, err := payloadToText(req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	rctx := requestContext(r, derefBodyContext(req.Context))
	cats := classifyText(text)
	decision := policy.Decide(s.policies.Current(), categoriesOf(cats), rctx)

	_ = s.audit.Write(audit.Record{
		Caller:        rctx.Caller,
		Context:       contextMap(rctx),
		Action:        "classify",
		Categories:    categoryStrings(cats),
		Decision:      decision.Action,
		PolicyVersion: decision.PolicyVersion,
	})

	writeJSON(w, http.StatusOK, classifyResponse{OK: true, Categories: cats, SuggestedAction: decision.Action})
}

type redactRequest struct {
	Payload any          `json:"payload"`
	Context *bodyContext `json:"context"`
}

type redactResponse struct {
	OK               bool                  `json:"ok"`
	SanitizedPayload string                `json:"sanitized_payload"`
	TokenMapHandle   string                `json:"token_map_handle"`
	Redactions       []pipeline.Redaction  `json:"redactions"`
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
		return
	}
	text, err := payloadToText(req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	rctx := requestContext(r, derefBodyContext(req.Context))
	result, err := s.redactor.Redact(r.Context(), text, rctx)
	if err == pipeline.ErrPayloadTooLarge {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, redactResponse{
		OK:               true,
		SanitizedPayload: result.Sanitized,
		TokenMapHandle:   result.Handle,
		Redactions:       result.Redactions,
	})
}

type detokenizeRequest struct {
	Payload         any          `json:"payload"`
	TokenMapHandle  string       `json:"token_map_handle"`
	AllowCategories []string     `json:"allow_categories"`
	Context         *bodyContext `json:"context"`
}

type detokenizeResponse struct {
	OK              bool   `json:"ok"`
	RestoredPayload string `json:"restored_payload"`
}

func (s *Server) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	var req detokenizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
		return
	}
	text, err := payloadToText(req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	rctx := requestContext(r, derefBodyContext(req.Context))
	allow := make([]redact.Category, len(req.AllowCategories))
	for i, c := range req.AllowCategories {
		allow[i] = redact.Category(c)
	}

	restored, err := s.detoker.Detokenize(r.Context(), text, req.TokenMapHandle, allow, rctx)
	if err == pipeline.ErrUnauthorizedDetokenize {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, detokenizeResponse{OK: true, RestoredPayload: restored})
}

type routeRequest struct {
	ModelRequest map[string]any `json:"model_request"`
	Context      *bodyContext   `json:"context"`
}

type executionStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type executionPlan struct {
	Target string          `json:"target"`
	Pre    []executionStep `json:"pre"`
	Post   []executionStep `json:"post"`
}

type routeResponse struct {
	OK       bool            `json:"ok"`
	Plan     *executionPlan  `json:"plan,omitempty"`
	Decision policy.Decision `json:"decision"`
	Errors   []string        `json:"errors,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
		return
	}
	text, _ := req.ModelRequest["text"].(string)

	rctx := requestContext(r, derefBodyContext(req.Context))
	cats := classifyText(text)
	decision := policy.Decide(s.policies.Current(), categoriesOf(cats), rctx)

	resp := routeResponse{Decision: decision}
	if decision.Action == "block" {
		resp.OK = false
		resp.Errors = []string{"blocked by policy"}
		_ = s.audit.Write(audit.Record{
			Caller: rctx.Caller, Context: contextMap(rctx), Action: "route",
			Categories: categoryStrings(cats), Decision: decision.Action, PolicyVersion: decision.PolicyVersion,
		})
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var pre, post []executionStep
	if decision.RequiresRedaction {
		pre = append(pre, executionStep{Tool: "redact", Args: map[string]any{}})
		if decision.AllowDetokenize {
			post = append(post, executionStep{Tool: "detokenize", Args: map[string]any{"allow_categories": decision.AllowedCategories}})
		}
	}
	post = append(post, executionStep{Tool: "output_safety", Args: map[string]any{}})

	resp.OK = true
	resp.Plan = &executionPlan{Target: decision.Target, Pre: pre, Post: post}

	_ = s.audit.Write(audit.Record{
		Caller: rctx.Caller, Context: contextMap(rctx), Action: "route",
		Categories: categoryStrings(cats), Decision: decision.Action, Target: decision.Target, PolicyVersion: decision.PolicyVersion,
	})

	writeJSON(w, http.StatusOK, resp)
}

type auditQueryRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	var req auditQueryRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Limit <= 0 {
		req.Limit = 100
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": s.audit.Query(req.Limit)})
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	TokenBackend  string `json:"token_backend"`
	PolicyVersion string `json:"policy_version"`
	SIEMEnabled   bool   `json:"siem_enabled"`
}

// gatewayVersion is the reported /health version string.
const gatewayVersion = "1.0.0"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	doc := s.policies.Current()
	resp := healthResponse{
		Status:        "healthy",
		Version:       gatewayVersion,
		TokenBackend:  s.cfg.TokenBackend,
		PolicyVersion: doc.Version,
		SIEMEnabled:   false,
	}
	writeJSON(w, http.StatusOK, resp)
}

func derefBodyContext(b *bodyContext) bodyContext {
	if b == nil {
		return bodyContext{}
	}
	return *b
}

func contextMap(ctx policy.Context) map[string]string {
	return map[string]string{
		"caller":          ctx.Caller,
		"region":          ctx.Region,
		"env":             ctx.Env,
		"conversation_id": ctx.ConversationID,
	}
}

func categoryStrings(cats []CategoryResult) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c.Type)
	}
	return out
}
