// Package pipeline composes the Detector, Placeholder Codec, and TokenMap
// into the two operations the rest of the gateway calls directly: Redact
// (sanitize text, minting a handle) and Detokenize (restore an allowed
// subset of placeholders from a handle).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"redactgw/internal/audit"
	"redactgw/internal/placeholder"
	"redactgw/internal/policy"
	"redactgw/internal/redact"
	"redactgw/internal/tokenstore"
)

// ErrPayloadTooLarge is returned by Redact when the payload exceeds the
// configured maximum.
var ErrPayloadTooLarge = errors.New("pipeline: payload exceeds maximum size")

// ErrUnauthorizedDetokenize is returned by Detokenize when the caller is
// neither trusted nor the pre-authorized internal proxy.
var ErrUnauthorizedDetokenize = errors.New("pipeline: caller not authorized to detokenize")

// Redaction describes one span that was replaced, for the caller-facing
// /redact response and for audit counting. It never carries the raw value.
type Redaction struct {
	Category    redact.Category `json:"type"`
	Placeholder string          `json:"placeholder"`
	Start       int             `json:"start"`
	End         int             `json:"end"`
}

// RedactResult is the output of one Redact call.
type RedactResult struct {
	Sanitized  string
	Handle     string
	Redactions []Redaction
}

// RedactPipeline sanitizes text by replacing detected sensitive spans with
// deterministic placeholders, recording the mapping under a fresh TokenMap
// handle.
type RedactPipeline struct {
	Store         tokenstore.Backend
	ProcessSecret string
	MaxPayloadKB  int
	Audit         audit.Sink
}

// NewRedactPipeline wires a TokenMap backend, the process-wide HMAC secret,
// a payload size ceiling, and an audit sink into a ready pipeline.
func NewRedactPipeline(store tokenstore.Backend, processSecret string, maxPayloadKB int, sink audit.Sink) *RedactPipeline {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &RedactPipeline{Store: store, ProcessSecret: processSecret, MaxPayloadKB: maxPayloadKB, Audit: sink}
}

// Redact scans payload, replaces every detected span with its placeholder,
// and stores the placeholder→raw mapping under a new handle scoped to
// rctx.ConversationID. It enforces the configured max payload size before
// doing any work.
func (p *RedactPipeline) Redact(ctx context.Context, payload string, rctx policy.Context) (RedactResult, error) {
	if p.MaxPayloadKB > 0 && len(payload) > p.MaxPayloadKB*1024 {
		return RedactResult{}, ErrPayloadTooLarge
	}

	scopeSalt := placeholder.ScopeSalt(p.ProcessSecret, rctx.ConversationID)
	spans := redact.FindSpans(payload)

	handle, err := p.Store.Create(ctx, tokenstore.DefaultTTL)
	if err != nil {
		return RedactResult{}, fmt.Errorf("pipeline: create handle: %w", err)
	}

	var b strings.Builder
	redactions := make([]Redaction, 0, len(spans))
	counts := make(map[string]int)
	last := 0

	for _, span := range spans {
		raw := payload[span.Start:span.End]
		ph := placeholder.New(span.Category, raw, scopeSalt)

		if err := p.Store.Put(ctx, handle, ph, tokenstore.Entry{Raw: raw, Category: span.Category}); err != nil {
			return RedactResult{}, fmt.Errorf("pipeline: store placeholder: %w", err)
		}

		b.WriteString(payload[last:span.Start])
		b.WriteString(ph)
		last = span.End

		redactions = append(redactions, Redaction{Category: span.Category, Placeholder: ph, Start: span.Start, End: span.End})
		counts[string(span.Category)]++
	}
	b.WriteString(payload[last:])

	p.auditRedact(rctx, counts, handle)

	return RedactResult{Sanitized: b.String(), Handle: handle, Redactions: redactions}, nil
}

func (p *RedactPipeline) auditRedact(rctx policy.Context, counts map[string]int, handle string) {
	_ = p.Audit.Write(audit.Record{
		Caller:          rctx.Caller,
		Context:         map[string]string{"region": rctx.Region, "env": rctx.Env, "handle": handle},
		Action:          "redact",
		Decision:        "redacted",
		RedactionCounts: counts,
	})
}

// DetokenizePipeline restores a caller-authorized subset of placeholders
// from a handle's TokenMap back to their raw values.
type DetokenizePipeline struct {
	Store               tokenstore.Backend
	TrustedCallers      map[string]struct{}
	InternalProxyCaller string
	Audit               audit.Sink
}

// NewDetokenizePipeline wires a TokenMap backend, a trusted-caller allow
// list, and the pre-authorized internal-proxy caller identity.
func NewDetokenizePipeline(store tokenstore.Backend, trustedCallers []string, internalProxyCaller string, sink audit.Sink) *DetokenizePipeline {
	set := make(map[string]struct{}, len(trustedCallers))
	for _, c := range trustedCallers {
		set[c] = struct{}{}
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &DetokenizePipeline{
		Store:               store,
		TrustedCallers:      set,
		InternalProxyCaller: internalProxyCaller,
		Audit:               sink,
	}
}

// Detokenize replaces every recognized placeholder in payload whose stored
// category is in allowCategories with its raw value. secret is always
// filtered out of allowCategories, even if the caller passed it. Unknown,
// expired, or disallowed placeholders are left intact.
func (p *DetokenizePipeline) Detokenize(ctx context.Context, payload, handle string, allowCategories []redact.Category, rctx policy.Context) (string, error) {
	if !p.authorized(rctx.Caller) {
		return "", ErrUnauthorizedDetokenize
	}

	allowed := make(map[redact.Category]struct{}, len(allowCategories))
	for _, c := range allowCategories {
		if c == redact.CategorySecret {
			continue
		}
		allowed[c] = struct{}{}
	}

	entries, err := p.Store.All(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("pipeline: load handle: %w", err)
	}

	matches := placeholder.FindAll(payload)
	var b strings.Builder
	last := 0
	restoredCount := 0
	for _, m := range matches {
		entry, ok := entries[m.Text]
		b.WriteString(payload[last:m.Start])
		if ok {
			if _, allow := allowed[entry.Category]; allow {
				b.WriteString(entry.Raw)
				restoredCount++
				last = m.End
				continue
			}
		}
		b.WriteString(m.Text)
		last = m.End
	}
	b.WriteString(payload[last:])

	_ = p.Audit.Write(audit.Record{
		Caller:   rctx.Caller,
		Context:  map[string]string{"region": rctx.Region, "env": rctx.Env, "handle": handle},
		Action:   "detokenize",
		Decision: "restored",
	})

	return b.String(), nil
}

func (p *DetokenizePipeline) authorized(caller string) bool {
	if caller == p.InternalProxyCaller {
		return true
	}
	_, ok := p.TrustedCallers[caller]
	return ok
}
