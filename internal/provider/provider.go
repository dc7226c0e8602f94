// Package provider adapts provider-specific request/response envelopes
// (OpenAI chat-completions, Anthropic messages, Google Gemini
// generateContent) to a common text-extraction/injection contract so the
// redact/detokenize pipelines never need to know which provider they are
// talking to.
package provider

import "fmt"

// Kind names a supported provider wire envelope.
type Kind string

const (
	KindOpenAI  Kind = "openai"
	KindClaude  Kind = "claude"
	KindGemini  Kind = "gemini"
)

// Message is one extracted unit of text, together with its index in the
// body's message/content list so Adapter.InjectMessages can place a
// rewritten string back in the same position.
type Message struct {
	Text  string
	Index int
}

// Adapter extracts and re-injects the text payload of a provider's request
// and response envelopes. Implementations must not interpret any field
// beyond what is needed to locate text.
type Adapter interface {
	// ExtractMessages returns every message-shaped text field in a request
	// body, in wire order.
	ExtractMessages(body map[string]any) ([]Message, error)

	// InjectMessages writes sanitizedMessages (same length, same order as
	// what ExtractMessages returned) back into body.
	InjectMessages(body map[string]any, sanitizedMessages []Message) (map[string]any, error)

	// ExtractResponseText returns the assistant reply text, or ("", false)
	// if the response body carries none (e.g. a tool-call-only message).
	ExtractResponseText(resp map[string]any) (string, bool)

	// InjectResponseText writes text back into the single response slot.
	InjectResponseText(resp map[string]any, text string) map[string]any
}

// ForKind returns the Adapter for a provider name.
func ForKind(k Kind) (Adapter, error) {
	switch k {
	case KindOpenAI:
		return OpenAIAdapter{}, nil
	case KindClaude:
		return ClaudeAdapter{}, nil
	case KindGemini:
		return GeminiAdapter{}, nil
	default:
		return nil, fmt.Errorf("provider: unknown kind %q", k)
	}
}
