package provider

// OpenAIAdapter handles the chat-completion envelope:
// request body.messages[*].content (string); response at
// choices[0].message.content; stream deltas at choices[0].delta.content;
// stream terminator is the literal "[DONE]".
type OpenAIAdapter struct{}

func (OpenAIAdapter) ExtractMessages(body map[string]any) ([]Message, error) {
	raw, _ := body["messages"].([]any)
	out := make([]Message, 0, len(raw))
	for i, m := range raw {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := entry["content"].(string)
		if !ok {
			continue
		}
		out = append(out, Message{Text: content, Index: i})
	}
	return out, nil
}

func (OpenAIAdapter) InjectMessages(body map[string]any, sanitized []Message) (map[string]any, error) {
	raw, _ := body["messages"].([]any)
	for _, m := range sanitized {
		if m.Index < 0 || m.Index >= len(raw) {
			continue
		}
		entry, ok := raw[m.Index].(map[string]any)
		if !ok {
			continue
		}
		entry["content"] = m.Text
	}
	body["messages"] = raw
	return body, nil
}

func (OpenAIAdapter) ExtractResponseText(resp map[string]any) (string, bool) {
	choices, ok := resp["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := message["content"].(string)
	return text, ok
}

func (OpenAIAdapter) InjectResponseText(resp map[string]any, text string) map[string]any {
	choices, ok := resp["choices"].([]any)
	if !ok || len(choices) == 0 {
		return resp
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return resp
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return resp
	}
	message["content"] = text
	return resp
}
