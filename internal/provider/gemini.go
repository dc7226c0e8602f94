package provider

// GeminiAdapter handles the candidate-parts envelope: request
// body.contents[*].parts[0].text; response at
// candidates[0].content.parts[0].text; stream is newline-delimited JSON
// objects of the same shape.
type GeminiAdapter struct{}

func (GeminiAdapter) ExtractMessages(body map[string]any) ([]Message, error) {
	raw, _ := body["contents"].([]any)
	out := make([]Message, 0, len(raw))
	for i, c := range raw {
		entry, ok := c.(map[string]any)
		if !ok {
			continue
		}
		parts, ok := entry["parts"].([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		part, ok := parts[0].(map[string]any)
		if !ok {
			continue
		}
		text, ok := part["text"].(string)
		if !ok {
			continue
		}
		out = append(out, Message{Text: text, Index: i})
	}
	return out, nil
}

func (GeminiAdapter) InjectMessages(body map[string]any, sanitized []Message) (map[string]any, error) {
	raw, _ := body["contents"].([]any)
	for _, m := range sanitized {
		if m.Index < 0 || m.Index >= len(raw) {
			continue
		}
		entry, ok := raw[m.Index].(map[string]any)
		if !ok {
			continue
		}
		parts, ok := entry["parts"].([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		part, ok := parts[0].(map[string]any)
		if !ok {
			continue
		}
		part["text"] = m.Text
	}
	body["contents"] = raw
	return body, nil
}

func (GeminiAdapter) ExtractResponseText(resp map[string]any) (string, bool) {
	candidates, ok := resp["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return "", false
	}
	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := candidate["content"].(map[string]any)
	if !ok {
		return "", false
	}
	parts, ok := content["parts"].([]any)
	if !ok || len(parts) == 0 {
		return "", false
	}
	part, ok := parts[0].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := part["text"].(string)
	return text, ok
}

func (GeminiAdapter) InjectResponseText(resp map[string]any, text string) map[string]any {
	candidates, ok := resp["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return resp
	}
	candidate, ok := candidates[0].(map[string]any)
	if !ok {
		return resp
	}
	content, ok := candidate["content"].(map[string]any)
	if !ok {
		return resp
	}
	parts, ok := content["parts"].([]any)
	if !ok || len(parts) == 0 {
		return resp
	}
	part, ok := parts[0].(map[string]any)
	if !ok {
		return resp
	}
	part["text"] = text
	return resp
}
