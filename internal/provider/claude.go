package provider

// ClaudeAdapter handles the messages-block envelope: request
// body.messages[*].content (string); response at content[0].text; stream
// events are typed (content_block_delta carrying delta.text; message_stop).
type ClaudeAdapter struct{}

func (ClaudeAdapter) ExtractMessages(body map[string]any) ([]Message, error) {
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

func (ClaudeAdapter) InjectMessages(body map[string]any, sanitized []Message) (map[string]any, error) {
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

func (ClaudeAdapter) ExtractResponseText(resp map[string]any) (string, bool) {
	blocks, ok := resp["content"].([]any)
	if !ok || len(blocks) == 0 {
		return "", false
	}
	block, ok := blocks[0].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := block["text"].(string)
	return text, ok
}

func (ClaudeAdapter) InjectResponseText(resp map[string]any, text string) map[string]any {
	blocks, ok := resp["content"].([]any)
	if !ok || len(blocks) == 0 {
		return resp
	}
	block, ok := blocks[0].(map[string]any)
	if !ok {
		return resp
	}
	block["text"] = text
	return resp
}
