package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"

	"redactgw/internal/provider"
)

// streamLoop implements STREAM_LOOP -> FLUSH_TAIL -> END: it reads the
// upstream body frame-by-frame (SSE lines for OpenAI/Claude, NDJSON
// objects for Gemini), rewrites only the text payload through the
// Streaming Detokenizer, and re-emits the surrounding framing verbatim.
func (s *Server) streamLoop(w http.ResponseWriter, resp *http.Response, kind provider.Kind, handle string) {
	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	detok := provider.NewStreamingDetokenizer(s.store, handle)

	switch kind {
	case provider.KindOpenAI:
		s.streamSSE(w, flusher, resp, detok, rewriteOpenAIChunk, isOpenAIDone, terminalOpenAIEvent)
	case provider.KindClaude:
		s.streamSSE(w, flusher, resp, detok, rewriteClaudeChunk, isClaudeStop, terminalClaudeEvent)
	case provider.KindGemini:
		s.streamNDJSON(w, flusher, resp, detok)
	}
}

func (s *Server) streamSSE(
	w http.ResponseWriter, flusher http.Flusher, resp *http.Response,
	detok *provider.StreamingDetokenizer,
	rewrite func(detok *provider.StreamingDetokenizer, data []byte) ([]byte, bool),
	isDone func(data string) bool,
	terminal func(detok *provider.StreamingDetokenizer) []byte,
) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			_, _ = w.Write([]byte("\n"))
			flush(flusher)
			continue
		}
		if len(line) < 6 || line[:6] != "data: " {
			_, _ = w.Write([]byte(line + "\n"))
			flush(flusher)
			continue
		}

		data := line[6:]
		if isDone(data) {
			if tail := terminal(detok); len(tail) > 0 {
				_, _ = w.Write(append([]byte("data: "), append(tail, '\n', '\n')...))
			}
			_, _ = w.Write([]byte("data: " + data + "\n\n"))
			flush(flusher)
			break
		}

		if rewritten, ok := rewrite(detok, []byte(data)); ok {
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(rewritten)
			_, _ = w.Write([]byte("\n\n"))
		} else {
			_, _ = w.Write([]byte(line + "\n"))
		}
		flush(flusher)
	}
}

func (s *Server) streamNDJSON(w http.ResponseWriter, flusher http.Flusher, resp *http.Response, detok *provider.StreamingDetokenizer) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk map[string]any
		if err := json.Unmarshal(line, &chunk); err != nil {
			_, _ = w.Write(line)
			_, _ = w.Write([]byte("\n"))
			flush(flusher)
			continue
		}

		adapter := provider.GeminiAdapter{}
		if text, ok := adapter.ExtractResponseText(chunk); ok {
			safe := detok.ProcessChunk(context.Background(), text)
			chunk = adapter.InjectResponseText(chunk, safe)
			rewritten, _ := json.Marshal(chunk)
			_, _ = w.Write(rewritten)
			_, _ = w.Write([]byte("\n"))
		} else {
			_, _ = w.Write(line)
			_, _ = w.Write([]byte("\n"))
		}
		flush(flusher)
	}

	if tail := detok.Flush(); tail != "" {
		flushChunk := map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"parts": []any{map[string]any{"text": tail}}, "role": "model"},
				"finishReason": "STOP",
				"index":        0,
			}},
		}
		rewritten, _ := json.Marshal(flushChunk)
		_, _ = w.Write(rewritten)
		_, _ = w.Write([]byte("\n"))
	}
	flush(flusher)
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}

func isOpenAIDone(data string) bool { return data == "[DONE]" }

func terminalOpenAIEvent(detok *provider.StreamingDetokenizer) []byte {
	tail := detok.Flush()
	if tail == "" {
		return nil
	}
	chunk := map[string]any{
		"object": "chat.completion.chunk",
		"choices": []any{map[string]any{
			"index": 0,
			"delta": map[string]any{"content": tail},
		}},
	}
	out, _ := json.Marshal(chunk)
	return out
}

func rewriteOpenAIChunk(detok *provider.StreamingDetokenizer, data []byte) ([]byte, bool) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, false
	}
	choices, ok := chunk["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil, false
	}
	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		return nil, false
	}
	content, ok := delta["content"].(string)
	if !ok {
		return nil, false
	}
	delta["content"] = detok.ProcessChunk(context.Background(), content)
	out, err := json.Marshal(chunk)
	if err != nil {
		return nil, false
	}
	return out, true
}

func isClaudeStop(data string) bool {
	var chunk map[string]any
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return false
	}
	t, _ := chunk["type"].(string)
	return t == "message_stop"
}

func terminalClaudeEvent(detok *provider.StreamingDetokenizer) []byte {
	tail := detok.Flush()
	if tail == "" {
		return nil
	}
	chunk := map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": tail},
	}
	out, _ := json.Marshal(chunk)
	return out
}

func rewriteClaudeChunk(detok *provider.StreamingDetokenizer, data []byte) ([]byte, bool) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, false
	}
	t, _ := chunk["type"].(string)
	if t != "content_block_delta" {
		return nil, false
	}
	delta, ok := chunk["delta"].(map[string]any)
	if !ok {
		return nil, false
	}
	dt, _ := delta["type"].(string)
	if dt != "text_delta" {
		return nil, false
	}
	text, ok := delta["text"].(string)
	if !ok {
		return nil, false
	}
	delta["text"] = detok.ProcessChunk(context.Background(), text)
	out, err := json.Marshal(chunk)
	if err != nil {
		return nil, false
	}
	return out, true
}
