package provider

import (
	"context"
	"strings"

	"redactgw/internal/placeholder"
	"redactgw/internal/redact"
	"redactgw/internal/tokenstore"
)

// StreamingDetokenizer restores complete placeholders as they arrive across
// arbitrary chunk boundaries, buffering at most one trailing partial
// placeholder. It holds no snapshot of the handle: restore calls Store.Get
// for each complete placeholder as ProcessChunk meets it, so ProcessChunk
// performs TokenMap backend I/O (a network round trip with the Redis
// backend), which is why it takes a context.
type StreamingDetokenizer struct {
	store  tokenstore.Backend
	handle string
	buffer strings.Builder
}

// NewStreamingDetokenizer returns a detokenizer bound to one TokenMap
// handle, with an empty initial buffer.
func NewStreamingDetokenizer(store tokenstore.Backend, handle string) *StreamingDetokenizer {
	return &StreamingDetokenizer{store: store, handle: handle}
}

const tokenPrefix = "«token:"

// ProcessChunk appends chunkText to the internal buffer and returns the
// portion of the buffer that is now safe to emit: text outside any
// placeholder, plus the restored value of every complete placeholder found.
// At most one trailing partial-placeholder prefix is retained in the
// buffer for the next call.
func (d *StreamingDetokenizer) ProcessChunk(ctx context.Context, chunkText string) string {
	d.buffer.WriteString(chunkText)
	buf := d.buffer.String()
	d.buffer.Reset()

	matches := placeholder.FindAll(buf)
	if len(matches) == 0 {
		if idx := pendingTokenStart(buf); idx >= 0 {
			d.buffer.WriteString(buf[idx:])
			return buf[:idx]
		}
		return buf
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		out.WriteString(buf[last:m.Start])
		out.WriteString(d.restore(ctx, m.Text))
		last = m.End
	}

	remainder := buf[last:]
	if idx := pendingTokenStart(remainder); idx >= 0 {
		out.WriteString(remainder[:idx])
		d.buffer.WriteString(remainder[idx:])
	} else {
		out.WriteString(remainder)
	}
	return out.String()
}

// pendingTokenStart returns the index in s where a placeholder might still
// be forming: either a complete "«token:" literal awaiting its TYPE/hex/
// closing "»", or, when a chunk boundary splits the literal itself, the
// longest trailing suffix of s that is itself a prefix of tokenPrefix.
// Returns -1 if s carries no such suffix.
func pendingTokenStart(s string) int {
	if idx := strings.LastIndex(s, tokenPrefix); idx >= 0 {
		return idx
	}
	maxLen := len(tokenPrefix) - 1
	if maxLen > len(s) {
		maxLen = len(s)
	}
	for l := maxLen; l > 0; l-- {
		if strings.HasSuffix(s, tokenPrefix[:l]) {
			return len(s) - l
		}
	}
	return -1
}

// Flush emits and clears whatever remains buffered, unchanged: a partial
// placeholder at stream end falls through as literal text rather than
// being restored or dropped.
func (d *StreamingDetokenizer) Flush() string {
	out := d.buffer.String()
	d.buffer.Reset()
	return out
}

// restore looks up one recognized placeholder in the handle's TokenMap. It
// is returned unchanged if the category is secret, or if the handle has
// expired or never held that placeholder.
func (d *StreamingDetokenizer) restore(ctx context.Context, ph string) string {
	entry, ok, err := d.store.Get(ctx, d.handle, ph)
	if err != nil || !ok {
		return ph
	}
	switch entry.Category {
	case redact.CategoryPII, redact.CategoryOpsSensitive:
		return entry.Raw
	default:
		return ph
	}
}
