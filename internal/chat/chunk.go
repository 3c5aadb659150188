package chat

import (
	"context"
	"fmt"
)

// DefaultChunkLimit is a safe per-message character budget below the hard
// limits of both supported platforms.
const DefaultChunkLimit = 3500

// splitSegments breaks text on paragraph gaps and sentence ends, keeping
// the separators attached so rejoining chunks loses nothing.
func splitSegments(text string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(text); i++ {
		// Paragraph gap: split after the run of newlines.
		if text[i] == '\n' && i+1 < len(text) && text[i+1] == '\n' {
			j := i
			for j < len(text) && text[j] == '\n' {
				j++
			}
			segs = append(segs, text[start:j])
			start = j
			i = j - 1
			continue
		}
		// Sentence end: period followed by whitespace.
		if text[i] == '.' && i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n') {
			segs = append(segs, text[start:i+2])
			start = i + 2
			i++
		}
	}
	if start < len(text) {
		segs = append(segs, text[start:])
	}
	return segs
}

// ChunkText splits text into pieces no longer than limit, preferring
// paragraph and sentence boundaries and hard-splitting only oversized
// segments.
func ChunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	buf := ""
	for _, seg := range splitSegments(text) {
		if seg == "" {
			continue
		}
		if len(buf)+len(seg) <= limit {
			buf += seg
			continue
		}
		if buf != "" {
			parts = append(parts, buf)
		}
		if len(seg) <= limit {
			buf = seg
			continue
		}
		for i := 0; i < len(seg); i += limit {
			end := i + limit
			if end > len(seg) {
				end = len(seg)
			}
			parts = append(parts, seg[i:end])
		}
		buf = ""
	}
	if buf != "" {
		parts = append(parts, buf)
	}
	return parts
}

// SendChunked delivers text through the adapter, split into chunks.
// Continuation pieces get a "(continued i/n)" header and only the first
// piece carries the reply reference.
func SendChunked(ctx context.Context, a Adapter, msg OutboundMessage, limit int) error {
	pieces := ChunkText(msg.Text, limit)
	total := len(pieces)
	for i, piece := range pieces {
		out := OutboundMessage{
			Thread: msg.Thread,
			Text:   continuationText(piece, i+1, total),
		}
		if i == 0 {
			out.ReplyTo = msg.ReplyTo
		}
		if err := a.Send(ctx, out); err != nil {
			return fmt.Errorf("chat: send piece %d/%d: %w", i+1, total, err)
		}
	}
	return nil
}

func continuationText(piece string, i, n int) string {
	if n == 1 || i == 1 {
		return piece
	}
	return fmt.Sprintf("(continued %d/%d)\n%s", i, n, piece)
}
