package chat

import (
	"context"
	"strings"
	"testing"
)

func TestChunkTextShort(t *testing.T) {
	got := ChunkText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("ChunkText = %v, want [hello]", got)
	}
}

func TestChunkTextSplitsOnParagraphs(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	got := ChunkText(text, 70)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (%q)", len(got), got)
	}
	if !strings.HasPrefix(got[1], "b") {
		t.Errorf("second chunk = %q, want to start at paragraph", got[1])
	}
	// Nothing lost.
	if len(strings.Join(got, "")) != len(text) {
		t.Errorf("rejoined length %d, want %d", len(strings.Join(got, "")), len(text))
	}
}

func TestChunkTextSplitsOnSentences(t *testing.T) {
	text := "First sentence here. Second sentence follows. Third one ends."
	got := ChunkText(text, 30)
	if len(got) < 2 {
		t.Fatalf("chunks = %d, want >= 2", len(got))
	}
	for _, c := range got {
		if len(c) > 30 {
			t.Errorf("chunk too long: %d (%q)", len(c), c)
		}
	}
}

func TestChunkTextHardSplitsOversizedSegment(t *testing.T) {
	text := strings.Repeat("x", 250)
	got := ChunkText(text, 100)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if len(strings.Join(got, "")) != 250 {
		t.Errorf("content lost during hard split")
	}
}

func TestSendChunked(t *testing.T) {
	m := NewMockAdapter()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	err := SendChunked(context.Background(), m, OutboundMessage{
		Thread:  ThreadKey{ChatID: "c1"},
		Text:    text,
		ReplyTo: "m-9",
	}, 70)
	if err != nil {
		t.Fatalf("SendChunked: %v", err)
	}

	sent := m.AllSent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(sent))
	}
	if sent[0].ReplyTo != "m-9" {
		t.Errorf("first piece ReplyTo = %q, want m-9", sent[0].ReplyTo)
	}
	if sent[1].ReplyTo != "" {
		t.Errorf("continuation should not carry ReplyTo, got %q", sent[1].ReplyTo)
	}
	if !strings.HasPrefix(sent[1].Text, "(continued 2/2)") {
		t.Errorf("continuation header missing: %q", sent[1].Text[:20])
	}
}

func TestThreadKeyString(t *testing.T) {
	if got := (ThreadKey{ChatID: "c1"}).String(); got != "c1" {
		t.Errorf("String = %q, want c1", got)
	}
	if got := (ThreadKey{ChatID: "c1", TopicID: "7"}).String(); got != "c1:7" {
		t.Errorf("String = %q, want c1:7", got)
	}
}
