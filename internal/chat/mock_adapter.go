package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent messages and
// allows simulating inbound messages and downloadable files.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	sent      []OutboundMessage
	files     map[string][]byte // FileRef.ID -> content
	sendErr   error
	dlErr     map[string]error // per-file transient download errors
	dlErrLeft map[string]int   // how many times the error fires
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:   make(chan InboundMessage, 100),
		files:     make(map[string][]byte),
		dlErr:     make(map[string]error),
		dlErrLeft: make(map[string]int),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Download returns the registered file content, honoring any configured
// transient failures first.
func (m *MockAdapter) Download(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if left := m.dlErrLeft[ref.ID]; left > 0 {
		m.dlErrLeft[ref.ID] = left - 1
		return nil, m.dlErr[ref.ID]
	}
	content, ok := m.files[ref.ID]
	if !ok {
		return nil, fmt.Errorf("mock adapter: file %q not found", ref.ID)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// SetFile registers downloadable content for a file ID.
func (m *MockAdapter) SetFile(id string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = content
}

// FailDownloads makes the next n downloads of the file fail with err.
func (m *MockAdapter) FailDownloads(id string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlErr[id] = err
	m.dlErrLeft[id] = n
}

// SetSendError makes all subsequent Send calls fail with err (nil clears).
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// LastSent returns the most recently sent outbound message.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}
