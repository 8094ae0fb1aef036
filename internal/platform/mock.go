package platform

import (
	"context"
	"sync"
)

// MockAdapter is a synthetic test adapter recording every sent message.
type MockAdapter struct {
	mu       sync.Mutex
	messages []SentMessage
	mode     string

	// SendErr, when set, is returned from SendMessage.
	SendErr error
}

// SentMessage is one recorded SendMessage call.
type SentMessage struct {
	ConversationID string
	Text           string
}

// NewMockAdapter creates a mock adapter with the given streaming mode.
func NewMockAdapter(streamingMode string) *MockAdapter {
	if streamingMode == "" {
		streamingMode = StreamingModeBatch
	}
	return &MockAdapter{mode: streamingMode}
}

// SendMessage records the message
func (m *MockAdapter) SendMessage(ctx context.Context, conversationID, text string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, SentMessage{ConversationID: conversationID, Text: text})
	return nil
}

// StreamingMode returns the configured mode
func (m *MockAdapter) StreamingMode() string {
	return m.mode
}

// PlatformType returns "mock"
func (m *MockAdapter) PlatformType() string {
	return TypeMock
}

// EnsureThread is a no-op returning the original conversation id
func (m *MockAdapter) EnsureThread(ctx context.Context, conversationID string, threadContext string) (string, error) {
	return conversationID, nil
}

// Messages returns a copy of all recorded messages
func (m *MockAdapter) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// Texts returns just the text of every recorded message
func (m *MockAdapter) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.Text
	}
	return out
}

// Reset clears the recorded messages
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
