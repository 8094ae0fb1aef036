// Package assistant defines the AI assistant client contract and its
// concrete CLI-backed implementations.
package assistant

import (
	"context"
	"io"
)

// Chunk kinds.
const (
	KindAssistant = "assistant"
	KindTool      = "tool"
	KindThinking  = "thinking"
	KindResult    = "result"
)

// Chunk is one typed element of an assistant response stream.
type Chunk struct {
	Kind      string
	Content   string                 // assistant and thinking chunks
	ToolName  string                 // tool chunks
	ToolInput map[string]interface{} // tool chunks
	SessionID string                 // result chunks: the new resume token
}

// Client is the assistant collaborator contract. SendQuery returns a lazy
// finite stream of chunks; the stream terminates when the provider closes
// it. Cancellation mid-flight is not supported at this layer.
type Client interface {
	SendQuery(ctx context.Context, prompt, cwd, resumeToken string) (*Stream, error)
}

type streamItem struct {
	chunk Chunk
	err   error
}

// Stream yields chunks in provider order. Next blocks until a chunk is
// available and returns io.EOF after the last one.
type Stream struct {
	items chan streamItem
}

func newStream(buffer int) *Stream {
	return &Stream{items: make(chan streamItem, buffer)}
}

// Next returns the next chunk, io.EOF at end of stream, or the stream
// error that terminated it.
func (s *Stream) Next() (*Chunk, error) {
	item, ok := <-s.items
	if !ok {
		return nil, io.EOF
	}
	if item.err != nil {
		return nil, item.err
	}
	chunk := item.chunk
	return &chunk, nil
}

func (s *Stream) emit(chunk Chunk) {
	s.items <- streamItem{chunk: chunk}
}

func (s *Stream) fail(err error) {
	s.items <- streamItem{err: err}
	close(s.items)
}

func (s *Stream) finish() {
	close(s.items)
}
