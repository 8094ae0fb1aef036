package assistant

import (
	"context"
	"sync"
)

// ScriptedClient replays a fixed chunk sequence per query, recording the
// calls it receives. Used by orchestrator tests.
type ScriptedClient struct {
	mu      sync.Mutex
	scripts [][]Chunk
	calls   []ScriptedCall

	// Err, when set, is returned from SendQuery instead of a stream.
	Err error
	// StreamErr, when set, terminates each stream with the error after
	// the scripted chunks.
	StreamErr error
}

// ScriptedCall records one SendQuery invocation.
type ScriptedCall struct {
	Prompt      string
	Cwd         string
	ResumeToken string
}

// NewScriptedClient creates a client that replays the given chunk
// sequences, one per SendQuery call. The last script repeats when more
// calls arrive than scripts were provided.
func NewScriptedClient(scripts ...[]Chunk) *ScriptedClient {
	return &ScriptedClient{scripts: scripts}
}

// SendQuery records the call and returns a stream replaying the next script
func (c *ScriptedClient) SendQuery(ctx context.Context, prompt, cwd, resumeToken string) (*Stream, error) {
	c.mu.Lock()
	c.calls = append(c.calls, ScriptedCall{Prompt: prompt, Cwd: cwd, ResumeToken: resumeToken})
	var script []Chunk
	if len(c.scripts) > 0 {
		idx := len(c.calls) - 1
		if idx >= len(c.scripts) {
			idx = len(c.scripts) - 1
		}
		script = c.scripts[idx]
	}
	err := c.Err
	streamErr := c.StreamErr
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	stream := newStream(len(script) + 1)
	go func() {
		for _, chunk := range script {
			stream.emit(chunk)
		}
		if streamErr != nil {
			stream.fail(streamErr)
			return
		}
		stream.finish()
	}()
	return stream, nil
}

// Calls returns a copy of the recorded calls
func (c *ScriptedClient) Calls() []ScriptedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ScriptedCall, len(c.calls))
	copy(out, c.calls)
	return out
}
