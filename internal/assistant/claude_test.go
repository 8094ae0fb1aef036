package assistant

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunksFromCLIMessageAssistant(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"text","text":"Working on it."},` +
		`{"type":"thinking","thinking":"consider edge cases"},` +
		`{"type":"tool_use","name":"Bash","input":{"command":"npm test"}}]}}`

	var msg cliMessage
	require.NoError(t, json.Unmarshal([]byte(line), &msg))

	chunks := chunksFromCLIMessage(&msg)
	require.Len(t, chunks, 3)
	assert.Equal(t, KindAssistant, chunks[0].Kind)
	assert.Equal(t, "Working on it.", chunks[0].Content)
	assert.Equal(t, KindThinking, chunks[1].Kind)
	assert.Equal(t, KindTool, chunks[2].Kind)
	assert.Equal(t, "Bash", chunks[2].ToolName)
	assert.Equal(t, "npm test", chunks[2].ToolInput["command"])
}

func TestChunksFromCLIMessageResult(t *testing.T) {
	var msg cliMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"result","session_id":"session-123"}`), &msg))

	chunks := chunksFromCLIMessage(&msg)
	require.Len(t, chunks, 1)
	assert.Equal(t, KindResult, chunks[0].Kind)
	assert.Equal(t, "session-123", chunks[0].SessionID)

	// Error results produce no chunk; the stream fails instead
	require.NoError(t, json.Unmarshal([]byte(`{"type":"result","is_error":true,"result":"rate limit"}`), &msg))
	assert.Empty(t, chunksFromCLIMessage(&msg))
	assert.Equal(t, "rate limit", msg.resultString())
}

func TestChunksFromCLIMessageSystemIgnored(t *testing.T) {
	var msg cliMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"system","session_id":"s1"}`), &msg))
	assert.Empty(t, chunksFromCLIMessage(&msg))
}

func TestScriptedClientReplaysChunks(t *testing.T) {
	client := NewScriptedClient([]Chunk{
		{Kind: KindAssistant, Content: "hello"},
		{Kind: KindResult, SessionID: "s-1"},
	})

	stream, err := client.SendQuery(context.Background(), "prompt", "/tmp", "resume-1")
	require.NoError(t, err)

	first, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "hello", first.Content)

	second, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "s-1", second.SessionID)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "resume-1", calls[0].ResumeToken)
}
