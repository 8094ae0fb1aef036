package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/events"
	"github.com/archonhq/archon/internal/events/bus"
)

func TestHubBroadcastsBusEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	hub := NewHub(eventBus, log)
	require.NoError(t, hub.Start())
	defer hub.Stop()

	engine := gin.New()
	hub.Register(engine)
	server := httptest.NewServer(engine)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	// Give the connection a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	event := bus.NewEvent(events.SubjectMessageCompleted, "orchestrator", map[string]interface{}{
		"conversation_id": "conv-1",
	})
	require.NoError(t, eventBus.Publish(context.Background(), events.SubjectMessageCompleted, event))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var received bus.Event
	require.NoError(t, json.Unmarshal(data, &received))
	assert.Equal(t, events.SubjectMessageCompleted, received.Type)
	assert.Equal(t, "conv-1", received.Data["conversation_id"])
}

func TestHubStopDisconnectsObservers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	hub := NewHub(eventBus, log)
	require.NoError(t, hub.Start())

	engine := gin.New()
	hub.Register(engine)
	server := httptest.NewServer(engine)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	time.Sleep(50 * time.Millisecond)
	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
