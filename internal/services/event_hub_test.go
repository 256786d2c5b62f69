package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readerline/backend/internal/models"
)

func TestEventHub_DeliversToConcernedUsers(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.URL.Query().Get("user"), conn)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	reader, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=reader-1", nil)
	require.NoError(t, err)
	defer reader.Close()
	other, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=someone", nil)
	require.NoError(t, err)
	defer other.Close()

	require.Eventually(t, func() bool {
		return hub.Connections("reader-1") == 1 && hub.Connections("someone") == 1
	}, time.Second, 5*time.Millisecond)

	ev := models.Event{Type: models.EventSessionTick, SessionID: "room-1", UserIDs: []string{"reader-1", "client-1"}, Minutes: 3, AccumulatedAmount: 1800, At: testEpoch}
	require.NoError(t, hub.Publish(context.Background(), ev))

	reader.SetReadDeadline(time.Now().Add(time.Second))
	var got models.Event
	require.NoError(t, reader.ReadJSON(&got))
	assert.Equal(t, models.EventSessionTick, got.Type)
	assert.Equal(t, int64(1800), got.AccumulatedAmount)
	assert.Empty(t, got.UserIDs, "recipients are not sent over the wire")

	other.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "unrelated users receive nothing")

	reader.Close()
	require.Eventually(t, func() bool { return hub.Connections("reader-1") == 0 }, time.Second, 5*time.Millisecond)
}
