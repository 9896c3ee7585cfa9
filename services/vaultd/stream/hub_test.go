package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"safevault/core/types"
)

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil)
	updates, cancel := hub.Subscribe()
	defer cancel()

	hub.Emit(&types.Event{Type: "vault.deposited"})
	hub.Emit(&types.Event{Type: "vault.borrowed"})

	first, ok := <-updates
	require.True(t, ok)
	require.Contains(t, string(first), "vault.deposited")
	_, ok = <-updates
	require.False(t, ok, "slow subscriber should be closed")
	require.Zero(t, hub.Subscribers())
}

func TestHubStreamsOverWebsocket(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Emit(&types.Event{Type: "vault.repaid", Attributes: map[string]string{"amount": "7"}})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var got message
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "vault.repaid", got.Type)
	require.Equal(t, "7", got.Attributes["amount"])
}
