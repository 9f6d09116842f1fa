package artifacts

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestBroadcasterPublishesToConnectedClients(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// give the accept handler a moment to register the connection before publishing
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.conns) == 1
	}, time.Second, 10*time.Millisecond)

	b.Publish(ctx, ProgressUpdate{RunID: "r1", Stage: "portfolio", PercentDone: 40, Status: "running"})

	var got ProgressUpdate
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	require.Equal(t, "r1", got.RunID)
	require.Equal(t, 40, got.PercentDone)
}
