package artifacts

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Broadcaster pushes ProgressUpdate values to every connected websocket
// client. It is an http.Handler; no portfolioctl subcommand mounts it.
type Broadcaster struct {
	log   zerolog.Logger
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:   log.With().Str("component", "progress_broadcaster").Logger(),
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	b.register(conn)
	defer b.unregister(conn)

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		}
	}
}

func (b *Broadcaster) register(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn] = struct{}{}
}

func (b *Broadcaster) unregister(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, conn)
}

// Publish sends p to every connected client, dropping any connection
// that fails to write within ctx's deadline.
func (b *Broadcaster) Publish(ctx context.Context, p ProgressUpdate) {
	b.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := wsjson.Write(ctx, c, p); err != nil {
			b.log.Debug().Err(err).Msg("dropping unresponsive progress subscriber")
			b.unregister(c)
		}
	}
}
