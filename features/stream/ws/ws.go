// Package ws bridges the in-process event bus onto WebSocket connections so
// editor clients can watch executions live. One connection subscribes to one
// topic (a workflow or an execution); backpressure is handled by the bus's
// drop-oldest buffering, so a slow client never stalls the engine.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowmesh/flowmesh/runtime/events"
	"github.com/flowmesh/flowmesh/runtime/telemetry"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Bridge upgrades HTTP requests and streams bus events to the client.
type Bridge struct {
	bus      *events.Bus
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

// NewBridge constructs a Bridge over the bus.
func NewBridge(bus *events.Bus, logger telemetry.Logger) *Bridge {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Bridge{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is same-origin or reverse-proxied; origin policy is
			// enforced upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and streams the topic's events until the client
// disconnects or the request context ends.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error(r.Context(), err, "websocket upgrade failed", "topic", topic)
		return
	}
	defer conn.Close()

	sub := b.bus.Subscribe(topic)
	defer sub.Close()

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// required to process close frames and detect dropped connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	b.pump(r.Context(), conn, sub, done, topic)
}

func (b *Bridge) pump(ctx context.Context, conn *websocket.Conn, sub *events.Subscription, done <-chan struct{}, topic string) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				b.logger.Debug(ctx, "websocket write failed, closing", "topic", topic)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
