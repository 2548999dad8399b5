//go:build !js || !wasm

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/metrics"
	"github.com/dvcrn/restream-bridge/internal/restream"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedSendBuffer   = 16
)

// Feed pushes every published snapshot and status change to the connected
// websocket clients. New clients receive the latest snapshot immediately.
type Feed struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]*clientWriter
	last    []byte
}

func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*clientWriter),
	}
}

// Publish implements poller.Publisher.
func (f *Feed) Publish(snap *restream.Snapshot) {
	data, err := snapshotFrame(snap)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to marshal snapshot frame")
		return
	}

	f.mu.Lock()
	f.last = data
	f.mu.Unlock()

	f.broadcast(data)
}

// PublishStatus is an instance.StatusListener.
func (f *Feed) PublishStatus(status instance.Status, message string) {
	data, err := statusFrame(status, message)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to marshal status frame")
		return
	}
	f.broadcast(data)
}

func (f *Feed) broadcast(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn, cw := range f.clients {
		select {
		case cw.sendCh <- data:
		default:
			f.logger.Warn().Str("remote_addr", conn.RemoteAddr().String()).Msg("Disconnecting slow feed client")
			f.removeLocked(conn)
		}
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	cw := newClientWriter(conn)
	f.mu.Lock()
	f.clients[conn] = cw
	if f.last != nil {
		cw.sendCh <- f.last
	}
	metrics.SnapshotSubscribers.Set(float64(len(f.clients)))
	f.mu.Unlock()

	f.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Feed client connected")

	// Read loop to detect disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.mu.Lock()
	f.removeLocked(conn)
	f.mu.Unlock()
	f.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Feed client disconnected")
}

// Close disconnects all clients.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.clients {
		f.removeLocked(conn)
	}
}

func (f *Feed) removeLocked(conn *websocket.Conn) {
	cw, ok := f.clients[conn]
	if !ok {
		return
	}
	cw.stop()
	delete(f.clients, conn)
	metrics.SnapshotSubscribers.Set(float64(len(f.clients)))
}

type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, feedSendBuffer),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg := <-cw.sendCh:
			cw.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}
