// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"spectra/internal/log"
)

// SpectrumPath is the HTTP path clients upgrade on.
const SpectrumPath = "/spectrum"

const broadcastQueue = 8

// WebSocketTransport broadcasts spectrum frames as JSON text messages to
// every connected client. A slow consumer drops frames rather than stall
// the publisher.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan *websocket.PreparedMessage
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	server    *http.Server
}

// NewWebSocketTransport starts an HTTP server on addr serving SpectrumPath.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := newWebSocketTransport(addr)

	mux := http.NewServeMux()
	mux.Handle(SpectrumPath, wst)
	wst.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	wst.wg.Add(1)
	go func() {
		defer wst.wg.Done()
		log.Infof("WebSocketTransport: Starting server on %s%s", addr, SpectrumPath)
		if err := wst.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
	return wst
}

// newWebSocketTransport builds the broadcaster without a listener.
func newWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1 << 15,
			CheckOrigin: func(r *http.Request) bool {
				return true // Visualizers are served from anywhere on the LAN.
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan *websocket.PreparedMessage, broadcastQueue),
		done:      make(chan struct{}),
	}
	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// ServeHTTP upgrades the request and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = struct{}{}
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	log.Infof("WebSocketTransport: Client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients never send; the read only detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	if ok {
		conn.Close()
		log.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case msg := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				if err := client.WritePreparedMessage(msg); err != nil {
					log.Warnf("WebSocketTransport: Error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send encodes the frame immediately and queues it for broadcast. When the
// queue is full the frame is dropped.
func (wst *WebSocketTransport) Send(data any) error {
	f, err := AsFrame(data)
	if err != nil {
		return err
	}
	select {
	case <-wst.done:
		return fmt.Errorf("websocket transport is closed")
	default:
	}
	if wst.Clients() == 0 {
		return nil
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", f.Sequence, err)
	}
	msg, err := websocket.NewPreparedMessage(websocket.TextMessage, payload)
	if err != nil {
		return fmt.Errorf("failed to prepare frame %d: %w", f.Sequence, err)
	}

	select {
	case wst.broadcast <- msg:
	default:
		log.Debugf("WebSocketTransport: Queue full, dropped frame %d", f.Sequence)
	}
	return nil
}

// Close disconnects all clients and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		log.Infof("WebSocketTransport: Closing server")

		wst.clientsMu.Lock()
		close(wst.done)
		for client := range wst.clients {
			client.Close()
		}
		clear(wst.clients)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
		wst.wg.Wait()
	})
	return err
}

var (
	_ Transport    = (*WebSocketTransport)(nil)
	_ http.Handler = (*WebSocketTransport)(nil)
)
