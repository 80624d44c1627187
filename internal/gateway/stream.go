package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/types"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamSendBuffer = 16
)

// streamEvent is the wire frame pushed to websocket subscribers.
type streamEvent struct {
	Event     string               `json:"event"`
	Timestamp time.Time            `json:"timestamp"`
	Alert     *types.SecurityAlert `json:"alert"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan streamEvent
}

// Stream pushes newly created alerts to websocket subscribers. Slow
// clients are disconnected rather than allowed to block the broadcast.
type Stream struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	logger  zerolog.Logger

	upgrader websocket.Upgrader
}

func NewStream(logger zerolog.Logger) *Stream {
	return &Stream{
		clients: make(map[*streamClient]struct{}),
		logger:  logger.With().Str("component", "stream").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin access is gated by the API key check upstream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request to a websocket and registers the subscriber.
func (s *Stream) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan streamEvent, streamSendBuffer),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug().Str("remote", r.RemoteAddr).Int("subscribers", count).Msg("Stream subscriber connected")

	go s.writeLoop(client)
	go s.readLoop(client)
}

// Broadcast fans an alert out to every connected subscriber. Clients whose
// send buffer is full are dropped.
func (s *Stream) Broadcast(alert *types.SecurityAlert) {
	if alert == nil {
		return
	}
	event := streamEvent{
		Event:     "alert_created",
		Timestamp: time.Now().UTC(),
		Alert:     alert,
	}

	s.mu.RLock()
	stale := make([]*streamClient, 0)
	for client := range s.clients {
		select {
		case client.send <- event:
		default:
			stale = append(stale, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range stale {
		s.remove(client)
	}
}

// Subscribers reports the number of connected clients.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Stream) writeLoop(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				client.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(streamWriteWait))
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteJSON(event); err != nil {
				s.remove(client)
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				s.remove(client)
				return
			}
		}
	}
}

// readLoop drains incoming frames so ping/pong and close handshakes work.
// Subscribers are not expected to send data.
func (s *Stream) readLoop(client *streamClient) {
	defer s.remove(client)
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) remove(client *streamClient) {
	s.mu.Lock()
	_, present := s.clients[client]
	if present {
		delete(s.clients, client)
		close(client.send)
	}
	s.mu.Unlock()

	if present {
		client.conn.Close()
	}
}
