package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/orchestrator"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocket message types
const (
	WSTypeTransition = "transition"
	WSTypeAnswer     = "answer"
	WSTypeError      = "error"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 16 * 1024
)

// WSMessage is the envelope for every server to client message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// TransitionPayload reports one state change of a question
type TransitionPayload struct {
	RequestID  string    `json:"request_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
	DurationMs int64     `json:"duration_ms"`
}

// wsClient serialises writes to one connection
type wsClient struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	limiter *rate.Limiter
}

func (c *wsClient) send(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(WSMessage{Type: msgType, Payload: payload})
}

// WebSocketHandler streams question progress over /ws/ask.
// The client sends {"question": "..."}; the server replies with one transition message per
// state change followed by the answer. Questions on one connection are answered in order.
type WebSocketHandler struct {
	asker   Asker
	logger  arbor.ILogger
	clients map[*websocket.Conn]*wsClient
	mu      sync.RWMutex
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(asker Asker, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		asker:   asker,
		logger:  logger,
		clients: make(map[*websocket.Conn]*wsClient),
	}
}

// HandleAsk upgrades the connection and answers questions until the client disconnects
func (h *WebSocketHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	client := &wsClient{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}

	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var req AskRequest
		if err := json.Unmarshal(data, &req); err != nil {
			client.send(WSTypeError, map[string]string{"error": "invalid JSON message"})
			continue
		}
		req.Question = strings.TrimSpace(req.Question)
		if err := ValidateRequest(&req); err != nil {
			client.send(WSTypeError, map[string]string{"error": err.Error()})
			continue
		}
		if !client.limiter.Allow() {
			client.send(WSTypeError, map[string]string{"error": "too many questions, slow down"})
			continue
		}

		if err := h.answer(ctx, client, req.Question); err != nil {
			h.logger.Debug().Err(err).Msg("WebSocket write failed, closing connection")
			return
		}
	}
}

// answer runs one question, streaming transitions as they happen
func (h *WebSocketHandler) answer(ctx context.Context, client *wsClient, question string) error {
	var writeErr error
	observer := orchestrator.ObserverFunc(func(requestID string, t models.Transition) {
		if writeErr != nil {
			return
		}
		writeErr = client.send(WSTypeTransition, TransitionPayload{
			RequestID:  requestID,
			From:       t.From,
			To:         t.To,
			At:         t.At,
			DurationMs: t.Duration.Milliseconds(),
		})
	})

	answer := h.asker.Ask(ctx, models.NewTextQuery(question), observer)
	if writeErr != nil {
		return writeErr
	}
	return client.send(WSTypeAnswer, NewAnswerResponse(answer))
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends a close frame to every client. Hijacked connections are not closed by http.Server.Shutdown.
func (h *WebSocketHandler) CloseAll() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}

	if len(clients) > 0 {
		h.logger.Info().Int("clients", len(clients)).Msg("WebSocket clients closed")
	}
}
