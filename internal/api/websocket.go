// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/participadf/ouvidoria/internal/errors"
	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/utils"
)

const (
	wsReadLimit  = 64 * 1024
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsWriteWait  = 10 * time.Second
)

// TurnHandler runs one chat turn.
type TurnHandler func(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error)

// wsErrorFrame is sent instead of a TurnResult when a turn fails.
type wsErrorFrame struct {
	Error APIError `json:"error"`
}

// newUpgrader accepts the configured browser origins; requests without an
// Origin header (CLI clients) are always accepted.
func newUpgrader(origins []string) websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowAll || allowed[origin]
		},
	}
}

// WebSocketClient is one chat connection.
type WebSocketClient struct {
	conn      *websocket.Conn
	remote    string
	closed    int32
	turns     int64
	createdAt time.Time
	logger    *utils.Logger
}

// Close closes the connection once.
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

// IsClosed reports whether Close has run.
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// Serve reads chat requests until the peer goes away, answering each before
// reading the next.
func (client *WebSocketClient) Serve(ctx context.Context, handle TurnHandler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := client.conn
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go client.keepAlive(done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				client.logger.Debug("websocket read ended", map[string]interface{}{
					"remote": client.remote,
					"error":  err.Error(),
				})
			}
			return
		}
		if messageType != websocket.TextMessage {
			if !client.writeError(ErrorBadRequest, "Envie a conversa como texto JSON.") {
				return
			}
			continue
		}

		var req models.TurnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if !client.writeError(ErrorBadRequest, "Mensagem inválida: esperado {messages, draft}.") {
				return
			}
			continue
		}

		atomic.AddInt64(&client.turns, 1)
		result, err := handle(ctx, req)
		if err != nil {
			code, message := wsErrorFor(err)
			if !client.writeError(code, message) {
				return
			}
		} else if !client.writeJSON(result) {
			return
		}

		// the deadline may have passed while the turn was running
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

func (client *WebSocketClient) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				client.Close()
				return
			}
		}
	}
}

func (client *WebSocketClient) writeJSON(v interface{}) bool {
	if client.IsClosed() {
		return false
	}
	client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := client.conn.WriteJSON(v); err != nil {
		client.logger.Debug("websocket write failed", map[string]interface{}{
			"remote": client.remote,
			"error":  err.Error(),
		})
		return false
	}
	return true
}

func (client *WebSocketClient) writeError(code, message string) bool {
	return client.writeJSON(wsErrorFrame{Error: APIError{Code: code, Message: message}})
}

func wsErrorFor(err error) (string, string) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return ErrorInternalError, "Erro interno ao processar a solicitação."
	}
	switch appErr.Type {
	case apperrors.ErrorTypeUnavailable:
		return ErrorGeneratorUnavailable, appErr.Message
	case apperrors.ErrorTypeUpstream:
		return ErrorGeneratorUpstream, appErr.Message
	}
	return appErr.Code, appErr.Message
}

// WebSocketManager tracks open chat connections so they can be closed on shutdown;
// http.Server.Shutdown does not touch hijacked connections.
type WebSocketManager struct {
	mutex   sync.RWMutex
	clients map[*WebSocketClient]struct{}
	metrics *utils.APIMetrics
	logger  *utils.Logger
}

// NewWebSocketManager creates an empty manager.
func NewWebSocketManager(metrics *utils.APIMetrics, logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewAPIMetrics(nil, logger)
	}
	return &WebSocketManager{
		clients: make(map[*WebSocketClient]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// Register starts tracking conn.
func (m *WebSocketManager) Register(conn *websocket.Conn, remote string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		remote:    remote,
		createdAt: time.Now(),
		logger:    m.logger,
	}
	m.mutex.Lock()
	m.clients[client] = struct{}{}
	m.mutex.Unlock()

	m.metrics.Collector().IncGauge("websocket_connections")
	m.logger.Debug("websocket connected", map[string]interface{}{"remote": remote})
	return client
}

// Unregister closes client and stops tracking it.
func (m *WebSocketManager) Unregister(client *WebSocketClient) {
	m.mutex.Lock()
	_, ok := m.clients[client]
	delete(m.clients, client)
	m.mutex.Unlock()

	client.Close()
	if ok {
		m.metrics.Collector().DecGauge("websocket_connections")
		m.logger.Debug("websocket disconnected", map[string]interface{}{
			"remote":   client.remote,
			"turns":    atomic.LoadInt64(&client.turns),
			"duration": time.Since(client.createdAt).String(),
		})
	}
}

// Count returns the number of open connections.
func (m *WebSocketManager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// CloseAll sends a going-away frame to every client and closes it.
func (m *WebSocketManager) CloseAll() {
	m.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(m.clients))
	for client := range m.clients {
		clients = append(clients, client)
	}
	m.mutex.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, client := range clients {
		_ = client.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		client.Close()
	}
	if len(clients) > 0 {
		m.logger.Info("closed websocket connections", map[string]interface{}{"count": len(clients)})
	}
}
