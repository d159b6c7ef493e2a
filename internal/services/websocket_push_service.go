package services

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"vault-backend/internal/metrics"
	"vault-backend/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// PushMessage is the envelope for every websocket status push
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	Owner     string      `json:"owner"`
	Data      interface{} `json:"data"`
}

// ExecutionStatusData describes one execution status transition. Settle
// events may arrive for operations a client already abandoned; subscribers
// must tolerate late, unsolicited updates.
type ExecutionStatusData struct {
	ExecutionID string `json:"execution_id"`
	ChainID     int    `json:"chain_id"`
	Direction   string `json:"direction"`
	Strategy    string `json:"strategy,omitempty"`
	State       string `json:"state"`
	TxHash      string `json:"tx_hash,omitempty"`
	Synthetic   bool   `json:"synthetic,omitempty"`
	Error       string `json:"error,omitempty"`
}

// wsConnection is one subscribed client
type wsConnection struct {
	id    string
	owner string
	conn  *websocket.Conn
	send  chan []byte
}

// WebSocketPushService fans execution status transitions out to subscribed
// clients, keyed by owner address.
type WebSocketPushService struct {
	mu          sync.RWMutex
	connections map[string]*wsConnection   // key: connection id
	ownerConns  map[string][]*wsConnection // key: lowercase owner address
}

// NewWebSocketPushService creates the push hub
func NewWebSocketPushService() *WebSocketPushService {
	return &WebSocketPushService{
		connections: make(map[string]*wsConnection),
		ownerConns:  make(map[string][]*wsConnection),
	}
}

// Register attaches an upgraded connection for an owner and starts its write
// pump. The returned id is used to unregister.
func (s *WebSocketPushService) Register(owner string, conn *websocket.Conn) string {
	c := &wsConnection{
		id:    uuid.New().String(),
		owner: strings.ToLower(owner),
		conn:  conn,
		send:  make(chan []byte, 64),
	}

	s.mu.Lock()
	s.connections[c.id] = c
	s.ownerConns[c.owner] = append(s.ownerConns[c.owner], c)
	s.mu.Unlock()
	metrics.WebSocketConnections.Inc()

	go s.writePump(c)

	logrus.WithFields(logrus.Fields{
		"connection_id": c.id,
		"owner":         c.owner,
	}).Debug("WebSocket subscriber registered")
	return c.id
}

// Unregister detaches a connection and closes its send channel
func (s *WebSocketPushService) Unregister(id string) {
	s.mu.Lock()
	c, ok := s.connections[id]
	if ok {
		delete(s.connections, id)
		remaining := s.ownerConns[c.owner][:0]
		for _, other := range s.ownerConns[c.owner] {
			if other.id != id {
				remaining = append(remaining, other)
			}
		}
		if len(remaining) == 0 {
			delete(s.ownerConns, c.owner)
		} else {
			s.ownerConns[c.owner] = remaining
		}
	}
	s.mu.Unlock()

	if ok {
		close(c.send)
		metrics.WebSocketConnections.Dec()
	}
}

// PushExecutionStatus sends a status transition to every connection
// subscribed to the owner
func (s *WebSocketPushService) PushExecutionStatus(owner string, data *ExecutionStatusData) {
	message := PushMessage{
		Type:      "execution_status",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.New().String(),
		Owner:     owner,
		Data:      data,
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode push message")
		return
	}

	s.mu.RLock()
	targets := append([]*wsConnection(nil), s.ownerConns[strings.ToLower(owner)]...)
	s.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- encoded:
		default:
			// slow consumer: drop the message rather than block the settle path
			logrus.WithField("connection_id", c.id).Warn("WebSocket send buffer full, dropping message")
		}
	}
}

// PushOutcome maps a terminal outcome onto a status push
func (s *WebSocketPushService) PushOutcome(executionID string, intent *types.TransferIntent, outcome *types.ExecutionOutcome) {
	state := string(types.StateSucceeded)
	if !outcome.IsSuccessful {
		state = string(types.StateFailed)
	}
	s.PushExecutionStatus(intent.Owner.Hex(), &ExecutionStatusData{
		ExecutionID: executionID,
		ChainID:     intent.ChainID,
		Direction:   string(intent.Direction),
		Strategy:    string(outcome.Strategy),
		State:       state,
		TxHash:      outcome.TxHash,
		Synthetic:   outcome.Synthetic,
		Error:       outcome.Error,
	})
}

// writePump serializes writes for one connection
func (s *WebSocketPushService) writePump(c *wsConnection) {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logrus.WithField("connection_id", c.id).WithError(err).Debug("WebSocket write failed, dropping connection")
			s.Unregister(c.id)
			return
		}
	}
}
