// Package websocket keeps the set of live listeners and fans detection
// messages out to them.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"detectionserver/internal/dto"
	"detectionserver/internal/logger"
)

// ErrConnectionClosed is returned when sending on a connection that was already disconnected.
var ErrConnectionClosed = errors.New("connection closed")

// WriteWait bounds a single write to a listener.
const WriteWait = 10 * time.Second

// Transport is the write side of an upgraded connection. *websocket.Conn satisfies it.
// Close must be safe to call while a write is in progress and must unblock it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionState is the lifecycle state of a listener.
type ConnectionState int32

const (
	StateActive ConnectionState = iota
	StateClosed
)

func (s ConnectionState) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "active"
}

// Kind classifies a failed send.
type Kind int

const (
	KindTransport Kind = iota
	KindPeerClosed
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindPeerClosed:
		return "peer_closed"
	case KindSerialization:
		return "serialization"
	default:
		return "transport"
	}
}

// SendError describes a failed delivery to one listener.
type SendError struct {
	Kind         Kind
	ConnectionID string
	Err          error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed (%s): %v", e.ConnectionID, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// classify maps a write error to a failure kind.
func classify(err error) Kind {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return KindPeerClosed
	}
	var syntaxErr *json.SyntaxError
	var unsupported *json.UnsupportedValueError
	if errors.As(err, &syntaxErr) || errors.As(err, &unsupported) {
		return KindSerialization
	}
	return KindTransport
}

// Connection is one registered listener. Writes are serialized because the
// underlying transport allows a single concurrent writer.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	transport Transport
	writeMu   sync.Mutex
	state     atomic.Int32
}

// State returns the connection state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Send writes one text message to the listener.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	if err := c.transport.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return c.transport.WriteMessage(websocket.TextMessage, data)
}

// SendText writes a text reply such as the ack echo.
func (c *Connection) SendText(text string) error {
	return c.Send([]byte(text))
}

// Stats counts broadcast activity.
type Stats struct {
	Connections           int    `json:"connections"`
	MessagesBroadcast     uint64 `json:"messages_broadcast"`
	Deliveries            uint64 `json:"deliveries"`
	PeerClosedFailures    uint64 `json:"peer_closed_failures"`
	TransportFailures     uint64 `json:"transport_failures"`
	SerializationFailures uint64 `json:"serialization_failures"`
}

// Hub is the registry of live listeners.
type Hub struct {
	mutex   sync.RWMutex
	clients map[*Connection]struct{}
	logger  *logger.Logger

	broadcasts    atomic.Uint64
	deliveries    atomic.Uint64
	peerClosed    atomic.Uint64
	transportErrs atomic.Uint64
	serialization atomic.Uint64

	marshal func(v any) ([]byte, error)
}

// NewHub creates an empty registry.
func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*Connection]struct{}),
		logger:  logger,
		marshal: json.Marshal,
	}
}

// Connect registers an upgraded transport as an active listener.
func (h *Hub) Connect(transport Transport) *Connection {
	conn := &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		transport:   transport,
	}

	h.mutex.Lock()
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("Client %s connected. Total: %d", conn.ID, total)
	return conn
}

// Disconnect removes the listener and closes its transport. Calling it again,
// or with a connection that was never registered, does nothing.
func (h *Hub) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}

	h.mutex.Lock()
	_, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return
	}

	// Close without the write lock so a stuck write is unblocked.
	conn.state.Store(int32(StateClosed))
	err := conn.transport.Close()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Warning("Closing client %s: %v", conn.ID, err)
	}
	h.logger.Info("Client %s disconnected. Total: %d", conn.ID, total)
}

// Broadcast sends message to every active listener. Failed listeners are
// disconnected; delivery to the others continues.
func (h *Hub) Broadcast(message dto.Message) {
	data, err := h.marshal(message)
	if err != nil {
		h.serialization.Add(1)
		h.logger.Error("Dropping %s message: %v", message.Type, err)
		return
	}
	h.broadcasts.Add(1)

	for _, conn := range h.snapshot() {
		if err := conn.Send(data); err != nil {
			h.fail(&SendError{Kind: classify(err), ConnectionID: conn.ID, Err: err}, conn)
			continue
		}
		h.deliveries.Add(1)
	}
}

func (h *Hub) fail(sendErr *SendError, conn *Connection) {
	switch sendErr.Kind {
	case KindPeerClosed:
		h.peerClosed.Add(1)
		h.logger.Info("Dropping client: %v", sendErr)
	case KindSerialization:
		h.serialization.Add(1)
		h.logger.Error("Dropping client: %v", sendErr)
	default:
		h.transportErrs.Add(1)
		h.logger.Warning("Dropping client: %v", sendErr)
	}
	h.Disconnect(conn)
}

func (h *Hub) snapshot() []*Connection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	conns := make([]*Connection, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	return conns
}

// Connections returns the currently registered listeners.
func (h *Hub) Connections() []*Connection {
	return h.snapshot()
}

// Count returns the number of registered listeners.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Stats returns the broadcast counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections:           h.Count(),
		MessagesBroadcast:     h.broadcasts.Load(),
		Deliveries:            h.deliveries.Load(),
		PeerClosedFailures:    h.peerClosed.Load(),
		TransportFailures:     h.transportErrs.Load(),
		SerializationFailures: h.serialization.Load(),
	}
}
