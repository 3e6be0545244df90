package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectionserver/internal/dto"
	"detectionserver/internal/logger"
	"detectionserver/internal/model"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
	closes   int
	onWrite  func()
}

func (t *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if t.onWrite != nil {
		t.onWrite()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if messageType != websocket.TextMessage {
		return fmt.Errorf("unexpected message type %d", messageType)
	}
	if t.err != nil {
		return t.err
	}
	t.messages = append(t.messages, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) received() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func dogMessage() dto.Message {
	return dto.NewDetectionsMessage([]model.PersistedDetection{{
		ID: 1,
		Detection: model.Detection{
			ObjectName: "dog",
			Confidence: 0.92,
			BBox:       model.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
		},
		Timestamp: time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC),
	}})
}

func TestHub_ConnectAssignsIDs(t *testing.T) {
	hub := NewHub(logger.Discard())

	a := hub.Connect(&fakeTransport{})
	b := hub.Connect(&fakeTransport{})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, StateActive, a.State())
	assert.Equal(t, 2, hub.Count())
}

func TestHub_BroadcastDeliversSameBytesToAll(t *testing.T) {
	hub := NewHub(logger.Discard())
	transports := []*fakeTransport{{}, {}, {}}
	for _, tr := range transports {
		hub.Connect(tr)
	}

	hub.Broadcast(dogMessage())

	want, err := json.Marshal(dogMessage())
	require.NoError(t, err)
	for _, tr := range transports {
		require.Equal(t, 1, tr.received())
		assert.JSONEq(t, string(want), string(tr.messages[0]))
	}
	assert.Equal(t, uint64(3), hub.Stats().Deliveries)
}

func TestHub_BroadcastDropsOnlyFailingListener(t *testing.T) {
	hub := NewHub(logger.Discard())
	good1, bad, good2 := &fakeTransport{}, &fakeTransport{err: errors.New("write: broken")}, &fakeTransport{}
	hub.Connect(good1)
	badConn := hub.Connect(bad)
	hub.Connect(good2)

	hub.Broadcast(dogMessage())

	assert.Equal(t, 1, good1.received())
	assert.Equal(t, 1, good2.received())
	assert.Equal(t, StateClosed, badConn.State())
	assert.Equal(t, 1, bad.closeCount())
	assert.Equal(t, 2, hub.Count())

	hub.Broadcast(dogMessage())
	assert.Equal(t, 2, good1.received())
	assert.Equal(t, 2, good2.received())
	assert.Equal(t, 0, bad.received())

	stats := hub.Stats()
	assert.Equal(t, uint64(1), stats.TransportFailures)
	assert.Equal(t, uint64(2), stats.MessagesBroadcast)
	assert.Equal(t, uint64(4), stats.Deliveries)
}

func TestHub_BroadcastWithNoListeners(t *testing.T) {
	hub := NewHub(logger.Discard())
	hub.Broadcast(dogMessage())
	assert.Equal(t, uint64(1), hub.Stats().MessagesBroadcast)
	assert.Zero(t, hub.Stats().Deliveries)
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	hub := NewHub(logger.Discard())
	tr := &fakeTransport{}
	conn := hub.Connect(tr)

	hub.Disconnect(conn)
	hub.Disconnect(conn)
	hub.Disconnect(nil)

	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, 1, tr.closeCount())
	assert.ErrorIs(t, conn.Send([]byte("late")), ErrConnectionClosed)
}

func TestHub_DisconnectUnknownConnection(t *testing.T) {
	hub := NewHub(logger.Discard())
	other := NewHub(logger.Discard())
	tr := &fakeTransport{}
	stranger := other.Connect(tr)
	hub.Connect(&fakeTransport{})

	hub.Disconnect(stranger)

	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, StateActive, stranger.State())
	assert.Zero(t, tr.closeCount())
}

func TestHub_MutationDuringBroadcast(t *testing.T) {
	hub := NewHub(logger.Discard())
	victim := &fakeTransport{}
	late := &fakeTransport{}

	var victimConn *Connection
	var once sync.Once
	trigger := &fakeTransport{}
	trigger.onWrite = func() {
		once.Do(func() {
			hub.Connect(late)
			hub.Disconnect(victimConn)
		})
	}
	hub.Connect(trigger)
	victimConn = hub.Connect(victim)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(dogMessage())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast deadlocked while the set was mutated")
	}

	assert.Equal(t, 1, trigger.received())
	// The late listener was not in the snapshot.
	assert.Equal(t, 0, late.received())
	assert.Equal(t, StateClosed, victimConn.State())
	assert.Equal(t, 2, hub.Count())

	hub.Broadcast(dogMessage())
	assert.Equal(t, 1, late.received())
}

// stalledTransport models a peer that stopped reading: writes block until Close.
type stalledTransport struct {
	writing   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newStalledTransport() *stalledTransport {
	return &stalledTransport{writing: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (t *stalledTransport) WriteMessage(int, []byte) error {
	select {
	case t.writing <- struct{}{}:
	default:
	}
	<-t.closed
	return net.ErrClosed
}

func (t *stalledTransport) SetWriteDeadline(time.Time) error { return nil }

func (t *stalledTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func TestHub_DisconnectUnblocksStalledBroadcast(t *testing.T) {
	hub := NewHub(logger.Discard())
	stalled := newStalledTransport()
	healthy := &fakeTransport{}
	conn := hub.Connect(stalled)
	hub.Connect(healthy)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(dogMessage())
		close(done)
	}()

	select {
	case <-stalled.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("write to stalled listener never started")
	}

	disconnected := make(chan struct{})
	go func() {
		hub.Disconnect(conn)
		close(disconnected)
	}()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked behind the stalled write")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast still stuck after Disconnect")
	}

	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, 1, healthy.received())
}

type deadlineTransport struct {
	fakeTransport
	deadline time.Time
}

func (t *deadlineTransport) SetWriteDeadline(d time.Time) error {
	t.deadline = d
	return nil
}

func TestConnection_SendSetsWriteDeadline(t *testing.T) {
	hub := NewHub(logger.Discard())
	tr := &deadlineTransport{}
	conn := hub.Connect(tr)

	before := time.Now()
	require.NoError(t, conn.SendText("ack: hi"))

	assert.False(t, tr.deadline.Before(before.Add(WriteWait)))
	assert.Equal(t, 1, tr.received())
}

func TestHub_ConcurrentConnectAndBroadcast(t *testing.T) {
	hub := NewHub(logger.Discard())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			conn := hub.Connect(&fakeTransport{})
			_ = conn.SendText("ack: hi")
			hub.Disconnect(conn)
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(dogMessage())
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Count())
}

func TestHub_MarshalFailureKeepsListeners(t *testing.T) {
	hub := NewHub(logger.Discard())
	hub.marshal = func(any) ([]byte, error) {
		return nil, &json.UnsupportedValueError{Str: "NaN"}
	}
	tr := &fakeTransport{}
	hub.Connect(tr)

	hub.Broadcast(dogMessage())

	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, 0, tr.received())
	assert.Equal(t, uint64(1), hub.Stats().SerializationFailures)
	assert.Zero(t, hub.Stats().MessagesBroadcast)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"close frame", &websocket.CloseError{Code: websocket.CloseGoingAway}, KindPeerClosed},
		{"close sent", websocket.ErrCloseSent, KindPeerClosed},
		{"already closed", ErrConnectionClosed, KindPeerClosed},
		{"closed socket", fmt.Errorf("write tcp: %w", net.ErrClosed), KindPeerClosed},
		{"broken pipe", fmt.Errorf("write: %w", syscall.EPIPE), KindPeerClosed},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), KindPeerClosed},
		{"unsupported value", &json.UnsupportedValueError{Str: "NaN"}, KindSerialization},
		{"other", errors.New("i/o timeout"), KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestSendError(t *testing.T) {
	err := &SendError{Kind: KindPeerClosed, ConnectionID: "abc", Err: websocket.ErrCloseSent}
	assert.ErrorIs(t, err, websocket.ErrCloseSent)
	assert.Contains(t, err.Error(), "peer_closed")
	assert.Contains(t, err.Error(), "abc")
}
