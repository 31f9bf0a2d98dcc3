package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// TestNewHub tests hub creation
func TestNewHub(t *testing.T) {
	hub := NewHub()

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.Register)
	assert.NotNil(t, hub.Unregister)
	assert.NotNil(t, hub.Broadcast)
	assert.NotNil(t, hub.handlers)
}

// TestRegisterClient tests client registration
func TestRegisterClient(t *testing.T) {
	hub := runHub(t)
	client := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())

	hub.Register <- client

	assert.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
	registered, ok := hub.GetClient("session-1")
	assert.True(t, ok)
	assert.Same(t, client, registered)
}

// TestRegisterDuplicateClient tests replacing an existing client
func TestRegisterDuplicateClient(t *testing.T) {
	hub := runHub(t)
	client1 := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())
	client2 := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())

	hub.Register <- client1
	hub.Register <- client2

	assert.Eventually(t, func() bool {
		c, ok := hub.GetClient("session-1")
		return ok && c == client2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.GetClientCount())

	// the replaced client's queue is closed
	_, open := <-client1.Send
	assert.False(t, open)
}

// TestUnregisterClient tests client unregistration
func TestUnregisterClient(t *testing.T) {
	hub := runHub(t)
	client := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())

	hub.Register <- client
	hub.Unregister <- client

	assert.Eventually(t, func() bool {
		return hub.GetClientCount() == 0 && !client.SendMessage(&Message{Type: "rates"})
	}, time.Second, 5*time.Millisecond)
}

// TestStaleUnregisterKeepsReplacement tests that a replaced connection
// leaving does not remove its successor
func TestStaleUnregisterKeepsReplacement(t *testing.T) {
	hub := runHub(t)
	client1 := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())
	client2 := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())

	hub.Register <- client1
	hub.Register <- client2
	hub.Unregister <- client1

	time.Sleep(20 * time.Millisecond)
	registered, ok := hub.GetClient("session-1")
	require.True(t, ok)
	assert.Same(t, client2, registered)
}

// TestSendToUser tests targeted delivery
func TestSendToUser(t *testing.T) {
	hub := runHub(t)
	client := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	msg := &Message{Type: "input", Data: map[string]interface{}{"value": 2.5}}
	hub.SendToUser(client.ID, msg)

	select {
	case received := <-client.Send:
		assert.Equal(t, msg, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Message not received")
	}

	// unknown ids are ignored
	hub.SendToUser("missing", msg)
}

// TestSendToAll tests broadcast through the Broadcast channel
func TestSendToAll(t *testing.T) {
	hub := runHub(t)

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = NewClient(fmt.Sprintf("session-%d", i), createTestWebSocketConn(t), hub, zap.NewNop())
		hub.Register <- clients[i]
	}
	require.Eventually(t, func() bool { return hub.GetClientCount() == 3 }, time.Second, 5*time.Millisecond)

	hub.Broadcast <- &Message{Type: "sync_status", Data: map[string]interface{}{"is_syncing": true}}

	for i, client := range clients {
		select {
		case msg := <-client.Send:
			assert.Equal(t, "sync_status", msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("Client %d did not receive broadcast", i)
		}
	}
}

// TestHandleMessage tests handler dispatch and the unknown type reply
func TestHandleMessage(t *testing.T) {
	hub := NewHub()
	client := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())

	var received *Message
	hub.RegisterHandler("update_input", func(c *Client, msg *Message) {
		received = msg
	})
	assert.Contains(t, hub.handlers, "update_input")

	hub.HandleMessage(client, &Message{Type: "update_input", Data: map[string]interface{}{"value": "12"}})
	require.NotNil(t, received)
	assert.Equal(t, "12", received.Data["value"])

	hub.HandleMessage(client, &Message{Type: "unknown_type"})
	reply := <-client.Send
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Data["message"], "unknown_type")
}

// TestClientChannelOverflow tests that a stuck client drops messages instead
// of blocking the sender
func TestClientChannelOverflow(t *testing.T) {
	client := NewClient("session-1", createTestWebSocketConn(t), NewHub(), zap.NewNop())
	client.Send = make(chan *Message, 2)

	sent := 0
	for i := 0; i < 5; i++ {
		if client.SendMessage(&Message{Type: "rates"}) {
			sent++
		}
	}

	assert.Equal(t, 2, sent)
}

// TestRunStopsOnCancel tests that stopping the hub disconnects clients and
// that Leave no longer blocks
func TestRunStopsOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := NewClient("session-1", createTestWebSocketConn(t), hub, zap.NewNop())
	hub.Register <- client
	cancel()
	<-stopped

	assert.Equal(t, 0, hub.GetClientCount())
	done := make(chan struct{})
	go func() {
		hub.Leave(client)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Leave blocked after hub stopped")
	}
}

// TestConcurrentAccess tests thread-safety under concurrent load
func TestConcurrentAccess(t *testing.T) {
	hub := runHub(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client := NewClient(fmt.Sprintf("session-%d", id), createTestWebSocketConn(t), hub, zap.NewNop())
			hub.Register <- client
			for j := 0; j < 5; j++ {
				hub.SendToUser(client.ID, &Message{Type: "rates", Data: map[string]interface{}{"count": j}})
				hub.SendToAll(&Message{Type: "input"})
			}
			hub.Unregister <- client
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

// TestPumps exercises a real connection end to end
func TestPumps(t *testing.T) {
	hub := runHub(t)
	hub.RegisterHandler("ping", func(c *Client, msg *Message) {
		c.SendMessage(&Message{Type: "pong", Data: msg.Data})
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient("session-1", conn, hub, zap.NewNop())
		hub.Register <- client
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping", Data: map[string]interface{}{"n": 1.0}}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply.Type)
	assert.Equal(t, 1.0, reply.Data["n"])

	conn.Close()
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
