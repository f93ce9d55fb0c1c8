package ws

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(remote string) *Client {
	return &Client{
		conn:   nil, // Not needed for hub tests
		remote: remote,
		send:   make(chan Message, 256),
		logger: zap.NewNop(),
	}
}

// TestRegisterUnregister verifies that registration tracks clients and
// that unregistering closes the send channel.
func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newTestClient("10.0.0.1:1234")

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	if _, ok := <-client.send; ok {
		t.Error("client.send channel is not closed")
	}
}

// TestUnregisterTwice verifies that a double unregister is safe.
func TestUnregisterTwice(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newTestClient("10.0.0.1:1234")

	hub.Register(client)
	hub.Unregister(client)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("second Unregister() panicked: %v", r)
		}
	}()
	hub.Unregister(client)
}

// TestBroadcast verifies that every registered client receives a message.
func TestBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())

	clients := []*Client{
		newTestClient("10.0.0.1:1"),
		newTestClient("10.0.0.2:2"),
		newTestClient("10.0.0.3:3"),
	}
	for _, c := range clients {
		hub.Register(c)
	}

	msg := Message{
		Type:       MessageIncidentOpened,
		IncidentID: "inc-123",
		Timestamp:  time.Now(),
		Data:       IncidentData{State: "open", DeviceIDs: []string{"a", "b"}, Signals: 3},
	}
	hub.Broadcast(msg)

	for i, client := range clients {
		select {
		case received := <-client.send:
			if received.Type != MessageIncidentOpened {
				t.Errorf("client %d received Type = %v, want %v", i+1, received.Type, MessageIncidentOpened)
			}
			if received.IncidentID != "inc-123" {
				t.Errorf("client %d received IncidentID = %v, want inc-123", i+1, received.IncidentID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %d did not receive message", i+1)
		}
	}
}

// TestBroadcastDropsWhenBufferFull verifies that a slow client loses the
// message instead of blocking the broadcaster.
func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newTestClient("10.0.0.1:1234")
	hub.Register(client)

	for i := 0; i < cap(client.send); i++ {
		client.send <- Message{Type: MessageSignalDetected, Timestamp: time.Now()}
	}

	hub.Broadcast(Message{
		Type:       MessageRunFinished,
		IncidentID: "inc-dropped",
		Timestamp:  time.Now(),
	})

	if len(client.send) != cap(client.send) {
		t.Errorf("client.send length = %d, want %d (message should have been dropped)",
			len(client.send), cap(client.send))
	}
	received := <-client.send
	if received.IncidentID == "inc-dropped" {
		t.Error("dropped message was unexpectedly received")
	}
}

// TestConcurrentRegisterUnregisterBroadcast verifies that concurrent hub
// operations are safe.
func TestConcurrentRegisterUnregisterBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := newTestClient("10.0.0.1:1234")
			hub.Register(client)
			go func() {
				for range client.send {
					// Discard messages.
				}
			}()
			time.Sleep(10 * time.Millisecond)
			hub.Unregister(client)
		}()
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hub.Broadcast(Message{
				Type:      MessageRunAdvanced,
				Timestamp: time.Now(),
				Data:      RunData{Stage: "diagnosing", Loops: n},
			})
		}(i)
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0 after all clients left", hub.ClientCount())
	}
}
