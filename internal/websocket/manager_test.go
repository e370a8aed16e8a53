package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/chatline/internal/models"
)

func startManager(t *testing.T) *Manager {
	t.Helper()
	manager := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)
	t.Cleanup(cancel)
	return manager
}

// testClient returns a client with no socket; the manager never touches it
func testClient(userID string, buffer int) *Client {
	c := newClient(userID, nil)
	c.Send = make(chan []byte, buffer)
	return c
}

func joinAndWait(t *testing.T, m *Manager, c *Client) {
	t.Helper()
	before := m.RoomSize(c.UserID)
	require.True(t, m.join(c))
	require.Eventually(t, func() bool { return m.RoomSize(c.UserID) == before+1 }, time.Second, 5*time.Millisecond)
}

func TestNewManager(t *testing.T) {
	manager := NewManager()

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.rooms)
	assert.NotNil(t, manager.register)
	assert.NotNil(t, manager.unregister)
}

func TestManagerJoinLeave(t *testing.T) {
	manager := startManager(t)
	client := testClient("alice", 4)

	joinAndWait(t, manager, client)
	assert.Equal(t, 1, manager.RoomSize("alice"))

	manager.leave(client)
	assert.Eventually(t, func() bool { return manager.RoomSize("alice") == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-client.Send
	assert.False(t, open, "leaving closes the send channel")
}

func TestDeliverToEveryTabInRoom(t *testing.T) {
	manager := startManager(t)
	tab1, tab2 := testClient("bob", 4), testClient("bob", 4)
	other := testClient("carol", 4)
	joinAndWait(t, manager, tab1)
	joinAndWait(t, manager, tab2)
	joinAndWait(t, manager, other)

	msg := models.NewMessage("alice", "bob", "hello", "tmp-1", false)
	manager.Deliver("bob", "receiveMessage", msg)

	for _, c := range []*Client{tab1, tab2} {
		select {
		case data := <-c.Send:
			var ev Event
			require.NoError(t, json.Unmarshal(data, &ev))
			assert.Equal(t, "receiveMessage", ev.Type)
			assert.Equal(t, msg.MessageID, ev.Data.MessageID)
		default:
			t.Fatalf("client %s got nothing", c.ID)
		}
	}
	assert.Len(t, other.Send, 0)
}

func TestDeliverToEmptyRoom(t *testing.T) {
	manager := startManager(t)
	assert.NotPanics(t, func() {
		manager.Deliver("nobody", "receiveMessage", models.NewMessage("a", "nobody", "x", "", false))
	})
}

func TestDeliverDropsFullClient(t *testing.T) {
	manager := startManager(t)
	slow := testClient("bob", 1)
	fast := testClient("bob", 8)
	joinAndWait(t, manager, slow)
	joinAndWait(t, manager, fast)

	msg := models.NewMessage("alice", "bob", "hello", "", false)
	manager.Deliver("bob", "receiveMessage", msg)
	manager.Deliver("bob", "receiveMessage", msg)

	assert.Equal(t, 1, manager.RoomSize("bob"))
	assert.Len(t, fast.Send, 2)

	// slow keeps what it buffered, then sees the channel closed
	<-slow.Send
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestSendToClientAfterRemoval(t *testing.T) {
	manager := startManager(t)
	client := testClient("alice", 4)
	joinAndWait(t, manager, client)

	manager.leave(client)
	require.Eventually(t, func() bool { return manager.RoomSize("alice") == 0 }, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() {
		assert.False(t, manager.sendToClient(client, []byte(`{}`)))
	})
}

func TestManagerStopClosesClients(t *testing.T) {
	manager := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()

	client := testClient("alice", 4)
	joinAndWait(t, manager, client)

	cancel()
	require.NoError(t, <-done)

	_, open := <-client.Send
	assert.False(t, open)
	assert.False(t, manager.join(testClient("bob", 1)), "join fails once stopped")
}
