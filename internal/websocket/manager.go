package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ammar1510/chatline/internal/logger"
	"github.com/ammar1510/chatline/internal/metrics"
	"github.com/ammar1510/chatline/internal/models"
)

const sendBufferSize = 256

var log = logger.New("websocket")

// Client is one open connection. A user with several tabs has several
// clients in the same room.
type Client struct {
	ID     uuid.UUID
	UserID string
	Socket *websocket.Conn
	Send   chan []byte
}

func newClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		Socket: conn,
		Send:   make(chan []byte, sendBufferSize),
	}
}

// Event is a server push carrying a message.
type Event struct {
	Type string          `json:"type"`
	Data *models.Message `json:"data,omitempty"`
}

// Manager maintains the rooms of active clients, keyed by user id.
type Manager struct {
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.Mutex
}

// NewManager creates a new websocket manager
func NewManager() *Manager {
	return &Manager{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes joins and leaves until ctx is cancelled, then closes every
// remaining client.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		close(m.done)
		m.mutex.Lock()
		for _, room := range m.rooms {
			for client := range room {
				m.removeLocked(client)
			}
		}
		m.mutex.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case client := <-m.register:
			m.mutex.Lock()
			room, ok := m.rooms[client.UserID]
			if !ok {
				room = make(map[*Client]struct{})
				m.rooms[client.UserID] = room
			}
			room[client] = struct{}{}
			metrics.Connections.Inc()
			log.Info("Client %s joined room %s (%d open)", client.ID, client.UserID, len(room))
			m.mutex.Unlock()
		case client := <-m.unregister:
			m.mutex.Lock()
			if m.removeLocked(client) {
				log.Info("Client %s left room %s", client.ID, client.UserID)
			}
			m.mutex.Unlock()
		}
	}
}

// join hands client to the run loop. It reports false once the manager
// has stopped.
func (m *Manager) join(client *Client) bool {
	select {
	case m.register <- client:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) leave(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
	}
}

// removeLocked drops client from its room and closes its send channel.
// The caller holds m.mutex.
func (m *Manager) removeLocked(client *Client) bool {
	room, ok := m.rooms[client.UserID]
	if !ok {
		return false
	}
	if _, ok := room[client]; !ok {
		return false
	}
	delete(room, client)
	if len(room) == 0 {
		delete(m.rooms, client.UserID)
	}
	close(client.Send)
	metrics.Connections.Dec()
	return true
}

// Deliver pushes {type: event, data: msg} to every client in roomID.
// It never blocks: a client whose buffer is full is dropped.
func (m *Manager) Deliver(roomID, event string, msg *models.Message) {
	data, err := json.Marshal(Event{Type: event, Data: msg})
	if err != nil {
		log.Error("Failed to encode %s event: %v", event, err)
		return
	}
	m.SendToRoom(roomID, data)
}

// SendToRoom sends raw data to every client in roomID.
func (m *Manager) SendToRoom(roomID string, data []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		log.Debug("Room %s has no open connections", roomID)
		return
	}
	for client := range room {
		select {
		case client.Send <- data:
		default:
			m.removeLocked(client)
			log.Warn("Send buffer full for client %s in room %s, dropping it", client.ID, roomID)
		}
	}
}

// sendToClient sends data to one client if it is still registered.
func (m *Manager) sendToClient(client *Client, data []byte) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.rooms[client.UserID][client]; !ok {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		m.removeLocked(client)
		log.Warn("Send buffer full for client %s, dropping it", client.ID)
		return false
	}
}

// RoomSize returns how many connections are open for userID.
func (m *Manager) RoomSize(userID string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.rooms[userID])
}
