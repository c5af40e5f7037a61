package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polo/internal/dto"
	"polo/internal/logger"
	"polo/internal/service/classify"
)

// closeWait bounds the close handshake sent to viewers on shutdown.
const closeWait = time.Second

type message struct {
	run  string
	data []byte
}

type subscription struct {
	conn *websocket.Conn
	run  string
}

// HubService fans progress messages out to connected viewers. A viewer
// subscribed to a run only receives that run's messages.
type HubService struct {
	clients    map[*websocket.Conn]string
	broadcast  chan message
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan message, 64),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is cancelled, then says goodbye to every
// client and closes it.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			goodbye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			for client := range h.clients {
				_ = client.WriteControl(websocket.CloseMessage, goodbye, time.Now().Add(closeWait))
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case sub := <-h.register:
			h.mutex.Lock()
			h.clients[sub.conn] = sub.run
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", h.GetClientCount())

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", h.GetClientCount())

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for client, run := range h.clients {
				if run != "" && msg.run != "" && run != msg.run {
					continue
				}
				if err := client.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a viewer of every run.
func (h *HubService) Register(client *websocket.Conn) {
	h.Subscribe(client, "")
}

// Subscribe adds a viewer of run; an empty run means every run. After the
// hub stopped the connection is closed instead.
func (h *HubService) Subscribe(client *websocket.Conn, run string) {
	select {
	case h.register <- subscription{conn: client, run: run}:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// send queues msg. It drops the message when the queue is full so a slow
// viewer never stalls classification.
func (h *HubService) send(msg message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warning("Broadcast queue full, dropping message")
	}
}

// Publish encodes v as JSON and sends it to the viewers of run, and to
// viewers of every run.
func (h *HubService) Publish(run string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode message: %v", err)
		return
	}
	h.send(message{run: run, data: data})
}

// Follow forwards the progress of task to viewers until it ends.
func (h *HubService) Follow(task *classify.Task) {
	name := task.Run().Name
	for p := range task.Progress() {
		h.Publish(name, dto.NewProgressMessage(p))
	}
	h.Publish(name, dto.NewDoneMessage(task.Wait()))
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
