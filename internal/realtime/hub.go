// Package realtime pushes committed document changes to websocket clients.
// Clients subscribe to a topic (a collection, optionally narrowed to one
// document) and the hub keeps one store watch open per topic while anyone is
// listening.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/pkg/docstore"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	sendBuffer = 256
)

// Topic selects the documents a client listens to.
type Topic struct {
	Collection string
	ID         string
}

// Key identifies the topic's room.
func (t Topic) Key() string {
	if t.ID == "" {
		return t.Collection
	}
	return t.Collection + "/" + t.ID
}

func (t Topic) query() docstore.Query {
	if t.ID == "" {
		return docstore.Query{}
	}
	return docstore.Query{Where: []docstore.Cond{docstore.Eq("id", t.ID)}}
}

// ChangeEvent is the payload of a change message.
type ChangeEvent struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Document   json.RawMessage `json:"document,omitempty"`
}

// Hub maintains topic -> set of connections and fans store changes out to them.
type Hub struct {
	store   docstore.Store
	rooms   map[string]map[string]*Client
	cancels map[string]context.CancelFunc
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a hub watching store.
func NewHub(store docstore.Store, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:   store,
		rooms:   make(map[string]map[string]*Client),
		cancels: make(map[string]context.CancelFunc),
		logger:  logger,
	}
}

// Register adds a client to its topic room, opening the store watch if it is
// the first listener.
func (h *Hub) Register(c *Client) error {
	key := c.Topic.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[key] == nil {
		ctx, cancel := context.WithCancel(context.Background())
		changes, err := h.store.Watch(ctx, c.Topic.Collection, c.Topic.query())
		if err != nil {
			cancel()
			return fmt.Errorf("watch %s: %w", key, err)
		}
		h.rooms[key] = make(map[string]*Client)
		h.cancels[key] = cancel
		go h.forward(key, changes)
	}
	h.rooms[key][c.ID] = c
	h.logger.Debug("client subscribed", zap.String("client_id", c.ID), zap.String("topic", key))
	return nil
}

// Unregister removes a client. The store watch closes with the last listener.
func (h *Hub) Unregister(c *Client) {
	key := c.Topic.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[key]
	if !ok {
		return
	}
	if _, ok := room[c.ID]; !ok {
		return
	}
	delete(room, c.ID)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, key)
		if cancel, ok := h.cancels[key]; ok {
			cancel()
			delete(h.cancels, key)
		}
	}
	h.logger.Debug("client unsubscribed", zap.String("client_id", c.ID), zap.String("topic", key))
}

// Listeners returns the number of clients on a topic.
func (h *Hub) Listeners(t Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[t.Key()])
}

// Close drops every watch. Connected clients see their send channel closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, room := range h.rooms {
		for _, c := range room {
			close(c.send)
		}
		h.cancels[key]()
	}
	h.rooms = make(map[string]map[string]*Client)
	h.cancels = make(map[string]context.CancelFunc)
}

func (h *Hub) forward(key string, changes <-chan docstore.Change) {
	for ch := range changes {
		doc := ch.Document
		evt := ChangeEvent{Collection: doc.Collection, ID: doc.ID, Version: doc.Version}
		if ch.Type != docstore.ChangeDeleted {
			evt.Document = doc.Data
		}
		h.Broadcast(key, string(ch.Type), evt)
	}
}

// Broadcast sends a message to all clients on a topic key.
func (h *Hub) Broadcast(key, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal broadcast failed", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[key] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("client_id", c.ID), zap.String("topic", key))
		}
	}
}
