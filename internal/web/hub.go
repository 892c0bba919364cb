package web

import (
	"encoding/json"
	"log"
	"sync"
)

// sendBuffer is the number of outbound frames queued per subscriber.
const sendBuffer = 32

// subscriber is one websocket connection watching a document.
type subscriber struct {
	send chan []byte
}

// Hub fans document events out to the websocket subscribers of each
// document. Notifications never block: a subscriber whose queue is full
// misses the event and catches up on its next sync.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*subscriber]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{})}
}

// UpdateEvent tells subscribers that a document moved to a new revision.
type UpdateEvent struct {
	Type string `json:"type"` // "update" or "deleted"
	ID   string `json:"id"`
	Rev  int    `json:"rev,omitempty"`
}

func (h *Hub) subscribe(docID string) *subscriber {
	s := &subscriber{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	room, ok := h.rooms[docID]
	if !ok {
		room = make(map[*subscriber]struct{})
		h.rooms[docID] = room
	}
	room[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// unsubscribe removes s from the room. After it returns no notification
// will be sent on s.send, so the caller may close it.
func (h *Hub) unsubscribe(docID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[docID]
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, docID)
	}
}

// Subscribers returns the number of subscribers watching docID.
func (h *Hub) Subscribers(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[docID])
}

// notify sends ev to every subscriber of docID except one.
func (h *Hub) notify(docID string, ev UpdateEvent, except *subscriber) {
	buf, err := json.Marshal(ev)
	if err != nil {
		log.Printf("hub: encode %s event: %v", ev.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.rooms[docID] {
		if s == except {
			continue
		}
		select {
		case s.send <- buf:
		default:
			log.Printf("hub: dropped %s event for a slow subscriber of %s", ev.Type, docID)
		}
	}
}

// NotifyUpdate tells the subscribers of docID that it is now at rev.
func (h *Hub) NotifyUpdate(docID string, rev int) {
	h.notify(docID, UpdateEvent{Type: "update", ID: docID, Rev: rev}, nil)
}

// NotifyDeleted tells the subscribers of docID that it was deleted.
func (h *Hub) NotifyDeleted(docID string) {
	h.notify(docID, UpdateEvent{Type: "deleted", ID: docID}, nil)
}
