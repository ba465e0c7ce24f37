package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MimeLyc/jobdesk/internal/listing"
)

// eventBuffer is how many events a slow stream client may lag behind before
// events are dropped for it.
const eventBuffer = 16

// Broadcaster fans listing events out to every open job stream.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan listing.Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan listing.Event]struct{})}
}

// Publish never blocks; a full subscriber misses the event and picks up the
// state on its next tick.
func (b *Broadcaster) Publish(e listing.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Broadcaster) Subscribe() (<-chan listing.Event, func()) {
	ch := make(chan listing.Event, eventBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

type streamMessage struct {
	Event *listing.Event `json:"event,omitempty"`
	View  listing.View   `json:"view"`
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(e *listing.Event) bool {
		payload, err := json.Marshal(streamMessage{Event: e, View: s.list.View()})
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(nil) {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if !send(&e) {
				return
			}
		case <-ticker.C:
			if !send(nil) {
				return
			}
		}
	}
}
