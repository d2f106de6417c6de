package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/rupeeline/collectbot/internal/store"
)

// monitorEvent is what each connected supervisor sees for a logged turn.
type monitorEvent struct {
	SessionID string    `json:"session_id"`
	TurnNo    int       `json:"turn_no"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Intent    string    `json:"intent,omitempty"`
	Sentiment string    `json:"sentiment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Monitor fans committed ledger turns out to live transcript watchers. A slow
// watcher loses events rather than stalling the turn pipeline.
type Monitor struct {
	mu      sync.Mutex
	clients map[chan monitorEvent]struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{clients: make(map[chan monitorEvent]struct{})}
}

// Publish is registered as the engine's turn hook.
func (m *Monitor) Publish(t store.Turn) {
	ev := monitorEvent{
		SessionID: t.SessionID,
		TurnNo:    t.TurnNo,
		Role:      t.Role,
		Text:      t.Text,
		Intent:    t.Intent,
		Sentiment: t.Sentiment,
		CreatedAt: t.CreatedAt,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.clients {
		select {
		case ch <- ev:
		default:
			// Keep websocket writes single-threaded; drop if the watcher lags.
		}
	}
}

func (m *Monitor) subscribe() chan monitorEvent {
	ch := make(chan monitorEvent, 256)
	m.mu.Lock()
	m.clients[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

func (m *Monitor) unsubscribe(ch chan monitorEvent) {
	m.mu.Lock()
	delete(m.clients, ch)
	m.mu.Unlock()
}

// WatcherCount reports connected transcript watchers.
func (m *Monitor) WatcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "monitor not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := s.monitor.subscribe()
	defer s.monitor.unsubscribe(events)

	ctx := r.Context()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}()

	// Read loop exists only to notice the peer going away.
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.monitor.unsubscribe(events)
	close(events)
	<-writerDone
}
