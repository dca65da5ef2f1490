package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cfm-engine/internal/market"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

type streamMessage struct {
	Type     string                 `json:"type"`
	Market   string                 `json:"market"`
	Index    int                    `json:"index"`
	Snapshot *market.ImpactSnapshot `json:"snapshot,omitempty"`
	Fill     *market.Fill           `json:"fill,omitempty"`
}

type subscriber struct {
	send chan []byte
}

// Hub fans snapshots and fills out to websocket subscribers of each market.
// It is a market.Observer: publishing never blocks, and a subscriber whose
// buffer is full loses the message.
type Hub struct {
	log     *zap.Logger
	dropped atomic.Uint64

	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, rooms: make(map[string]map[*subscriber]struct{})}
}

// Track subscribes the hub to a market's snapshots and fills.
func (h *Hub) Track(m *market.Market) {
	m.AddObserver(h)
}

func (h *Hub) subscribe(marketID string) *subscriber {
	sub := &subscriber{send: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	room := h.rooms[marketID]
	if room == nil {
		room = make(map[*subscriber]struct{})
		h.rooms[marketID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(marketID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room := h.rooms[marketID]; room != nil {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, marketID)
		}
	}
}

func (h *Hub) Subscribers(marketID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[marketID])
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) publish(marketID string, msg streamMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[marketID]
	if len(room) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("failed to encode stream message", zap.Error(err))
		return
	}
	for sub := range room {
		select {
		case sub.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) SnapshotRecorded(marketID string, index int, snap market.ImpactSnapshot) {
	h.publish(marketID, streamMessage{Type: "snapshot", Market: marketID, Index: index, Snapshot: &snap})
}

func (h *Hub) Filled(fill market.Fill) {
	h.publish(fill.Market, streamMessage{Type: "fill", Market: fill.Market, Fill: &fill})
}

// stream upgrades to a websocket, replays history from ?from and then
// forwards live messages. Replayed and live snapshots may overlap; clients
// key them by index.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	from := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = n
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	marketID := chi.URLParam(r, "market")
	sub := s.hub.subscribe(marketID)
	defer s.hub.unsubscribe(marketID, sub)

	ctx := conn.CloseRead(r.Context())
	for i, snap := range m.HistorySince(from) {
		snap := snap
		data, err := json.Marshal(streamMessage{Type: "snapshot", Market: marketID, Index: from + i, Snapshot: &snap})
		if err != nil {
			return
		}
		if err := writeMessage(ctx, conn, data); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sub.send:
			if err := writeMessage(ctx, conn, data); err != nil {
				s.log.Debug("stream write failed", zap.String("market", marketID), zap.Error(err))
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
