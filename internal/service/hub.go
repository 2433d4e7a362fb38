package service

import (
	"context"
	"sync/atomic"
	"time"

	"farmgate/internal/buffer"
	"farmgate/internal/metrics"
	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/logger"

	"go.uber.org/zap"
)

const (
	TypePing    = "ping"
	historySize = 256
)

// Client is one change stream subscriber.
type Client struct {
	Send chan v1.Change
}

// Hub fans flag changes out to stream subscribers. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	Broadcast  chan v1.Change
	Register   chan *Client
	Unregister chan *Client

	observer  metrics.HubObserver
	heartbeat time.Duration
	revision  atomic.Int64
	history   *buffer.RevisionBuffer
	done      chan struct{}
}

func NewHub(observer metrics.HubObserver, heartbeat time.Duration) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan v1.Change, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		observer:   observer,
		heartbeat:  heartbeat,
		history:    buffer.NewRevisionBuffer(historySize),
		done:       make(chan struct{}),
	}
}

// Publish queues c for fan-out. It gives up when the hub has stopped or ctx
// is done.
func (h *Hub) Publish(ctx context.Context, c v1.Change) {
	select {
	case h.Broadcast <- c:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Subscribe registers a client, reporting false once the hub has stopped.
func (h *Hub) Subscribe(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.Register:
			h.clients[client] = true
			h.observer.IncOnline()
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case msg := <-h.Broadcast:
			// revisions are stamped here so history stays ordered
			msg.Revision = h.revision.Add(1)
			h.history.Add(msg)
			h.fanOut(msg)
		case <-tick:
			h.fanOut(v1.Change{Type: TypePing})
		}
	}
}

// Since returns buffered changes newer than lastRev, see buffer.RevisionBuffer.
func (h *Hub) Since(lastRev int64) ([]v1.Change, bool) {
	return h.history.Since(lastRev)
}

// Revision is the last stamped revision.
func (h *Hub) Revision() int64 {
	return h.revision.Load()
}

func (h *Hub) fanOut(msg v1.Change) {
	for client := range h.clients {
		select {
		case client.Send <- msg:
			if msg.Type != TypePing {
				h.observer.RecordPush()
			}
		default:
			logger.Warn("stream client too slow, disconnecting", zap.String("key", msg.Key))
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.observer.DecOnline()
}
