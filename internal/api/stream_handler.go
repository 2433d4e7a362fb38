package api

import (
	"io"
	"strconv"

	"farmgate/internal/service"
	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChangeStream interface {
	Subscribe(c *service.Client) bool
	Unsubscribe(c *service.Client)
	Since(lastRev int64) ([]v1.Change, bool)
	Revision() int64
}

type StreamHandler struct {
	hub ChangeStream
}

func NewStreamHandler(hub ChangeStream) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// WatchFlags streams flag changes as server-sent events. A client that
// reconnects with last_rev first receives what it missed, or a reset event
// when that history is gone.
func (h *StreamHandler) WatchFlags(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	var lastRev int64
	if s := c.Query("last_rev"); s != "" {
		lastRev, _ = strconv.ParseInt(s, 10, 64)
	}

	client := &service.Client{Send: make(chan v1.Change, 128)}
	if !h.hub.Subscribe(client) {
		c.AbortWithStatusJSON(503, gin.H{"error": "stream closed"})
		return
	}
	defer h.hub.Unsubscribe(client)

	operator := service.GetOperator(c.Request.Context())
	logger.Info("stream client connected",
		zap.String("operator", operator),
		zap.Int64("last_rev", lastRev),
		zap.String("ip", c.ClientIP()))

	// headers go out now so the client sees the stream open before any change
	c.Status(200)
	c.Writer.Flush()

	maxSentRev := lastRev
	if lastRev > 0 {
		missed, ok := h.hub.Since(lastRev)
		// a revision from the future means the server restarted
		if ok && lastRev <= h.hub.Revision() {
			for _, msg := range missed {
				c.SSEvent("message", msg)
				maxSentRev = msg.Revision
			}
		} else {
			c.SSEvent("reset", "revision_unavailable")
			maxSentRev = 0
		}
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return false
			}
			if msg.Type == service.TypePing {
				c.SSEvent("ping", "pong")
				return true
			}
			// already replayed from history
			if msg.Revision <= maxSentRev {
				return true
			}
			c.SSEvent("message", msg)
			maxSentRev = msg.Revision
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
