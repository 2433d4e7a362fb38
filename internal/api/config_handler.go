package api

import (
	"context"
	"errors"
	"net/http"

	"farmgate/internal/dto/req"
	"farmgate/internal/dto/resp"
	"farmgate/internal/middleware"
	"farmgate/internal/model"
	"farmgate/internal/service"
	v1 "farmgate/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type RemoteFlagProvider interface {
	Features(ctx context.Context) map[string]bool
	Update(ctx context.Context, changes map[string]bool, operator, traceID, ip string) (*v1.FlagDocument, error)
	Audits(ctx context.Context, key string, offset, limit int) ([]model.FlagAudit, int64, error)
	Health(ctx context.Context) error
}

// ConfigHandler serves the remote flag document other instances and apps
// overlay onto their defaults.
type ConfigHandler struct {
	service RemoteFlagProvider
}

func NewConfigHandler(service RemoteFlagProvider) *ConfigHandler {
	return &ConfigHandler{service: service}
}

// GetFeatures answers with a bare JSON object of flag name to boolean.
func (h *ConfigHandler) GetFeatures(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, h.service.Features(c.Request.Context()))
}

func (h *ConfigHandler) UpdateFeatures(c *gin.Context) {
	var r req.UpdateRemoteFlagsRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}
	if len(r.Flags) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flags must not be empty"})
		return
	}

	ctx := c.Request.Context()
	doc, err := h.service.Update(ctx, r.Flags, service.GetOperator(ctx), c.GetString(middleware.TraceIDKey), c.ClientIP())
	if errors.Is(err, service.ErrUnknownFeature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, service.ErrUpdateConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp.UpdateRemoteFlagsResponse{Version: doc.Version, Revision: doc.Revision})
}

func (h *ConfigHandler) ListAudits(c *gin.Context) {
	var r req.ListAuditsRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	if r.Limit == 0 {
		r.Limit = 50
	}

	rows, total, err := h.service.Audits(c.Request.Context(), r.Key, r.Offset, r.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]resp.AuditLogItem, 0, len(rows))
	for _, a := range rows {
		items = append(items, resp.AuditLogItem{
			ID:        a.ID,
			Key:       a.Key,
			OldValue:  a.OldValue,
			NewValue:  a.NewValue,
			Version:   a.Version,
			Operator:  a.Operator,
			CreatedAt: a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp.AuditListResponse{Total: total, Items: items})
}

func (h *ConfigHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
