package api

import (
	"context"
	"errors"
	"net/http"

	"farmgate/internal/dto/resp"
	"farmgate/internal/flags"
	"farmgate/internal/service"
	"farmgate/pkg/features"
	"farmgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type FlagShell interface {
	Overview() resp.FlagsOverview
	Store() *flags.Store
	Refresh(ctx context.Context) bool
}

// DevHandler backs the developer toggle screen.
type DevHandler struct {
	shell FlagShell
}

func NewDevHandler(shell FlagShell) *DevHandler {
	return &DevHandler{shell: shell}
}

func (h *DevHandler) ListFlags(c *gin.Context) {
	c.JSON(http.StatusOK, h.shell.Overview())
}

func (h *DevHandler) Enable(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, f features.Feature) error {
		return h.shell.Store().Enable(ctx, f)
	})
}

func (h *DevHandler) Disable(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, f features.Feature) error {
		return h.shell.Store().Disable(ctx, f)
	})
}

func (h *DevHandler) Toggle(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, f features.Feature) error {
		_, err := h.shell.Store().Toggle(ctx, f)
		return err
	})
}

func (h *DevHandler) Reset(c *gin.Context) {
	ctx := c.Request.Context()
	h.shell.Store().ResetToDefaults(ctx)
	logger.Info("flags reset to defaults", zap.String("operator", service.GetOperator(ctx)))
	c.JSON(http.StatusOK, h.shell.Overview())
}

func (h *DevHandler) Refresh(c *gin.Context) {
	ok := h.shell.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, resp.RefreshResponse{
		RemoteLoaded: h.shell.Store().RemoteLoaded(),
		Success:      ok,
	})
}

func (h *DevHandler) mutate(c *gin.Context, fn func(ctx context.Context, f features.Feature) error) {
	name := c.Param("name")
	f, ok := features.Parse(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown flag: " + name})
		return
	}

	ctx := c.Request.Context()
	if err := fn(ctx, f); err != nil {
		if errors.Is(err, flags.ErrUnknownFlag) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Info("flag changed from dev surface",
		zap.String("flag", string(f)),
		zap.Bool("enabled", h.shell.Store().IsEnabled(f)),
		zap.String("operator", service.GetOperator(ctx)))
	c.JSON(http.StatusOK, h.shell.Overview())
}
