package api

import (
	"context"
	"errors"
	"net/http"

	"farmgate/internal/dto/req"
	"farmgate/internal/dto/resp"
	"farmgate/internal/service"
	"farmgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthProvider interface {
	VerifyOTP(ctx context.Context, r req.VerifyOTPReq) (*resp.TokenResp, error)
	Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error)
	Logout(ctx context.Context, userID string) error
}

type AuthHandler struct {
	svc AuthProvider
}

func NewAuthHandler(svc AuthProvider) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var body req.VerifyOTPReq
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.svc.VerifyOTP(c.Request.Context(), body)
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid verification code"})
		return
	case errors.Is(err, service.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	case err != nil:
		logger.Error("otp verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var body req.RefreshReq
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.svc.Refresh(c.Request.Context(), body.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	sess := service.GetSession(c.Request.Context())
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.svc.Logout(c.Request.Context(), sess.UserID); err != nil {
		logger.Error("logout failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	sess := service.GetSession(c.Request.Context())
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, resp.UserInfo{
		ID:    sess.UserID,
		Phone: sess.Phone,
		Role:  sess.Role,
	})
}
