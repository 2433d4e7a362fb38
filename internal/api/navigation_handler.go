package api

import (
	"net/http"

	"farmgate/internal/navigation"
	"farmgate/internal/service"
	v1 "farmgate/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type DestinationProvider interface {
	Destinations(sess *service.Session) []navigation.Destination
}

type NavigationHandler struct {
	provider DestinationProvider
}

func NewNavigationHandler(provider DestinationProvider) *NavigationHandler {
	return &NavigationHandler{provider: provider}
}

// GetNavigation composes the destinations for the caller, signed out when no
// session is attached.
func (h *NavigationHandler) GetNavigation(c *gin.Context) {
	sess := service.GetSession(c.Request.Context())
	out := v1.NavigationResponse{
		Destinations: navigation.ToAPI(h.provider.Destinations(sess)),
	}
	if sess != nil {
		out.Authenticated = true
		out.Role = sess.Role
	}
	c.JSON(http.StatusOK, out)
}
