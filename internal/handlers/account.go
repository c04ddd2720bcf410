package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/lineauth/internal/auth"
	"github.com/charlesng35/lineauth/internal/middleware"
	"github.com/charlesng35/lineauth/pkg/logger"
	"github.com/charlesng35/lineauth/pkg/response"
)

// AccountHandler serves the browser session endpoints of the host site.
type AccountHandler struct {
	sessions   *iauth.SessionStore
	authCookie middleware.CookieConfig
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(sessions *iauth.SessionStore, authCookie middleware.CookieConfig) *AccountHandler {
	return &AccountHandler{sessions: sessions, authCookie: authCookie}
}

// Flash returns and clears the pending flash message.
func (h *AccountHandler) Flash(c *gin.Context) {
	var message string
	if sess := middleware.CurrentSession(c); sess != nil {
		message = sess.Pop(SessionKeyFlash)
	}
	response.Success(c, http.StatusOK, gin.H{"message": message})
}

// Logout clears the auth cookie and the browser session.
func (h *AccountHandler) Logout(c *gin.Context) {
	middleware.ClearAuthCookie(c, h.authCookie)
	if sess := middleware.CurrentSession(c); sess != nil {
		if err := h.sessions.Destroy(requestContext(c), sess); err != nil {
			logger.WithModule("http").Warn("destroy session", zap.Error(err))
		}
	}
	c.Status(http.StatusNoContent)
}
