package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/lineauth/internal/auth"
	"github.com/charlesng35/lineauth/internal/auth/line"
	"github.com/charlesng35/lineauth/internal/middleware"
	"github.com/charlesng35/lineauth/internal/models"
	apperrors "github.com/charlesng35/lineauth/pkg/errors"
	"github.com/charlesng35/lineauth/pkg/logger"
	"github.com/charlesng35/lineauth/pkg/response"
)

// SessionKeyFlash holds the one-shot message shown on the next page.
const SessionKeyFlash = "flash"

// LoginRecorder stamps successful sign-ins.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, userID, ip string) error
}

// LinkManager exposes the link operations outside the login flow.
type LinkManager interface {
	Link(ctx context.Context, userID string) (*models.AccountLink, error)
	Unlink(ctx context.Context, userID string) error
}

// LineHandler adapts the LINE flow to HTTP.
type LineHandler struct {
	flow       *line.Flow
	links      LinkManager
	users      LoginRecorder
	jwt        *iauth.JWTService
	authCookie middleware.CookieConfig
}

// NewLineHandler constructs a LineHandler. A nil flow means LINE login is disabled.
func NewLineHandler(flow *line.Flow, links LinkManager, users LoginRecorder, jwt *iauth.JWTService, authCookie middleware.CookieConfig) *LineHandler {
	return &LineHandler{flow: flow, links: links, users: users, jwt: jwt, authCookie: authCookie}
}

type callbackQuery struct {
	Code             string `form:"code"`
	State            string `form:"state"`
	Error            string `form:"error"`
	ErrorDescription string `form:"error_description"`
}

// Begin redirects the browser to the LINE authorize endpoint.
func (h *LineHandler) Begin(c *gin.Context) {
	if h.flow == nil {
		response.Error(c, apperrors.ErrProviderDisabled)
		return
	}

	out := h.flow.Begin(requestContext(c), line.BeginRequest{
		Action:        c.Param("action"),
		RedirectTo:    c.Query("redirect_to"),
		CurrentUserID: middleware.CurrentUserID(c),
		Session:       middleware.CurrentSession(c),
	})
	h.apply(c, out)
}

// Callback completes the flow started by Begin.
func (h *LineHandler) Callback(c *gin.Context) {
	if h.flow == nil {
		response.Error(c, apperrors.ErrProviderDisabled)
		return
	}

	var query callbackQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, apperrors.ErrBadRequest)
		return
	}

	out := h.flow.Handle(requestContext(c), line.CallbackRequest{
		Code:             query.Code,
		State:            query.State,
		Error:            query.Error,
		ErrorDescription: query.ErrorDescription,
		CurrentUserID:    middleware.CurrentUserID(c),
		Session:          middleware.CurrentSession(c),
	})
	h.apply(c, out)
}

// Disconnect removes the LINE link of the current user.
func (h *LineHandler) Disconnect(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if err := h.links.Unlink(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}

	logger.WithModule("line").Info("line account disconnected", zap.String("user_id", userID))
	if sess := middleware.CurrentSession(c); sess != nil {
		sess.Set(SessionKeyFlash, "Your LINE account has been disconnected.")
	}
	response.Success(c, http.StatusOK, gin.H{"connected": false})
}

// Status reports whether the current user has a LINE link.
func (h *LineHandler) Status(c *gin.Context) {
	link, err := h.links.Link(requestContext(c), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{"enabled": h.flow != nil, "connected": link != nil}
	if link != nil {
		payload["picture_url"] = link.PictureURL
		payload["connected_at"] = link.CreatedAt
	}
	response.Success(c, http.StatusOK, payload)
}

func (h *LineHandler) apply(c *gin.Context, out line.Outcome) {
	sess := middleware.CurrentSession(c)
	if out.Message != "" && sess != nil {
		sess.Set(SessionKeyFlash, out.Message)
	}

	if out.AuthenticateUserID != "" {
		if err := h.signIn(c, out.AuthenticateUserID); err != nil {
			logger.WithModule("line").Error("sign in after line login", zap.Error(err))
			site := h.flow.Site()
			response.ErrorPage(c, http.StatusInternalServerError, response.Page{
				Message:  line.MessageFailed,
				HomeURL:  site.HomeURL,
				SiteName: site.Name,
			})
			return
		}
	}

	if out.Status >= http.StatusBadRequest || out.Redirect == "" {
		site := h.flow.Site()
		response.ErrorPage(c, out.Status, response.Page{
			Message:  out.Message,
			HomeURL:  site.HomeURL,
			SiteName: site.Name,
		})
		return
	}

	c.Redirect(out.Status, out.Redirect)
}

func (h *LineHandler) signIn(c *gin.Context, userID string) error {
	if err := middleware.RegenerateSession(c); err != nil {
		return err
	}
	token, _, err := h.jwt.Issue(iauth.AuthTokenInput{UserID: userID, Provider: models.ProviderLINE})
	if err != nil {
		return err
	}
	middleware.SetAuthCookie(c, h.authCookie, token, h.jwt.TTL())

	if h.users != nil {
		if err := h.users.RecordLogin(requestContext(c), userID, c.ClientIP()); err != nil {
			logger.WithModule("line").Warn("record login", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}
