package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/lineauth/internal/auth"
	apperrors "github.com/charlesng35/lineauth/pkg/errors"
	"github.com/charlesng35/lineauth/pkg/logger"
	"github.com/charlesng35/lineauth/pkg/response"
)

type sessionBinding struct {
	store  *iauth.SessionStore
	cookie CookieConfig
}

// Session loads the browser session named by the session cookie and saves it
// once the handler chain has run.
func Session(store *iauth.SessionStore, cookie CookieConfig) gin.HandlerFunc {
	binding := &sessionBinding{store: store, cookie: cookie}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, _ := c.Cookie(cookie.Name)

		sess, err := store.Load(ctx, id)
		if err != nil {
			logger.WithModule("http").Error("load session", zap.Error(err))
			response.Error(c, apperrors.ErrInternalServer)
			c.Abort()
			return
		}
		if sess.IsNew() {
			cookie.write(c, sess.ID(), store.TTL())
		}

		c.Set(CtxSessionKey, sess)
		c.Set(ctxSessionBindingKey, binding)

		c.Next()

		if err := store.Save(ctx, sess); err != nil {
			logger.WithModule("http").Error("save session",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
		}
	}
}

// RegenerateSession rotates the session id and rewrites the cookie.
func RegenerateSession(c *gin.Context) error {
	sess := CurrentSession(c)
	value, ok := c.Get(ctxSessionBindingKey)
	if sess == nil || !ok {
		return errors.New("session middleware not installed")
	}
	binding := value.(*sessionBinding)
	if err := binding.store.Regenerate(sess); err != nil {
		return err
	}
	binding.cookie.write(c, sess.ID(), binding.store.TTL())
	return nil
}
