package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/lineauth/internal/auth"
	"github.com/charlesng35/lineauth/internal/models"
	"github.com/charlesng35/lineauth/pkg/errors"
	"github.com/charlesng35/lineauth/pkg/response"
)

// UserLookup confirms that the user behind a valid token still exists.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// CurrentUser resolves the auth cookie into the request context. Requests
// without a valid cookie continue anonymously.
func CurrentUser(jwt *iauth.JWTService, cookie CookieConfig, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookie.Name)
		if err != nil || token == "" {
			c.Next()
			return
		}

		claims, err := jwt.Validate(token)
		if err != nil {
			cookie.write(c, "", -1)
			c.Next()
			return
		}
		if users != nil {
			if _, err := users.GetByID(c.Request.Context(), claims.UserID); err != nil {
				cookie.write(c, "", -1)
				c.Next()
				return
			}
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Next()
	}
}

// RequireUser rejects anonymous requests.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUserID(c) == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// SetAuthCookie signs the browser in.
func SetAuthCookie(c *gin.Context, cookie CookieConfig, token string, ttl time.Duration) {
	cookie.write(c, token, ttl)
}

// ClearAuthCookie signs the browser out.
func ClearAuthCookie(c *gin.Context, cookie CookieConfig) {
	cookie.write(c, "", -1)
}
