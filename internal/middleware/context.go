package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/lineauth/internal/auth"
)

const (
	CtxClaimsKey  = "authClaims"
	CtxUserIDKey  = "userID"
	CtxSessionKey = "browserSession"

	ctxSessionBindingKey = "browserSessionBinding"
)

// CookieConfig describes a cookie written by the server.
type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

func (cfg CookieConfig) write(c *gin.Context, value string, maxAge time.Duration) {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	sameSite := cfg.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	age := int(maxAge.Seconds())
	if maxAge < 0 {
		age = -1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     path,
		Domain:   cfg.Domain,
		MaxAge:   age,
		Secure:   cfg.Secure || isSecureRequest(c.Request),
		HttpOnly: true,
		SameSite: sameSite,
	})
}

// CurrentUserID returns the authenticated user id, or "".
func CurrentUserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

// CurrentClaims returns the auth cookie claims, or nil.
func CurrentClaims(c *gin.Context) *iauth.Claims {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*iauth.Claims)
	return claims
}

// CurrentSession returns the browser session loaded by Session, or nil.
func CurrentSession(c *gin.Context) *iauth.Session {
	value, ok := c.Get(CtxSessionKey)
	if !ok {
		return nil
	}
	sess, _ := value.(*iauth.Session)
	return sess
}
