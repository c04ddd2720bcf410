package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/charlesng35/lineauth/internal/auth"
	"github.com/charlesng35/lineauth/internal/middleware"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAuthTokenTTL
	}

	return auth.JWTConfig{
		Secret:       c.JWT.Secret,
		Issuer:       c.JWT.Issuer,
		AuthTokenTTL: ttl,
	}
}

// SessionTTL returns the browser session lifetime.
func (c AuthConfig) SessionTTL() time.Duration {
	if c.Session.TTL <= 0 {
		return auth.DefaultSessionTTL
	}
	return c.Session.TTL
}

// AuthCookie describes the cookie carrying the signed-in token.
func (c AuthConfig) AuthCookie() middleware.CookieConfig {
	return c.cookie(c.Cookie.Name, "lineauth_auth")
}

// SessionCookie describes the cookie carrying the browser session id.
func (c AuthConfig) SessionCookie() middleware.CookieConfig {
	return c.cookie(c.Session.CookieName, "lineauth_session")
}

func (c AuthConfig) cookie(name, fallback string) middleware.CookieConfig {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	return middleware.CookieConfig{
		Name:     name,
		Domain:   strings.TrimSpace(c.Cookie.Domain),
		Secure:   c.Cookie.Secure,
		SameSite: parseSameSite(c.Cookie.SameSite),
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
