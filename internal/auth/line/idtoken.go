package line

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims are the verified identity claims of an ID token.
type IDTokenClaims struct {
	Subject    string
	Name       string
	PictureURL string
	Issuer     string
	Audience   []string
	IssuedAt   time.Time
	Expiry     time.Time
}

type idTokenClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenVerifier checks HS256 ID tokens signed with the channel secret.
type IDTokenVerifier struct {
	issuer   string
	audience string
	now      func() time.Time
}

// NewIDTokenVerifier returns a verifier for tokens issued to channelID. Empty
// values disable the matching claim check.
func NewIDTokenVerifier(issuer, channelID string, now func() time.Time) *IDTokenVerifier {
	if now == nil {
		now = time.Now
	}
	return &IDTokenVerifier{issuer: issuer, audience: channelID, now: now}
}

// Verify validates raw against secret and returns its claims.
func (v *IDTokenVerifier) Verify(raw, secret string) (IDTokenClaims, error) {
	if raw == "" {
		return IDTokenClaims{}, fmt.Errorf("%w: empty token", ErrTokenVerification)
	}
	if secret == "" {
		return IDTokenClaims{}, fmt.Errorf("%w: signing secret not configured", ErrTokenVerification)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims idTokenClaims
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return IDTokenClaims{}, fmt.Errorf("%w: %v", ErrTokenVerification, err)
	}
	if claims.Subject == "" {
		return IDTokenClaims{}, fmt.Errorf("%w: %v", ErrTokenVerification, errors.New("subject missing"))
	}

	out := IDTokenClaims{
		Subject:    claims.Subject,
		Name:       claims.Name,
		PictureURL: claims.Picture,
		Issuer:     claims.Issuer,
		Audience:   []string(claims.Audience),
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.Expiry = claims.ExpiresAt.Time
	}
	return out, nil
}
