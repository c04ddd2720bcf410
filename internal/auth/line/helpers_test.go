package line

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testChannelID     = "1650000000"
	testChannelSecret = "channel-secret"
	testRedirectURL   = "https://example.com/line/"
)

type memorySession map[string]string

func (s memorySession) Get(key string) string { return s[key] }
func (s memorySession) Set(key, value string) { s[key] = value }
func (s memorySession) Delete(key string) { delete(s, key) }

type fakeResolver struct {
	mu           sync.Mutex
	links        map[string]string
	registration bool
	nextID       int
	createErr    error
	linkErr      error
	created      []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{links: map[string]string{}, registration: true}
}

func (r *fakeResolver) FindLinkedAccount(_ context.Context, subject string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.links[subject]
	return id, ok, nil
}

func (r *fakeResolver) RegistrationOpen(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registration, nil
}

func (r *fakeResolver) CreateAndLink(_ context.Context, claims IDTokenClaims, username string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return "", r.createErr
	}
	if _, ok := r.links[claims.Subject]; ok {
		return "", ErrDuplicateAccount
	}
	r.nextID++
	id := fmt.Sprintf("user-%d", r.nextID)
	r.links[claims.Subject] = id
	r.created = append(r.created, username)
	return id, nil
}

func (r *fakeResolver) LinkExisting(_ context.Context, userID string, claims IDTokenClaims) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkErr != nil {
		return r.linkErr
	}
	if _, ok := r.links[claims.Subject]; ok {
		return ErrDuplicateAccount
	}
	r.links[claims.Subject] = userID
	return nil
}

type idTokenOptions struct {
	subject  string
	name     string
	picture  string
	issuer   string
	audience string
	expires  time.Time
	secret   string
	method   jwt.SigningMethod
}

func signIDToken(t *testing.T, opts idTokenOptions) string {
	t.Helper()
	if opts.issuer == "" {
		opts.issuer = DefaultIssuer
	}
	if opts.audience == "" {
		opts.audience = testChannelID
	}
	if opts.expires.IsZero() {
		opts.expires = time.Now().Add(time.Hour)
	}
	if opts.secret == "" {
		opts.secret = testChannelSecret
	}
	if opts.method == nil {
		opts.method = jwt.SigningMethodHS256
	}

	claims := idTokenClaims{
		Name:    opts.name,
		Picture: opts.picture,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   opts.subject,
			Issuer:    opts.issuer,
			Audience:  jwt.ClaimStrings{opts.audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(opts.expires),
		},
	}
	signed, err := jwt.NewWithClaims(opts.method, claims).SignedString([]byte(opts.secret))
	require.NoError(t, err)
	return signed
}

// fakeLineServer is a stand-in for the LINE token endpoint.
type fakeLineServer struct {
	*httptest.Server
	calls   atomic.Int32
	handler func(w http.ResponseWriter, r *http.Request)
}

func newFakeLineServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fakeLineServer {
	t.Helper()
	srv := &fakeLineServer{handler: handler}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.calls.Add(1)
		srv.handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tokenHandler(t *testing.T, idToken string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") == "" {
			http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-token",
			"token_type":   "Bearer",
			"expires_in":   2592000,
			"id_token":     idToken,
		})
	}
}

func newTestFlow(t *testing.T, tokenURL string, resolver AccountResolver, hooks Hooks, opts ...Option) *Flow {
	t.Helper()
	flow, err := New(context.Background(), Config{
		ChannelID:     testChannelID,
		ChannelSecret: testChannelSecret,
		RedirectURL:   testRedirectURL,
		Timeout:       2 * time.Second,
		TokenURL:      tokenURL,
		Site: Site{
			Name:       "Example",
			HomeURL:    "https://example.com/",
			LoginURL:   "https://example.com/login",
			ProfileURL: "https://example.com/account/profile",
		},
	}, resolver, hooks, opts...)
	require.NoError(t, err)
	return flow
}
