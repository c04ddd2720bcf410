package line

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     testChannelID,
		ClientSecret: testChannelSecret,
		RedirectURL:  testRedirectURL,
		Scopes:       DefaultScopes,
		Endpoint:     oauth2.Endpoint{AuthURL: DefaultAuthURL, TokenURL: DefaultTokenURL},
	}
}

func TestAuthorizeURLBuilderBuild(t *testing.T) {
	builder := NewAuthorizeURLBuilder(testOAuthConfig(), NewStateManager())
	sess := memorySession{}

	raw, err := builder.Build(ActionLogin, sess)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "access.line.me", u.Host)
	require.Equal(t, "/oauth2/v2.1/authorize", u.Path)

	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, testChannelID, q.Get("client_id"))
	require.Equal(t, testRedirectURL, q.Get("redirect_uri"))
	require.Equal(t, "profile openid", q.Get("scope"))
	require.Equal(t, sess.Get(SessionKeyState), q.Get("state"))
	require.NotEmpty(t, q.Get("state"))
}

func TestAuthorizeURLBuilderAppliesFilters(t *testing.T) {
	var seen []Action
	filter := func(params url.Values, action Action) url.Values {
		seen = append(seen, action)
		params.Set("bot_prompt", "normal")
		return params
	}
	replace := func(params url.Values, action Action) url.Values {
		params.Set("prompt", "consent")
		return params
	}
	builder := NewAuthorizeURLBuilder(testOAuthConfig(), NewStateManager(), filter, nil, replace)

	raw, err := builder.Build(ActionConnect, memorySession{})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "normal", u.Query().Get("bot_prompt"))
	require.Equal(t, "consent", u.Query().Get("prompt"))
	require.Equal(t, []Action{ActionConnect}, seen)
}

func TestAuthorizeURLBuilderRejectsUnsupportedAction(t *testing.T) {
	builder := NewAuthorizeURLBuilder(testOAuthConfig(), NewStateManager())
	sess := memorySession{}

	_, err := builder.Build(Action("delete"), sess)
	require.True(t, errors.Is(err, ErrUnsupportedAction))
	require.Empty(t, sess.Get(SessionKeyState))
}

func TestResolveEndpointStaticDefaults(t *testing.T) {
	endpoint, err := ResolveEndpoint(context.Background(), Config{})
	require.NoError(t, err)
	require.Equal(t, DefaultAuthURL, endpoint.AuthURL)
	require.Equal(t, DefaultTokenURL, endpoint.TokenURL)
	require.Equal(t, oauth2.AuthStyleInParams, endpoint.AuthStyle)
}

func TestResolveEndpointDiscovery(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                srv.URL,
			"authorization_endpoint":                srv.URL + "/authorize",
			"token_endpoint":                        srv.URL + "/token",
			"jwks_uri":                              srv.URL + "/certs",
			"id_token_signing_alg_values_supported": []string{"ES256"},
		})
	}))
	defer srv.Close()

	endpoint, err := ResolveEndpoint(context.Background(), Config{Issuer: srv.URL, Discovery: true})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/authorize", endpoint.AuthURL)
	require.Equal(t, srv.URL+"/token", endpoint.TokenURL)
}

func TestResolveEndpointDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := ResolveEndpoint(context.Background(), Config{Issuer: srv.URL, Discovery: true})
	require.Error(t, err)
}
