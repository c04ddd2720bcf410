package line

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	DefaultIssuer   = "https://access.line.me"
	DefaultAuthURL  = "https://access.line.me/oauth2/v2.1/authorize"
	DefaultTokenURL = "https://api.line.me/oauth2/v2.1/token"
)

// DefaultScopes are requested on every authorization.
var DefaultScopes = []string{"profile", "openid"}

// Action selects what a completed authorization is used for.
type Action string

const (
	ActionLogin   Action = "login"
	ActionConnect Action = "connect"
)

// Supported reports whether the flow knows how to handle the action.
func (a Action) Supported() bool {
	return a == ActionLogin || a == ActionConnect
}

// AuthorizationRequest captures the values sent to the authorize endpoint.
type AuthorizationRequest struct {
	Action      Action
	State       string
	RedirectURI string
	Scopes      []string
}

// ParamsFilter may rewrite the authorize query before it is serialized.
type ParamsFilter func(params url.Values, action Action) url.Values

// ResolveEndpoint returns the provider endpoints. With discovery enabled the
// issuer's metadata document is fetched, otherwise the static URLs are used.
func ResolveEndpoint(ctx context.Context, cfg Config) (oauth2.Endpoint, error) {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	var provider *oidc.Provider
	if cfg.Discovery {
		discovered, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return oauth2.Endpoint{}, fmt.Errorf("line: discover provider: %w", err)
		}
		provider = discovered
	} else {
		authURL := cfg.AuthURL
		if authURL == "" {
			authURL = DefaultAuthURL
		}
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = DefaultTokenURL
		}
		provider = (&oidc.ProviderConfig{
			IssuerURL:  issuer,
			AuthURL:    authURL,
			TokenURL:   tokenURL,
			Algorithms: []string{"HS256"},
		}).NewProvider(ctx)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return endpoint, nil
}

// AuthorizeURLBuilder produces the provider authorize URL for an action.
type AuthorizeURLBuilder struct {
	oauth   *oauth2.Config
	states  *StateManager
	filters []ParamsFilter
}

// NewAuthorizeURLBuilder wires the builder to the client configuration.
func NewAuthorizeURLBuilder(oauth *oauth2.Config, states *StateManager, filters ...ParamsFilter) *AuthorizeURLBuilder {
	return &AuthorizeURLBuilder{oauth: oauth, states: states, filters: filters}
}

// Request issues a fresh state and returns the authorization request for action.
func (b *AuthorizeURLBuilder) Request(action Action, sess Session) (AuthorizationRequest, error) {
	if !action.Supported() {
		return AuthorizationRequest{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}
	state, err := b.states.Issue(sess)
	if err != nil {
		return AuthorizationRequest{}, err
	}
	return AuthorizationRequest{
		Action:      action,
		State:       state,
		RedirectURI: b.oauth.RedirectURL,
		Scopes:      b.oauth.Scopes,
	}, nil
}

// Build returns the URL the browser is sent to for action.
func (b *AuthorizeURLBuilder) Build(action Action, sess Session) (string, error) {
	req, err := b.Request(action, sess)
	if err != nil {
		return "", err
	}

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {b.oauth.ClientID},
		"redirect_uri":  {req.RedirectURI},
		"scope":         {strings.Join(req.Scopes, " ")},
		"state":         {req.State},
	}
	for _, filter := range b.filters {
		if filter == nil {
			continue
		}
		if filtered := filter(params, action); filtered != nil {
			params = filtered
		}
	}

	base := b.oauth.Endpoint.AuthURL
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode(), nil
}
