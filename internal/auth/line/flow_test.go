package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type flowFixture struct {
	flow     *Flow
	server   *fakeLineServer
	resolver *fakeResolver
	idToken  string
}

func newFlowFixture(t *testing.T, hooks Hooks, opts ...Option) *flowFixture {
	t.Helper()
	fx := &flowFixture{resolver: newFakeResolver()}
	fx.idToken = signIDToken(t, idTokenOptions{subject: "U1234", name: "Taro", picture: "https://profile.line-scdn.net/taro"})
	fx.server = newFakeLineServer(t, func(w http.ResponseWriter, r *http.Request) {
		tokenHandler(t, fx.idToken)(w, r)
	})
	fx.flow = newTestFlow(t, fx.server.URL+"/token", fx.resolver, hooks, opts...)
	return fx
}

func (fx *flowFixture) begin(t *testing.T, sess memorySession, action, redirectTo, userID string) string {
	t.Helper()
	out := fx.flow.Begin(context.Background(), BeginRequest{
		Action:        action,
		RedirectTo:    redirectTo,
		CurrentUserID: userID,
		Session:       sess,
	})
	require.Nil(t, out.Err)
	require.Equal(t, http.StatusFound, out.Status)

	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestFlowBeginStoresActionAndRedirect(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "/members", "")
	require.NotEmpty(t, state)
	require.Equal(t, state, sess.Get(SessionKeyState))
	require.Equal(t, "login", sess.Get(SessionKeyAction))
	require.Equal(t, "/members", sess.Get(SessionKeyRedirect))
}

func TestFlowBeginDropsForeignRedirect(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})

	for _, target := range []string{"https://evil.example/", "//evil.example", "/ok\r\nSet-Cookie: x", "javascript:alert(1)"} {
		sess := memorySession{}
		fx.begin(t, sess, "login", target, "")
		require.Empty(t, sess.Get(SessionKeyRedirect), target)
	}

	sess := memorySession{}
	fx.begin(t, sess, "login", "https://example.com/shop", "")
	require.Equal(t, "https://example.com/shop", sess.Get(SessionKeyRedirect))
}

func TestFlowSanitizeRedirectControlCharacters(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "tab", target: "/\t/evil.example", want: ""},
		{name: "nul", target: "/\x00/evil.example", want: ""},
		{name: "encoded tab", target: "/%09/evil.example", want: ""},
		{name: "delete", target: "/\x7f/evil.example", want: ""},
		{name: "backslash", target: "/\\evil.example", want: ""},
		{name: "userinfo", target: "https://example.com@evil.example/", want: ""},
		{name: "relative without slash", target: "members", want: ""},
		{name: "path", target: "/members?tab=line", want: "/members?tab=line"},
		{name: "encoded space", target: "/members/%20x", want: "/members/%20x"},
		{name: "same origin", target: "https://example.com/shop", want: "https://example.com/shop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, fx.flow.SanitizeRedirect(tt.target))
		})
	}
}

func TestFlowBeginUnsupportedAction(t *testing.T) {
	var fired atomic.Int32
	fx := newFlowFixture(t, Hooks{
		OnExtraAction: func(context.Context, string, string) { fired.Add(1) },
	})
	sess := memorySession{}

	out := fx.flow.Begin(context.Background(), BeginRequest{Action: "delete", Session: sess})
	require.Equal(t, http.StatusBadRequest, out.Status)
	require.True(t, errors.Is(out.Err, ErrUnsupportedAction))
	require.Empty(t, out.Redirect)
	require.Empty(t, sess)
	require.Zero(t, fired.Load())
}

func TestFlowBeginConnectRequiresUser(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})

	out := fx.flow.Begin(context.Background(), BeginRequest{Action: "connect", Session: memorySession{}})
	require.True(t, errors.Is(out.Err, ErrNotAuthenticated))
	require.Equal(t, "https://example.com/account/profile", out.Redirect)
}

func TestFlowLoginExistingAccount(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	fx.resolver.links["U1234"] = "user-9"
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "/members", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	require.Nil(t, out.Err)
	require.Equal(t, http.StatusFound, out.Status)
	require.Equal(t, "/members", out.Redirect)
	require.Equal(t, "user-9", out.AuthenticateUserID)
	require.False(t, out.Created)
	require.Empty(t, out.Message)
	require.Empty(t, fx.resolver.created)
	require.Empty(t, sess, "callback clears pending flow data")
}

func TestFlowLoginCreatesAccount(t *testing.T) {
	var connected []bool
	hooks := Hooks{
		RegisterName: func(username string, claims IDTokenClaims) string {
			return username + "-" + claims.Name
		},
		OnConnect: func(_ context.Context, userID string, claims IDTokenClaims, created bool) {
			require.Equal(t, "U1234", claims.Subject)
			connected = append(connected, created)
		},
	}
	fx := newFlowFixture(t, hooks)
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	require.Nil(t, out.Err)
	require.Equal(t, "https://example.com/", out.Redirect)
	require.Equal(t, "user-1", out.AuthenticateUserID)
	require.True(t, out.Created)
	require.True(t, out.LinkCreated)
	require.Contains(t, out.Message, "Taro")
	require.Equal(t, []string{"line-U1234-Taro"}, fx.resolver.created)
	require.Equal(t, []bool{true}, connected)
	require.Equal(t, "user-1", fx.resolver.links["U1234"])
}

func TestFlowLoginRegistrationClosed(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	fx.resolver.registration = false
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "/members", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	require.True(t, errors.Is(out.Err, ErrRegistrationDisabled))
	require.Equal(t, MessageRegistrationClosed, out.Message)
	require.Empty(t, out.AuthenticateUserID)
	require.Empty(t, fx.resolver.links)

	u, err := url.Parse(out.Redirect)
	require.NoError(t, err)
	require.Equal(t, "/login", u.Path)
	require.Equal(t, "/members", u.Query().Get("redirect_to"))
	require.Equal(t, "1", u.Query().Get("auth_failed"))
}

func TestFlowLoginStateMismatchSkipsExchange(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	sess := memorySession{}

	fx.begin(t, sess, "login", "", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: "forged", Session: sess})

	require.True(t, errors.Is(out.Err, ErrCSRFMismatch))
	require.Equal(t, "Sorry, but wrong access. Please try again.", out.Message)
	require.Empty(t, out.AuthenticateUserID)
	require.Zero(t, fx.server.calls.Load())
	require.Empty(t, sess.Get(SessionKeyState))
}

func TestFlowLoginReplayRejected(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	fx.resolver.links["U1234"] = "user-9"
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "", "")
	first := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})
	require.Nil(t, first.Err)

	second := fx.flow.Handle(context.Background(), CallbackRequest{Action: "login", Code: "code", State: state, Session: sess})
	require.True(t, errors.Is(second.Err, ErrCSRFMismatch))
	require.Equal(t, int32(1), fx.server.calls.Load())
}

func TestFlowProviderErrorShortCircuits(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	sess := memorySession{}

	fx.begin(t, sess, "login", "", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{
		Error:            "access_denied",
		ErrorDescription: "The user has not granted the requested permissions.",
		State:            "forged",
		Session:          sess,
	})

	require.True(t, errors.Is(out.Err, ErrProviderDenied))
	require.False(t, errors.Is(out.Err, ErrCSRFMismatch))
	require.Zero(t, fx.server.calls.Load())
	require.Contains(t, out.Redirect, "auth_failed=1")
}

func TestFlowLoginInvalidIDToken(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	fx.idToken = signIDToken(t, idTokenOptions{subject: "U1234", secret: "forged-secret"})
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	require.True(t, errors.Is(out.Err, ErrTokenVerification))
	require.Empty(t, fx.resolver.links)
	require.Empty(t, out.AuthenticateUserID)
}

func TestFlowLoginTransportFailure(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	fx.server.handler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	require.True(t, errors.Is(out.Err, ErrProviderTransport))
	require.Equal(t, MessageFailed, out.Message)
}

func TestFlowLoginAccountCreationFailure(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	fx.resolver.createErr = ErrDuplicateEmail
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	require.True(t, errors.Is(out.Err, ErrDuplicateEmail))
	require.Equal(t, MessageDuplicateAccount, out.Message)
}

func TestFlowConnectLinksCurrentUser(t *testing.T) {
	var events []bool
	fx := newFlowFixture(t, Hooks{
		OnConnect: func(_ context.Context, userID string, _ IDTokenClaims, created bool) {
			require.Equal(t, "user-5", userID)
			events = append(events, created)
		},
	})
	sess := memorySession{}

	state := fx.begin(t, sess, "connect", "", "user-5")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, CurrentUserID: "user-5", Session: sess})

	require.Nil(t, out.Err)
	require.Equal(t, "https://example.com/account/profile", out.Redirect)
	require.Empty(t, out.AuthenticateUserID)
	require.True(t, out.LinkCreated)
	require.Equal(t, MessageConnected, out.Message)
	require.Equal(t, "user-5", fx.resolver.links["U1234"])
	require.Equal(t, []bool{false}, events)
}

func TestFlowConnectDuplicateSubject(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	fx.resolver.links["U1234"] = "user-2"
	sess := memorySession{}

	state := fx.begin(t, sess, "connect", "/settings", "user-5")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, CurrentUserID: "user-5", Session: sess})

	require.True(t, errors.Is(out.Err, ErrDuplicateAccount))
	require.Equal(t, MessageDuplicateAccount, out.Message)
	require.Equal(t, "/settings", out.Redirect)
	require.Equal(t, "user-2", fx.resolver.links["U1234"])
}

func TestFlowConnectWithoutUser(t *testing.T) {
	fx := newFlowFixture(t, Hooks{})
	sess := memorySession{}

	state := fx.begin(t, sess, "connect", "", "user-5")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	require.True(t, errors.Is(out.Err, ErrNotAuthenticated))
	require.Zero(t, fx.server.calls.Load())
	require.Empty(t, fx.resolver.links)
}

func TestFlowUnsupportedCallbackAction(t *testing.T) {
	var fired atomic.Int32
	var gotRedirect string
	fx := newFlowFixture(t, Hooks{
		OnExtraAction: func(_ context.Context, action, redirectTo string) {
			require.Equal(t, "unlink-everything", action)
			gotRedirect = redirectTo
			fired.Add(1)
		},
	})
	sess := memorySession{SessionKeyAction: "unlink-everything", SessionKeyRedirect: "/members"}

	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: "s", Session: sess})

	require.Equal(t, http.StatusBadRequest, out.Status)
	require.True(t, errors.Is(out.Err, ErrUnsupportedAction))
	require.Equal(t, "Sorry, but wrong access. Please go back to Example.", out.Message)
	require.Empty(t, out.Redirect)
	require.Equal(t, int32(1), fired.Load())
	require.Equal(t, "/members", gotRedirect)
	require.Zero(t, fx.server.calls.Load())
}

func TestFlowRedirectHook(t *testing.T) {
	var contexts []RedirectContext
	fx := newFlowFixture(t, Hooks{
		Redirect: func(target string, rc RedirectContext) string {
			contexts = append(contexts, rc)
			if rc == RedirectLogin {
				return "/welcome"
			}
			return target
		},
	})
	fx.resolver.links["U1234"] = "user-9"

	sess := memorySession{}
	state := fx.begin(t, sess, "login", "", "")
	out := fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})
	require.Equal(t, "/welcome", out.Redirect)

	sess = memorySession{}
	fx.begin(t, sess, "login", "", "")
	fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: "forged", Session: sess})

	require.Equal(t, []RedirectContext{RedirectLogin, RedirectLoginFailure}, contexts)
}

func TestFlowFailureLogsWithoutSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	fx := newFlowFixture(t, Hooks{}, WithLogger(zap.New(core)))
	fx.idToken = signIDToken(t, idTokenOptions{subject: "U1234", secret: "forged-secret"})
	sess := memorySession{}

	state := fx.begin(t, sess, "login", "", "")
	fx.flow.Handle(context.Background(), CallbackRequest{Code: "code", State: state, Session: sess})

	entries := logs.FilterMessage("line authentication failed").All()
	require.Len(t, entries, 1)
	dump := fmt.Sprint(entries[0].ContextMap())
	require.NotContains(t, dump, testChannelSecret)
	require.NotContains(t, dump, fx.idToken)
	require.Equal(t, "login", entries[0].ContextMap()["action"])
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ChannelSecret: "s"}, newFakeResolver(), Hooks{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{ChannelID: "c"}, newFakeResolver(), Hooks{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{ChannelID: "c", ChannelSecret: "s"}, nil, Hooks{})
	require.Error(t, err)
}
