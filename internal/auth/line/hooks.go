package line

import "context"

// RedirectContext names the point in the flow a redirect target is computed for.
type RedirectContext string

const (
	RedirectLogin          RedirectContext = "login"
	RedirectLoginFailure   RedirectContext = "login-failure"
	RedirectConnect        RedirectContext = "connect"
	RedirectConnectFailure RedirectContext = "connect-failure"
)

// Hooks are the extension points of the flow. Nil members are no-ops.
type Hooks struct {
	// RegisterName may replace the proposed username of a new account.
	RegisterName func(username string, claims IDTokenClaims) string
	// Redirect may replace a computed redirect target.
	Redirect func(target string, rc RedirectContext) string
	// OnConnect fires after a link is created.
	OnConnect func(ctx context.Context, userID string, claims IDTokenClaims, created bool)
	// OnExtraAction fires for callbacks with an unsupported action. Begin
	// rejects an unsupported action with 400 and does not call it.
	OnExtraAction func(ctx context.Context, action string, redirectTo string)
}

func (h Hooks) registerName(username string, claims IDTokenClaims) string {
	if h.RegisterName == nil {
		return username
	}
	if name := h.RegisterName(username, claims); name != "" {
		return name
	}
	return username
}

func (h Hooks) redirect(target string, rc RedirectContext) string {
	if h.Redirect == nil {
		return target
	}
	return h.Redirect(target, rc)
}

func (h Hooks) connected(ctx context.Context, userID string, claims IDTokenClaims, created bool) {
	if h.OnConnect != nil {
		h.OnConnect(ctx, userID, claims, created)
	}
}

func (h Hooks) extraAction(ctx context.Context, action, redirectTo string) {
	if h.OnExtraAction != nil {
		h.OnExtraAction(ctx, action, redirectTo)
	}
}
