package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/charlesng35/lineauth/pkg/logger"
	"github.com/charlesng35/lineauth/pkg/metrics"
)

const tracerName = "github.com/charlesng35/lineauth/internal/auth/line"

// Site holds the host pages the flow redirects to.
type Site struct {
	Name       string
	HomeURL    string
	LoginURL   string
	ProfileURL string
}

// Config describes the LINE channel and the host site.
type Config struct {
	ChannelID     string
	ChannelSecret string
	RedirectURL   string
	Timeout       time.Duration
	Issuer        string
	Discovery     bool
	AuthURL       string
	TokenURL      string
	Site          Site
}

// Option customises a Flow.
type Option func(*flowOptions)

type flowOptions struct {
	httpClient *http.Client
	exchanger  Exchanger
	now        func() time.Time
	tracer     trace.Tracer
	log        *zap.Logger
	filters    []ParamsFilter
}

// WithHTTPClient sets the client used for token exchange and discovery.
func WithHTTPClient(client *http.Client) Option {
	return func(o *flowOptions) { o.httpClient = client }
}

// WithExchanger replaces the token exchanger.
func WithExchanger(exchanger Exchanger) Option {
	return func(o *flowOptions) { o.exchanger = exchanger }
}

// WithClock overrides the time source used during ID token verification.
func WithClock(now func() time.Time) Option {
	return func(o *flowOptions) { o.now = now }
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *flowOptions) { o.tracer = tracer }
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *flowOptions) { o.log = log }
}

// WithParamsFilters appends authorize parameter filters.
func WithParamsFilters(filters ...ParamsFilter) Option {
	return func(o *flowOptions) { o.filters = append(o.filters, filters...) }
}

// BeginRequest starts an authorization.
type BeginRequest struct {
	Action        string
	RedirectTo    string
	CurrentUserID string
	Session       Session
}

// CallbackRequest carries the provider callback parameters.
type CallbackRequest struct {
	// Action overrides the action saved in the session at begin.
	Action           string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	CurrentUserID    string
	Session          Session
}

// Outcome is the terminal result of a flow step. The host applies it: it sets the
// auth cookie for AuthenticateUserID, stores Message, and redirects or renders.
type Outcome struct {
	Status             int
	Redirect           string
	AuthenticateUserID string
	Created            bool
	LinkCreated        bool
	Message            string
	Err                *FlowError
}

// Flow drives the login and connect state machine.
type Flow struct {
	builder   *AuthorizeURLBuilder
	states    *StateManager
	exchanger Exchanger
	verifier  *IDTokenVerifier
	resolver  AccountResolver
	hooks     Hooks
	site      Site
	secret    string
	tracer    trace.Tracer
	log       *zap.Logger
}

// New builds a Flow for cfg. Provider endpoints are resolved once here.
func New(ctx context.Context, cfg Config, resolver AccountResolver, hooks Hooks, opts ...Option) (*Flow, error) {
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, errors.New("line: channel id is required")
	}
	if strings.TrimSpace(cfg.ChannelSecret) == "" {
		return nil, errors.New("line: channel secret is required")
	}
	if resolver == nil {
		return nil, errors.New("line: account resolver is required")
	}

	options := flowOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.log == nil {
		options.log = logger.WithModule("line")
	}
	if options.tracer == nil {
		options.tracer = otel.Tracer(tracerName)
	}

	if options.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, options.httpClient)
	}
	endpoint, err := ResolveEndpoint(ctx, cfg)
	if err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ChannelID,
		ClientSecret: cfg.ChannelSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       append([]string(nil), DefaultScopes...),
		Endpoint:     endpoint,
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	states := NewStateManager()
	exchanger := options.exchanger
	if exchanger == nil {
		exchanger = NewTokenExchanger(oauthCfg, options.httpClient, cfg.Timeout)
	}

	return &Flow{
		builder:   NewAuthorizeURLBuilder(oauthCfg, states, options.filters...),
		states:    states,
		exchanger: exchanger,
		verifier:  NewIDTokenVerifier(issuer, cfg.ChannelID, options.now),
		resolver:  resolver,
		hooks:     hooks,
		site:      normalizeSite(cfg.Site),
		secret:    cfg.ChannelSecret,
		tracer:    options.tracer,
		log:       options.log,
	}, nil
}

// Begin records the action and redirect target in the session and returns the
// provider authorize redirect.
func (f *Flow) Begin(ctx context.Context, req BeginRequest) Outcome {
	action := Action(req.Action)
	ctx, span := f.tracer.Start(ctx, "line.begin", trace.WithAttributes(attribute.String("line.action", req.Action)))
	defer span.End()

	if !action.Supported() {
		span.SetStatus(codes.Error, "unsupported action")
		return f.unsupportedOutcome()
	}

	redirectTo := f.SanitizeRedirect(req.RedirectTo)
	sess := req.Session
	sess.Set(SessionKeyAction, string(action))
	if redirectTo != "" {
		sess.Set(SessionKeyRedirect, redirectTo)
	} else {
		sess.Delete(SessionKeyRedirect)
	}

	if action == ActionConnect && req.CurrentUserID == "" {
		return f.fail(ctx, span, action, redirectTo, ErrNotAuthenticated)
	}

	target, err := f.builder.Build(action, sess)
	if err != nil {
		return f.fail(ctx, span, action, redirectTo, err)
	}
	return Outcome{Status: http.StatusFound, Redirect: target}
}

// Handle completes an authorization from the provider callback. Every login or
// connect callback yields exactly one redirect; unsupported actions yield a
// client error outcome.
func (f *Flow) Handle(ctx context.Context, req CallbackRequest) Outcome {
	sess := req.Session
	action := Action(req.Action)
	if action == "" {
		action = Action(sess.Get(SessionKeyAction))
	}
	redirectTo := sess.Get(SessionKeyRedirect)

	ctx, span := f.tracer.Start(ctx, "line.callback", trace.WithAttributes(attribute.String("line.action", string(action))))
	defer span.End()

	if !action.Supported() {
		f.hooks.extraAction(ctx, string(action), redirectTo)
		span.SetStatus(codes.Error, "unsupported action")
		return f.unsupportedOutcome()
	}

	sess.Delete(SessionKeyAction)
	sess.Delete(SessionKeyRedirect)

	if req.Error != "" || req.ErrorDescription != "" {
		sess.Delete(SessionKeyState)
		return f.fail(ctx, span, action, redirectTo, fmt.Errorf("%w: %s", ErrProviderDenied, firstNonEmpty(req.Error, req.ErrorDescription)))
	}

	switch action {
	case ActionConnect:
		return f.connect(ctx, span, req, redirectTo)
	default:
		return f.login(ctx, span, req, redirectTo)
	}
}

func (f *Flow) login(ctx context.Context, span trace.Span, req CallbackRequest, redirectTo string) Outcome {
	claims, err := f.verifyCallback(ctx, req)
	if err != nil {
		return f.fail(ctx, span, ActionLogin, redirectTo, err)
	}

	userID, found, err := f.resolver.FindLinkedAccount(ctx, claims.Subject)
	if err != nil {
		return f.fail(ctx, span, ActionLogin, redirectTo, fmt.Errorf("%w: lookup link: %v", ErrAccountCreation, err))
	}

	var message string
	if !found {
		userID, err = f.register(ctx, claims)
		if err != nil {
			return f.fail(ctx, span, ActionLogin, redirectTo, err)
		}
		message = welcomeMessage(claims.Name)
	}

	target := redirectTo
	if target == "" {
		target = f.site.HomeURL
	}
	target = f.hooks.redirect(target, RedirectLogin)
	if target == "" {
		target = f.site.HomeURL
	}

	f.succeed(span, ActionLogin)
	f.log.Info("line login completed",
		zap.String("user_id", userID),
		zap.Bool("created", !found),
	)
	return Outcome{
		Status:             http.StatusFound,
		Redirect:           target,
		AuthenticateUserID: userID,
		Created:            !found,
		LinkCreated:        !found,
		Message:            message,
	}
}

func (f *Flow) register(ctx context.Context, claims IDTokenClaims) (string, error) {
	ctx, span := f.tracer.Start(ctx, "line.register")
	defer span.End()

	open, err := f.resolver.RegistrationOpen(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: registration policy: %v", ErrAccountCreation, err)
	}
	if !open {
		return "", ErrRegistrationDisabled
	}

	username := f.hooks.registerName(DefaultUsername(claims.Subject), claims)
	userID, err := f.resolver.CreateAndLink(ctx, claims, username)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	metrics.AccountsCreated.Inc()
	f.hooks.connected(ctx, userID, claims, true)
	return userID, nil
}

func (f *Flow) connect(ctx context.Context, span trace.Span, req CallbackRequest, redirectTo string) Outcome {
	if req.CurrentUserID == "" {
		req.Session.Delete(SessionKeyState)
		return f.fail(ctx, span, ActionConnect, redirectTo, ErrNotAuthenticated)
	}

	claims, err := f.verifyCallback(ctx, req)
	if err != nil {
		return f.fail(ctx, span, ActionConnect, redirectTo, err)
	}

	if _, found, err := f.resolver.FindLinkedAccount(ctx, claims.Subject); err != nil {
		return f.fail(ctx, span, ActionConnect, redirectTo, fmt.Errorf("%w: lookup link: %v", ErrAccountCreation, err))
	} else if found {
		return f.fail(ctx, span, ActionConnect, redirectTo, ErrDuplicateAccount)
	}

	if err := f.resolver.LinkExisting(ctx, req.CurrentUserID, claims); err != nil {
		return f.fail(ctx, span, ActionConnect, redirectTo, err)
	}
	f.hooks.connected(ctx, req.CurrentUserID, claims, false)

	target := f.hooks.redirect(redirectTo, RedirectConnect)
	if target == "" {
		target = f.site.ProfileURL
	}

	f.succeed(span, ActionConnect)
	f.log.Info("line account connected", zap.String("user_id", req.CurrentUserID))
	return Outcome{
		Status:      http.StatusFound,
		Redirect:    target,
		LinkCreated: true,
		Message:     MessageConnected,
	}
}

// verifyCallback checks state, exchanges the code and verifies the ID token.
func (f *Flow) verifyCallback(ctx context.Context, req CallbackRequest) (IDTokenClaims, error) {
	if !f.states.Verify(req.Session, req.State) {
		return IDTokenClaims{}, ErrCSRFMismatch
	}
	if req.Code == "" {
		return IDTokenClaims{}, fmt.Errorf("%w: authorization code missing", ErrProviderResponse)
	}

	tokens, err := f.exchange(ctx, req.Code)
	if err != nil {
		return IDTokenClaims{}, err
	}

	_, span := f.tracer.Start(ctx, "line.verify_id_token")
	defer span.End()
	claims, err := f.verifier.Verify(tokens.IDToken, f.secret)
	if err != nil {
		span.SetStatus(codes.Error, "verification failed")
		return IDTokenClaims{}, err
	}
	return claims, nil
}

func (f *Flow) exchange(ctx context.Context, code string) (TokenResponse, error) {
	ctx, span := f.tracer.Start(ctx, "line.token_exchange")
	defer span.End()

	started := time.Now()
	tokens, err := f.exchanger.Exchange(ctx, code)
	result := "success"
	if err != nil {
		result = "failure"
		span.SetStatus(codes.Error, "exchange failed")
	}
	metrics.TokenExchangeLatency.WithLabelValues(result).Observe(time.Since(started).Seconds())
	return tokens, err
}

func (f *Flow) fail(ctx context.Context, span trace.Span, action Action, redirectTo string, err error) Outcome {
	fe := newFlowError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, fe.Kind.Error())
	metrics.AuthAttempts.WithLabelValues(string(action), "failure").Inc()
	f.log.Warn("line authentication failed",
		zap.String("action", string(action)),
		zap.Error(err),
	)

	var target string
	switch action {
	case ActionConnect:
		target = f.hooks.redirect(redirectTo, RedirectConnectFailure)
		if target == "" {
			target = f.site.ProfileURL
		}
	default:
		target = f.hooks.redirect(f.loginFailureURL(redirectTo), RedirectLoginFailure)
		if target == "" {
			target = f.loginFailureURL(redirectTo)
		}
	}

	return Outcome{
		Status:   http.StatusFound,
		Redirect: target,
		Message:  fe.Message,
		Err:      fe,
	}
}

func (f *Flow) succeed(span trace.Span, action Action) {
	span.SetStatus(codes.Ok, "")
	metrics.AuthAttempts.WithLabelValues(string(action), "success").Inc()
}

func (f *Flow) unsupportedOutcome() Outcome {
	message := fmt.Sprintf(messageUnsupportedTemplate, f.site.Name)
	return Outcome{
		Status:  http.StatusBadRequest,
		Message: message,
		Err:     &FlowError{Kind: ErrUnsupportedAction, Message: message, Err: ErrUnsupportedAction},
	}
}

func (f *Flow) loginFailureURL(redirectTo string) string {
	if redirectTo == "" {
		redirectTo = f.site.HomeURL
	}
	u, err := url.Parse(f.site.LoginURL)
	if err != nil {
		return f.site.HomeURL
	}
	q := u.Query()
	q.Set("redirect_to", redirectTo)
	q.Set("auth_failed", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// Site returns the normalized site pages.
func (f *Flow) Site() Site {
	return f.site
}

// SanitizeRedirect returns target when it stays on this site, otherwise "".
// Control characters are rejected whether raw or percent-encoded in the path.
func (f *Flow) SanitizeRedirect(target string) string {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" || strings.IndexFunc(trimmed, isUnsafeRedirectRune) >= 0 {
		return ""
	}
	candidate, err := url.Parse(trimmed)
	if err != nil || candidate.User != nil || strings.IndexFunc(candidate.Path, isUnsafeRedirectRune) >= 0 {
		return ""
	}

	if candidate.Scheme == "" && candidate.Host == "" && candidate.Opaque == "" {
		if strings.HasPrefix(trimmed, "/") && !strings.HasPrefix(trimmed, "//") {
			return trimmed
		}
		return ""
	}

	home, err := url.Parse(f.site.HomeURL)
	if err != nil || home.Host == "" {
		return ""
	}
	if strings.EqualFold(candidate.Scheme, home.Scheme) && strings.EqualFold(candidate.Host, home.Host) {
		return trimmed
	}
	return ""
}

func isUnsafeRedirectRune(r rune) bool {
	return r < 0x20 || r == 0x7f || r == '\\'
}

func normalizeSite(site Site) Site {
	if site.HomeURL == "" {
		site.HomeURL = "/"
	}
	if site.LoginURL == "" {
		site.LoginURL = "/login"
	}
	if site.ProfileURL == "" {
		site.ProfileURL = "/account/profile"
	}
	if site.Name == "" {
		site.Name = site.HomeURL
	}
	return site
}

func welcomeMessage(name string) string {
	if name == "" {
		return MessageWelcome
	}
	return fmt.Sprintf("Welcome, %s! You are now logged in with LINE.", name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
