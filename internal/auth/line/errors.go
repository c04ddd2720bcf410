package line

import "errors"

var (
	ErrCSRFMismatch         = errors.New("line: state mismatch")
	ErrProviderDenied       = errors.New("line: authorization denied by provider")
	ErrProviderTransport    = errors.New("line: token endpoint unreachable")
	ErrProviderResponse     = errors.New("line: malformed token response")
	ErrTokenVerification    = errors.New("line: id token verification failed")
	ErrRegistrationDisabled = errors.New("line: registration is disabled")
	ErrDuplicateAccount     = errors.New("line: account already linked")
	ErrDuplicateEmail       = errors.New("line: email already registered")
	ErrAccountCreation      = errors.New("line: account creation failed")
	ErrNotAuthenticated     = errors.New("line: no authenticated user")
	ErrUnsupportedAction    = errors.New("line: unsupported action")
)

// User-visible messages. They never include provider or token details.
const (
	MessageWrongAccess         = "Sorry, but wrong access. Please try again."
	MessageDenied              = "Login with LINE was cancelled."
	MessageFailed              = "Sorry, but we could not sign you in with LINE. Please try again."
	MessageRegistrationClosed  = "Sorry, but registration is currently closed."
	MessageDuplicateAccount    = "This LINE account is already connected to another account."
	MessageAccountCreation     = "Sorry, but we could not create your account. Please try again later."
	MessageNotAuthenticated    = "Please log in before connecting your LINE account."
	MessageWelcome             = "Welcome! You are now logged in with LINE."
	MessageConnected           = "Your LINE account is now connected."
	messageUnsupportedTemplate = "Sorry, but wrong access. Please go back to %s."
)

// FlowError pairs an error kind with the message shown to the user.
type FlowError struct {
	Kind    error
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil && e.Err != e.Kind {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *FlowError) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return &FlowError{Kind: kindOf(err), Message: messageFor(err), Err: err}
}

func kindOf(err error) error {
	for _, kind := range []error{
		ErrCSRFMismatch,
		ErrProviderDenied,
		ErrProviderTransport,
		ErrProviderResponse,
		ErrTokenVerification,
		ErrRegistrationDisabled,
		ErrDuplicateAccount,
		ErrDuplicateEmail,
		ErrAccountCreation,
		ErrNotAuthenticated,
		ErrUnsupportedAction,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrAccountCreation
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, ErrCSRFMismatch):
		return MessageWrongAccess
	case errors.Is(err, ErrProviderDenied):
		return MessageDenied
	case errors.Is(err, ErrRegistrationDisabled):
		return MessageRegistrationClosed
	case errors.Is(err, ErrDuplicateAccount), errors.Is(err, ErrDuplicateEmail):
		return MessageDuplicateAccount
	case errors.Is(err, ErrAccountCreation):
		return MessageAccountCreation
	case errors.Is(err, ErrNotAuthenticated):
		return MessageNotAuthenticated
	default:
		return MessageFailed
	}
}
