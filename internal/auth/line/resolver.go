package line

import "context"

const pseudoEmailDomain = "pseudo.line.me"

// AccountResolver maps provider subjects to local accounts.
type AccountResolver interface {
	FindLinkedAccount(ctx context.Context, subject string) (userID string, found bool, err error)
	RegistrationOpen(ctx context.Context) (bool, error)
	CreateAndLink(ctx context.Context, claims IDTokenClaims, username string) (userID string, err error)
	LinkExisting(ctx context.Context, userID string, claims IDTokenClaims) error
}

// PseudoEmail returns the placeholder address used for accounts created from a subject.
func PseudoEmail(subject string) string {
	return subject + "@" + pseudoEmailDomain
}

// DefaultUsername returns the username proposed for a new account.
func DefaultUsername(subject string) string {
	return "line-" + subject
}
