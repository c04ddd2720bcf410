package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/lineauth/internal/auth/line"
	"github.com/charlesng35/lineauth/internal/database"
	"github.com/charlesng35/lineauth/internal/models"
	"github.com/charlesng35/lineauth/pkg/crypto"
	apperrors "github.com/charlesng35/lineauth/pkg/errors"
)

// AccountLinkService stores LINE identities against local users. It implements
// line.AccountResolver.
type AccountLinkService struct {
	db                  *gorm.DB
	locks               *keyedMutex
	registrationDefault bool
	hashPassword        func() (string, error)
}

var _ line.AccountResolver = (*AccountLinkService)(nil)

// AccountLinkOption customises an AccountLinkService.
type AccountLinkOption func(*AccountLinkService)

// WithRegistrationDefault sets the policy used when no system setting is stored.
func WithRegistrationDefault(open bool) AccountLinkOption {
	return func(s *AccountLinkService) {
		s.registrationDefault = open
	}
}

// NewAccountLinkService constructs an AccountLinkService instance.
func NewAccountLinkService(db *gorm.DB, opts ...AccountLinkOption) (*AccountLinkService, error) {
	if db == nil {
		return nil, errors.New("account link service: db is required")
	}
	svc := &AccountLinkService{
		db:           db,
		locks:        newKeyedMutex(),
		hashPassword: crypto.UnusablePassword,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// FindLinkedAccount returns the user linked to subject.
func (s *AccountLinkService) FindLinkedAccount(ctx context.Context, subject string) (string, bool, error) {
	link, err := findLinkBySubject(ensureContext(ctx), s.db, subject)
	if err != nil {
		return "", false, err
	}
	if link == nil {
		return "", false, nil
	}
	return link.UserID, true, nil
}

// RegistrationOpen reports whether unknown identities may create accounts.
func (s *AccountLinkService) RegistrationOpen(ctx context.Context) (bool, error) {
	return s.registrationOpen(ensureContext(ctx), s.db)
}

func (s *AccountLinkService) registrationOpen(ctx context.Context, db *gorm.DB) (bool, error) {
	value, err := database.GetSystemSetting(ctx, db, database.RegistrationOpenSetting)
	if err != nil {
		return false, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return s.registrationDefault, nil
	}
	open, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("account link service: invalid %s value %q", database.RegistrationOpenSetting, value)
	}
	return open, nil
}

// CreateAndLink creates a user for claims and links it in one transaction.
func (s *AccountLinkService) CreateAndLink(ctx context.Context, claims line.IDTokenClaims, username string) (string, error) {
	ctx = ensureContext(ctx)

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", line.ErrAccountCreation)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = line.DefaultUsername(subject)
	}

	unlock := s.locks.Lock(subject)
	defer unlock()

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findLinkBySubject(ctx, tx, subject)
		if err != nil {
			return err
		}
		if existing != nil {
			return line.ErrDuplicateAccount
		}

		open, err := s.registrationOpen(ctx, tx)
		if err != nil {
			return err
		}
		if !open {
			return line.ErrRegistrationDisabled
		}

		email := line.PseudoEmail(subject)
		var count int64
		if err := tx.Model(&models.User{}).Where(&models.User{Email: email}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return line.ErrDuplicateEmail
		}

		password, err := s.hashPassword()
		if err != nil {
			return err
		}

		user = models.User{
			Username:        username,
			Email:           email,
			Password:        password,
			DisplayName:     claims.Name,
			Nickname:        claims.Name,
			Avatar:          claims.PictureURL,
			PasswordUnknown: true,
			IsActive:        true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		link := newAccountLink(user.ID, claims)
		return tx.Create(&link).Error
	})
	if err != nil {
		return "", s.translateCreateError(ctx, subject, err)
	}

	return user.ID, nil
}

// LinkExisting links subject to an existing user.
func (s *AccountLinkService) LinkExisting(ctx context.Context, userID string, claims line.IDTokenClaims) error {
	ctx = ensureContext(ctx)

	subject := strings.TrimSpace(claims.Subject)
	userID = strings.TrimSpace(userID)
	if subject == "" {
		return fmt.Errorf("%w: subject is required", line.ErrAccountCreation)
	}
	if userID == "" {
		return line.ErrNotAuthenticated
	}

	unlock := s.locks.Lock(subject)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where(&models.User{BaseModel: models.BaseModel{ID: userID}}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return line.ErrNotAuthenticated
		}

		existing, err := findLinkBySubject(ctx, tx, subject)
		if err != nil {
			return err
		}
		if existing != nil {
			return line.ErrDuplicateAccount
		}

		current, err := findLinkByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != nil {
			return line.ErrDuplicateAccount
		}

		link := newAccountLink(userID, claims)
		return tx.Create(&link).Error
	})
	if err != nil {
		return translateLinkError(err)
	}
	return nil
}

// Unlink removes the LINE link of userID.
func (s *AccountLinkService) Unlink(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where(&models.AccountLink{UserID: userID, Provider: models.ProviderLINE}).
		Delete(&models.AccountLink{})
	if result.Error != nil {
		return fmt.Errorf("account link service: unlink: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotConnected
	}
	return nil
}

// Link returns the LINE link of userID, or nil when none exists.
func (s *AccountLinkService) Link(ctx context.Context, userID string) (*models.AccountLink, error) {
	return findLinkByUser(ensureContext(ctx), s.db, userID)
}

// IsConnected reports whether userID has a LINE link.
func (s *AccountLinkService) IsConnected(ctx context.Context, userID string) (bool, error) {
	link, err := s.Link(ctx, userID)
	if err != nil {
		return false, err
	}
	return link != nil, nil
}

func findLinkBySubject(ctx context.Context, db *gorm.DB, subject string) (*models.AccountLink, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, nil
	}
	return findLink(ctx, db, &models.AccountLink{Provider: models.ProviderLINE, Subject: subject})
}

func findLinkByUser(ctx context.Context, db *gorm.DB, userID string) (*models.AccountLink, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	return findLink(ctx, db, &models.AccountLink{Provider: models.ProviderLINE, UserID: userID})
}

func findLink(ctx context.Context, db *gorm.DB, cond *models.AccountLink) (*models.AccountLink, error) {
	var link models.AccountLink
	err := db.WithContext(ctx).Where(cond).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account link service: find link: %w", err)
	}
	return &link, nil
}

func newAccountLink(userID string, claims line.IDTokenClaims) models.AccountLink {
	profile := datatypes.JSONMap{
		"name":    claims.Name,
		"picture": claims.PictureURL,
		"issuer":  claims.Issuer,
	}
	if !claims.IssuedAt.IsZero() {
		profile["issued_at"] = claims.IssuedAt.UTC().Format(time.RFC3339)
	}
	return models.AccountLink{
		UserID:     userID,
		Provider:   models.ProviderLINE,
		Subject:    strings.TrimSpace(claims.Subject),
		PictureURL: claims.PictureURL,
		Profile:    profile,
	}
}

// translateCreateError reports a unique violation as a duplicate link only
// when subject is actually linked; other collisions, such as a taken
// username, fail account creation.
func (s *AccountLinkService) translateCreateError(ctx context.Context, subject string, err error) error {
	if isUniqueConstraintError(err) {
		existing, findErr := findLinkBySubject(ctx, s.db, subject)
		if findErr == nil && existing == nil {
			return fmt.Errorf("%w: %v", line.ErrAccountCreation, err)
		}
	}
	return translateLinkError(err)
}

func translateLinkError(err error) error {
	switch {
	case errors.Is(err, line.ErrDuplicateAccount),
		errors.Is(err, line.ErrDuplicateEmail),
		errors.Is(err, line.ErrRegistrationDisabled),
		errors.Is(err, line.ErrNotAuthenticated):
		return err
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %v", line.ErrDuplicateAccount, err)
	default:
		return fmt.Errorf("%w: %v", line.ErrAccountCreation, err)
	}
}
