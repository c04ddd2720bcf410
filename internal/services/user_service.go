package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/lineauth/internal/models"
	apperrors "github.com/charlesng35/lineauth/pkg/errors"
)

// ErrUserNotFound indicates the requested user does not exist.
var ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)

// UserService loads local accounts and records sign-ins.
type UserService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, now: time.Now}, nil
}

// GetByID loads an active user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Where(&models.User{BaseModel: models.BaseModel{ID: id}}).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// RecordLogin stamps the last sign-in time and address.
func (s *UserService) RecordLogin(ctx context.Context, id, ip string) error {
	ctx = ensureContext(ctx)

	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where(&models.User{BaseModel: models.BaseModel{ID: id}}).
		Updates(map[string]any{
			"last_login_at": now,
			"last_login_ip": strings.TrimSpace(ip),
		})
	if result.Error != nil {
		return fmt.Errorf("user service: record login: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
