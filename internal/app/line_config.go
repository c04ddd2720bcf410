package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/lineauth/internal/auth/line"
	"github.com/charlesng35/lineauth/pkg/validator"
)

// LineConfig holds the LINE channel settings.
type LineConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ChannelID     string        `mapstructure:"channel_id" validate:"required"`
	ChannelSecret string        `mapstructure:"channel_secret" validate:"required"`
	RedirectURL   string        `mapstructure:"redirect_url" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Discovery     bool          `mapstructure:"discovery"`
	Issuer        string        `mapstructure:"issuer" validate:"omitempty,url"`
	AuthURL       string        `mapstructure:"auth_url" validate:"omitempty,url"`
	TokenURL      string        `mapstructure:"token_url" validate:"omitempty,url"`
}

// Validate checks the channel settings. A disabled section is never rejected.
func (c LineConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	trimmed := c
	trimmed.ChannelID = strings.TrimSpace(c.ChannelID)
	trimmed.ChannelSecret = strings.TrimSpace(c.ChannelSecret)
	if err := validator.ValidateStruct(trimmed); err != nil {
		return fmt.Errorf("config: line: %w", err)
	}
	return nil
}

// FlowConfig converts the application settings into the LINE flow configuration.
func (c *Config) FlowConfig() line.Config {
	return line.Config{
		ChannelID:     strings.TrimSpace(c.Line.ChannelID),
		ChannelSecret: strings.TrimSpace(c.Line.ChannelSecret),
		RedirectURL:   strings.TrimSpace(c.Line.RedirectURL),
		Timeout:       c.Line.Timeout,
		Issuer:        strings.TrimSpace(c.Line.Issuer),
		Discovery:     c.Line.Discovery,
		AuthURL:       strings.TrimSpace(c.Line.AuthURL),
		TokenURL:      strings.TrimSpace(c.Line.TokenURL),
		Site: line.Site{
			Name:       c.Site.Name,
			HomeURL:    c.Site.HomeURL,
			LoginURL:   c.Site.LoginURL,
			ProfileURL: c.Site.ProfileURL,
		},
	}
}
