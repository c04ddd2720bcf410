package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single token exchange.
const DefaultTimeout = 10 * time.Second

// TokenResponse holds the tokens returned by the token endpoint. It is never persisted.
type TokenResponse struct {
	IDToken     string
	AccessToken string
}

// Exchanger trades an authorization code for tokens.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (TokenResponse, error)
}

// TokenExchanger calls the provider token endpoint.
type TokenExchanger struct {
	oauth   *oauth2.Config
	client  *http.Client
	timeout time.Duration
}

// NewTokenExchanger returns an exchanger bounded by timeout. A nil client uses a
// dedicated http.Client with the same timeout.
func NewTokenExchanger(oauth *oauth2.Config, client *http.Client, timeout time.Duration) *TokenExchanger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &TokenExchanger{oauth: oauth, client: client, timeout: timeout}
}

// Exchange posts the code to the token endpoint and returns the raw tokens.
func (e *TokenExchanger) Exchange(ctx context.Context, code string) (TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	token, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return TokenResponse{}, classifyExchangeError(err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return TokenResponse{}, fmt.Errorf("%w: id_token missing", ErrProviderResponse)
	}

	return TokenResponse{IDToken: idToken, AccessToken: token.AccessToken}, nil
}

func classifyExchangeError(err error) error {
	var (
		retrieveErr *oauth2.RetrieveError
		urlErr      *url.Error
	)
	switch {
	case errors.As(err, &retrieveErr):
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("%w: status %d", ErrProviderTransport, status)
	case errors.As(err, &urlErr), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrProviderTransport, err)
	default:
		return fmt.Errorf("%w: %v", ErrProviderResponse, err)
	}
}
