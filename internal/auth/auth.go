// Package auth resolves the bearer credential sent to the compliance
// service. Sources are tried in order: OAuth client credentials, a static
// token from config or the environment, then the token saved by
// `itc login`.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/itcshield/itc/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoToken means no credential source is configured.
var ErrNoToken = errors.New("auth: no token configured")

// ErrExpired means the saved token is past its expiry.
var ErrExpired = errors.New("auth: saved token expired (run `itc login`)")

// TokenSource returns the credential source for cfg. It returns
// ErrNoToken when nothing is configured; callers may still proceed
// unauthenticated and let the service answer 401.
func TokenSource(ctx context.Context, cfg config.APIConfig) (oauth2.TokenSource, error) {
	if cfg.OAuth.Enabled() {
		cc := ClientCredentials(cfg.OAuth)
		return cc.TokenSource(ctx), nil
	}
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}), nil
	}
	if cfg.TokenFile == "" {
		return nil, ErrNoToken
	}
	tok, err := LoadToken(cfg.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(tok), nil
}

// ClientCredentials builds the client-credentials grant for cfg.
func ClientCredentials(cfg config.OAuthConfig) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
}

// SaveToken writes tok to path, readable only by the current user.
func SaveToken(path string, tok *oauth2.Token) error {
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		return fmt.Errorf("auth: token is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("auth: create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", path, err)
	}
	return nil
}

// LoadToken reads a token saved by SaveToken. A plain-text file holding
// only the access token is also accepted.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("auth: %s is empty", path)
	}

	var tok oauth2.Token
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &tok); err != nil {
			return nil, fmt.Errorf("auth: decode %s: %w", path, err)
		}
	} else {
		tok.AccessToken = text
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("auth: %s has no access token", path)
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if !tok.Expiry.IsZero() && time.Now().After(tok.Expiry) {
		return nil, ErrExpired
	}
	return &tok, nil
}

// RemoveToken deletes the saved token. A missing file is not an error.
func RemoveToken(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("auth: remove %s: %w", path, err)
	}
	return nil
}
