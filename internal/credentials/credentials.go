// Package credentials loads and persists the access/refresh token pairs used to authenticate with the service.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind identifies which credential file a token belongs to.
type Kind string

const (
	// KindUser is the interactive user credential sent as a bearer token.
	KindUser Kind = "user"
	// KindMachine is the QMI credential sent in X-QMI-AUTH-TOKEN.
	KindMachine Kind = "qmi"
)

const (
	tokenDirectory    = ".qcs"
	directoryMode     = 0o700
	fileMode          = 0o600
	envScopeSeparator = "__"
)

// Token is an access/refresh pair as stored on disk.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims is the subset of access-token claims shown by the CLI.
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	ExpiresAt time.Time
}

// Expired reports whether the claims carry an expiry before now.
func (claims Claims) Expired(now time.Time) bool {
	return !claims.ExpiresAt.IsZero() && now.After(claims.ExpiresAt)
}

// Claims decodes the access token without verifying its signature.
// Opaque (non-JWT) tokens return an error.
func (token Token) Claims() (Claims, error) {
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, mapClaims); err != nil {
		return Claims{}, fmt.Errorf("decode access token: %w", err)
	}
	claims := Claims{}
	claims.Subject, _ = mapClaims.GetSubject()
	claims.Issuer, _ = mapClaims.GetIssuer()
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if expiresAt, err := mapClaims.GetExpirationTime(); err == nil && expiresAt != nil {
		claims.ExpiresAt = expiresAt.Time
	}
	return claims, nil
}

// Locator computes credential file paths.
type Locator struct {
	HomeDir         string
	Environment     string
	UserOverride    string
	MachineOverride string
}

// DefaultPath is the unscoped credential file for kind.
func (locator Locator) DefaultPath(kind Kind) string {
	return filepath.Join(locator.HomeDir, tokenDirectory, string(kind)+"_auth_token")
}

// EnvironmentPath is the environment-scoped credential file, or "" when no environment is set.
func (locator Locator) EnvironmentPath(kind Kind) string {
	environment := strings.ToLower(strings.TrimSpace(locator.Environment))
	if environment == "" {
		return ""
	}
	return locator.DefaultPath(kind) + envScopeSeparator + environment
}

// OverridePath is the explicit path configured for kind, if any.
func (locator Locator) OverridePath(kind Kind) string {
	if kind == KindMachine {
		return strings.TrimSpace(locator.MachineOverride)
	}
	return strings.TrimSpace(locator.UserOverride)
}

// Candidates lists the paths Load checks, in priority order.
func (locator Locator) Candidates(kind Kind) []string {
	candidates := make([]string, 0, 3)
	for _, path := range []string{locator.OverridePath(kind), locator.EnvironmentPath(kind), locator.DefaultPath(kind)} {
		if path != "" {
			candidates = append(candidates, path)
		}
	}
	return candidates
}

// Load returns the first credential found among the candidate paths.
// A credential that is absent everywhere yields a nil token and no error.
func (locator Locator) Load(kind Kind) (*Token, string, error) {
	for _, path := range locator.Candidates(kind) {
		token, err := readToken(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, err
		}
		return token, path, nil
	}
	return nil, "", nil
}

// SavePath resolves where a refreshed credential of kind is written.
func (locator Locator) SavePath(kind Kind) string {
	if override := locator.OverridePath(kind); override != "" {
		return override
	}
	if scoped := locator.EnvironmentPath(kind); scoped != "" {
		if _, err := os.Stat(scoped); err == nil {
			return scoped
		}
	}
	return locator.DefaultPath(kind)
}

func readToken(path string) (*Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read credential file %s: %w", path, err)
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse credential file %s: %w", path, err)
	}
	return &token, nil
}

// writeToken replaces path atomically so a failed write never leaves a truncated file.
func writeToken(path string, token Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, directoryMode); err != nil {
		return fmt.Errorf("create credential directory %s: %w", directory, err)
	}
	temporary, err := os.CreateTemp(directory, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	temporaryPath := temporary.Name()
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := temporary.Chmod(fileMode); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("chmod temp credential file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("close temp credential file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("replace credential file %s: %w", path, err)
	}
	return nil
}
