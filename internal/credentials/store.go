package credentials

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"go.uber.org/zap"
)

// MissingCredentialsError lists every location that was checked when no credential was found.
type MissingCredentialsError struct {
	Checked []string
	HelpURL string
}

// Error returns the guidance shown to the user.
func (missingError *MissingCredentialsError) Error() string {
	var builder strings.Builder
	builder.WriteString("you do not have credentials configured")
	if missingError.HelpURL != "" {
		fmt.Fprintf(&builder, "; visit %s/auth/token to obtain them", missingError.HelpURL)
	}
	if len(missingError.Checked) > 0 {
		fmt.Fprintf(&builder, "; checked %s", strings.Join(missingError.Checked, ", "))
	}
	builder.WriteString("; set AUTH or QMI_AUTH to a custom path, or FOREST_ENVIRONMENT to select a scoped file")
	return builder.String()
}

// Unwrap allows errors.Is(err, qcs.ErrNoCredentials).
func (missingError *MissingCredentialsError) Unwrap() error {
	return qcs.ErrNoCredentials
}

// Active is the single credential that authenticates requests.
type Active struct {
	Kind  Kind
	Token Token
}

// Store holds both credential kinds in memory and persists refreshed pairs.
type Store struct {
	locator Locator
	logger  *zap.Logger

	mu     sync.Mutex
	tokens map[Kind]*Token
	paths  map[Kind]string
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger           *zap.Logger
	fallbackIdentity string
	helpURL          string
	skipCheck        bool
}

// WithLogger sets the logger used for warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(options *openOptions) {
		if logger != nil {
			options.logger = logger
		}
	}
}

// WithFallbackIdentity permits running without tokens when the deprecated user_id is configured.
func WithFallbackIdentity(userID string) Option {
	return func(options *openOptions) {
		options.fallbackIdentity = strings.TrimSpace(userID)
	}
}

// WithHelpURL sets the QCS base URL referenced in guidance messages.
func WithHelpURL(qcsURL string) Option {
	return func(options *openOptions) {
		options.helpURL = strings.TrimRight(qcsURL, "/")
	}
}

// WithoutPresenceCheck allows opening a store with no credentials at all.
func WithoutPresenceCheck() Option {
	return func(options *openOptions) {
		options.skipCheck = true
	}
}

// Open loads both credential kinds once.
func Open(locator Locator, options ...Option) (*Store, error) {
	settings := openOptions{logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}
	store := &Store{
		locator: locator,
		logger:  settings.logger,
		tokens:  map[Kind]*Token{},
		paths:   map[Kind]string{},
	}
	for _, kind := range []Kind{KindUser, KindMachine} {
		token, path, err := locator.Load(kind)
		if err != nil {
			return nil, err
		}
		if token != nil {
			store.tokens[kind] = token
			store.paths[kind] = path
		}
	}
	if len(store.tokens) > 0 || settings.skipCheck {
		return store, nil
	}
	if settings.fallbackIdentity != "" {
		store.logger.Warn("the user_id attribute in the config file is deprecated",
			zap.String("update_url", settings.helpURL+"/auth/token"),
			zap.String("save_to", locator.SavePath(KindUser)),
		)
		return store, nil
	}
	checked := append(locator.Candidates(KindUser), locator.Candidates(KindMachine)...)
	return nil, &MissingCredentialsError{Checked: checked, HelpURL: settings.helpURL}
}

// Active returns the credential used for request headers, preferring the user kind.
func (store *Store) Active() (Active, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, kind := range []Kind{KindUser, KindMachine} {
		if token := store.tokens[kind]; token != nil {
			return Active{Kind: kind, Token: *token}, true
		}
	}
	return Active{}, false
}

// Token returns the in-memory credential of kind.
func (store *Store) Token(kind Kind) (Token, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	token := store.tokens[kind]
	if token == nil {
		return Token{}, false
	}
	return *token, true
}

// Path returns the file a credential of kind was loaded from, or where it would be saved.
func (store *Store) Path(kind Kind) string {
	store.mu.Lock()
	defer store.mu.Unlock()
	if path, ok := store.paths[kind]; ok {
		return path
	}
	return store.locator.SavePath(kind)
}

// Save persists token and then replaces the in-memory copy.
// On failure both the file and memory keep their previous values.
func (store *Store) Save(kind Kind, token Token) error {
	path := store.locator.SavePath(kind)
	if err := writeToken(path, token); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	stored := token
	store.tokens[kind] = &stored
	store.paths[kind] = path
	store.logger.Debug("saved refreshed credential", zap.String("kind", string(kind)), zap.String("path", path))
	return nil
}
