package credentials

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mustWriteToken(test *testing.T, path string, token Token) {
	test.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		test.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(token)
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		test.Fatalf("write token: %v", err)
	}
}

func mustReadToken(test *testing.T, path string) Token {
	test.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		test.Fatalf("read token: %v", err)
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		test.Fatalf("unmarshal token: %v", err)
	}
	return token
}

func TestLoadPrefersEnvironmentScopedFile(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir(), Environment: "Staging"}
	mustWriteToken(test, locator.DefaultPath(KindUser), Token{AccessToken: "default"})
	mustWriteToken(test, locator.EnvironmentPath(KindUser), Token{AccessToken: "scoped"})
	token, path, err := locator.Load(KindUser)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if token == nil || token.AccessToken != "scoped" {
		test.Fatalf("expected scoped token, got %+v", token)
	}
	if !strings.HasSuffix(path, "user_auth_token__staging") {
		test.Fatalf("unexpected path %q", path)
	}
}

func TestLoadFallsBackToDefaultFile(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir(), Environment: "staging"}
	mustWriteToken(test, locator.DefaultPath(KindMachine), Token{AccessToken: "default"})
	token, _, err := locator.Load(KindMachine)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if token == nil || token.AccessToken != "default" {
		test.Fatalf("expected default token, got %+v", token)
	}
}

func TestLoadOverrideWins(test *testing.T) {
	test.Parallel()
	home := test.TempDir()
	override := filepath.Join(home, "custom", "token.json")
	locator := Locator{HomeDir: home, Environment: "staging", UserOverride: override}
	mustWriteToken(test, locator.EnvironmentPath(KindUser), Token{AccessToken: "scoped"})
	mustWriteToken(test, override, Token{AccessToken: "override"})
	token, path, err := locator.Load(KindUser)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if token.AccessToken != "override" || path != override {
		test.Fatalf("expected override token, got %+v from %q", token, path)
	}
}

func TestLoadAbsentEverywhere(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir(), Environment: "staging"}
	token, path, err := locator.Load(KindUser)
	if err != nil || token != nil || path != "" {
		test.Fatalf("expected absent credential, got %+v %q %v", token, path, err)
	}
}

func TestLoadUnparsableFileIsFatal(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir()}
	path := locator.DefaultPath(KindUser)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		test.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not-json"), 0o600); err != nil {
		test.Fatalf("write: %v", err)
	}
	if _, _, err := locator.Load(KindUser); err == nil {
		test.Fatalf("expected parse error")
	}
}

func TestLoadDirectoryInPlaceOfFileIsFatal(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir()}
	if err := os.MkdirAll(locator.DefaultPath(KindUser), 0o700); err != nil {
		test.Fatalf("mkdir: %v", err)
	}
	if _, _, err := locator.Load(KindUser); err == nil {
		test.Fatalf("expected read error")
	}
}

func TestSavePathPrefersExistingScopedFile(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir(), Environment: "staging"}
	if got := locator.SavePath(KindUser); got != locator.DefaultPath(KindUser) {
		test.Fatalf("expected default save path, got %q", got)
	}
	mustWriteToken(test, locator.EnvironmentPath(KindUser), Token{AccessToken: "scoped"})
	if got := locator.SavePath(KindUser); got != locator.EnvironmentPath(KindUser) {
		test.Fatalf("expected scoped save path, got %q", got)
	}
}

func TestOpenWithoutCredentials(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir(), Environment: "staging"}
	_, err := Open(locator, WithHelpURL("https://qcs.example.com/"))
	if !errors.Is(err, qcs.ErrNoCredentials) {
		test.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	var missingError *MissingCredentialsError
	if !errors.As(err, &missingError) {
		test.Fatalf("expected MissingCredentialsError, got %T", err)
	}
	if len(missingError.Checked) != 4 {
		test.Fatalf("expected four checked paths, got %v", missingError.Checked)
	}
	if !strings.Contains(err.Error(), "https://qcs.example.com/auth/token") {
		test.Fatalf("expected guidance url, got %q", err.Error())
	}
}

func TestOpenFallbackIdentityWarns(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.WarnLevel)
	store, err := Open(Locator{HomeDir: test.TempDir()}, WithFallbackIdentity("legacy"), WithLogger(zap.New(core)))
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	if _, ok := store.Active(); ok {
		test.Fatalf("expected no active credential")
	}
	if recorded.Len() != 1 {
		test.Fatalf("expected deprecation warning, got %d entries", recorded.Len())
	}
}

func TestOpenWithoutPresenceCheck(test *testing.T) {
	test.Parallel()
	if _, err := Open(Locator{HomeDir: test.TempDir()}, WithoutPresenceCheck()); err != nil {
		test.Fatalf("open: %v", err)
	}
}

func TestStoreActivePrefersUser(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir()}
	mustWriteToken(test, locator.DefaultPath(KindUser), Token{AccessToken: "user"})
	mustWriteToken(test, locator.DefaultPath(KindMachine), Token{AccessToken: "machine"})
	store, err := Open(locator)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	active, ok := store.Active()
	if !ok || active.Kind != KindUser || active.Token.AccessToken != "user" {
		test.Fatalf("expected user credential, got %+v", active)
	}
}

func TestStoreSaveWritesAndUpdatesMemory(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir()}
	mustWriteToken(test, locator.DefaultPath(KindMachine), Token{AccessToken: "old", RefreshToken: "r1"})
	store, err := Open(locator)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	refreshed := Token{AccessToken: "new", RefreshToken: "r2"}
	if err := store.Save(KindMachine, refreshed); err != nil {
		test.Fatalf("save: %v", err)
	}
	if onDisk := mustReadToken(test, locator.DefaultPath(KindMachine)); onDisk != refreshed {
		test.Fatalf("expected refreshed token on disk, got %+v", onDisk)
	}
	if inMemory, _ := store.Token(KindMachine); inMemory != refreshed {
		test.Fatalf("expected refreshed token in memory, got %+v", inMemory)
	}
	info, err := os.Stat(locator.DefaultPath(KindMachine))
	if err != nil {
		test.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		test.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestStoreSaveFailureKeepsMemory(test *testing.T) {
	test.Parallel()
	locator := Locator{HomeDir: test.TempDir(), Environment: "staging"}
	previous := Token{AccessToken: "old", RefreshToken: "r1"}
	mustWriteToken(test, locator.DefaultPath(KindUser), previous)
	store, err := Open(locator)
	if err != nil {
		test.Fatalf("open: %v", err)
	}

	// A non-empty directory at the scoped path becomes the save target and cannot be replaced by a file.
	scoped := locator.EnvironmentPath(KindUser)
	if err := os.MkdirAll(filepath.Join(scoped, "occupied"), 0o700); err != nil {
		test.Fatalf("mkdir %s: %v", scoped, err)
	}
	if err := store.Save(KindUser, Token{AccessToken: "new", RefreshToken: "r2"}); err == nil {
		test.Fatalf("expected save failure")
	}
	if inMemory, ok := store.Token(KindUser); !ok || inMemory != previous {
		test.Fatalf("expected previous token in memory, got %+v", inMemory)
	}
	if onDisk := mustReadToken(test, locator.DefaultPath(KindUser)); onDisk != previous {
		test.Fatalf("expected previous token on disk, got %+v", onDisk)
	}
	if store.Path(KindUser) != locator.DefaultPath(KindUser) {
		test.Fatalf("expected path to stay %s, got %s", locator.DefaultPath(KindUser), store.Path(KindUser))
	}
	entries, err := os.ReadDir(filepath.Dir(scoped))
	if err != nil {
		test.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			test.Fatalf("temporary file %s left behind", entry.Name())
		}
	}
}

func TestTokenClaims(test *testing.T) {
	test.Parallel()
	expiresAt := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-1",
		"email": "ada@example.com",
		"iss":   "https://idp.example.com",
		"exp":   expiresAt.Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	claims, err := Token{AccessToken: signed}.Claims()
	if err != nil {
		test.Fatalf("claims: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "ada@example.com" || !claims.ExpiresAt.Equal(expiresAt) {
		test.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Expired(expiresAt.Add(-time.Hour)) || !claims.Expired(expiresAt.Add(time.Hour)) {
		test.Fatalf("unexpected expiry evaluation")
	}
	if _, err := (Token{AccessToken: "opaque"}).Claims(); err == nil {
		test.Fatalf("expected error for opaque token")
	}
}
