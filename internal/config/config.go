// Package config resolves the service endpoints and identity used by the qcs client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/spf13/viper"
)

// Keys understood by Load. Each one can be supplied through the bound env vars or a flag.
const (
	KeyConfigPath       = "config"
	KeyEnvironment      = "environment"
	KeyURL              = "url"
	KeyUserTokenPath    = "auth"
	KeyMachineTokenPath = "qmi-auth"
)

const (
	sectionName        = "rigetti forest"
	keyURL             = "url"
	keyQCSURL          = "qcs_url"
	keyUserID          = "user_id"
	keyAdminKey        = "forest_admin_key"
	defaultConfigFile  = ".qcs_config"
	testEnvironment    = "test"
	defaultTestURL     = "http://localhost:8000"
	defaultTestAdmin   = "pkey"
	forestPort         = ":8000"
	qcsPort            = ":3000"
	forestServerPrefix = "forest-server."
)

// AuthConfig is the immutable connection configuration for one process.
type AuthConfig struct {
	URL              string
	QCSURL           string
	AdminKey         string
	UserID           string
	Environment      string
	ConfigPath       string
	HomeDir          string
	UserTokenPath    string
	MachineTokenPath string
}

// IsTest reports whether the process targets the local test environment.
func (cfg AuthConfig) IsTest() bool {
	return cfg.Environment == testEnvironment
}

// Validate applies environment defaults and ensures the forest URL is usable.
func (cfg *AuthConfig) Validate() error {
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	if cfg.IsTest() {
		cfg.URL = defaultIfEmpty(cfg.URL, defaultTestURL)
		cfg.AdminKey = defaultIfEmpty(cfg.AdminKey, defaultTestAdmin)
	}
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" {
		return fmt.Errorf("%w: url is required in the [Rigetti Forest] section of %s", qcs.ErrInvalidConfig, cfg.ConfigPath)
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: url %q must be an absolute URI", qcs.ErrInvalidConfig, cfg.URL)
	}
	cfg.QCSURL = strings.TrimRight(deriveQCSURL(cfg.URL, strings.TrimSpace(cfg.QCSURL)), "/")
	return nil
}

// BindEnv registers the environment variables recognised by Load on v.
func BindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		KeyConfigPath:       {"QCS_CONFIG", "QC"},
		KeyEnvironment:      {"FOREST_ENVIRONMENT", "FE"},
		KeyURL:              {"QCS_URL"},
		KeyUserTokenPath:    {"AUTH"},
		KeyMachineTokenPath: {"QMI_AUTH"},
	}
	for key, names := range bindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the INI config file named by v (or the default under homeDir) and overlays v's overrides.
func Load(v *viper.Viper, homeDir string) (AuthConfig, error) {
	cfg := AuthConfig{
		ConfigPath:       strings.TrimSpace(v.GetString(KeyConfigPath)),
		Environment:      strings.ToLower(strings.TrimSpace(v.GetString(KeyEnvironment))),
		HomeDir:          homeDir,
		UserTokenPath:    strings.TrimSpace(v.GetString(KeyUserTokenPath)),
		MachineTokenPath: strings.TrimSpace(v.GetString(KeyMachineTokenPath)),
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(homeDir, defaultConfigFile)
	}
	cfg.ConfigPath = ExpandHome(cfg.ConfigPath, homeDir)

	section, err := readSection(cfg.ConfigPath, cfg.Environment)
	if err != nil {
		return AuthConfig{}, err
	}
	cfg.URL = section[keyURL]
	cfg.QCSURL = section[keyQCSURL]
	cfg.UserID = section[keyUserID]
	cfg.AdminKey = section[keyAdminKey]
	if override := strings.TrimSpace(v.GetString(KeyURL)); override != "" {
		cfg.URL = override
	}
	if err := cfg.Validate(); err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

// readSection returns the [Rigetti Forest] values with the environment subsection applied on top.
func readSection(path string, environment string) (map[string]string, error) {
	values := map[string]string{}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("%w: stat %s: %v", qcs.ErrInvalidConfig, path, err)
	}
	fileConfig := viper.New()
	fileConfig.SetConfigFile(path)
	fileConfig.SetConfigType("ini")
	if err := fileConfig.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", qcs.ErrInvalidConfig, path, err)
	}
	forest := fileConfig.Sub(sectionName)
	if forest == nil {
		return values, nil
	}
	copyStrings(values, forest)
	if environment == "" {
		return values, nil
	}
	if scoped := forest.Sub(environment); scoped != nil {
		copyStrings(values, scoped)
	}
	return values, nil
}

func copyStrings(target map[string]string, source *viper.Viper) {
	for _, key := range []string{keyURL, keyQCSURL, keyUserID, keyAdminKey} {
		if source.IsSet(key) {
			if value := strings.TrimSpace(source.GetString(key)); value != "" {
				target[key] = value
			}
		}
	}
}

func deriveQCSURL(forestURL string, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if strings.Contains(forestURL, forestPort) {
		return strings.Replace(forestURL, forestPort, qcsPort, 1)
	}
	return strings.Replace(forestURL, forestServerPrefix, "", 1)
}

// ExpandHome replaces a leading "~" with homeDir.
func ExpandHome(path string, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
