// Package workspace locates and parses the local workspace configuration that
// tells the publisher which remote control-plane workspace to talk to and how
// to authenticate.
//
// Configuration files are JSONC (JSON with comments and trailing commas) and
// are discovered by walking from a start directory up to the filesystem root,
// checking config.json, .animus/config.json and .azureml/config.json in each
// directory. ANIMUS_WORKSPACE_CONFIG names a file explicitly and disables the
// search. Individual fields can be overridden from the environment; when every
// required field is supplied that way no file is needed at all.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/platform/env"
)

// ErrConfigNotFound is returned when no configuration file can be discovered
// and the environment does not supply a complete configuration.
var ErrConfigNotFound = errors.New("workspace configuration not found")

// ConfigError reports a configuration file that exists but cannot be used.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "workspace configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("workspace configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SearchNames are the relative paths checked in every directory during discovery.
var SearchNames = []string{
	"config.json",
	filepath.Join(".animus", "config.json"),
	filepath.Join(".azureml", "config.json"),
}

type AuthType string

const (
	AuthNone              AuthType = "none"
	AuthToken             AuthType = "token"
	AuthClientCredentials AuthType = "client_credentials"
)

type Auth struct {
	Type         AuthType `json:"type"`
	Token        string   `json:"token,omitempty"`
	IssuerURL    string   `json:"issuer_url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Config is the parsed workspace configuration.
type Config struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	WorkspaceName  string `json:"workspace_name"`
	Region         string `json:"region,omitempty"`
	Endpoint       string `json:"endpoint"`
	Auth           Auth   `json:"auth"`

	// Path is the file the configuration was read from, empty when it came
	// entirely from the environment.
	Path string `json:"-"`
}

func (c Config) Workspace() domain.Workspace {
	return domain.Workspace{
		Name:           c.WorkspaceName,
		Region:         c.Region,
		SubscriptionID: c.SubscriptionID,
		ResourceGroup:  c.ResourceGroup,
		Endpoint:       c.Endpoint,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SubscriptionID) == "" {
		return errors.New("subscription_id is required")
	}
	if strings.TrimSpace(c.ResourceGroup) == "" {
		return errors.New("resource_group is required")
	}
	if strings.TrimSpace(c.WorkspaceName) == "" {
		return errors.New("workspace_name is required")
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL: %q", c.Endpoint)
	}
	switch c.Auth.Type {
	case AuthNone:
	case AuthToken:
		if strings.TrimSpace(c.Auth.Token) == "" {
			return errors.New("auth.token is required when auth.type=token")
		}
	case AuthClientCredentials:
		if strings.TrimSpace(c.Auth.ClientID) == "" {
			return errors.New("auth.client_id is required when auth.type=client_credentials")
		}
		if strings.TrimSpace(c.Auth.ClientSecret) == "" {
			return errors.New("auth.client_secret is required when auth.type=client_credentials")
		}
		if strings.TrimSpace(c.Auth.TokenURL) == "" && strings.TrimSpace(c.Auth.IssuerURL) == "" {
			return errors.New("auth.token_url or auth.issuer_url is required when auth.type=client_credentials")
		}
	default:
		return fmt.Errorf("auth.type must be one of: none, token, client_credentials (got %q)", c.Auth.Type)
	}
	return nil
}

// Parse decodes JSONC configuration bytes.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	return cfg, nil
}

// Load reads and validates the configuration at path, applying environment overrides.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	cfg.Path = path
	return finish(cfg)
}

// Discover finds the workspace configuration for a process started in start.
func Discover(start string) (Config, error) {
	if explicit, ok := env.Lookup("ANIMUS_WORKSPACE_CONFIG"); ok {
		return Load(explicit)
	}

	path, err := find(start)
	if err == nil {
		return Load(path)
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return Config{}, err
	}

	cfg := applyEnv(Config{})
	if cfg.SubscriptionID == "" && cfg.ResourceGroup == "" && cfg.WorkspaceName == "" {
		return Config{}, fmt.Errorf("%w (searched from %s)", ErrConfigNotFound, start)
	}
	return finish(cfg)
}

func find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	for {
		for _, name := range SearchNames {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}
		dir = parent
	}
}

func finish(cfg Config) (Config, error) {
	cfg = applyEnv(cfg)
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = inferAuthType(cfg.Auth)
	}
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, &ConfigError{Path: cfg.Path, Err: err}
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	cfg.SubscriptionID = env.String("ANIMUS_SUBSCRIPTION_ID", cfg.SubscriptionID)
	cfg.ResourceGroup = env.String("ANIMUS_RESOURCE_GROUP", cfg.ResourceGroup)
	cfg.WorkspaceName = env.String("ANIMUS_WORKSPACE_NAME", cfg.WorkspaceName)
	cfg.Region = env.String("ANIMUS_REGION", cfg.Region)
	cfg.Endpoint = env.String("ANIMUS_ENDPOINT", cfg.Endpoint)
	if token, ok := env.Lookup("ANIMUS_TOKEN"); ok {
		cfg.Auth.Type = AuthToken
		cfg.Auth.Token = token
	}
	cfg.Auth.ClientID = env.String("ANIMUS_CLIENT_ID", cfg.Auth.ClientID)
	cfg.Auth.ClientSecret = env.String("ANIMUS_CLIENT_SECRET", cfg.Auth.ClientSecret)
	return cfg
}

func inferAuthType(a Auth) AuthType {
	switch {
	case strings.TrimSpace(a.Token) != "":
		return AuthToken
	case strings.TrimSpace(a.ClientID) != "":
		return AuthClientCredentials
	default:
		return AuthNone
	}
}
