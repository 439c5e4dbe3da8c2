package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Enabled reports whether snapshot storage is configured at all.
func Enabled() bool {
	_, ok := env.Lookup("ANIMUS_SNAPSHOT_ENDPOINT")
	return ok
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ANIMUS_SNAPSHOT_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("ANIMUS_SNAPSHOT_ENDPOINT", ""),
		AccessKey: env.String("ANIMUS_SNAPSHOT_ACCESS_KEY", ""),
		SecretKey: env.String("ANIMUS_SNAPSHOT_SECRET_KEY", ""),
		Region:    env.String("ANIMUS_SNAPSHOT_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("ANIMUS_SNAPSHOT_BUCKET", "pipeline-snapshots"),
		Prefix:    strings.Trim(env.String("ANIMUS_SNAPSHOT_PREFIX", "snapshots"), "/"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("ANIMUS_SNAPSHOT_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("ANIMUS_SNAPSHOT_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("ANIMUS_SNAPSHOT_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("ANIMUS_SNAPSHOT_REGION is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("ANIMUS_SNAPSHOT_BUCKET is required")
	}
	return nil
}
