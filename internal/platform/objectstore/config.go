package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/input-output-hk/catalyst-core-sub000/internal/platform/env"
)

// Config describes the optional S3-compatible mirror for published artifacts.
// An empty Endpoint disables mirroring.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("VOTING_NODE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  strings.TrimSpace(env.String("VOTING_NODE_MINIO_ENDPOINT", "")),
		AccessKey: env.String("VOTING_NODE_MINIO_ACCESS_KEY", ""),
		SecretKey: env.String("VOTING_NODE_MINIO_SECRET_KEY", ""),
		Region:    env.String("VOTING_NODE_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("VOTING_NODE_MINIO_BUCKET", "voting-artifacts"),
		Prefix:    strings.Trim(env.String("VOTING_NODE_MINIO_PREFIX", ""), "/"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// ObjectKey prefixes key with the configured prefix, if any.
func (c Config) ObjectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}
