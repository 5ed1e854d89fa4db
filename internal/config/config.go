package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigFile is the base name of the optional project settings file.
// An environment-specific variant ".updraft.<env>" takes precedence when
// the environment is selected.
const ConfigFile = ".updraft"

// EnvFile holds function environment variables, one KEY=VALUE per line.
const EnvFile = ".env"

// Config is the resolved project configuration. Everything has a default
// or comes from the settings file / UPDRAFT_* environment variables; the
// build pipeline treats it as opaque input.
type Config struct {
	AccountID        string `mapstructure:"aws_account_id"`
	Region           string `mapstructure:"aws_region"`
	Runtime          string `mapstructure:"lambda_runtime"`
	Role             string `mapstructure:"lambda_role"`
	AppName          string `mapstructure:"app_name"`
	Infra            string `mapstructure:"infra"`
	LayerPath        string `mapstructure:"layer_path"`
	APIPath          string `mapstructure:"api_path"`
	APIPublicPath    string `mapstructure:"api_public_path"`
	LayerRuntimes    string `mapstructure:"layer_compatible_runtimes"`
	ArtifactBucket   string `mapstructure:"artifact_bucket"`
	LogRetentionDays int    `mapstructure:"log_retention_days"`
	Concurrency      int    `mapstructure:"concurrency"`
	MaxRetries       int    `mapstructure:"max_retries"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
}

// Load resolves configuration for a project root. The env argument picks
// the ".updraft.<env>" variant; the generic ".updraft" is the fallback.
// A missing file is fine, defaults and environment variables still apply.
func Load(root, env string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")

	v.SetDefault("aws_account_id", "")
	v.SetDefault("aws_region", "")
	v.SetDefault("lambda_runtime", "python3.12")
	v.SetDefault("lambda_role", "")
	v.SetDefault("app_name", "")
	v.SetDefault("infra", "dev")
	v.SetDefault("layer_path", "layers")
	v.SetDefault("api_path", "api")
	v.SetDefault("api_public_path", "api_public")
	v.SetDefault("layer_compatible_runtimes", "")
	v.SetDefault("artifact_bucket", "")
	v.SetDefault("log_retention_days", 30)
	v.SetDefault("concurrency", 8)
	v.SetDefault("max_retries", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if path, ok := variantPath(root, ConfigFile, env); ok {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("UPDRAFT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if cfg.AppName == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project root: %w", err)
		}
		cfg.AppName = filepath.Base(abs)
	}

	return &cfg, nil
}

// LoadEnvFile reads the project's function environment variables from
// ".env" (or the ".env.<env>" variant). Missing files yield an empty map.
func LoadEnvFile(root, env string) (map[string]string, error) {
	path, ok := variantPath(root, EnvFile, env)
	if !ok {
		return map[string]string{}, nil
	}

	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	out := make(map[string]string)
	for _, key := range v.AllKeys() {
		out[strings.ToUpper(key)] = v.GetString(key)
	}
	return out, nil
}

// variantPath picks "<base>.<env>" when it exists, then the generic
// "<base>", and reports whether either was found.
func variantPath(root, base, env string) (string, bool) {
	if env != "" {
		p := filepath.Join(root, base+"."+env)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	p := filepath.Join(root, base)
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	return "", false
}

// Validate checks the fields a deployment cannot proceed without.
func (c *Config) Validate() error {
	var missing []string
	if c.AccountID == "" {
		missing = append(missing, "AWS_ACCOUNT_ID")
	}
	if c.Region == "" {
		missing = append(missing, "AWS_REGION")
	}
	if c.Role == "" {
		missing = append(missing, "LAMBDA_ROLE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

// CompatibleRuntimes returns the layer runtime list, defaulting to the
// function runtime.
func (c *Config) CompatibleRuntimes() []string {
	if c.LayerRuntimes == "" {
		return []string{c.Runtime}
	}
	parts := strings.Split(c.LayerRuntimes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RoleARN expands a bare role name into a full ARN; a value that already
// is an ARN passes through.
func (c *Config) RoleARN() string {
	if strings.HasPrefix(c.Role, "arn:") {
		return c.Role
	}
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", c.AccountID, c.Role)
}

// RemoteName returns the platform-side resource name for a unit name.
func (c *Config) RemoteName(name string) string {
	return fmt.Sprintf("%s-%s-%s", c.AppName, name, c.Infra)
}

// APIName returns the gateway name for the main API surface.
func (c *Config) APIName() string {
	return fmt.Sprintf("%s-%s", c.AppName, c.Infra)
}

// PublicAPIName returns the gateway name for the public API surface.
func (c *Config) PublicAPIName() string {
	return fmt.Sprintf("%s-%s-public", c.AppName, c.Infra)
}
