// Package config loads crmsync settings.
//
// Sources, lowest precedence first: built-in defaults, the YAML config file,
// process environment, the --env-file dotenv file, explicitly set flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/crmsync/internal/enrich"
	"github.com/roach88/crmsync/internal/ledger"
)

// Config is the resolved configuration.
type Config struct {
	CRM    CRMConfig    `mapstructure:"crm"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Search SearchConfig `mapstructure:"search"`
}

type CRMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LedgerConfig locates the processed-resource store: an SQLite path or a
// postgres:// DSN.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SearchConfig lists company search providers in priority order.
type SearchConfig struct {
	Providers []enrich.APIConfig `mapstructure:"providers"`
}

// Keys.
const (
	KeyCRMBaseURL       = "crm.base_url"
	KeyCRMAPIKey        = "crm.api_key"
	KeyCRMTimeout       = "crm.timeout"
	KeyLLMBaseURL       = "llm.base_url"
	KeyLLMAPIKey        = "llm.api_key"
	KeyLLMModel         = "llm.model"
	KeyLLMTimeout       = "llm.timeout"
	KeyLedgerPath       = "ledger.path"
	KeyRetryMaxAttempts = "retry.max_attempts"
	KeyRetryBaseDelay   = "retry.base_delay"
	KeyRetryMaxDelay    = "retry.max_delay"
)

// envNames maps keys to the environment variables that set them.
var envNames = map[string]string{
	KeyCRMBaseURL:       "CRM_API_BASE_URL",
	KeyCRMAPIKey:        "CRM_API_KEY",
	KeyCRMTimeout:       "CRMSYNC_REQUEST_TIMEOUT",
	KeyLLMBaseURL:       "LLM_BASE_URL",
	KeyLLMAPIKey:        "LLM_API_KEY",
	KeyLLMModel:         "LLM_MODEL",
	KeyLedgerPath:       "PERSISTENCE_DB_PATH",
	KeyRetryMaxAttempts: "CRMSYNC_RETRY_MAX_ATTEMPTS",
}

// FlagKeys maps command-line flag names to keys. Flags are only applied
// when set explicitly.
var FlagKeys = map[string]string{
	"base-url":  KeyCRMBaseURL,
	"api-key":   KeyCRMAPIKey,
	"timeout":   KeyCRMTimeout,
	"llm-url":   KeyLLMBaseURL,
	"llm-model": KeyLLMModel,
	"db-path":   KeyLedgerPath,
	"retries":   KeyRetryMaxAttempts,
}

// Options selects the sources Load reads.
type Options struct {
	// ConfigFile is an explicit config path. When empty, crmsync.yaml is
	// looked up in the working directory and $HOME/.config/crmsync, and a
	// missing file is not an error.
	ConfigFile string

	// EnvFile is a dotenv file whose values override the process
	// environment.
	EnvFile string

	// Flags holds command-line overrides named as in FlagKeys.
	Flags *pflag.FlagSet

	// LookupEnv reads the process environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyCRMTimeout, 10*time.Second)
	v.SetDefault(KeyLLMModel, "qwen/qwen3-4b-2507")
	v.SetDefault(KeyLLMTimeout, 120*time.Second)
	v.SetDefault(KeyLedgerPath, ledger.DefaultPath)
	v.SetDefault(KeyRetryMaxAttempts, 3)
	v.SetDefault(KeyRetryBaseDelay, 200*time.Millisecond)
	v.SetDefault(KeyRetryMaxDelay, 2*time.Second)
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	for key, env := range envNames {
		if val, ok := lookup(env); ok && val != "" {
			v.Set(key, val)
		}
	}

	if opts.EnvFile != "" {
		vals, err := readEnvFile(opts.EnvFile)
		if err != nil {
			return nil, err
		}
		for key, env := range envNames {
			if val, ok := vals[env]; ok && val != "" {
				v.Set(key, val)
			}
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil && f.Changed {
				v.Set(key, f.Value.String())
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("crmsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "crmsync"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// readEnvFile parses a dotenv file into upper-case variable names.
func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	out := map[string]string{}
	for _, env := range envNames {
		if ev.IsSet(env) {
			out[env] = ev.GetString(env)
		}
	}
	return out, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.CRM.Timeout <= 0 {
		return fmt.Errorf("crm.timeout must be positive, got %s", c.CRM.Timeout)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	for i, p := range c.Search.Providers {
		if p.URL == "" {
			return fmt.Errorf("search.providers[%d]: url is required", i)
		}
	}
	return nil
}
