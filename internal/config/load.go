package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvLookup abstracts os.LookupEnv for testability, mirroring the
// teacher's DefaultEnvLookup indirection in internal/config/load.go.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// Option customizes a Load call.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup EnvLookup
	filePath  string
	overrides []func(*RuntimeConfig)
}

// WithFile points the loader at a YAML config file. Missing files are
// not an error; only a present-but-unparsable file fails Load.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.filePath = path }
}

// WithEnvLookup overrides the environment lookup, for tests.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithOverride applies an explicit mutation after file and env layers,
// the highest-precedence layer.
func WithOverride(fn func(*RuntimeConfig)) Option {
	return func(o *loadOptions) { o.overrides = append(o.overrides, fn) }
}

// Load builds a RuntimeConfig from defaults, an optional file, the
// environment, and explicit overrides, later layers winning. It
// returns the Metadata recording each field's provenance.
func Load(opts ...Option) (RuntimeConfig, Metadata, error) {
	options := loadOptions{envLookup: DefaultEnvLookup}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := defaultRuntimeConfig()

	if options.filePath != "" {
		if err := applyFile(&cfg, &meta, options.filePath); err != nil {
			return RuntimeConfig{}, Metadata{}, err
		}
	}

	applyEnv(&cfg, &meta, options.envLookup)

	for _, fn := range options.overrides {
		fn(&cfg)
	}
	if len(options.overrides) > 0 {
		meta.sources["__override__"] = SourceOverride
	}

	if err := validate(cfg); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}

	return cfg, meta, nil
}

func applyFile(cfg *RuntimeConfig, meta *Metadata, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		meta.sources[key] = SourceFile
	}
	return nil
}

// applyEnv maps environment variable names to setters applied over
// the config, covering spec.md §6.2's recognized keys.
func applyEnv(cfg *RuntimeConfig, meta *Metadata, lookup EnvLookup) {
	set := func(field, env string, apply func(string)) {
		val, ok := lookup(env)
		if !ok || strings.TrimSpace(val) == "" {
			return
		}
		apply(val)
		meta.sources[field] = SourceEnv
	}

	set("app_id", "LARK_APP_ID", func(v string) { cfg.AppID = v })
	set("app_secret", "LARK_APP_SECRET", func(v string) { cfg.AppSecret = v })
	set("user_access_token", "LARK_USER_ACCESS_TOKEN", func(v string) { cfg.UserAccessToken = v })
	set("domain", "LARK_DOMAIN", func(v string) { cfg.Domain = v })
	set("token_mode", "LARK_TOKEN_MODE", func(v string) { cfg.TokenMode = v })
	set("log_level", "LARK_LOG_LEVEL", func(v string) { cfg.LogLevel = v })
	set("log_format", "LARK_LOG_FORMAT", func(v string) { cfg.LogFormat = v })
	set("rate_limiting.enabled", "LARK_RATE_LIMITING_ENABLED", func(v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RateLimiting.Enabled = b
		}
	})
	set("cache.max_entries", "LARK_CACHE_MAX_ENTRIES", func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	})
}

func validate(cfg RuntimeConfig) error {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return fmt.Errorf("config: appId and appSecret are required")
	}
	switch cfg.TokenMode {
	case "auto", "tenant", "user":
	default:
		return fmt.Errorf("config: invalid tokenMode %q", cfg.TokenMode)
	}
	return nil
}
