// Package config loads application configuration from an optional config
// file and environment variables.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"

	"tg_digest/internal/filter"
	"tg_digest/internal/provider"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string        `koanf:"telegram_bot_token"`
	DatabasePath     string        `koanf:"database_path"`
	LogLevel         string        `koanf:"log_level"`
	HTTPAddr         string        `koanf:"http_addr"`
	RegistryRefresh  time.Duration `koanf:"registry_refresh"`
	SummaryInterval  time.Duration `koanf:"summary_interval"`
	ReportChatID     int64         `koanf:"report_chat_id"`
	BatchSize        int           `koanf:"batch_size"`
	CharBudget       int           `koanf:"char_budget"`

	Provider         string        `koanf:"provider"`
	ProviderTimeout  time.Duration `koanf:"provider_timeout"`
	GigaChatAuthKey  string        `koanf:"gigachat_auth_key"`
	GigaChatScope    string        `koanf:"gigachat_scope"`
	GigaChatOAuthURL string        `koanf:"gigachat_oauth_url"`
	GigaChatAPIURL   string        `koanf:"gigachat_api_url"`
	GigaChatModel    string        `koanf:"gigachat_model"`
	GigaChatInsecure bool          `koanf:"gigachat_insecure"`
	OpenAIAPIKey     string        `koanf:"openai_api_key"`
	OpenAIBaseURL    string        `koanf:"openai_base_url"`
	OpenAIModel      string        `koanf:"openai_model"`
	AnthropicAPIKey  string        `koanf:"anthropic_api_key"`
	AnthropicBaseURL string        `koanf:"anthropic_base_url"`
	AnthropicModel   string        `koanf:"anthropic_model"`

	RSSBridgeURL    string        `koanf:"rss_bridge_url"`
	RSSPollInterval time.Duration `koanf:"rss_poll_interval"`

	// Lists accept either a file list or a comma-separated string.
	AllowedUsers     []int64  `koanf:"-"`
	SuppressPrefixes []string `koanf:"-"`
	SuppressPatterns []string `koanf:"-"`
}

var configFiles = []string{
	"config.yaml",
	"config.yml",
	"config.json",
	"config.toml",
}

var defaults = map[string]any{
	"database_path":     "./data/digest.db",
	"log_level":         "info",
	"http_addr":         ":8080",
	"registry_refresh":  "60s",
	"summary_interval":  "0s",
	"batch_size":        100,
	"char_budget":       10000,
	"provider":          provider.BackendGigaChat,
	"provider_timeout":  "60s",
	"rss_poll_interval": "5m",
}

// Load reads configuration. Values from the environment override the config
// file, which is taken from CONFIG_FILE or the first config.* file found in
// the working directory.
func Load() (*Config, error) {
	k := koanf.New(".")

	configFile, found := os.Getenv("CONFIG_FILE"), true
	if configFile == "" {
		configFile, found = lo.Find(configFiles, func(name string) bool {
			_, err := os.Stat(name)
			return err == nil
		})
	}
	if found {
		parser, err := parserFor(configFile)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.In("config").With("config_file", configFile).Wrapf(err, "load config file")
		}
	}

	known := lo.Keyify(envKeys())
	envKey := func(s string) string {
		key := strings.ToLower(s)
		if _, ok := known[key]; !ok {
			return ""
		}
		return key
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, oops.In("config").Wrapf(err, "load environment")
	}

	for key, val := range defaults {
		if !k.Exists(key) {
			_ = k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "unmarshal config")
	}

	users, err := parseUserIDs(k.Get("allowed_users"))
	if err != nil {
		return nil, err
	}
	cfg.AllowedUsers = users
	cfg.SuppressPrefixes = stringList(k.Get("suppress_prefixes"))
	if !k.Exists("suppress_prefixes") {
		cfg.SuppressPrefixes = append([]string(nil), filter.DefaultPrefixes...)
	}
	cfg.SuppressPatterns = stringList(k.Get("suppress_patterns"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and cross-field constraints.
func (c *Config) Validate() error {
	errb := oops.In("config")
	if c.TelegramBotToken == "" {
		return errb.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.BatchSize <= 0 {
		return errb.With("batch_size", c.BatchSize).Errorf("batch_size must be positive")
	}
	if c.CharBudget <= 0 {
		return errb.With("char_budget", c.CharBudget).Errorf("char_budget must be positive")
	}
	if c.RegistryRefresh <= 0 {
		return errb.With("registry_refresh", c.RegistryRefresh).Errorf("registry_refresh must be positive")
	}
	if c.SummaryInterval < 0 {
		return errb.With("summary_interval", c.SummaryInterval).Errorf("summary_interval must not be negative")
	}
	if c.SummaryInterval > 0 && c.ReportChatID == 0 {
		return errb.Errorf("report_chat_id is required when summary_interval is set")
	}
	if c.RSSBridgeURL != "" && c.RSSPollInterval <= 0 {
		return errb.With("rss_poll_interval", c.RSSPollInterval).Errorf("rss_poll_interval must be positive")
	}

	switch strings.ToLower(c.Provider) {
	case provider.BackendGigaChat:
		if c.GigaChatAuthKey == "" {
			return errb.Errorf("GIGACHAT_AUTH_KEY is required for the gigachat provider")
		}
	case provider.BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return errb.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case provider.BackendAnthropic:
		if c.AnthropicAPIKey == "" {
			return errb.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	default:
		return errb.With("provider", c.Provider).Errorf("unknown provider %q", c.Provider)
	}

	for _, p := range c.SuppressPatterns {
		if err := filter.ValidateRegex(p); err != nil {
			return errb.With("pattern", p).Wrapf(err, "invalid suppress pattern")
		}
	}
	return nil
}

// ProviderConfig returns the settings of the text-generation backend.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Backend: c.Provider,
		Timeout: c.ProviderTimeout,
		GigaChat: provider.GigaChatConfig{
			AuthKey:  c.GigaChatAuthKey,
			Scope:    c.GigaChatScope,
			OAuthURL: c.GigaChatOAuthURL,
			APIURL:   c.GigaChatAPIURL,
			Model:    c.GigaChatModel,
			Insecure: c.GigaChatInsecure,
		},
		OpenAI: provider.OpenAIConfig{
			APIKey:  c.OpenAIAPIKey,
			BaseURL: c.OpenAIBaseURL,
			Model:   c.OpenAIModel,
		},
		Anthropic: provider.AnthropicConfig{
			APIKey:  c.AnthropicAPIKey,
			BaseURL: c.AnthropicBaseURL,
			Model:   c.AnthropicModel,
		},
	}
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return lo.Contains(c.AllowedUsers, userID)
}

// envKeys lists the configuration keys read from the environment: every koanf
// tag of Config plus the list keys parsed by hand.
func envKeys() []string {
	keys := []string{"allowed_users", "suppress_prefixes", "suppress_patterns"}
	t := reflect.TypeFor[Config]()
	for i := range t.NumField() {
		if tag := t.Field(i).Tag.Get("koanf"); tag != "" && tag != "-" {
			keys = append(keys, tag)
		}
	}
	return keys
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, oops.In("config").With("config_file", path).Errorf("unsupported config file extension: %s", ext)
	}
}

func parseUserIDs(raw any) ([]int64, error) {
	var ids []int64
	for _, s := range stringList(raw) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, oops.In("config").With("value", s).Wrapf(err, "invalid user ID %q in ALLOWED_USERS", s)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

// stringList accepts a comma-separated string or a list from a config file.
func stringList(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(v, ",")
	case []any:
		parts = lo.Map(v, func(item any, _ int) string { return toString(item) })
	case []string:
		parts = v
	default:
		parts = []string{toString(v)}
	}
	return lo.FilterMap(parts, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	})
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
