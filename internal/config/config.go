package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ent0n29/brandely/internal/policy"
	"github.com/ent0n29/brandely/internal/stream"
)

// Config contains all runtime settings for the branding chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogEncoding      string

	SessionIdleTimeout time.Duration
	RateLimitPerMin    int

	LLMMode             string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	LLMHTTPURL          string
	LLMHTTPStreamStrict bool

	ModelName        string
	Temperature      float64
	MaxHistoryTurns  int
	ContextTurns     int
	RequestTimeout   time.Duration
	SystemPromptFile string

	SafetyEnforcement policy.Enforcement
	BannedPhrases     []string
	SafetyPatterns    []string
	RefusalMessage    string

	StreamMode         stream.Mode
	StreamInitialDelay time.Duration
	StreamChunkDelay   time.Duration

	DatabaseURL string
}

// Load reads an optional brandely.yaml (./config or .) and the environment.
// An explicit path must exist. Environment variables win over the file.
func Load(path ...string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if len(path) > 0 && strings.TrimSpace(path[0]) != "" {
		v.SetConfigFile(path[0])
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("brandely")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_bind_addr", ":8080")
	v.SetDefault("app_shutdown_timeout", "15s")
	v.SetDefault("app_metrics_namespace", "brandely")
	v.SetDefault("app_allow_any_origin", "false")
	v.SetDefault("app_log_level", "info")
	v.SetDefault("app_log_encoding", "json")
	v.SetDefault("app_session_idle_timeout", "0s")
	v.SetDefault("app_rate_limit_per_min", "30")
	v.SetDefault("llm_mode", "auto")
	v.SetDefault("llm_http_stream_strict", "false")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("llm_temperature", "0.7")
	v.SetDefault("llm_request_timeout", "60s")
	v.SetDefault("chat_max_history_turns", "40")
	v.SetDefault("chat_context_turns", "0")
	v.SetDefault("safety_enforcement", string(policy.EnforceLog))
	v.SetDefault("safety_refusal_message", "I'm here to help with branding, so I can't discuss that topic. Shall we get back to your brand?")
	v.SetDefault("stream_mode", string(stream.ModeChar))
	v.SetDefault("stream_initial_delay", "300ms")
	v.SetDefault("stream_chunk_delay", "10ms")
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		BindAddr:         str(v, "app_bind_addr"),
		MetricsNamespace: str(v, "app_metrics_namespace"),
		LogLevel:         str(v, "app_log_level"),
		LogEncoding:      str(v, "app_log_encoding"),
		LLMMode:          str(v, "llm_mode"),
		// The provider conventions use these names, so keep them unprefixed.
		OpenAIAPIKey:     str(v, "openai_api_key"),
		OpenAIBaseURL:    str(v, "openai_base_url"),
		LLMHTTPURL:       str(v, "llm_http_url"),
		ModelName:        str(v, "llm_model"),
		SystemPromptFile: str(v, "chat_system_prompt_file"),
		RefusalMessage:   str(v, "safety_refusal_message"),
		DatabaseURL:      str(v, "database_url"),
		BannedPhrases:    list(v, "safety_banned_phrases"),
		SafetyPatterns:   list(v, "safety_patterns"),
	}
	if len(cfg.BannedPhrases) == 0 {
		cfg.BannedPhrases = append([]string(nil), policy.DefaultBannedPhrases...)
	}

	var err error
	if cfg.ShutdownTimeout, err = duration(v, "app_shutdown_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTimeout, err = duration(v, "app_session_idle_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = duration(v, "llm_request_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.StreamInitialDelay, err = duration(v, "stream_initial_delay"); err != nil {
		return Config{}, err
	}
	if cfg.StreamChunkDelay, err = duration(v, "stream_chunk_delay"); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolean(v, "app_allow_any_origin"); err != nil {
		return Config{}, err
	}
	if cfg.LLMHTTPStreamStrict, err = boolean(v, "llm_http_stream_strict"); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMin, err = integer(v, "app_rate_limit_per_min"); err != nil {
		return Config{}, err
	}
	if cfg.MaxHistoryTurns, err = integer(v, "chat_max_history_turns"); err != nil {
		return Config{}, err
	}
	if cfg.ContextTurns, err = integer(v, "chat_context_turns"); err != nil {
		return Config{}, err
	}
	if cfg.Temperature, err = float(v, "llm_temperature"); err != nil {
		return Config{}, err
	}
	if cfg.SafetyEnforcement, err = policy.ParseEnforcement(str(v, "safety_enforcement")); err != nil {
		return Config{}, fmt.Errorf("SAFETY_ENFORCEMENT: %w", err)
	}
	if cfg.StreamMode, err = stream.ParseMode(str(v, "stream_mode")); err != nil {
		return Config{}, fmt.Errorf("STREAM_MODE: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.ContextTurns == 0 {
		cfg.ContextTurns = cfg.MaxHistoryTurns
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxHistoryTurns <= 0 {
		return fmt.Errorf("CHAT_MAX_HISTORY_TURNS must be positive")
	}
	if c.ContextTurns < 0 || c.ContextTurns > c.MaxHistoryTurns {
		return fmt.Errorf("CHAT_CONTEXT_TURNS must be between 0 and CHAT_MAX_HISTORY_TURNS")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("LLM_REQUEST_TIMEOUT must be positive")
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be >= 0")
	}
	if c.SessionIdleTimeout > 0 && c.SessionIdleTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s when set")
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("APP_RATE_LIMIT_PER_MIN must be >= 0")
	}
	if c.StreamInitialDelay < 0 || c.StreamChunkDelay < 0 {
		return fmt.Errorf("stream delays must be >= 0")
	}
	return nil
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// list accepts a YAML sequence or a comma-separated string.
func list(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = strings.Split(fmt.Sprint(val), ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envName(key string) string { return strings.ToUpper(key) }

func duration(v *viper.Viper, key string) (time.Duration, error) {
	s := str(v, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", envName(key), err)
	}
	return d, nil
}

func integer(v *viper.Viper, key string) (int, error) {
	s := str(v, key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", envName(key), err)
	}
	return n, nil
}

func float(v *viper.Viper, key string) (float64, error) {
	s := str(v, key)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", envName(key), err)
	}
	return f, nil
}

func boolean(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(str(v, key)) {
	case "", "0", "false", "f", "no", "n", "off":
		return false, nil
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", envName(key))
	}
}
