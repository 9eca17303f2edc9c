package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM      LLMConfig
	Server   ServerConfig
	History  HistoryConfig
	Stream   StreamConfig
	Chat     ChatConfig
	Client   ClientConfig
	Auth     AuthConfig
	Facility FacilityConfig
	Log      LogConfig
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	TitleModel   string `mapstructure:"title_model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// HistoryConfig controls chat persistence and history refresh.
type HistoryConfig struct {
	DBPath          string        `mapstructure:"db_path"`
	RefreshDebounce time.Duration `mapstructure:"refresh_debounce"`
}

// StreamConfig tunes how streamed text is promoted to the display buffer.
type StreamConfig struct {
	FlushThreshold int           `mapstructure:"flush_threshold"`
	FlushTerminals string        `mapstructure:"flush_terminals"`
	FlushDelay     time.Duration `mapstructure:"flush_delay"`
}

// ChatConfig holds conversation-level settings.
type ChatConfig struct {
	Greeting       string        `mapstructure:"greeting"`
	GeoTimeout     time.Duration `mapstructure:"geo_timeout"`
	PersistRetries int           `mapstructure:"persist_retries"`
}

// ClientConfig is used by the terminal client to reach the backend.
type ClientConfig struct {
	BaseURL   string   `mapstructure:"base_url"`
	Token     string   `mapstructure:"token"`
	Latitude  *float64 `mapstructure:"latitude"`
	Longitude *float64 `mapstructure:"longitude"`
}

// AuthConfig lists the bearer tokens accepted by the backend.
type AuthConfig struct {
	Users []UserConfig `mapstructure:"users"`
}

// UserConfig binds one bearer token to a user id.
type UserConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
	Name   string `mapstructure:"name"`
}

// FacilityConfig holds the Overpass lookup configuration
type FacilityConfig struct {
	Servers []string      `mapstructure:"servers"`
	RadiusM int           `mapstructure:"radius_m"`
	Limit   int           `mapstructure:"limit"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("history.db_path", "history.db")
	v.SetDefault("history.refresh_debounce", 300*time.Millisecond)
	v.SetDefault("stream.flush_threshold", 40)
	v.SetDefault("stream.flush_terminals", ".!?\n")
	v.SetDefault("stream.flush_delay", time.Duration(0))
	v.SetDefault("chat.greeting", "Hello! Describe your symptoms.")
	v.SetDefault("chat.geo_timeout", 5*time.Second)
	v.SetDefault("chat.persist_retries", 1)
	v.SetDefault("client.base_url", "http://localhost:5000")
	v.SetDefault("facility.servers", []string{
		"https://overpass-api.de/api/interpreter",
		"https://overpass.kumi.systems/api/interpreter",
		"https://overpass.nchc.org.tw/api/interpreter",
	})
	v.SetDefault("facility.radius_m", 3000)
	v.SetDefault("facility.limit", 5)
	v.SetDefault("facility.timeout", 8*time.Second)
	v.SetDefault("log.level", "info")
}

// Load loads the configuration from $CONFIG_PATH, or config.yaml in the
// working directory when it is unset. A missing default file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("healthchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
