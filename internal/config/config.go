// Package config provides configuration management for the bot.
// It handles loading and parsing the YAML configuration file and provides
// structured access to application settings including the Ollama endpoint,
// model selection, history and rate limits, and garbage-collection tuning.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
// The Telegram bot token is deliberately absent: it is read from the
// TELEGRAM_BOT_TOKEN environment variable so it never lands in the file.
type Config struct {
	// OllamaURL is the base URL of the Ollama server handling chat completions.
	OllamaURL string `yaml:"ollama-url"`

	// DefaultModel is the model assigned to new conversations and restored by /start.
	DefaultModel string `yaml:"default-model"`

	// FallbackModel is tried once per turn after the active model fails all retries.
	FallbackModel string `yaml:"fallback-model"`

	// SystemPrompt is the fixed instruction prepended to every backend request.
	SystemPrompt string `yaml:"system-prompt"`

	// MaxHistoryMessages caps how many user/assistant turns are retained per conversation.
	MaxHistoryMessages int `yaml:"max-history-messages"`

	// MaxContextChars caps the cumulative character length of history sent to the backend.
	MaxContextChars int `yaml:"max-context-chars"`

	// MaxInputChars is the longest user message accepted for processing.
	MaxInputChars int `yaml:"max-input-chars"`

	// MaxReplyChars is the longest reply returned to the transport.
	MaxReplyChars int `yaml:"max-reply-chars"`

	// RateWindowSec is the length of the rate-limit window in seconds.
	RateWindowSec int `yaml:"rate-window-sec"`

	// RateMaxPerWindow is how many messages one conversation may send per window.
	RateMaxPerWindow int `yaml:"rate-max-per-window"`

	// ConversationTTLSec is the idle age after which a conversation is evicted.
	ConversationTTLSec int `yaml:"conversation-ttl-sec"`

	// MaxConversations bounds the conversation store size.
	MaxConversations int `yaml:"max-conversations"`

	// GCIntervalSec is the period of the background eviction sweep.
	GCIntervalSec int `yaml:"gc-interval-sec"`

	// RequestTimeoutSec is the total timeout for one backend HTTP call.
	RequestTimeoutSec int `yaml:"request-timeout-sec"`

	// ProxyURL is the URL of an optional proxy server for outbound requests.
	ProxyURL string `yaml:"proxy-url"`

	// ManagementPort is the port of the management HTTP API; 0 disables it.
	ManagementPort int `yaml:"management-port"`

	// APIKeys is a list of keys for authenticating clients to the management API.
	APIKeys []string `yaml:"api-keys"`

	// Debug enables debug-level logging and Telegram API tracing.
	Debug bool `yaml:"debug"`

	// LoggingToFile switches log output from stdout to rotating files.
	LoggingToFile bool `yaml:"logging-to-file"`
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, applies defaults for unset fields, and validates
// the result.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	if err = config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.OllamaURL == "" {
		c.OllamaURL = "http://127.0.0.1:11434"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "qwen2.5:1.5b"
	}
	if c.FallbackModel == "" {
		c.FallbackModel = c.DefaultModel
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = "Answer briefly and to the point. If you are not sure, say so directly."
	}
	if c.MaxHistoryMessages == 0 {
		c.MaxHistoryMessages = 12
	}
	if c.MaxContextChars == 0 {
		c.MaxContextChars = 8000
	}
	if c.MaxInputChars == 0 {
		c.MaxInputChars = 4000
	}
	if c.MaxReplyChars == 0 {
		c.MaxReplyChars = 4000
	}
	if c.RateWindowSec == 0 {
		c.RateWindowSec = 10
	}
	if c.RateMaxPerWindow == 0 {
		c.RateMaxPerWindow = 4
	}
	if c.ConversationTTLSec == 0 {
		c.ConversationTTLSec = 3600
	}
	if c.MaxConversations == 0 {
		c.MaxConversations = 1000
	}
	if c.GCIntervalSec == 0 {
		c.GCIntervalSec = 300
	}
	if c.RequestTimeoutSec == 0 {
		c.RequestTimeoutSec = 90
	}
}

func (c *Config) validate() error {
	if c.MaxHistoryMessages < 0 || c.MaxContextChars < 0 || c.MaxInputChars < 0 {
		return fmt.Errorf("history and input limits must not be negative")
	}
	if c.RateWindowSec <= 0 || c.RateMaxPerWindow <= 0 {
		return fmt.Errorf("rate-window-sec and rate-max-per-window must be positive")
	}
	if c.ConversationTTLSec <= 0 || c.MaxConversations <= 0 || c.GCIntervalSec <= 0 {
		return fmt.Errorf("conversation-ttl-sec, max-conversations and gc-interval-sec must be positive")
	}
	if c.ManagementPort < 0 || c.ManagementPort > 65535 {
		return fmt.Errorf("management-port %d is out of range", c.ManagementPort)
	}
	return nil
}

// RateWindow returns the rate-limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSec) * time.Second
}

// ConversationTTL returns the idle eviction threshold as a duration.
func (c *Config) ConversationTTL() time.Duration {
	return time.Duration(c.ConversationTTLSec) * time.Second
}

// GCInterval returns the sweep period as a duration.
func (c *Config) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSec) * time.Second
}

// RequestTimeout returns the total per-call backend timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
