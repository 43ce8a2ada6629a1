package config

import "time"

// Config represents the complete commandeer configuration.
type Config struct {
	Service ServiceConfig         `yaml:"service"`
	Store   StoreConfig           `yaml:"store"`
	API     APIConfig             `yaml:"api,omitempty"`
	Notify  NotifyConfig          `yaml:"notify,omitempty"`
	Zones   map[string]ZoneConfig `yaml:"zones"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name             string        `yaml:"name"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	NoAgentPolicy    string        `yaml:"no_agent_policy"` // "fail" or "queue"
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
}

// StoreConfig defines command storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single admin bearer token (full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// NotifyConfig defines webhook callback settings.
type NotifyConfig struct {
	Secret  string        `yaml:"secret,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ZoneConfig defines the agents registered under a zone at startup.
type ZoneConfig struct {
	Agents []AgentConfig `yaml:"agents"`
}

// AgentConfig defines a single agent endpoint.
type AgentConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "commandeer",
			WatchdogInterval: 5 * time.Second,
			NoAgentPolicy:    "fail",
			LogLevel:         "info",
			LogFormat:        "json",
		},
		Store: StoreConfig{
			Path: "./data/commands.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Zones: make(map[string]ZoneConfig),
	}
}
