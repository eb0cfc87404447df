package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string that redacts itself when printed or logged
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Config is the complete lark-front configuration
type Config struct {
	Version string       `json:"version"`
	Server  ServerConfig `json:"server"`
	Lark    LarkConfig   `json:"lark"`
	Auth    AuthConfig   `json:"auth"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// LarkConfig holds the Lark app credentials and API settings
type LarkConfig struct {
	AppID       string
	AppSecret   Secret
	RedirectURI string
	APIBaseURL  string
	Timeout     time.Duration
}

// AuthConfig holds auth flow settings
type AuthConfig struct {
	// SkipStateValidation disables the callback state check. Development
	// only: Load rejects it outside dev mode.
	SkipStateValidation bool `json:"skipStateValidation"`
}

// UnmarshalJSON implements custom unmarshaling for LarkConfig
func (l *LarkConfig) UnmarshalJSON(data []byte) error {
	// Use a raw type to parse references
	type rawLark struct {
		AppID       json.RawMessage `json:"appId"`
		AppSecret   json.RawMessage `json:"appSecret"`
		RedirectURI json.RawMessage `json:"redirectURI"`
		APIBaseURL  string          `json:"apiBaseURL,omitempty"`
		Timeout     string          `json:"timeout,omitempty"`
	}

	var raw rawLark
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	l.APIBaseURL = raw.APIBaseURL

	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		l.Timeout = timeout
	}

	if raw.AppID != nil {
		parsed, err := ParseConfigValue(raw.AppID)
		if err != nil {
			return fmt.Errorf("parsing appId: %w", err)
		}
		l.AppID = parsed
	}

	if raw.AppSecret != nil {
		parsed, err := ParseConfigValue(raw.AppSecret)
		if err != nil {
			return fmt.Errorf("parsing appSecret: %w", err)
		}
		l.AppSecret = Secret(parsed)
	}

	if raw.RedirectURI != nil {
		parsed, err := ParseConfigValue(raw.RedirectURI)
		if err != nil {
			return fmt.Errorf("parsing redirectURI: %w", err)
		}
		l.RedirectURI = parsed
	}

	return nil
}

// ParseConfigValue parses a JSON value that could be a string or an
// {"$env": "VAR"} reference object
func ParseConfigValue(raw json.RawMessage) (string, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	// Try reference object
	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
