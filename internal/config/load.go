package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/soratobu/lark-front/internal/envutil"
	"github.com/soratobu/lark-front/internal/log"
)

// DefaultAPIBaseURL is the international Larksuite endpoint. Feishu
// deployments override it with https://open.feishu.cn.
const DefaultAPIBaseURL = "https://open.larksuite.com"

// DefaultTimeout applies to every call to the Lark API. The provider calls
// are short request/response exchanges; anything slower is treated as an
// unavailable upstream.
const DefaultTimeout = 10 * time.Second

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, "v1") {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// Parse directly into the typed Config struct. The custom
	// UnmarshalJSON methods resolve env var references immediately.
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	if config.Auth.SkipStateValidation {
		if !envutil.IsDev() {
			return Config{}, fmt.Errorf("auth.skipStateValidation is only allowed in development mode (LARK_FRONT_ENV=development)")
		}
		log.LogWarn("OAuth state validation is DISABLED - the callback is not protected against CSRF")
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Lark.APIBaseURL == "" {
		config.Lark.APIBaseURL = DefaultAPIBaseURL
	}
	if config.Lark.Timeout == 0 {
		config.Lark.Timeout = DefaultTimeout
	}
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	lark, ok := rawConfig["lark"].(map[string]any)
	if !ok {
		return fmt.Errorf("lark section is required")
	}

	// The app secret must never live in the config file itself
	if value, exists := lark["appSecret"]; exists {
		if _, isString := value.(string); isString {
			return fmt.Errorf("appSecret must use environment variable reference for security")
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("appSecret must use {\"$env\": \"VAR_NAME\"} format")
			}
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, err := url.Parse(config.Server.BaseURL); err != nil {
		return fmt.Errorf("server.baseURL is not a valid URL: %w", err)
	}

	if err := validateLarkConfig(&config.Lark); err != nil {
		return fmt.Errorf("lark config: %w", err)
	}

	return nil
}

func validateLarkConfig(lark *LarkConfig) error {
	if lark.AppID == "" {
		return fmt.Errorf("appId is required")
	}
	if lark.AppSecret == "" {
		return fmt.Errorf("appSecret is required")
	}
	if lark.RedirectURI == "" {
		return fmt.Errorf("redirectURI is required")
	}
	redirectURL, err := url.Parse(lark.RedirectURI)
	if err != nil || !redirectURL.IsAbs() {
		return fmt.Errorf("redirectURI must be an absolute URL")
	}
	if lark.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}
