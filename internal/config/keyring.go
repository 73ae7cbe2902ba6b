package config

import (
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "nanoclaw"
	keyringAPIKey  = "api_key"
)

// StoreAPIKeyInKeyring saves the LM provider API key to the OS
// keyring (Secret Service on Linux, Keychain on macOS, Credential
// Manager on Windows), so it never needs to live in config.yaml.
func StoreAPIKeyInKeyring(apiKey string) error {
	return keyring.Set(keyringService, keyringAPIKey, apiKey)
}

// APIKeyFromKeyring retrieves the stored API key, or "" if none is
// set or the keyring is unavailable.
func APIKeyFromKeyring() string {
	val, err := keyring.Get(keyringService, keyringAPIKey)
	if err != nil {
		return ""
	}
	return val
}

// ResolveAPIKey fills cfg.API.APIKey from the OS keyring when the
// config/env chain left it empty.
func ResolveAPIKey(cfg *Config) {
	if cfg.API.APIKey != "" {
		return
	}
	if key := APIKeyFromKeyring(); key != "" {
		cfg.API.APIKey = key
	}
}
