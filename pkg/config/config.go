// Package config loads the session broker's configuration from
// environment variables (spec.md §6), generalizing the inline
// os.Getenv/log.Fatal pattern every example's main.go repeats.
package config

import (
	"fmt"
	"os"
)

// BrokerConfig is the fully resolved environment configuration for the
// session broker.
type BrokerConfig struct {
	OpenAIAPIKey     string
	Organization     string
	Project          string
	RealtimeCallsURL string
	SessionPath      string
	AppOrigin        string
	ServerHost       string
	ServerPort       string
}

const (
	defaultRealtimeCallsURL = "https://api.openai.com/v1/realtime/calls"
	defaultSessionPath      = "/realtime/session"
	defaultServerPort       = "8080"
)

// LoadBrokerConfig reads the broker's configuration from the process
// environment. OPENAI_API_KEY is required; every other field has a
// documented default.
func LoadBrokerConfig() (BrokerConfig, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return BrokerConfig{}, fmt.Errorf("config: OPENAI_API_KEY is required")
	}

	return BrokerConfig{
		OpenAIAPIKey:     apiKey,
		Organization:     os.Getenv("OPENAI_ORGANIZATION"),
		Project:          os.Getenv("OPENAI_PROJECT"),
		RealtimeCallsURL: getEnvOrDefault("OPENAI_REALTIME_CALLS_URL", defaultRealtimeCallsURL),
		SessionPath:      getEnvOrDefault("SESSION_PATH", defaultSessionPath),
		AppOrigin:        os.Getenv("APP_ORIGIN"),
		ServerHost:       os.Getenv("SERVER_HOST"),
		ServerPort:       getEnvOrDefault("SERVER_PORT", defaultServerPort),
	}, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
