package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	baseURLVar     = "CHATADMIN_BASE_URL"
	appNameVar     = "CHATADMIN_APP_NAME"
	sessionFileVar = "CHATADMIN_SESSION_FILE"
	timeoutVar     = "CHATADMIN_REQUEST_TIMEOUT"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "ChatAdmin")
}

// GetBaseURL returns the backend API root (e.g. "https://api.chatadmin.example.com")
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

func (EnvVars) GetSessionFile() string {
	if path := os.Getenv(sessionFileVar); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatadmin-session.json"
	}
	return filepath.Join(home, ".chatadmin", "session.json")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetRequestTimeout is deliberately generous: uploads can take minutes.
func (EnvVars) GetRequestTimeout() time.Duration {
	raw := os.Getenv(timeoutVar)
	if raw == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
