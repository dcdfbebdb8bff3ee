package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is an optional YAML file selecting a backend and local session
// location, typically one per environment. String values support
// ${ENV_VAR} expansion.
type Profile struct {
	BaseURL     string `yaml:"base_url"`
	SessionFile string `yaml:"session_file"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(value string) string {
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// LoadProfile reads and parses a YAML profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	profile.BaseURL = expandEnvVars(profile.BaseURL)
	profile.SessionFile = expandEnvVars(profile.SessionFile)

	if profile.RequestTimeoutRaw != "" {
		d, err := time.ParseDuration(expandEnvVars(profile.RequestTimeoutRaw))
		if err != nil {
			return nil, fmt.Errorf("parse request_timeout: %w", err)
		}
		profile.RequestTimeout = d
	}
	return &profile, nil
}
