package config

import "time"

type Config interface {
	EnvConfig
	HTTPConfig
}

type EnvConfig interface {
	GetAppName() string
	GetBaseURL() string
	GetSessionFile() string
	GetEnv() string
}

type HTTPConfig interface {
	GetRequestTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
}

func New() Config {
	return mainConfig{}
}

// profileConfig layers a YAML profile over the environment: profile
// values win when set, environment values fill the gaps.
type profileConfig struct {
	EnvVars
	profile *Profile
}

// NewWithProfile builds a Config from the environment overlaid with a
// loaded profile.
func NewWithProfile(profile *Profile) Config {
	return profileConfig{profile: profile}
}

func (c profileConfig) GetBaseURL() string {
	if c.profile != nil && c.profile.BaseURL != "" {
		return c.profile.BaseURL
	}
	return c.EnvVars.GetBaseURL()
}

func (c profileConfig) GetSessionFile() string {
	if c.profile != nil && c.profile.SessionFile != "" {
		return c.profile.SessionFile
	}
	return c.EnvVars.GetSessionFile()
}

func (c profileConfig) GetRequestTimeout() time.Duration {
	if c.profile != nil && c.profile.RequestTimeout > 0 {
		return c.profile.RequestTimeout
	}
	return c.EnvVars.GetRequestTimeout()
}
