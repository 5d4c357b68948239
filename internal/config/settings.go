package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Settings are the runtime knobs read from flags, PARCELFLOW_* env and the
// optional settings file. Case type tables live in Config.
type Settings struct {
	Workspace   string         `mapstructure:"workspace"`
	DatabaseURL string         `mapstructure:"database_url"`
	BaseURL     string         `mapstructure:"base_url"`
	Authority   string         `mapstructure:"authority"`
	Blob        BlobSettings   `mapstructure:"blob"`
	Log         LogSettings    `mapstructure:"log"`
	Server      ServerSettings `mapstructure:"server"`
}

type BlobSettings struct {
	Driver    string `mapstructure:"driver"`
	Root      string `mapstructure:"root"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
	Format string `mapstructure:"format"`
}

type ServerSettings struct {
	Addr             string `mapstructure:"addr"`
	BasePath         string `mapstructure:"base_path"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	AllowActorHeader bool   `mapstructure:"allow_actor_header"`
}

// DefaultSettings mirrors the flag defaults.
func DefaultSettings() Settings {
	return Settings{
		Workspace: ".",
		BaseURL:   "http://127.0.0.1:8080",
		Authority: "Land Records Authority",
		Blob:      BlobSettings{Driver: "fs"},
		Log:       LogSettings{Level: "info", Output: "stderr", Format: "console"},
		Server:    ServerSettings{Addr: "127.0.0.1:8080", BasePath: "/v0"},
	}
}

// Validate checks settings that would otherwise fail late, at first issuance.
func (s Settings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url is required to build verification links")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute URL", s.BaseURL)
	}
	switch strings.ToLower(s.Blob.Driver) {
	case "", "fs":
	case "s3":
		if s.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %s", s.Blob.Driver)
	}
	switch s.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json")
	}
	return nil
}
