// Package config loads process configuration from the environment and an
// optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/yamada-sexta/touitomamout-next/internal/platform"
)

// DefaultEnvFile is read when no file is named.
const DefaultEnvFile = ".env"

// HandleKey is the environment key prefix for source accounts.
const HandleKey = "SOURCE_HANDLE"

// ErrExampleFile is returned for a dotenv path ending in "example".
var ErrExampleFile = errors.New("refusing to load an example configuration file")

// Handle is one configured source account.
type Handle struct {
	// Key is the environment key the handle came from.
	Key    string `validate:"required"`
	Handle string `validate:"required"`
	// Slot suffixes every credential key of this account.
	Slot int `validate:"gte=0"`
}

// Config is the process configuration.
type Config struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data.sqlite" validate:"required"`
	FeedURL      string `env:"FEED_URL" validate:"required,url"`
	FeedToken    string `env:"FEED_TOKEN"`

	Daemon           bool `env:"DAEMON" envDefault:"true"`
	SyncFrequencyMin int  `env:"SYNC_FREQUENCY_MIN" envDefault:"30" validate:"gte=1"`

	SyncPosts              bool `env:"SYNC_POSTS" envDefault:"true"`
	SyncProfileDescription bool `env:"SYNC_PROFILE_DESCRIPTION" envDefault:"true"`
	SyncProfilePicture     bool `env:"SYNC_PROFILE_PICTURE" envDefault:"true"`
	SyncProfileName        bool `env:"SYNC_PROFILE_NAME" envDefault:"true"`
	SyncProfileHeader      bool `env:"SYNC_PROFILE_HEADER" envDefault:"true"`

	MaxConsecutiveCached int  `env:"MAX_CONSECUTIVE_CACHED" envDefault:"2" validate:"gte=1"`
	ForceSyncPosts       bool `env:"FORCE_SYNC_POSTS"`
	ForceRepost          bool `env:"FORCE_REPOST"`
	FeedInitialLimit     int  `env:"FEED_INITIAL_LIMIT" envDefault:"200" validate:"gte=1"`
	FeedIncrementalLimit int  `env:"FEED_INCREMENTAL_LIMIT" envDefault:"50" validate:"gte=1"`
	ParallelDispatch     bool `env:"PARALLEL_DISPATCH"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogFile   string `env:"LOG_FILE"`
	// Rotation of LogFile.
	LogMaxSizeMB  int  `env:"LOG_MAX_SIZE_MB" envDefault:"10" validate:"gte=1"`
	LogMaxBackups int  `env:"LOG_MAX_BACKUPS" envDefault:"3" validate:"gte=0"`
	LogMaxAgeDays int  `env:"LOG_MAX_AGE_DAYS" envDefault:"28" validate:"gte=0"`
	LogCompress   bool `env:"LOG_COMPRESS" envDefault:"true"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Handles []Handle `env:"-" validate:"min=1,dive"`

	environ map[string]string
}

// SyncFrequency is the daemon interval.
func (c *Config) SyncFrequency() time.Duration {
	return time.Duration(c.SyncFrequencyMin) * time.Minute
}

// ProfileCaps returns the profile capabilities enabled by the SYNC_PROFILE_*
// switches.
func (c *Config) ProfileCaps() platform.Capability {
	var caps platform.Capability
	if c.SyncProfileDescription {
		caps |= platform.CapBio
	}
	if c.SyncProfileName {
		caps |= platform.CapUserName
	}
	if c.SyncProfilePicture {
		caps |= platform.CapProfilePic
	}
	if c.SyncProfileHeader {
		caps |= platform.CapBanner
	}
	return caps
}

// Lookup reads a raw value from the environment the config was parsed
// from. It is the platform credential source.
func (c *Config) Lookup(key string) (string, bool) {
	v, ok := c.environ[key]
	return v, ok
}

// Load reads the dotenv file at path, or DefaultEnvFile when path is empty,
// into the process environment and parses it. A missing file is not an
// error; variables already set win over the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultEnvFile
	}
	if strings.HasSuffix(path, "example") {
		return nil, fmt.Errorf("%w: %s", ErrExampleFile, path)
	}
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return Parse(env.ToMap(os.Environ()))
}

// Parse builds and validates a Config from environ.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{environ: environ}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Handles = DiscoverHandles(environ)

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("invalid config: %w", describe(verrs))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DiscoverHandles reads SOURCE_HANDLE, SOURCE_HANDLE1, ... until the first
// missing or empty slot. Handles are trimmed, lower-cased and stripped of
// "@".
func DiscoverHandles(environ map[string]string) []Handle {
	var out []Handle
	for slot := 0; ; slot++ {
		key := platform.SlotKey(HandleKey, slot)
		h := NormalizeHandle(environ[key])
		if h == "" {
			return out
		}
		out = append(out, Handle{Key: key, Handle: h, Slot: slot})
	}
}

// NormalizeHandle trims, lower-cases and strips "@" from a handle.
func NormalizeHandle(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "@", "")
}

func describe(verrs validator.ValidationErrors) error {
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.StructNamespace()
		if fe.Field() == "Handles" {
			errs = append(errs, fmt.Errorf("no source account: set %s", HandleKey))
			continue
		}
		if fe.Param() != "" {
			errs = append(errs, fmt.Errorf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			errs = append(errs, fmt.Errorf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.Join(errs...)
}
