// Package config loads chainbased's runtime configuration the way the
// teacher does: a single viper.ReadInConfig/Unmarshal pass into a typed
// struct, with mapstructure tags carrying the field names. The default
// tags are documentation only: Load does not apply them, so a key absent
// from config.json leaves its field at the Go zero value.
package config

import (
	"log/slog"

	"github.com/spf13/viper"
)

// Config is chainbased's full runtime configuration: the teacher's
// server-facing Host/Port/LogLevel plus the engine-facing knobs
// Open's EngineOptions expose.
type Config struct {
	// Server
	Host string `mapstructure:"host" default:"0.0.0.0" description:"listen address for chainbased"`
	Port string `mapstructure:"port" default:"7653" description:"listen port for chainbased"`

	// Logging
	LogLevel string `mapstructure:"logLevel" default:"info" description:"debug, info, warn, or error"`

	// Storage
	DataDir            string `mapstructure:"dataDir" default:"./data" description:"directory passed to chainbase.Open"`
	UsePersistentStore bool   `mapstructure:"usePersistentStore" default:"false" description:"wire a pebble-backed store instead of the in-memory default"`

	// Locking
	LockTimeoutMS int  `mapstructure:"lockTimeoutMs" default:"5000" description:"per-attempt lock acquisition timeout, in milliseconds"`
	LockRetries   int  `mapstructure:"lockRetries" default:"3" description:"additional lock acquisition attempts after the first"`
	StrictLocking bool `mapstructure:"strictLocking" default:"false" description:"panic on read access without a held lock, for development builds"`

	// Undo history
	MaxUndoDepth int `mapstructure:"maxUndoDepth" default:"0" description:"undo levels retained before the oldest is evicted; 0 means unbounded"`
}

// Global holds the process-wide configuration after Load runs, mirroring
// the teacher's package-level Config variable.
var Global *Config

const configPath = "./"

// Load reads config.json from the working directory into Global,
// panicking on failure exactly as the teacher's LoadConfig does - a
// malformed or missing config file is a startup-time defect, not a
// recoverable runtime condition.
func Load() {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(configPath)

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("failed to read config")
		panic(err)
	}

	if err := viper.Unmarshal(&Global); err != nil {
		slog.Error("failed to parse config")
		panic(err)
	}
}
