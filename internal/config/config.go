// Package config provides configuration options for the ksm command-line
// client using command-line flags and environment variables.
package config

import (
	"encoding/json"
	"flag"
	"log"
	"os"
)

// Options holds the configuration values for the CLI.
type Options struct {
	// Config is the path to an optional JSON file overriding defaults.
	Config string `json:"-"`

	// StorageType selects the configuration-store medium:
	// file, bolt, env or postgres.
	StorageType string `json:"storageType"`

	// StoragePath is the file path for the file and bolt mediums.
	StoragePath string `json:"storagePath"`

	// PostgresDSN is the connection string for the postgres medium.
	PostgresDSN string `json:"postgresDsn"`

	// Profile scopes rows within a shared postgres store.
	Profile string `json:"profile"`

	// Token is the one-time binding token (REGION:SECRET). Only needed
	// until the device is bound; never written to the config file.
	Token string `json:"-"`

	// Hostname overrides the hostname resolved from the token region.
	Hostname string `json:"hostname"`

	// ServerKey overrides the pinned server key table with a single
	// base64url P-256 point, for targeting a local mockvault.
	ServerKey string `json:"serverKey"`

	// LogLevel sets the zap level: debug, info, warn, error.
	LogLevel string `json:"logLevel"`

	// Cache enables the offline last-response fallback.
	Cache bool `json:"cache"`
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Config, "config", "", "path to JSON config file")
	flag.StringVar(&options.Config, "c", "", "path to JSON config file (shorthand)")
	flag.StringVar(&options.StorageType, "storage", "file", "credential store medium: file, bolt, env, postgres")
	flag.StringVar(&options.StoragePath, "path", "ksm-config.json", "credential store path for file/bolt mediums")
	flag.StringVar(&options.PostgresDSN, "dsn", "", "postgres connection string")
	flag.StringVar(&options.Profile, "profile", "default", "postgres store profile")
	flag.StringVar(&options.Token, "token", "", "one-time binding token (REGION:SECRET)")
	flag.StringVar(&options.Hostname, "host", "", "hostname override")
	flag.StringVar(&options.ServerKey, "serverkey", "", "pinned server key override (base64url point)")
	flag.StringVar(&options.LogLevel, "log", "warn", "log level")
	flag.BoolVar(&options.Cache, "cache", false, "enable offline last-response fallback")
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct
// containing the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	// Environment overrides flags, so CI can inject the token without
	// putting it on a command line.
	if token := os.Getenv("KSM_TOKEN"); token != "" {
		options.Token = token
	}
	if host := os.Getenv("KSM_HOSTNAME"); host != "" {
		options.Hostname = host
	}
	if dsn := os.Getenv("KSM_POSTGRES_DSN"); dsn != "" {
		options.PostgresDSN = dsn
	}

	return options
}
