package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-party/globals"
)

const (
	defaultRefreshMargin   = time.Minute
	defaultCommandAttempts = 3
	defaultRetryDelay      = time.Second
	defaultFanOutWidth     = 8
)

// Config is the global configuration object which is filled via the
// configuration file.
type Config struct {
	SpotifyConfig     SpotifyConfig     `mapstructure:"spotify"`
	PlayerConfig      PlayerConfig      `mapstructure:"player"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	JanitorConfig     JanitorConfig     `mapstructure:"janitor"`
	LogLevel          string            `mapstructure:"log_level"`
}

// SpotifyConfig holds the Spotify application credentials. The redirect
// url must match one registered for the application.
type SpotifyConfig struct {
	ClientId     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectUrl  string `mapstructure:"redirect_url"`
}

// PlayerConfig tunes the outbound playback command behaviour.
type PlayerConfig struct {
	RefreshMarginSeconds int `mapstructure:"refresh_margin_seconds"` // refresh the token this close to expiry
	CommandAttempts      int `mapstructure:"command_attempts"`       // device transfer retries per command
	RetryDelaySeconds    int `mapstructure:"retry_delay_seconds"`    // delay between transfer retries
	FanOutWidth          int `mapstructure:"fan_out_width"`          // concurrent listener commands per broadcast
}

func (c PlayerConfig) RefreshMargin() time.Duration {
	if c.RefreshMarginSeconds <= 0 {
		return defaultRefreshMargin
	}
	return time.Duration(c.RefreshMarginSeconds) * time.Second
}

func (c PlayerConfig) Attempts() int {
	if c.CommandAttempts <= 0 {
		return defaultCommandAttempts
	}
	return c.CommandAttempts
}

func (c PlayerConfig) RetryDelay() time.Duration {
	if c.RetryDelaySeconds <= 0 {
		return defaultRetryDelay
	}
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c PlayerConfig) Width() int {
	if c.FanOutWidth <= 0 {
		return defaultFanOutWidth
	}
	return c.FanOutWidth
}

// PersistenceConfig configures the persistence backend, Type is one of
// "buntdb", "sqlite" or "postgres".
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// JanitorConfig enables the optional cleanup of long-disconnected
// users. Both values must be set for the janitor to run.
type JanitorConfig struct {
	Interval             string `mapstructure:"interval"`               // cron spec, f.e. "@every 1m"
	DisconnectGraceHours int    `mapstructure:"disconnect_grace_hours"` // release room membership after this many hours paused
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("LSPARTY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}

	return &cfg, nil
}
