package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPlayerConfigDefaults(t *testing.T) {
	c := PlayerConfig{}
	if c.RefreshMargin() != time.Minute {
		t.Fatalf("unexpected refresh margin: %v", c.RefreshMargin())
	}
	if c.Attempts() != 3 {
		t.Fatalf("unexpected attempts: %d", c.Attempts())
	}
	if c.RetryDelay() != time.Second {
		t.Fatalf("unexpected retry delay: %v", c.RetryDelay())
	}
	if c.Width() != 8 {
		t.Fatalf("unexpected width: %d", c.Width())
	}

	c = PlayerConfig{RefreshMarginSeconds: 120, CommandAttempts: 5, RetryDelaySeconds: 2, FanOutWidth: 16}
	if c.RefreshMargin() != 2*time.Minute || c.Attempts() != 5 || c.RetryDelay() != 2*time.Second || c.Width() != 16 {
		t.Fatalf("configured values not honoured: %+v", c)
	}
}

func TestReadConfiguration(t *testing.T) {
	dir := t.TempDir()
	contents := `
log_level = "DEBUG"

[spotify]
client_id = "cid"
client_secret = "csecret"
redirect_url = "http://localhost:8000/auth/callback"

[player]
command_attempts = 5
fan_out_width = 2

[persistence]
type = "buntdb"
dsn = ":memory:"

[janitor]
interval = "@every 10m"
disconnect_grace_hours = 12
`
	configFile := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configFile, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ReadConfiguration(configFile, GetFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	if cfg.SpotifyConfig.ClientId != "cid" || cfg.SpotifyConfig.ClientSecret != "csecret" {
		t.Fatalf("unexpected spotify config: %+v", cfg.SpotifyConfig)
	}
	if cfg.PlayerConfig.Attempts() != 5 || cfg.PlayerConfig.Width() != 2 {
		t.Fatalf("unexpected player config: %+v", cfg.PlayerConfig)
	}
	if cfg.PersistenceConfig.Type != "buntdb" || cfg.PersistenceConfig.DSN != ":memory:" {
		t.Fatalf("unexpected persistence config: %+v", cfg.PersistenceConfig)
	}
	if cfg.JanitorConfig.Interval != "@every 10m" || cfg.JanitorConfig.DisconnectGraceHours != 12 {
		t.Fatalf("unexpected janitor config: %+v", cfg.JanitorConfig)
	}
}
