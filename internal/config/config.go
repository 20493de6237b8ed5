// Package config loads the server configuration from an optional TOML file,
// applying defaults for everything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root server configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	World   WorldConfig   `toml:"world"`
	Combat  CombatConfig  `toml:"combat"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig covers the network surface and session tokens.
type ServerConfig struct {
	Addr             string        `toml:"addr"`
	TokenSecret      string        `toml:"token_secret"`
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout"`
	WorldSeed        int64         `toml:"world_seed"`
}

// WorldConfig overrides the entity scheduler timings.
type WorldConfig struct {
	RoamTick            time.Duration `toml:"roam_tick"`
	RoamCooldownMin     time.Duration `toml:"roam_cooldown_min"`
	RoamCooldownMax     time.Duration `toml:"roam_cooldown_max"`
	StepDuration        time.Duration `toml:"step_duration"`
	MonsterRespawnDelay time.Duration `toml:"monster_respawn_delay"`
}

// CombatConfig overrides the combat lifecycle timings.
type CombatConfig struct {
	GraceDelay   time.Duration `toml:"grace_delay"`
	TurnTimeout  time.Duration `toml:"turn_timeout"`
	MobTurnDelay time.Duration `toml:"mob_turn_delay"`
}

// LoggingConfig selects the zap profile.
type LoggingConfig struct {
	Development bool   `toml:"development"`
	Level       string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			TokenSecret:      "dev-only-secret",
			HeartbeatTimeout: 45 * time.Second,
			WorldSeed:        1,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the TOML file at path over the defaults. A missing path is not
// an error; a malformed file is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
