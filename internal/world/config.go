package world

import "time"

// Config captures the scheduler timings. Zero values fall back to defaults
// via normalized, so tests can shrink individual durations.
type Config struct {
	RoamTick            time.Duration
	RoamCooldownMin     time.Duration
	RoamCooldownMax     time.Duration
	StepDuration        time.Duration
	MonsterRespawnDelay time.Duration
	ResourceRespawn     map[string]time.Duration
	ResourceRespawnDef  time.Duration
}

// DefaultConfig returns the production scheduler timings.
func DefaultConfig() Config {
	return Config{
		RoamTick:            time.Second,
		RoamCooldownMin:     8 * time.Second,
		RoamCooldownMax:     25 * time.Second,
		StepDuration:        500 * time.Millisecond,
		MonsterRespawnDelay: 30 * time.Second,
		ResourceRespawn: map[string]time.Duration{
			"tree": 30 * time.Second,
			"rock": 60 * time.Second,
			"herb": 15 * time.Second,
		},
		ResourceRespawnDef: 30 * time.Second,
	}
}

// normalized returns a config with defaults applied to unset fields.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.RoamTick <= 0 {
		c.RoamTick = def.RoamTick
	}
	if c.RoamCooldownMin <= 0 {
		c.RoamCooldownMin = def.RoamCooldownMin
	}
	if c.RoamCooldownMax <= 0 {
		c.RoamCooldownMax = def.RoamCooldownMax
	}
	if c.RoamCooldownMax < c.RoamCooldownMin {
		c.RoamCooldownMax = c.RoamCooldownMin
	}
	if c.StepDuration <= 0 {
		c.StepDuration = def.StepDuration
	}
	if c.MonsterRespawnDelay <= 0 {
		c.MonsterRespawnDelay = def.MonsterRespawnDelay
	}
	if c.ResourceRespawn == nil {
		c.ResourceRespawn = def.ResourceRespawn
	}
	if c.ResourceRespawnDef <= 0 {
		c.ResourceRespawnDef = def.ResourceRespawnDef
	}
	return c
}

// resourceRespawnFor resolves the kind-tiered respawn duration.
func (c Config) resourceRespawnFor(kind string) time.Duration {
	if d, ok := c.ResourceRespawn[kind]; ok && d > 0 {
		return d
	}
	return c.ResourceRespawnDef
}
