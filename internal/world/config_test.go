package world

import (
	"testing"
	"time"
)

func TestNormalizedKeepsDefaultRoamWindow(t *testing.T) {
	cfg := Config{}.normalized()
	if cfg.RoamCooldownMin != 8*time.Second {
		t.Fatalf("expected default roam cooldown min 8s, got %v", cfg.RoamCooldownMin)
	}
	if cfg.RoamCooldownMax != 25*time.Second {
		t.Fatalf("expected default roam cooldown max 25s, got %v", cfg.RoamCooldownMax)
	}
}

func TestNormalizedClampsInvertedRoamWindow(t *testing.T) {
	cfg := Config{
		RoamCooldownMin: 30 * time.Second,
		RoamCooldownMax: 10 * time.Second,
	}.normalized()
	if cfg.RoamCooldownMax != 30*time.Second {
		t.Fatalf("expected inverted window clamped to min, got max %v", cfg.RoamCooldownMax)
	}
}

func TestNormalizedPreservesOverrides(t *testing.T) {
	cfg := Config{
		RoamCooldownMin: time.Second,
		RoamCooldownMax: 2 * time.Second,
		StepDuration:    100 * time.Millisecond,
	}.normalized()
	if cfg.RoamCooldownMax != 2*time.Second {
		t.Fatalf("expected explicit max preserved, got %v", cfg.RoamCooldownMax)
	}
	if cfg.StepDuration != 100*time.Millisecond {
		t.Fatalf("expected explicit step duration preserved, got %v", cfg.StepDuration)
	}
	if cfg.ResourceRespawnDef != 30*time.Second {
		t.Fatalf("expected default resource respawn, got %v", cfg.ResourceRespawnDef)
	}
}

func TestResourceRespawnForFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	if d := cfg.resourceRespawnFor("tree"); d != 30*time.Second {
		t.Fatalf("expected 30s for tree, got %v", d)
	}
	if d := cfg.resourceRespawnFor("herb"); d != 15*time.Second {
		t.Fatalf("expected 15s for herb, got %v", d)
	}
	if d := cfg.resourceRespawnFor("crystal"); d != cfg.ResourceRespawnDef {
		t.Fatalf("expected unknown kind to use the default, got %v", d)
	}
}
