package models

import "testing"

func TestConfigPatchApply(t *testing.T) {
	base := UserBotConfig{
		UserID:       3,
		Enabled:      false,
		Symbols:      []string{"BTC"},
		MaxPositions: 2,
		Targets:      []Target{{FibLevel: 1, Pct: 100}},
	}
	on := true
	symbols := []string{"ETH", "SOL"}
	out := ConfigPatch{Enabled: &on, Symbols: symbols}.Apply(base)

	if !out.Enabled || len(out.Symbols) != 2 || out.Symbols[0] != "ETH" {
		t.Fatalf("patched = %+v", out)
	}
	if out.MaxPositions != 2 || len(out.Targets) != 1 || out.UserID != 3 {
		t.Errorf("untouched fields changed: %+v", out)
	}
	if base.Enabled || base.Symbols[0] != "BTC" {
		t.Errorf("base mutated: %+v", base)
	}

	symbols[0] = "DOGE"
	out.Targets[0].Pct = 1
	if out.Symbols[0] != "ETH" {
		t.Error("result shares the patch slice")
	}
	if base.Targets[0].Pct != 100 {
		t.Error("result shares the base slice")
	}
}
