package hostlink

import "testing"

func TestParseProtocolConfigAppliesDefaultsForEmptyParams(t *testing.T) {
	cfg, err := parseProtocolConfig(nil)
	if err != nil {
		t.Fatalf("parseProtocolConfig() error = %v", err)
	}
	if !cfg.RequireAuth {
		t.Error("RequireAuth default = false, want true")
	}
	if cfg.RequestTimeout != 5.0 {
		t.Errorf("RequestTimeout default = %v, want 5.0", cfg.RequestTimeout)
	}
	if cfg.TickTime != 0.25 {
		t.Errorf("TickTime default = %v, want 0.25", cfg.TickTime)
	}
}

func TestParseProtocolConfigOverridesDefaults(t *testing.T) {
	cfg, err := parseProtocolConfig([]byte(`{"require_auth":false,"tick_time":1.0,"request_timeout":2.5}`))
	if err != nil {
		t.Fatalf("parseProtocolConfig() error = %v", err)
	}
	if cfg.RequireAuth {
		t.Error("RequireAuth = true, want false")
	}
	if cfg.TickTime != 1.0 {
		t.Errorf("TickTime = %v, want 1.0", cfg.TickTime)
	}
	if cfg.RequestTimeout != 2.5 {
		t.Errorf("RequestTimeout = %v, want 2.5", cfg.RequestTimeout)
	}
}

func TestParseProtocolConfigRejectsMalformedJSON(t *testing.T) {
	if _, err := parseProtocolConfig([]byte(`{"tick_time":"nope"}`)); err == nil {
		t.Error("expected error for malformed params, got nil")
	}
}

func TestStatusTiersReturnsAllSixInOrder(t *testing.T) {
	cfg := ProtocolConfig{
		StatusTier1: []string{"toolhead"},
		StatusTier6: []string{"gcode_macro slow"},
	}
	tiers := cfg.StatusTiers()
	if len(tiers[0]) != 1 || tiers[0][0] != "toolhead" {
		t.Errorf("tiers[0] = %v, want [toolhead]", tiers[0])
	}
	if len(tiers[5]) != 1 || tiers[5][0] != "gcode_macro slow" {
		t.Errorf("tiers[5] = %v, want [gcode_macro slow]", tiers[5])
	}
	for i := 1; i < 5; i++ {
		if len(tiers[i]) != 0 {
			t.Errorf("tiers[%d] = %v, want empty", i, tiers[i])
		}
	}
}
