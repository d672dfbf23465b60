package hostlink

import "encoding/json"

// ProtocolConfig is the host-pushed configuration named by spec.md §6,
// sent once after connect as a set_config frame. Unlike the gateway's
// own internal/config (loaded once from a local TOML file at startup),
// this struct is entirely process-internal and never touches disk.
type ProtocolConfig struct {
	APIKeyPath          string             `json:"api_key_path"`
	RequireAuth         bool               `json:"require_auth"`
	EnableCORS          bool               `json:"enable_cors"`
	TrustedClients      []string           `json:"trusted_clients"`
	RequestTimeout      float64            `json:"request_timeout"`
	LongRunningGcodes   map[string]float64 `json:"long_running_gcodes"`
	LongRunningRequests map[string]float64 `json:"long_running_requests"`
	StatusTier1         []string           `json:"status_tier_1"`
	StatusTier2         []string           `json:"status_tier_2"`
	StatusTier3         []string           `json:"status_tier_3"`
	StatusTier4         []string           `json:"status_tier_4"`
	StatusTier5         []string           `json:"status_tier_5"`
	StatusTier6         []string           `json:"status_tier_6"`
	TickTime            float64            `json:"tick_time"`
}

// parseProtocolConfig decodes a set_config frame's params, defaulting
// per spec.md §6 (request_timeout 5.0, tick_time 0.25, require_auth
// true) when the host omits a field entirely.
func parseProtocolConfig(raw json.RawMessage) (ProtocolConfig, error) {
	cfg := ProtocolConfig{
		RequireAuth:    true,
		RequestTimeout: 5.0,
		TickTime:       0.25,
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ProtocolConfig{}, err
	}
	return cfg, nil
}

// StatusTiers returns the six status_tier_N lists in tier order.
func (c ProtocolConfig) StatusTiers() [6][]string {
	return [6][]string{c.StatusTier1, c.StatusTier2, c.StatusTier3, c.StatusTier4, c.StatusTier5, c.StatusTier6}
}
