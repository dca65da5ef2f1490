package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultMarket(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].ID != "default" {
		t.Fatalf("expected one default market, got %+v", cfg.Markets)
	}
	m := cfg.Markets[0]
	if m.Liquidity != 180 {
		t.Fatalf("expected liquidity 180, got %v", m.Liquidity)
	}
	if len(m.Projects) != 4 || len(m.Accounts) != 5 {
		t.Fatalf("expected 4 projects and 5 accounts, got %d/%d", len(m.Projects), len(m.Accounts))
	}
	if !m.Accounts[0].Admin || *m.Accounts[1].Balance != 1000 {
		t.Fatalf("unexpected accounts %+v", m.Accounts)
	}
	if *m.Projects[0].RangeMin != 0 || *m.Projects[0].RangeMax != 10000 {
		t.Fatalf("unexpected project range")
	}
	if cfg.History.Interval != 5*time.Second || !cfg.History.RecordOnTradeValue() {
		t.Fatalf("unexpected history defaults %+v", cfg.History)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Metrics.Enabled == nil || !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("expected metrics address default, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestLoadMarketsFromYAML(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
state:
  codec: msgpack
markets:
  - id: pilot
    liquidity: 90
    projects:
      - id: a
        range_min: 100
        range_max: 200
      - id: b
    accounts:
      - id: root
        admin: true
        balance: 0
      - id: alice
history:
  record_on_trade: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.State.Codec != "msgpack" || cfg.History.RecordOnTradeValue() {
		t.Fatalf("unexpected state/history %+v %+v", cfg.State, cfg.History)
	}
	mcs := cfg.MarketConfigs()
	if len(mcs) != 1 || mcs[0].ID != "pilot" || mcs[0].Liquidity != 90 || mcs[0].RecordOnTrade {
		t.Fatalf("unexpected market config %+v", mcs)
	}
	if mcs[0].Projects[0].RangeMin != 100 || mcs[0].Projects[1].RangeMax != 10000 {
		t.Fatalf("unexpected ranges %+v", mcs[0].Projects)
	}
	if mcs[0].Accounts[0].Balance != 0 || mcs[0].Accounts[1].Balance != 1000 {
		t.Fatalf("explicit zero balance must survive defaults: %+v", mcs[0].Accounts)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("CFM_JWT_SECRET", "from-env")
	path := writeConfig(t, "api:\n  enabled: true\n  jwt_secret: from-file\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.JWTSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.API.JWTSecret)
	}
}

func TestValidateRejectsBadRange(t *testing.T) {
	lo, hi := 10.0, 10.0
	cfg := &Config{Markets: []MarketConfig{{
		ID:       "m",
		Projects: []ProjectConfig{{ID: "a", RangeMin: &lo, RangeMax: &hi}},
		Accounts: []AccountConfig{{ID: "u"}},
	}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for empty range")
	}
}

func TestValidateRejectsDuplicateAccounts(t *testing.T) {
	cfg := &Config{Markets: []MarketConfig{{
		ID:       "m",
		Projects: []ProjectConfig{{ID: "a"}},
		Accounts: []AccountConfig{{ID: "u"}, {ID: "u"}},
	}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate account")
	}
}

func TestValidateRequiresJWTSecretWhenAPIEnabled(t *testing.T) {
	t.Setenv("CFM_JWT_SECRET", "")
	cfg := &Config{API: APIConfig{Enabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing jwt secret")
	}
}

func TestValidateRejectsBuyProbability(t *testing.T) {
	cfg := &Config{Simulator: SimulatorConfig{BuyProbability: 1.5}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for buy probability")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{State: StateConfig{Backend: "etcd"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
