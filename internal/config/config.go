package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cfm-engine/internal/market"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	State     StateConfig     `yaml:"state"`
	Markets   []MarketConfig  `yaml:"markets"`
	History   HistoryConfig   `yaml:"history"`
	Simulator SimulatorConfig `yaml:"simulator"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	Backend    string      `yaml:"backend"`
	SQLitePath string      `yaml:"sqlite_path"`
	Codec      string      `yaml:"codec"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type MarketConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Liquidity float64         `yaml:"liquidity"`
	Projects  []ProjectConfig `yaml:"projects"`
	Accounts  []AccountConfig `yaml:"accounts"`
}

type ProjectConfig struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	RangeMin *float64 `yaml:"range_min"`
	RangeMax *float64 `yaml:"range_max"`
}

type AccountConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Balance *float64 `yaml:"balance"`
	Admin   bool     `yaml:"admin"`
}

type HistoryConfig struct {
	Interval      time.Duration `yaml:"interval"`
	RecordOnTrade *bool         `yaml:"record_on_trade"`
}

func (h HistoryConfig) RecordOnTradeValue() bool {
	if h.RecordOnTrade == nil {
		return true
	}
	return *h.RecordOnTrade
}

type SimulatorConfig struct {
	Seed           uint64  `yaml:"seed"`
	BuyProbability float64 `yaml:"buy_probability"`
	MaxShares      int     `yaml:"max_shares"`
}

type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	JWTSecret string `yaml:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueueSize       int           `yaml:"queue_size"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

const (
	defaultRangeMin = 0.0
	defaultRangeMax = 10000.0
	defaultBalance  = 1000.0
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CFM_JWT_SECRET")); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("CFM_TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("CFM_TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CFM_REDIS_PASSWORD")); v != "" {
		cfg.State.Redis.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "sqlite"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/cfm.db"
	}
	if cfg.State.Codec == "" {
		cfg.State.Codec = "json"
	}
	if cfg.State.Redis.Addr == "" {
		cfg.State.Redis.Addr = "127.0.0.1:6379"
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = []MarketConfig{defaultMarket()}
	}
	for i := range cfg.Markets {
		m := &cfg.Markets[i]
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.Liquidity == 0 {
			m.Liquidity = market.DefaultLiquidity
		}
		for j := range m.Projects {
			p := &m.Projects[j]
			if p.Name == "" {
				p.Name = p.ID
			}
			if p.RangeMin == nil {
				p.RangeMin = float64Ptr(defaultRangeMin)
			}
			if p.RangeMax == nil {
				p.RangeMax = float64Ptr(defaultRangeMax)
			}
		}
		for j := range m.Accounts {
			a := &m.Accounts[j]
			if a.Name == "" {
				a.Name = a.ID
			}
			if a.Balance == nil {
				a.Balance = float64Ptr(defaultBalance)
			}
		}
	}
	if cfg.History.Interval == 0 {
		cfg.History.Interval = 5 * time.Second
	}
	if cfg.History.RecordOnTrade == nil {
		enabled := true
		cfg.History.RecordOnTrade = &enabled
	}
	if cfg.Simulator.BuyProbability == 0 {
		cfg.Simulator.BuyProbability = 0.7
	}
	if cfg.Simulator.MaxShares == 0 {
		cfg.Simulator.MaxShares = 50
	}
	if cfg.API.Address == "" {
		cfg.API.Address = "127.0.0.1:8080"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func defaultMarket() MarketConfig {
	projects := []ProjectConfig{
		{ID: "ascoe", Name: "ASCOE"},
		{ID: "civichat", Name: "CivicChat"},
		{ID: "handbook", Name: "Handbook"},
		{ID: "yadokari", Name: "Yadokari"},
	}
	accounts := []AccountConfig{{ID: "admin", Name: "Admin", Admin: true}}
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("user%d", i)
		accounts = append(accounts, AccountConfig{ID: id, Name: fmt.Sprintf("User %d", i)})
	}
	return MarketConfig{ID: "default", Name: "Default", Projects: projects, Accounts: accounts}
}

func validate(cfg *Config) error {
	switch cfg.State.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("state.backend must be sqlite or redis, got %q", cfg.State.Backend)
	}
	switch cfg.State.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("state.codec must be json or msgpack, got %q", cfg.State.Codec)
	}
	ids := make(map[string]struct{}, len(cfg.Markets))
	for _, m := range cfg.Markets {
		if m.ID == "" {
			return errors.New("markets[].id is required")
		}
		if _, ok := ids[m.ID]; ok {
			return fmt.Errorf("duplicate market id %q", m.ID)
		}
		ids[m.ID] = struct{}{}
		if m.Liquidity <= 0 {
			return fmt.Errorf("market %s: liquidity must be > 0", m.ID)
		}
		if len(m.Projects) == 0 {
			return fmt.Errorf("market %s: at least one project is required", m.ID)
		}
		if len(m.Accounts) == 0 {
			return fmt.Errorf("market %s: at least one account is required", m.ID)
		}
		projects := make(map[string]struct{}, len(m.Projects))
		for _, p := range m.Projects {
			if p.ID == "" {
				return fmt.Errorf("market %s: projects[].id is required", m.ID)
			}
			if _, ok := projects[p.ID]; ok {
				return fmt.Errorf("market %s: duplicate project %q", m.ID, p.ID)
			}
			projects[p.ID] = struct{}{}
			if !(*p.RangeMin < *p.RangeMax) {
				return fmt.Errorf("market %s: project %s range_min must be < range_max", m.ID, p.ID)
			}
		}
		accounts := make(map[string]struct{}, len(m.Accounts))
		for _, a := range m.Accounts {
			if a.ID == "" {
				return fmt.Errorf("market %s: accounts[].id is required", m.ID)
			}
			if _, ok := accounts[a.ID]; ok {
				return fmt.Errorf("market %s: duplicate account %q", m.ID, a.ID)
			}
			accounts[a.ID] = struct{}{}
			if *a.Balance < 0 {
				return fmt.Errorf("market %s: account %s balance must be >= 0", m.ID, a.ID)
			}
		}
	}
	if cfg.History.Interval < 0 {
		return errors.New("history.interval must be >= 0")
	}
	if cfg.Simulator.BuyProbability < 0 || cfg.Simulator.BuyProbability > 1 {
		return errors.New("simulator.buy_probability must be within [0,1]")
	}
	if cfg.Simulator.MaxShares < 0 {
		return errors.New("simulator.max_shares must be >= 0")
	}
	if cfg.API.Enabled && strings.TrimSpace(cfg.API.JWTSecret) == "" {
		return errors.New("api.jwt_secret (or CFM_JWT_SECRET) is required when the api is enabled")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

// MarketConfigs converts the configured markets for market.New.
func (c *Config) MarketConfigs() []market.Config {
	out := make([]market.Config, len(c.Markets))
	for i, m := range c.Markets {
		mc := market.Config{
			ID:            m.ID,
			Name:          m.Name,
			Liquidity:     m.Liquidity,
			Projects:      make([]market.ProjectConfig, len(m.Projects)),
			Accounts:      make([]market.AccountConfig, len(m.Accounts)),
			RecordOnTrade: c.History.RecordOnTradeValue(),
		}
		for j, p := range m.Projects {
			mc.Projects[j] = market.ProjectConfig{
				Key:      p.ID,
				Name:     p.Name,
				RangeMin: valueOr(p.RangeMin, defaultRangeMin),
				RangeMax: valueOr(p.RangeMax, defaultRangeMax),
			}
		}
		for j, a := range m.Accounts {
			mc.Accounts[j] = market.AccountConfig{
				ID:      a.ID,
				Name:    a.Name,
				Balance: valueOr(a.Balance, defaultBalance),
				Admin:   a.Admin,
			}
		}
		out[i] = mc
	}
	return out
}

func float64Ptr(v float64) *float64 {
	return &v
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
