package config

import (
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"gopkg.in/yaml.v3"

	"TrancheBank/internal/model"
	"TrancheBank/internal/schedule"
)

// Config holds all application configuration.
type Config struct {
	Bank struct {
		RewardTotal string   `yaml:"reward_total"` // integer asset units
		Window      string   `yaml:"window"`       // Go duration, e.g. "168h"
		DeployTime  string   `yaml:"deploy_time"`  // RFC3339; empty means "when the pool is first created"
		Operator    string   `yaml:"operator"`
		PoolAccount string   `yaml:"pool_account"`
		Tranches    []uint32 `yaml:"tranches"` // cumulative basis points
	} `yaml:"bank"`
	Asset struct {
		LedgerFile string `yaml:"ledger_file"`
	} `yaml:"asset"`
	Store struct {
		Driver    string `yaml:"driver"` // file or sqlite
		StateFile string `yaml:"state_file"`
	} `yaml:"store"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Schedule struct {
		WatchCron  string `yaml:"watch_cron"`
		ReportCron string `yaml:"report_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error; defaults cover everything.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	overrides := []struct {
		env string
		dst *string
	}{
		{"BANK_REWARD_TOTAL", &cfg.Bank.RewardTotal},
		{"BANK_WINDOW", &cfg.Bank.Window},
		{"BANK_DEPLOY_TIME", &cfg.Bank.DeployTime},
		{"BANK_OPERATOR", &cfg.Bank.Operator},
		{"BANK_POOL_ACCOUNT", &cfg.Bank.PoolAccount},
		{"BANK_STATE_FILE", &cfg.Store.StateFile},
		{"STORE_DRIVER", &cfg.Store.Driver},
		{"ASSET_LEDGER_FILE", &cfg.Asset.LedgerFile},
		{"SQLITE_PATH", &cfg.Database.SQLitePath},
		{"CRON_WATCH", &cfg.Schedule.WatchCron},
		{"CRON_REPORT", &cfg.Schedule.ReportCron},
		{"TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken},
		{"TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID},
		{"HTTPS_PROXY", &cfg.Proxy},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}

	// Defaults
	if cfg.Bank.RewardTotal == "" {
		cfg.Bank.RewardTotal = "1000"
	}
	if cfg.Bank.Window == "" {
		cfg.Bank.Window = "168h"
	}
	if cfg.Bank.Operator == "" {
		cfg.Bank.Operator = "operator"
	}
	if cfg.Bank.PoolAccount == "" {
		cfg.Bank.PoolAccount = "tranche-bank"
	}
	if len(cfg.Bank.Tranches) == 0 {
		cfg.Bank.Tranches = append([]uint32(nil), schedule.DefaultTranches...)
	}
	if cfg.Asset.LedgerFile == "" {
		cfg.Asset.LedgerFile = "data/asset_ledger.json"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "file"
	}
	if cfg.Store.StateFile == "" {
		if cfg.Store.Driver == "sqlite" {
			cfg.Store.StateFile = "data/bank_state.db"
		} else {
			cfg.Store.StateFile = "data/bank_state.json"
		}
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/tranche_bank.db"
	}
	if cfg.Schedule.WatchCron == "" {
		cfg.Schedule.WatchCron = "0 * * * * *"
	}
	if cfg.Schedule.ReportCron == "" {
		cfg.Schedule.ReportCron = "0 0 9 * * *"
	}

	return cfg, nil
}

// Validate checks that all required fields are set and parse.
func (c *Config) Validate() error {
	if _, err := c.PoolConfig(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.driver must be file or sqlite, got %q", c.Store.Driver)
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}

// PoolConfig converts the bank section into pool parameters. DeployTime stays
// zero when unset; the bank fills it in on first creation.
func (c *Config) PoolConfig() (model.PoolConfig, error) {
	var pc model.PoolConfig

	reward, ok := sdkmath.NewIntFromString(c.Bank.RewardTotal)
	if !ok || !reward.IsPositive() {
		return pc, fmt.Errorf("%w: bank.reward_total must be a positive integer, got %q", model.ErrInvalidConfig, c.Bank.RewardTotal)
	}
	window, err := time.ParseDuration(c.Bank.Window)
	if err != nil || window <= 0 {
		return pc, fmt.Errorf("%w: bank.window must be a positive duration, got %q", model.ErrInvalidConfig, c.Bank.Window)
	}
	var deploy time.Time
	if c.Bank.DeployTime != "" {
		if deploy, err = time.Parse(time.RFC3339, c.Bank.DeployTime); err != nil {
			return pc, fmt.Errorf("%w: bank.deploy_time: %v", model.ErrInvalidConfig, err)
		}
	}
	if c.Bank.Operator == "" {
		return pc, fmt.Errorf("%w: bank.operator is required", model.ErrInvalidConfig)
	}
	if c.Bank.PoolAccount == "" || c.Bank.PoolAccount == c.Bank.Operator {
		return pc, fmt.Errorf("%w: bank.pool_account must be set and differ from the operator", model.ErrInvalidConfig)
	}
	if _, err := schedule.New(c.Bank.Tranches); err != nil {
		return pc, err
	}

	pc = model.PoolConfig{
		RewardTotal: reward,
		Window:      window,
		DeployTime:  deploy,
		Operator:    c.Bank.Operator,
		PoolAccount: c.Bank.PoolAccount,
		Tranches:    append([]uint32(nil), c.Bank.Tranches...),
	}
	return pc, nil
}
