// Package config loads per-account bot configuration and process-level
// environment settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BotConfig is the read-once-at-startup record for a single account.
type BotConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	StartOnLaunch bool   `mapstructure:"start_on_launch" json:"startOnLaunch"`

	Login    string `mapstructure:"login" json:"login"`
	Password string `mapstructure:"password" json:"password"`

	ParentalPIN string `mapstructure:"parental_pin" json:"parentalPin"`

	MasterID      uint64 `mapstructure:"master_id" json:"masterId"`
	MasterClanID  uint64 `mapstructure:"master_clan_id" json:"masterClanId"`
	OwnerID       uint64 `mapstructure:"owner_id" json:"ownerId"`

	IsBotAccount bool `mapstructure:"is_bot_account" json:"isBotAccount"`
	FarmOffline  bool `mapstructure:"farm_offline" json:"farmOffline"`

	CardDropsRestricted   bool `mapstructure:"card_drops_restricted" json:"cardDropsRestricted"`
	HandleOfflineMessages bool `mapstructure:"handle_offline_messages" json:"handleOfflineMessages"`
	AcceptGifts           bool `mapstructure:"accept_gifts" json:"acceptGifts"`

	ForwardKeysToOtherBots bool `mapstructure:"forward_keys_to_other_bots" json:"forwardKeysToOtherBots"`
	DistributeKeys         bool `mapstructure:"distribute_keys" json:"distributeKeys"`

	DismissInventoryNotifications bool `mapstructure:"dismiss_inventory_notifications" json:"dismissInventoryNotifications"`

	AcceptConfirmationsPeriod time.Duration `mapstructure:"accept_confirmations_period" json:"acceptConfirmationsPeriod"`
	SendTradePeriod           time.Duration `mapstructure:"send_trade_period" json:"sendTradePeriod"`
	SendOnFarmingFinished     bool          `mapstructure:"send_on_farming_finished" json:"sendOnFarmingFinished"`
	ShutdownOnFarmingFinished bool          `mapstructure:"shutdown_on_farming_finished" json:"shutdownOnFarmingFinished"`

	IdleGames    []uint32 `mapstructure:"idle_games" json:"idleGames"`
	IdleGameName string   `mapstructure:"idle_game_name" json:"idleGameName"`

	TradeToken string `mapstructure:"trade_token" json:"tradeToken"`

	Blacklist []uint32 `mapstructure:"blacklist" json:"blacklist"`

	Proxy string `mapstructure:"proxy" json:"proxy"`
}

// GlobalConfig carries process-wide settings that are externally injected
// rather than derived: the global drop blacklist and the statistics
// group id.
type GlobalConfig struct {
	GlobalBlacklist   []uint32 `mapstructure:"global_blacklist" json:"globalBlacklist"`
	StatisticsGroup   uint64   `mapstructure:"statistics_group" json:"statisticsGroup"`
	StatisticsEnabled bool     `mapstructure:"statistics_enabled" json:"statisticsEnabled"`

	LoginCooldown time.Duration `mapstructure:"login_cooldown" json:"loginCooldown"`
}

// DefaultGlobalConfig falls back to sensible defaults when a global
// config file is absent.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		GlobalBlacklist:   nil,
		StatisticsGroup:   0,
		StatisticsEnabled: false,
		LoginCooldown:     25 * time.Minute,
	}
}

// LoadBotConfig reads a single account's configuration file from path.
func LoadBotConfig(path string) (BotConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FARMHAND")
	v.AutomaticEnv()

	v.SetDefault("enabled", true)
	v.SetDefault("start_on_launch", true)
	v.SetDefault("is_bot_account", false)
	v.SetDefault("accept_confirmations_period", 0)
	v.SetDefault("send_trade_period", 0)

	if err := v.ReadInConfig(); err != nil {
		return BotConfig{}, fmt.Errorf("read bot config %s: %w", path, err)
	}

	var cfg BotConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return BotConfig{}, fmt.Errorf("decode bot config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadAllBotConfigs loads every *.json file in dir, keyed by the
// filesystem-safe account name (the file's base name without extension).
func LoadAllBotConfigs(dir string) (map[string]BotConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", dir, err)
	}

	configs := make(map[string]BotConfig)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		cfg, err := LoadBotConfig(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		configs[name] = cfg
	}
	return configs, nil
}

// LoadGlobalConfig reads the externally injected global settings, falling
// back to DefaultGlobalConfig when path does not exist.
func LoadGlobalConfig(path string) (GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return GlobalConfig{}, fmt.Errorf("read global config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return GlobalConfig{}, fmt.Errorf("decode global config %s: %w", path, err)
	}
	return cfg, nil
}

// EnvOrDefault returns the environment variable value for key if set,
// otherwise fallback.
func EnvOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
