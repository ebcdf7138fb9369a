// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration.
type Config struct {
	Port        string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	CacheTTL    time.Duration

	ControllerAddress string
	GovernanceAddress string
	ExecutorAddresses []string
	Timelock          time.Duration

	PriceProviderAddress       string
	AttestationProviderAddress string
	WhitelistAddress           string

	AssetManagerAddress string
	AssetFtsoSymbol     string
	CollateralToken     string
	CollateralDecimals  uint8

	// ParametersPath names a JSON asset-manager parameter file; defaults
	// are used when empty.
	ParametersPath string
}

// Load reads the environment. Unset variables take their defaults; set but
// malformed values are errors.
func Load() (Config, error) {
	cfg := Config{
		Port:                       env("PORT", "8080"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		SQLitePath:                 os.Getenv("SQLITE_PATH"),
		RedisURL:                   os.Getenv("REDIS_URL"),
		ControllerAddress:          env("CONTROLLER_ADDRESS", "0xassetmanagercontroller"),
		GovernanceAddress:          env("GOVERNANCE_ADDRESS", "0xgovernance"),
		ExecutorAddresses:          list(os.Getenv("EXECUTOR_ADDRESSES")),
		PriceProviderAddress:       env("PRICE_PROVIDER_ADDRESS", "0xftso"),
		AttestationProviderAddress: env("ATTESTATION_PROVIDER_ADDRESS", "0xattestation"),
		WhitelistAddress:           os.Getenv("AGENT_WHITELIST_ADDRESS"),
		AssetManagerAddress:        env("ASSET_MANAGER_ADDRESS", "0xfxrp"),
		AssetFtsoSymbol:            env("ASSET_FTSO_SYMBOL", "XRP"),
		CollateralToken:            env("COLLATERAL_TOKEN", "USDC"),
		ParametersPath:             os.Getenv("ASSET_MANAGER_PARAMETERS"),
	}

	dec, err := strconv.ParseUint(env("COLLATERAL_DECIMALS", "18"), 10, 8)
	if err != nil {
		return Config{}, fmt.Errorf("config: COLLATERAL_DECIMALS: %w", err)
	}
	cfg.CollateralDecimals = uint8(dec)

	secs, err := strconv.ParseUint(env("TIMELOCK_SECONDS", "3600"), 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("config: TIMELOCK_SECONDS: %w", err)
	}
	cfg.Timelock = time.Duration(secs) * time.Second

	cfg.CacheTTL, err = time.ParseDuration(env("CACHE_TTL", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("config: CACHE_TTL: %w", err)
	}
	if cfg.CacheTTL <= 0 {
		return Config{}, fmt.Errorf("config: CACHE_TTL must be positive")
	}
	if len(cfg.ExecutorAddresses) == 0 {
		cfg.ExecutorAddresses = []string{cfg.GovernanceAddress}
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// list splits a comma separated list, dropping empty entries.
func list(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
