// Package config loads orchestrator tuning from a YAML file, with
// environment overrides for the values operators change most often.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/halcyon-fi/custodian/types"
)

const envPrefix = "CUSTODIAN_"

var validate = validator.New()

// Load reads the YAML config at path. A missing file is not an error; the
// defaults apply. Environment overrides are applied after the file.
func Load(path string) (types.Config, error) {
	cfg := types.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.Normalize()

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays CUSTODIAN_* variables on the loaded file.
func applyEnv(cfg *types.Config) {
	if v := envString("GATEWAY_CONTRACT"); v != "" {
		cfg.GatewayContract = v
	}
	if v, ok := envBool("DELEGATION_ENABLED"); ok {
		cfg.DelegationEnabled = v
	}
	if v, ok := envDuration("REFRESH_INTERVAL"); ok {
		cfg.RefreshInterval = v
	}
	if v, ok := envDuration("EXPIRY_HORIZON"); ok {
		cfg.ExpiryHorizon = v
	}
	if v, ok := envDuration("HASH_CEILING"); ok {
		cfg.HashCeiling = v
	}
	if v, ok := envDuration("BRIDGE_POLL_INTERVAL"); ok {
		cfg.BridgePollInterval = v
	}
	if v, ok := envInt("TOKEN_DECIMALS"); ok {
		cfg.TokenDecimals = v
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envBool(key string) (bool, bool) {
	raw := envString(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
