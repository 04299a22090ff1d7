// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string // empty enables dev-header identity

	Owners         []string
	OwnerThreshold int

	Governors           []string
	GovernanceThreshold int

	// Initial backend allow-list; mutable at runtime by an owner.
	Backends []string

	AllowedOrigins []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/incentived.db"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		Owners:              getEnvList("OWNERS"),
		OwnerThreshold:      getEnvInt("OWNER_THRESHOLD", 2),
		Governors:           getEnvList("GOVERNORS"),
		GovernanceThreshold: getEnvInt("GOVERNANCE_THRESHOLD", 2),
		Backends:            getEnvList("BACKENDS"),
		AllowedOrigins:      getEnvList("ALLOWED_ORIGINS"),
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if err := validateSet("OWNERS", c.Owners, c.OwnerThreshold); err != nil {
		return err
	}
	if err := validateSet("GOVERNORS", c.Governors, c.GovernanceThreshold); err != nil {
		return err
	}
	for _, b := range c.Backends {
		if b == "" {
			return fmt.Errorf("BACKENDS contains an empty address")
		}
	}
	return nil
}

// validateSet enforces the membership-set invariants: non-empty, distinct
// members, no empty addresses, and size at least the threshold.
func validateSet(name string, members []string, threshold int) error {
	if len(members) == 0 {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if threshold < 1 {
		return fmt.Errorf("%s threshold must be at least 1", name)
	}
	if len(members) < threshold {
		return fmt.Errorf("%s has %d members, below threshold %d", name, len(members), threshold)
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m == "" {
			return fmt.Errorf("%s contains an empty address", name)
		}
		if seen[m] {
			return fmt.Errorf("%s contains duplicate address %s", name, m)
		}
		seen[m] = true
	}
	return nil
}

// OwnerSet returns the owners as a membership set.
func (c *Config) OwnerSet() map[string]bool {
	return toSet(c.Owners)
}

// GovernorSet returns the governors as a membership set.
func (c *Config) GovernorSet() map[string]bool {
	return toSet(c.Governors)
}

func toSet(members []string) map[string]bool {
	set := make(map[string]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	return set
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvList parses a comma-separated list, trimming whitespace and dropping
// empty elements.
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
