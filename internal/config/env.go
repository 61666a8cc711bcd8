package config

import (
	"os"
	"strconv"
)

// applyEnv layers DOLORES_* environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("DOLORES_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DOLORES_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := getEnvInt("DOLORES_LOAD_TIMEOUT_SECONDS"); v > 0 {
		c.Storage.LoadTimeoutSeconds = v
	}
	if v := getEnvInt("DOLORES_SESSION_TTL_HOURS"); v > 0 {
		c.Auth.SessionTTLHours = v
	}
	if v := getEnvInt("DOLORES_BCRYPT_COST"); v > 0 {
		c.Auth.BcryptCost = v
	}
}

func getEnvInt(key string) int {
	val := os.Getenv(key)
	if val == "" {
		return 0
	}
	num, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return num
}
