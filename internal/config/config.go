// Package config loads server configuration from a YAML file with
// environment overrides on top.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  Server  `yaml:"server" json:"server"`
	Storage Storage `yaml:"storage" json:"storage"`
	Auth    Auth    `yaml:"auth" json:"auth"`
	Views   Views   `yaml:"views" json:"views"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr"`
}

type Storage struct {
	// DBPath is the SQLite database file. Everything lives in one file:
	// tasks, categories, completions and the auth tables.
	DBPath string `yaml:"db_path" json:"db_path"`

	// LoadTimeoutSeconds bounds the startup read of a user's rows. On
	// timeout the user gets an empty, disconnected view instead of a
	// hung request.
	LoadTimeoutSeconds int `yaml:"load_timeout_seconds" json:"load_timeout_seconds"`
}

type Auth struct {
	SessionTTLHours int `yaml:"session_ttl_hours" json:"session_ttl_hours"`
	BcryptCost      int `yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

type Views struct {
	// DefaultCategoryName is created for a user whose category list is
	// empty, so the last-category rule always has something to protect.
	DefaultCategoryName  string `yaml:"default_category_name" json:"default_category_name"`
	DefaultCategoryColor string `yaml:"default_category_color" json:"default_category_color"`
}

func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/dolores.db"
	}
	if c.Storage.LoadTimeoutSeconds <= 0 {
		c.Storage.LoadTimeoutSeconds = 10
	}
	if c.Auth.SessionTTLHours <= 0 {
		c.Auth.SessionTTLHours = 30 * 24
	}
	if c.Views.DefaultCategoryName == "" {
		c.Views.DefaultCategoryName = "Geral"
	}
	if c.Views.DefaultCategoryColor == "" {
		c.Views.DefaultCategoryColor = "#6366f1"
	}
}

func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Storage.LoadTimeoutSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLHours) * time.Hour
}

// Load reads the YAML file at path and applies defaults and environment
// overrides. A missing file is not an error; the defaults stand alone.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	c.ApplyDefaults()
	c.applyEnv()
	return &c, nil
}
