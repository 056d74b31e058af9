// Package config loads pipeline configuration from a yaml file, with
// environment variable fallbacks for deployment overrides.
package config

import (
	"fmt"
	"os"

	"github.com/bronzelake/pgcap/pkg/consts/pgconsts"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// DatabaseURL is the postgres connection string for the source database.
	DatabaseURL string `yaml:"database_url"`

	Replication Replication `yaml:"replication"`

	// LogLevel is one of debug, info, warn, error.  Defaults to info.
	LogLevel string `yaml:"log_level"`
}

type Replication struct {
	SlotName        string `yaml:"slot_name"`
	PublicationName string `yaml:"publication_name"`
	// SchemaName scopes table discovery and publication creation.
	SchemaName string `yaml:"schema_name"`
	// TableNames limits capture to the given tables.  Empty captures every
	// discovered table in the schema.
	TableNames []string `yaml:"table_names"`
}

// Load reads config from path, or returns defaults when path is empty.
// Environment variables override file values.
func Load(path string) (Config, error) {
	c := Config{}

	if path != "" {
		byt, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(byt, &c); err != nil {
			return c, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	c.applyEnv()
	c.applyDefaults()

	if c.DatabaseURL == "" {
		return c, fmt.Errorf("database_url is required")
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REPLICATION_SLOT_NAME"); v != "" {
		c.Replication.SlotName = v
	}
	if v := os.Getenv("REPLICATION_PUBLICATION_NAME"); v != "" {
		c.Replication.PublicationName = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.Replication.SlotName == "" {
		c.Replication.SlotName = pgconsts.SlotName
	}
	if c.Replication.PublicationName == "" {
		c.Replication.PublicationName = pgconsts.PublicationName
	}
	if c.Replication.SchemaName == "" {
		c.Replication.SchemaName = "public"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
