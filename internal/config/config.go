// Package config loads MemoGarden's runtime configuration.
//
// Precedence, highest to lowest: environment variable, project
// .memogarden/config.yaml (discovered by walking up from cwd), user config
// directory, default. A companion schema.toml, discovered the same way,
// carries the closed entity/item/relation-kind manifests so operators can
// change them without a recompile. The daemon enforces only
// user_relation_kinds; baseline_entity_types and baseline_item_types are
// reported by get_config and not enforced.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

var v *viper.Viper

// Config is the resolved, typed view of the options in spec §6.
type Config struct {
	DatabasePath           string
	HTTPAddr               string
	LogPath                string
	ContextSize            int
	SafetyCoefficient      float64
	ContextEventKeepaliveS int
	BaselineEntityTypes    []string
	BaselineItemTypes      []string
	UserRelationKinds      []string
}

// Initialize sets up the viper singleton. Call once at process startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".memogarden", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "memogarden", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("MG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_path", ".memogarden/garden.db")
	v.SetDefault("http_addr", "127.0.0.1:8327")
	v.SetDefault("log_path", "")
	v.SetDefault("context_size", 7)
	v.SetDefault("safety_coefficient", 1.2)
	v.SetDefault("context_event_keepalive_s", 15)
	v.SetDefault("baseline_entity_types", []string{"person", "project", "place", "concept", "organization"})
	v.SetDefault("baseline_item_types", []string{"note", "message", "observation", "decision"})
	v.SetDefault("user_relation_kinds", []string{"relates_to", "part_of", "depends_on", "mentions"})

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return loadSchemaManifest()
}

// schemaManifest is the optional schema.toml shape: closed enumerations
// that would otherwise be compiled-in constants.
type schemaManifest struct {
	BaselineEntityTypes []string `toml:"baseline_entity_types"`
	BaselineItemTypes   []string `toml:"baseline_item_types"`
	UserRelationKinds   []string `toml:"user_relation_kinds"`
}

// loadSchemaManifest looks for schema.toml next to whatever config.yaml was
// found (or in the cwd's .memogarden/ if no config.yaml was found) and, if
// present, overrides the corresponding viper defaults.
func loadSchemaManifest() error {
	var dir string
	if v.ConfigFileUsed() != "" {
		dir = filepath.Dir(v.ConfigFileUsed())
	} else if cwd, err := os.Getwd(); err == nil {
		dir = filepath.Join(cwd, ".memogarden")
	} else {
		return nil
	}

	path := filepath.Join(dir, "schema.toml")
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	var m schemaManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return fmt.Errorf("error reading schema manifest %s: %w", path, err)
	}
	if len(m.BaselineEntityTypes) > 0 {
		v.Set("baseline_entity_types", m.BaselineEntityTypes)
	}
	if len(m.BaselineItemTypes) > 0 {
		v.Set("baseline_item_types", m.BaselineItemTypes)
	}
	if len(m.UserRelationKinds) > 0 {
		v.Set("user_relation_kinds", m.UserRelationKinds)
	}
	return nil
}

// Load returns the typed configuration. Initialize must have been called;
// otherwise no defaults are registered and every field is its zero value.
func Load() Config {
	if v == nil {
		v = viper.New()
	}
	return Config{
		DatabasePath:           GetString("database_path"),
		HTTPAddr:               GetString("http_addr"),
		LogPath:                GetString("log_path"),
		ContextSize:            GetInt("context_size"),
		SafetyCoefficient:      v.GetFloat64("safety_coefficient"),
		ContextEventKeepaliveS: GetInt("context_event_keepalive_s"),
		BaselineEntityTypes:    GetStringSlice("baseline_entity_types"),
		BaselineItemTypes:      GetStringSlice("baseline_item_types"),
		UserRelationKinds:      GetStringSlice("user_relation_kinds"),
	}
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set overrides a configuration value in the loaded configuration; it is a
// no-op before Initialize.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// ConfigFileUsed reports the path viper resolved, or "" if none was found.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
