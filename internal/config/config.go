package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type SyncConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	EffectTimeout time.Duration `mapstructure:"effect_timeout"`
}

type StoreConfig struct {
	// Path to the sqlite database file; empty keeps everything in memory.
	Path string `mapstructure:"path"`
	// MaxNotifications caps the notification history (0 = unlimited).
	MaxNotifications int `mapstructure:"max_notifications"`
}

type Config struct {
	ServerPort  string       `mapstructure:"server_port"`
	AppName     string       `mapstructure:"app_name"`
	OwnerID     string       `mapstructure:"owner_id"`
	Platform    string       `mapstructure:"platform"`
	DefaultIcon string       `mapstructure:"default_icon"`
	ServerKey   string       `mapstructure:"server_key"`
	Store       StoreConfig  `mapstructure:"store"`
	Sync        SyncConfig   `mapstructure:"sync"`
	Worker      WorkerConfig `mapstructure:"worker"`
}

// Load reads configuration from a YAML file with PUSHCENTER_* environment
// overrides. A missing config file falls back to defaults.
func Load() *Config {
	v := viper.New()

	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PUSHCENTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			log.Fatalf("Error reading config file: %v", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.AppName == "" {
		config.AppName = "pushcenter"
	}
	if config.OwnerID == "" {
		config.OwnerID = "local-user"
	}
	if config.Platform == "" {
		config.Platform = "web"
	}
	if config.Store.MaxNotifications == 0 {
		config.Store.MaxNotifications = 500
	}
	if config.Sync.Timeout == 0 {
		config.Sync.Timeout = 10 * time.Second
	}
	if config.Worker.QueueSize == 0 {
		config.Worker.QueueSize = 256
	}
	if config.Worker.EffectTimeout == 0 {
		config.Worker.EffectTimeout = 10 * time.Second
	}

	return &config
}
