package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode    string `mapstructure:"mode"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
	Secret  string `mapstructure:"secret"`

	// APIToken guards the hosted-room endpoint.
	APIToken        string `mapstructure:"api_token"`
	RoomProviderURL string `mapstructure:"room_provider_url"`
	RoomProviderKey string `mapstructure:"room_provider_key"`

	// Client side: where the relay server lives.
	RelayURL string `mapstructure:"relay_url"`

	STUNServers []string `mapstructure:"stun_servers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("secret", "telecare-dev-secret")
	v.SetDefault("room_provider_url", "https://api.daily.co")
	v.SetDefault("relay_url", "http://localhost:8080")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Data: %s\n", cfg.Mode, cfg.Port, cfg.DataDir)
	return &cfg, nil
}
