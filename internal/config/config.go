package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// DatabaseURL enables the postgres call-record repository; empty keeps
	// records in memory.
	DatabaseURL string `mapstructure:"database_url"`
	// RedisAddr enables the redis presence store; empty keeps presence in
	// memory.
	RedisAddr string `mapstructure:"redis_addr"`

	Call CallConfig `mapstructure:"call"`
}

// CallConfig is consumed by the client side (channel, negotiator, session).
type CallConfig struct {
	ServerURL  string `mapstructure:"server_url"`
	RecordsURL string `mapstructure:"records_url"`

	STUNURLs     []string `mapstructure:"stun_urls"`
	TURNURLs     []string `mapstructure:"turn_urls"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`

	// RingTimeout converts an unanswered RINGING_IN/OUT session to MISSED.
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	// ReconnectGrace is how long a lost signaling channel may stay down
	// mid-call before the session is ended with best-effort duration.
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
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
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("call.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("call.records_url", "http://localhost:8080/api")
	v.SetDefault("call.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("call.ring_timeout", "35s")
	v.SetDefault("call.reconnect_grace", "15s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
