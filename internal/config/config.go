package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "CHATLINK"

var (
	ErrNoBaseURL = errors.New("base_url is required")
	ErrNoToken   = errors.New("token is required")
)

type Reconnect struct {
	Base        time.Duration `mapstructure:"base"`
	Cap         time.Duration `mapstructure:"cap"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type Speaking struct {
	Interval  time.Duration `mapstructure:"interval"`
	Threshold float64       `mapstructure:"threshold"`
}

type Config struct {
	Mode        string `mapstructure:"mode"`
	ControlAddr string `mapstructure:"control_addr"`
	Secret      string `mapstructure:"secret"`

	BaseURL        string   `mapstructure:"base_url"`
	Token          string   `mapstructure:"token"`
	Username       string   `mapstructure:"username"`
	VoiceMode      string   `mapstructure:"voice_mode"`
	VoiceChannelID int64    `mapstructure:"voice_channel_id"`
	ICEServers     []string `mapstructure:"ice_servers"`

	Reconnect       Reconnect     `mapstructure:"reconnect"`
	FailoverClear   time.Duration `mapstructure:"failover_clear"`
	TypingTTL       time.Duration `mapstructure:"typing_ttl"`
	TypingInterval  time.Duration `mapstructure:"typing_interval"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
	Speaking        Speaking      `mapstructure:"speaking"`

	SendBuffer int           `mapstructure:"send_buffer"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

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

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("control_addr", "127.0.0.1:7070")
	v.SetDefault("secret", "")
	v.SetDefault("base_url", "")
	v.SetDefault("token", "")
	v.SetDefault("username", "")
	v.SetDefault("voice_mode", "multiplexed")
	v.SetDefault("voice_channel_id", 0)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("reconnect.base", "1s")
	v.SetDefault("reconnect.cap", "30s")
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("failover_clear", "5s")
	v.SetDefault("typing_ttl", "3s")
	v.SetDefault("typing_interval", "2s")
	v.SetDefault("heartbeat_period", "60s")
	v.SetDefault("speaking.interval", "200ms")
	v.SetDefault("speaking.threshold", 15.0)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("write_wait", "5s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults and %s_* env\n", fileName, EnvPrefix)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Control: %s | Backend: %s | Voice: %s\n", cfg.Mode, cfg.ControlAddr, cfg.BaseURL, cfg.VoiceMode)
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if c.Token == "" {
		return ErrNoToken
	}
	switch c.VoiceMode {
	case "multiplexed", "dedicated":
	default:
		return fmt.Errorf("voice_mode %q: want multiplexed or dedicated", c.VoiceMode)
	}
	return nil
}
