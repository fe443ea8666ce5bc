package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppCfg struct {
	Env                    string `mapstructure:"env"`
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	SendRatePerMinute      int    `mapstructure:"send_rate_per_minute"`
}

type MongoCfg struct {
	URI string `mapstructure:"uri"`
	DB  string `mapstructure:"db"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaCfg struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PushCfg struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type JWTCfg struct {
	HSSecret string `mapstructure:"hs_secret"`
}

type RetryCfg struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	InitialIntervalMS int `mapstructure:"initial_interval_ms"`
	MaxElapsedSeconds int `mapstructure:"max_elapsed_seconds"`
}

type Config struct {
	App   AppCfg   `mapstructure:"app"`
	Mongo MongoCfg `mapstructure:"mongo"`
	Redis RedisCfg `mapstructure:"redis"`
	Kafka KafkaCfg `mapstructure:"kafka"`
	Push  PushCfg  `mapstructure:"push"`
	JWT   JWTCfg   `mapstructure:"jwt"`
	Retry RetryCfg `mapstructure:"retry"`
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.Push.TimeoutSeconds) * time.Second
}

func (c *Config) RetryInitialInterval() time.Duration {
	return time.Duration(c.Retry.InitialIntervalMS) * time.Millisecond
}

func (c *Config) RetryMaxElapsed() time.Duration {
	return time.Duration(c.Retry.MaxElapsedSeconds) * time.Second
}

// Load reads the config file at path and applies CHATCORE_* env
// overrides (CHATCORE_MONGO_URI, CHATCORE_APP_PORT, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CHATCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine, env and defaults still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8084)
	v.SetDefault("app.shutdown_timeout_seconds", 10)
	v.SetDefault("app.send_rate_per_minute", 120)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db", "chatcore")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chatcore")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chat.events")
	v.SetDefault("push.endpoint", "")
	v.SetDefault("push.api_key", "")
	v.SetDefault("push.timeout_seconds", 5)
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_interval_ms", 200)
	v.SetDefault("retry.max_elapsed_seconds", 15)
}
