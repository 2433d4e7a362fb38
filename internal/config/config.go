package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// StorageConfig selects where the flag store persists its map.
type StorageConfig struct {
	Driver         string        `mapstructure:"driver"` // redis | etcd | mysql | memory
	Key            string        `mapstructure:"key"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// RemoteConfig selects where remote overrides come from. "local" reads the
// document this process serves, "http" fetches another instance's
// /config/features.
type RemoteConfig struct {
	Mode    string        `mapstructure:"mode"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Token lets an http-mode instance follow the upstream change stream.
	Token string `mapstructure:"token"`
}

type LoaderConfig struct {
	BundleBaseURL string              `mapstructure:"bundle_base_url"`
	Timeout       time.Duration       `mapstructure:"timeout"`
	Preload       []string            `mapstructure:"preload"`
	Bundles       map[string][]string `mapstructure:"bundles"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type AuthConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	OTPCode         string        `mapstructure:"otp_code"`
	AdminPhones     []string      `mapstructure:"admin_phones"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

var ErrUnknownDriver = errors.New("unknown storage driver")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", "8080")

	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/farmgate?charset=utf8mb4&parseTime=True&loc=Local")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("etcd.endpoints", []string{"127.0.0.1:2379"})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	v.SetDefault("storage.driver", "redis")
	v.SetDefault("storage.key", "featureFlags")
	v.SetDefault("storage.persist_timeout", 2*time.Second)

	v.SetDefault("remote.mode", "local")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", 5*time.Second)
	v.SetDefault("remote.token", "")

	v.SetDefault("loader.bundle_base_url", "http://127.0.0.1:8081/bundles")
	v.SetDefault("loader.timeout", 10*time.Second)
	v.SetDefault("loader.preload", []string{})

	v.SetDefault("stream.heartbeat_interval", 30*time.Second)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.otp_code", "000000")
	v.SetDefault("auth.admin_phones", []string{})

	v.SetDefault("ratelimit.requests_per_second", 100)
}

// Load reads config.yaml from . or ./config, overlaid by FARMGATE_* env vars.
func Load() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("FARMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine, defaults and env cover everything
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "redis", "etcd", "mysql", "memory":
	default:
		return ErrUnknownDriver
	}
	switch c.Remote.Mode {
	case "local", "http", "none":
	default:
		return errors.New("unknown remote mode: " + c.Remote.Mode)
	}
	if c.Remote.Mode == "http" && c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required in http mode")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Server.Environment == "dev"
}
