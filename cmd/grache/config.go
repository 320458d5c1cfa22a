package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Upstream string `yaml:"upstream" validate:"required,url"`
	// Cache backend: redis, sqlite or memory.
	Cache        string      `yaml:"cache" validate:"required,oneof=redis sqlite memory"`
	DB           string      `yaml:"db" validate:"required_if=Cache sqlite"`
	Redis        RedisConfig `yaml:"redis"`
	Auth         AuthConfig  `yaml:"auth"`
	MaxBodyBytes int64       `yaml:"maxBodyBytes" validate:"gte=0"`
	LogFile      string      `yaml:"logFile"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type AuthConfig struct {
	// cookie or bearer
	Scheme          string `yaml:"scheme" validate:"oneof=cookie bearer"`
	TokenCookie     string `yaml:"tokenCookie"`
	SignatureCookie string `yaml:"signatureCookie"`
	SignatureHeader string `yaml:"signatureHeader"`
}

func defaultConfig() Config {
	return Config{
		Port:     3333,
		Upstream: "http://127.0.0.1:3000/shop-api",
		Cache:    "redis",
		DB:       "cache.db",
		Redis: RedisConfig{
			Host: "127.0.0.1:6379",
		},
		Auth: AuthConfig{
			Scheme:          "cookie",
			TokenCookie:     "session",
			SignatureCookie: "session_sig",
		},
	}
}

func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// loadConfig merges the configuration sources.
// Flags that were set win over environment variables, which win over the config file.
func loadConfig(fs *flag.FlagSet, filename string, getenv func(string) string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		var err error
		if config, err = getConfig(filename); err != nil {
			return config, fmt.Errorf("could not read config file: %w", err)
		}
	}

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return config, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		config.Port = port
	}
	if v := getenv("URL"); v != "" {
		config.Upstream = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		config.Redis.Host = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		config.Redis.Password = v
	}
	if v := getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return config, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		config.Redis.DB = db
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Port = portFlag
		case "upstream":
			config.Upstream = upstreamFlag
		case "cache":
			config.Cache = cacheFlag
		case "db":
			config.DB = dbFilenameFlag
		case "log-file":
			config.LogFile = logFilenameFlag
		case "max-body":
			config.MaxBodyBytes = maxBodyFlag
		}
	})

	if config.Cache == "redis" && config.Redis.Host == "" {
		return config, fmt.Errorf("invalid configuration: redis host missing")
	}
	return config, validateConfig(config)
}

var validate = validator.New()

func validateConfig(config Config) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
