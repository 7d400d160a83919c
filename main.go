package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go-emrtd-connector/logging"
	redis "go-emrtd-connector/redis"

	"github.com/gmrtd/gmrtd/cms"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	ReceiptPrivateKeyPath string `json:"receipt_private_key_path"`
	IssuerId              string `json:"issuer_id"`
	// SessionTTL bounds how long a challenge waits for its result, e.g. "15m".
	SessionTTL string `json:"session_ttl,omitempty"`
	LogLevel   string `json:"log_level,omitempty"`
	LogFormat  string `json:"log_format,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

func (c Config) sessionTTL() (time.Duration, error) {
	if c.SessionTTL == "" {
		return DefaultSessionTTL, nil
	}
	ttl, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("session_ttl: %w", err)
	}
	return ttl, nil
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag")
		os.Exit(1)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "error", err)
		os.Exit(1)
	}
	logging.InitLoggerWithFormat(config.LogLevel, config.LogFormat)
	log := logging.GetLogger()

	log.Info("using config", "path", *configPath)
	log.Info("hosting", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	receiptSigner, err := NewReceiptSigner(config.ReceiptPrivateKeyPath, config.IssuerId)
	if err != nil {
		log.Error("failed to instantiate receipt signer", "error", err)
		os.Exit(1)
	}

	sessionStorage, err := createSessionStorage(&config)
	if err != nil {
		log.Error("failed to instantiate session storage", "error", err)
		os.Exit(1)
	}

	passportCertPool, err := cms.DefaultMasterList()
	if err != nil {
		log.Error("CscaCertPool error", "error", err)
		os.Exit(1)
	}

	serverState := ServerState{
		sessionStorage:   sessionStorage,
		receiptSigner:    receiptSigner,
		passportCertPool: passportCertPool,
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	err = server.ListenAndServe()
	if err != nil {
		log.Error("failed to listen and serve", "error", err)
		os.Exit(1)
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	if _, err := config.sessionTTL(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func createSessionStorage(config *Config) (SessionStorage, error) {
	ttl, err := config.sessionTTL()
	if err != nil {
		return nil, err
	}
	if config.StorageType == "redis" {
		slog.Info("Using redis session storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStorage(client, config.RedisConfig.Namespace, ttl), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel session storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStorage(client, config.RedisSentinelConfig.Namespace, ttl), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory session storage")
		return NewInMemorySessionStorage(ttl), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
