package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config holds settings shared by every command, loaded from flags, env, or
// config file.
type Config struct {
	Store        string
	StateFile    string
	PGDSN        string
	Journal      string
	MaxRetries   int
	RetryBackoff time.Duration
	RPCURL       string
	SlippageBps  uint64
	LogLevel     string
}

// ServerConfig adds the HTTP listener settings.
type ServerConfig struct {
	Config
	Listen          string
	DevRoutes       bool
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := open(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	return build(v)
}

// LoadServer is Load plus the serve command's settings.
func LoadServer(cfgFile string, flags *pflag.FlagSet) (ServerConfig, error) {
	v, err := open(cfgFile, flags)
	if err != nil {
		return ServerConfig{}, err
	}
	base, err := build(v)
	if err != nil {
		return ServerConfig{}, err
	}
	cfg := ServerConfig{
		Config:          base,
		Listen:          v.GetString("listen"),
		DevRoutes:       v.GetBool("dev-routes"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		CORSOrigins:     getStringSlice(v, "cors-origins"),
	}
	if cfg.Listen == "" {
		return ServerConfig{}, fmt.Errorf("listen address is required")
	}
	return cfg, nil
}

func open(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("AMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store", StoreFile)
	v.SetDefault("state-file", "./data/ledger.json")
	v.SetDefault("journal", "./data/operations.jsonl")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 50*time.Millisecond)
	v.SetDefault("slippage-bps", 100)
	v.SetDefault("log-level", "info")
	v.SetDefault("listen", ":8080")
	v.SetDefault("dev-routes", false)
	v.SetDefault("shutdown-timeout", 10*time.Second)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func build(v *viper.Viper) (Config, error) {
	cfg := Config{
		Store:        strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		StateFile:    v.GetString("state-file"),
		PGDSN:        v.GetString("pg-dsn"),
		Journal:      v.GetString("journal"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		RPCURL:       v.GetString("rpc"),
		SlippageBps:  v.GetUint64("slippage-bps"),
		LogLevel:     v.GetString("log-level"),
	}

	switch cfg.Store {
	case StoreMemory:
	case StoreFile:
		if cfg.StateFile == "" {
			return Config{}, fmt.Errorf("state file is required for the file store")
		}
	case StorePostgres:
		if cfg.PGDSN == "" {
			return Config{}, fmt.Errorf("pg dsn is required for the postgres store")
		}
	default:
		return Config{}, fmt.Errorf("unknown store %q (want memory, file or postgres)", cfg.Store)
	}
	if cfg.SlippageBps > 10_000 {
		return Config{}, fmt.Errorf("slippage-bps %d exceeds 10000", cfg.SlippageBps)
	}
	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("max-retries must not be negative")
	}
	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
