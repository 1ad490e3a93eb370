package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ClientConfig holds settings shared by the client commands.
type ClientConfig struct {
	RPCURL       string
	Signer       string
	GasTera      uint64
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Log          LogConfig
}

// LoadClient merges config file, environment variables, and flags into ClientConfig.
func LoadClient(cfgFile string, flags *pflag.FlagSet) (ClientConfig, error) {
	v := viper.New()
	v.SetDefault("rpc", "http://127.0.0.1:8645")
	v.SetDefault("gas", uint64(300))
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 200*time.Millisecond)
	setLogDefaults(v)
	v.SetDefault("log-level", "warn")

	if err := read(v, cfgFile, flags); err != nil {
		return ClientConfig{}, err
	}

	cfg := ClientConfig{
		RPCURL:       v.GetString("rpc"),
		Signer:       v.GetString("signer"),
		GasTera:      v.GetUint64("gas"),
		Timeout:      v.GetDuration("timeout"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Log:          logConfig(v),
	}
	if cfg.RPCURL == "" {
		return ClientConfig{}, fmt.Errorf("rpc url is required")
	}
	return cfg, nil
}
