// Package config loads server configuration from a YAML file and
// RESTIO_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds application-wide configuration
type Config struct {
	API APIConfig `mapstructure:"api"`
}

type APIConfig struct {
	PG             PGConfig      `mapstructure:"pg"`
	ListenAddr     string        `mapstructure:"listenAddr"`
	BaseURL        string        `mapstructure:"baseURL"`
	Schema         string        `mapstructure:"schema"`
	Paging         PagingConfig  `mapstructure:"paging"`
	OIDC           OIDCConfig    `mapstructure:"oidc"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
	AllowClientIDs bool          `mapstructure:"allowClientIDs"`
}

type PGConfig struct {
	ConnString string `mapstructure:"connString"`
}

// PagingConfig bounds collection and relationship page sizes.
type PagingConfig struct {
	DefaultLimit int `mapstructure:"defaultLimit"`
	MaxLimit     int `mapstructure:"maxLimit"`
}

type OIDCConfig struct {
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
	Issuer       string `mapstructure:"issuer"`
	RoleClaimKey string `mapstructure:"roleClaimKey"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func DefaultAPIConfig() APIConfig {
	return APIConfig{
		ListenAddr: ":8080",
		Schema:     "public",
		Paging: PagingConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
	}
}

// Load reads config from file or environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("restio")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("RESTIO")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", v.ConfigFileUsed())
	}

	cfg := Config{API: DefaultAPIConfig()}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}
