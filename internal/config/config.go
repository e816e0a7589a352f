// Package config loads the YAML + environment configuration shared by
// cmd/leafclient and cmd/leafpeer: a viper.Viper reading an optional
// YAML file, overlaid with env vars under a fixed prefix, overlaid on
// hard defaults for the wire and storage settings.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// DefaultPort is the broadcast port both client and peer bind/target
// absent configuration.
const DefaultPort = 62092

// Config is the process-wide configuration surface. Both the client CLI
// and the peer daemon load the same shape; each reads only the fields it
// needs.
type Config struct {
	Network struct {
		Port          int           `mapstructure:"port"`
		BroadcastAddr string        `mapstructure:"broadcast_addr"`
		SendTimeout   time.Duration `mapstructure:"send_timeout"`
		RecvTimeout   time.Duration `mapstructure:"recv_timeout"`
	} `mapstructure:"network"`

	Storage struct {
		StateDir    string `mapstructure:"state_dir"`
		MaxCapacity int64  `mapstructure:"max_capacity"`
	} `mapstructure:"storage"`

	Server struct {
		MetricsPort int `mapstructure:"metrics_port"`
	} `mapstructure:"server"`

	Crypto struct {
		KeyHex string `mapstructure:"key_hex"`
	} `mapstructure:"crypto"`
}

// defaultStateDir is /var/local/leafnode on Unix, %PROGRAMFILES%\leafnode
// on Windows.
func defaultStateDir() string {
	if runtime.GOOS == "windows" {
		if pf := os.Getenv("PROGRAMFILES"); pf != "" {
			return filepath.Join(pf, "leafnode")
		}
		return `C:\Program Files\leafnode`
	}
	return "/var/local/leafnode"
}

// Load reads path (if non-empty), applies LEAF_-prefixed env overrides,
// and fills in hard defaults for anything left unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("LEAF")
	v.AutomaticEnv()

	v.SetDefault("network.port", DefaultPort)
	v.SetDefault("network.broadcast_addr", "255.255.255.255")
	v.SetDefault("network.send_timeout", "5s")
	v.SetDefault("network.recv_timeout", "5s")
	v.SetDefault("storage.state_dir", defaultStateDir())
	v.SetDefault("storage.max_capacity", int64(10<<30))
	v.SetDefault("server.metrics_port", 9102)
	v.SetDefault("crypto.key_hex", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
