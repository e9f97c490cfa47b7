// Package config loads the CLI configuration from a file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/rescp17/nearby/pkg/session"
	"github.com/rescp17/nearby/pkg/webrtc"
)

const (
	EnvPrefix  = "NEARBY"
	ConfigName = "nearby"

	DefaultService  = "example-service"
	DefaultLogFile  = "nearby.log"
	DefaultLogLevel = "info"
)

// Keys understood in config files and as NEARBY_* environment variables.
const (
	KeyService            = "service"
	KeyName               = "name"
	KeyListen             = "listen"
	KeyMaxPeers           = "max_peers"
	KeyAutoConnect        = "auto_connect"
	KeyRetainDisconnected = "retain_disconnected"
	KeyConnectTimeout     = "connect_timeout"
	KeyReconnectDelay     = "reconnect_delay"
	KeyMaxReconnectDelay  = "max_reconnect_delay"
	KeyHandshakeTimeout   = "handshake_timeout"
	KeyICEServers         = "ice_servers"
	KeyMDNSCandidates     = "mdns_candidates"
	KeyLogFile            = "log.file"
	KeyLogLevel           = "log.level"
)

// Config is everything the CLI needs to start.
type Config struct {
	Service  string
	LogFile  string
	LogLevel string
	Session  *session.Config
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	sessionDefaults := session.DefaultConfig()
	transportDefaults := webrtc.DefaultConfig()

	v.SetDefault(KeyService, DefaultService)
	v.SetDefault(KeyName, "")
	v.SetDefault(KeyListen, transportDefaults.ListenAddr)
	v.SetDefault(KeyMaxPeers, sessionDefaults.MaxPeers)
	v.SetDefault(KeyAutoConnect, sessionDefaults.AutoConnect)
	v.SetDefault(KeyRetainDisconnected, sessionDefaults.RetainDisconnected)
	v.SetDefault(KeyConnectTimeout, sessionDefaults.ConnectTimeout)
	v.SetDefault(KeyReconnectDelay, sessionDefaults.ReconnectDelay)
	v.SetDefault(KeyMaxReconnectDelay, sessionDefaults.MaxReconnectDelay)
	v.SetDefault(KeyHandshakeTimeout, transportDefaults.HandshakeTimeout)
	v.SetDefault(KeyICEServers, transportDefaults.ICEServers)
	v.SetDefault(KeyMDNSCandidates, transportDefaults.MDNSCandidates)
	v.SetDefault(KeyLogFile, DefaultLogFile)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
}

// Load reads cfgFile, or looks for nearby.{yaml,toml,json} in the working
// directory and the user config directory when cfgFile is empty. A missing
// file is only an error when cfgFile was given explicitly.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, ConfigName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper builds a Config from the current viper settings.
func FromViper(v *viper.Viper) *Config {
	transport := webrtc.DefaultConfig()
	transport.ListenAddr = v.GetString(KeyListen)
	transport.HandshakeTimeout = v.GetDuration(KeyHandshakeTimeout)
	transport.ICEServers = v.GetStringSlice(KeyICEServers)
	transport.MDNSCandidates = v.GetBool(KeyMDNSCandidates)

	sess := session.DefaultConfig()
	sess.DisplayName = v.GetString(KeyName)
	sess.MaxPeers = v.GetInt(KeyMaxPeers)
	sess.AutoConnect = v.GetBool(KeyAutoConnect)
	sess.RetainDisconnected = v.GetBool(KeyRetainDisconnected)
	sess.ConnectTimeout = v.GetDuration(KeyConnectTimeout)
	sess.ReconnectDelay = v.GetDuration(KeyReconnectDelay)
	sess.MaxReconnectDelay = v.GetDuration(KeyMaxReconnectDelay)
	sess.Transport = transport

	return &Config{
		Service:  v.GetString(KeyService),
		LogFile:  v.GetString(KeyLogFile),
		LogLevel: v.GetString(KeyLogLevel),
		Session:  sess,
	}
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("service must not be empty")
	}
	if c.LogFile == "" {
		return errors.New("log.file must not be empty")
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	return nil
}
