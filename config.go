package redipubsub

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// conservativeMSS is the default bufio.Reader size: a TCP segment
// that fits unfragmented on most paths.
const conservativeMSS = 1352

// SentinelConfig carries Sentinel master/address hints. Sentinel
// discovery itself is not performed here; this only gives a caller a
// place to forward addresses to a connector that does resolve them.
type SentinelConfig struct {
	MasterName string
	Addrs      []string
}

// LogLevels maps the three named connection log events to zerolog
// levels.
type LogLevels struct {
	Disconnection    zerolog.Level
	Reconnection     zerolog.Level
	FailedConnection zerolog.Level
}

// DefaultLogLevels matches what a production listener would want by
// default: disconnects and failed connects are noteworthy, successful
// reconnects are routine.
func DefaultLogLevels() LogLevels {
	return LogLevels{
		Disconnection:    zerolog.WarnLevel,
		Reconnection:     zerolog.InfoLevel,
		FailedConnection: zerolog.WarnLevel,
	}
}

// Config holds every option a Conn is opened with.
type Config struct {
	Host     string
	Port     int
	Sentinel *SentinelConfig

	// TLS selects TLS vs plain TCP transport when non-nil. Connect and
	// transport errors are logged the same way for both transports.
	TLS *tls.Config

	// SyncConnect, when true, means the initial connect is awaited
	// during Open and a failure fails Open outright.
	SyncConnect bool

	// ExitOnDisconnect, when true, means any disconnect terminates the
	// Conn with the disconnect reason instead of reconnecting.
	ExitOnDisconnect bool

	BackoffInitial time.Duration
	// BackoffMax of zero means unbounded.
	BackoffMax time.Duration

	Log LogLevels

	CommandTimeout time.Duration
	DialTimeout    time.Duration
	BufferSize     int
}

func (c Config) addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return time.Second
}

func (c Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return conservativeMSS
}

// rawConfig mirrors the on-disk/env shape consumed by viper; it is
// unmarshalled and then translated into the richer Config type above
// (zerolog.Level and *tls.Config aren't viper-friendly types on their
// own).
type rawConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Sentinel struct {
		MasterName string   `mapstructure:"master_name"`
		Addrs      []string `mapstructure:"addrs"`
	} `mapstructure:"sentinel"`

	SSL                 bool `mapstructure:"ssl"`
	InsecureSkipVerify  bool `mapstructure:"insecure_skip_verify"`
	SyncConnect         bool `mapstructure:"sync_connect"`
	ExitOnDisconnection bool `mapstructure:"exit_on_disconnection"`

	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`

	Log struct {
		Disconnection    string `mapstructure:"disconnection"`
		Reconnection     string `mapstructure:"reconnection"`
		FailedConnection string `mapstructure:"failed_connection"`
	} `mapstructure:"log"`

	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
}

// LoadConfig reads Config's options from path (any format viper
// supports — YAML, JSON, TOML, ...) merged with REDIPUBSUB_-prefixed
// environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REDIPUBSUB")
	v.AutomaticEnv()

	v.SetDefault("port", 6379)
	v.SetDefault("backoff_initial", 50*time.Millisecond)
	v.SetDefault("backoff_max", 30*time.Second)
	v.SetDefault("dial_timeout", time.Second)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("redipubsub: reading config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("redipubsub: decoding config: %w", err)
	}
	return raw.toConfig()
}

func (raw rawConfig) toConfig() (Config, error) {
	cfg := Config{
		Host:             raw.Host,
		Port:             raw.Port,
		SyncConnect:      raw.SyncConnect,
		ExitOnDisconnect: raw.ExitOnDisconnection,
		BackoffInitial:   raw.BackoffInitial,
		BackoffMax:       raw.BackoffMax,
		Log:              DefaultLogLevels(),
		CommandTimeout:   raw.CommandTimeout,
		DialTimeout:      raw.DialTimeout,
		BufferSize:       raw.BufferSize,
	}

	if raw.Sentinel.MasterName != "" || len(raw.Sentinel.Addrs) > 0 {
		cfg.Sentinel = &SentinelConfig{
			MasterName: raw.Sentinel.MasterName,
			Addrs:      raw.Sentinel.Addrs,
		}
	}

	if raw.SSL {
		cfg.TLS = &tls.Config{
			ServerName:         raw.Host,
			InsecureSkipVerify: raw.InsecureSkipVerify,
		}
	}

	for _, kv := range []struct {
		dst *zerolog.Level
		s   string
	}{
		{&cfg.Log.Disconnection, raw.Log.Disconnection},
		{&cfg.Log.Reconnection, raw.Log.Reconnection},
		{&cfg.Log.FailedConnection, raw.Log.FailedConnection},
	} {
		if kv.s == "" {
			continue
		}
		lvl, err := zerolog.ParseLevel(kv.s)
		if err != nil {
			return Config{}, fmt.Errorf("redipubsub: log level %q: %w", kv.s, err)
		}
		*kv.dst = lvl
	}

	return cfg, nil
}
