// Package config holds the client configuration surface and its loaders.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/timeplus-io/proton-go/pkg/codec"
	"github.com/timeplus-io/proton-go/pkg/compress"
)

var ErrInvalid = errors.New("config: invalid value")

// EnvPrefix prefixes environment overrides, e.g. PROTON_COMPRESS_LEVEL.
const EnvPrefix = "PROTON"

const (
	RoundRobin = "round_robin"
	PickFirst  = "pick_first"
)

type Compression struct {
	Enabled   bool               `mapstructure:"enabled"`
	Algorithm compress.Algorithm `mapstructure:"algorithm"`
	Level     int                `mapstructure:"level"`
}

type Session struct {
	ID      string        `mapstructure:"id"`
	Check   bool          `mapstructure:"check"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Config struct {
	// Nodes are endpoint URIs, see cluster.ParseNode.
	Nodes []string `mapstructure:"nodes"`

	Async               bool          `mapstructure:"async"`
	MaxThreadsPerClient int           `mapstructure:"max_threads_per_client"`
	MaxQueuedRequests   int           `mapstructure:"max_queued_requests"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	SocketTimeout       time.Duration `mapstructure:"socket_timeout"`

	// Compress applies to responses, Decompress to request bodies.
	Compress   Compression `mapstructure:"compress"`
	Decompress Compression `mapstructure:"decompress"`

	Session Session `mapstructure:"session"`

	ServerTimeZone string `mapstructure:"server_time_zone"`
	ServerVersion  string `mapstructure:"server_version"`

	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Format   string `mapstructure:"format"`

	LoadBalancing       string        `mapstructure:"load_balancing"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`
	FailoverThreshold   int           `mapstructure:"failover_threshold"`

	ParseCacheSize int `mapstructure:"parse_cache_size"`
}

func Default() Config {
	return Config{
		Nodes:             []string{"http://localhost:8123"},
		MaxQueuedRequests: 1024,
		ConnectTimeout:    5 * time.Second,
		SocketTimeout:     30 * time.Second,
		Compress: Compression{
			Enabled:   true,
			Algorithm: compress.LZ4,
			Level:     compress.DefaultLevel,
		},
		Decompress: Compression{
			Algorithm: compress.LZ4,
			Level:     compress.DefaultLevel,
		},
		Database:            "default",
		User:                "default",
		Format:              codec.RowBinaryWithNamesAndTypes.String(),
		LoadBalancing:       RoundRobin,
		HealthCheckInterval: 3 * time.Second,
		HealthCheckTimeout:  time.Second,
		FailoverThreshold:   3,
		ParseCacheSize:      256,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	for _, o := range Options() {
		val, _ := d.Get(o)
		v.SetDefault(string(o), val)
	}
}

// Load reads a YAML file (skipped when path is empty) on top of Default and
// applies PROTON_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate clamps compression levels into range and rejects values no
// component can use.
func (c *Config) Validate() error {
	c.Compress.Level = compress.NormalizeLevel(c.Compress.Level)
	c.Decompress.Level = compress.NormalizeLevel(c.Decompress.Level)

	var errs []error
	if c.MaxThreadsPerClient < 0 {
		errs = append(errs, fmt.Errorf("%w: max_threads_per_client %d", ErrInvalid, c.MaxThreadsPerClient))
	}
	if c.MaxQueuedRequests < 0 {
		errs = append(errs, fmt.Errorf("%w: max_queued_requests %d", ErrInvalid, c.MaxQueuedRequests))
	}
	if c.ConnectTimeout < 0 || c.SocketTimeout < 0 || c.HealthCheckTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: negative timeout", ErrInvalid))
	}
	if c.HealthCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: health_check_interval must be positive", ErrInvalid))
	}
	if c.FailoverThreshold < 1 {
		errs = append(errs, fmt.Errorf("%w: failover_threshold %d", ErrInvalid, c.FailoverThreshold))
	}
	if c.LoadBalancing != RoundRobin && c.LoadBalancing != PickFirst {
		errs = append(errs, fmt.Errorf("%w: load_balancing %q", ErrInvalid, c.LoadBalancing))
	}
	if _, err := codec.ParseFormat(c.Format); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
	}
	if c.ServerTimeZone != "" {
		if _, err := time.LoadLocation(c.ServerTimeZone); err != nil {
			errs = append(errs, fmt.Errorf("%w: server_time_zone: %v", ErrInvalid, err))
		}
	}
	return errors.Join(errs...)
}

// Location is the server time zone override, or UTC.
func (c Config) Location() *time.Location {
	if c.ServerTimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ServerTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResponseAlgorithm is the response compression in effect, None when disabled.
func (c Config) ResponseAlgorithm() compress.Algorithm {
	if !c.Compress.Enabled {
		return compress.None
	}
	return c.Compress.Algorithm
}

// RequestAlgorithm is the request body compression in effect, None when disabled.
func (c Config) RequestAlgorithm() compress.Algorithm {
	if !c.Decompress.Enabled {
		return compress.None
	}
	return c.Decompress.Algorithm
}

func (c Config) clone() Config {
	c.Nodes = slices.Clone(c.Nodes)
	return c
}
