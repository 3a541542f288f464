package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cast"

	"github.com/timeplus-io/proton-go/pkg/compress"
)

// Option names one configuration value. Keys match the YAML layout.
type Option string

const (
	OptNodes               Option = "nodes"
	OptAsync               Option = "async"
	OptMaxThreadsPerClient Option = "max_threads_per_client"
	OptMaxQueuedRequests   Option = "max_queued_requests"
	OptConnectTimeout      Option = "connect_timeout"
	OptSocketTimeout       Option = "socket_timeout"

	OptCompress          Option = "compress.enabled"
	OptCompressAlgorithm Option = "compress.algorithm"
	OptCompressLevel     Option = "compress.level"

	OptDecompress          Option = "decompress.enabled"
	OptDecompressAlgorithm Option = "decompress.algorithm"
	OptDecompressLevel     Option = "decompress.level"

	OptSessionID      Option = "session.id"
	OptSessionCheck   Option = "session.check"
	OptSessionTimeout Option = "session.timeout"

	OptServerTimeZone Option = "server_time_zone"
	OptServerVersion  Option = "server_version"
	OptDatabase       Option = "database"
	OptUser           Option = "user"
	OptPassword       Option = "password"
	OptFormat         Option = "format"

	OptLoadBalancing       Option = "load_balancing"
	OptHealthCheckInterval Option = "health_check_interval"
	OptHealthCheckTimeout  Option = "health_check_timeout"
	OptFailoverThreshold   Option = "failover_threshold"
	OptParseCacheSize      Option = "parse_cache_size"
)

// Options lists every known key in a stable order.
func Options() []Option {
	return slices.Clone(allOptions)
}

var allOptions = []Option{
	OptNodes, OptAsync, OptMaxThreadsPerClient, OptMaxQueuedRequests,
	OptConnectTimeout, OptSocketTimeout,
	OptCompress, OptCompressAlgorithm, OptCompressLevel,
	OptDecompress, OptDecompressAlgorithm, OptDecompressLevel,
	OptSessionID, OptSessionCheck, OptSessionTimeout,
	OptServerTimeZone, OptServerVersion, OptDatabase, OptUser, OptPassword, OptFormat,
	OptLoadBalancing, OptHealthCheckInterval, OptHealthCheckTimeout,
	OptFailoverThreshold, OptParseCacheSize,
}

// Get returns the current value of o.
func (c Config) Get(o Option) (any, bool) {
	switch o {
	case OptNodes:
		return slices.Clone(c.Nodes), true
	case OptAsync:
		return c.Async, true
	case OptMaxThreadsPerClient:
		return c.MaxThreadsPerClient, true
	case OptMaxQueuedRequests:
		return c.MaxQueuedRequests, true
	case OptConnectTimeout:
		return c.ConnectTimeout, true
	case OptSocketTimeout:
		return c.SocketTimeout, true
	case OptCompress:
		return c.Compress.Enabled, true
	case OptCompressAlgorithm:
		return c.Compress.Algorithm, true
	case OptCompressLevel:
		return c.Compress.Level, true
	case OptDecompress:
		return c.Decompress.Enabled, true
	case OptDecompressAlgorithm:
		return c.Decompress.Algorithm, true
	case OptDecompressLevel:
		return c.Decompress.Level, true
	case OptSessionID:
		return c.Session.ID, true
	case OptSessionCheck:
		return c.Session.Check, true
	case OptSessionTimeout:
		return c.Session.Timeout, true
	case OptServerTimeZone:
		return c.ServerTimeZone, true
	case OptServerVersion:
		return c.ServerVersion, true
	case OptDatabase:
		return c.Database, true
	case OptUser:
		return c.User, true
	case OptPassword:
		return c.Password, true
	case OptFormat:
		return c.Format, true
	case OptLoadBalancing:
		return c.LoadBalancing, true
	case OptHealthCheckInterval:
		return c.HealthCheckInterval, true
	case OptHealthCheckTimeout:
		return c.HealthCheckTimeout, true
	case OptFailoverThreshold:
		return c.FailoverThreshold, true
	case OptParseCacheSize:
		return c.ParseCacheSize, true
	}
	return nil, false
}

// With returns a copy of c with opts applied. Values are coerced to the
// field's type, so "true", "10s" or "zstd" are accepted as strings.
func (c Config) With(opts map[Option]any) (Config, error) {
	out := c.clone()
	for _, o := range allOptions {
		v, ok := opts[o]
		if !ok {
			continue
		}
		if err := out.set(o, v); err != nil {
			return c, fmt.Errorf("%w: option %s: %v", ErrInvalid, o, err)
		}
	}
	for o := range opts {
		if !slices.Contains(allOptions, o) {
			return c, fmt.Errorf("%w: unknown option %q", ErrInvalid, string(o))
		}
	}
	out.Compress.Level = compress.NormalizeLevel(out.Compress.Level)
	out.Decompress.Level = compress.NormalizeLevel(out.Decompress.Level)
	return out, nil
}

func (c *Config) set(o Option, v any) (err error) {
	switch o {
	case OptNodes:
		c.Nodes, err = cast.ToStringSliceE(v)
	case OptAsync:
		c.Async, err = cast.ToBoolE(v)
	case OptMaxThreadsPerClient:
		c.MaxThreadsPerClient, err = cast.ToIntE(v)
	case OptMaxQueuedRequests:
		c.MaxQueuedRequests, err = cast.ToIntE(v)
	case OptConnectTimeout:
		c.ConnectTimeout, err = toDuration(v)
	case OptSocketTimeout:
		c.SocketTimeout, err = toDuration(v)
	case OptCompress:
		c.Compress.Enabled, err = cast.ToBoolE(v)
	case OptCompressAlgorithm:
		c.Compress.Algorithm, err = toAlgorithm(v)
	case OptCompressLevel:
		c.Compress.Level, err = cast.ToIntE(v)
	case OptDecompress:
		c.Decompress.Enabled, err = cast.ToBoolE(v)
	case OptDecompressAlgorithm:
		c.Decompress.Algorithm, err = toAlgorithm(v)
	case OptDecompressLevel:
		c.Decompress.Level, err = cast.ToIntE(v)
	case OptSessionID:
		c.Session.ID, err = cast.ToStringE(v)
	case OptSessionCheck:
		c.Session.Check, err = cast.ToBoolE(v)
	case OptSessionTimeout:
		c.Session.Timeout, err = toDuration(v)
	case OptServerTimeZone:
		c.ServerTimeZone, err = cast.ToStringE(v)
	case OptServerVersion:
		c.ServerVersion, err = cast.ToStringE(v)
	case OptDatabase:
		c.Database, err = cast.ToStringE(v)
	case OptUser:
		c.User, err = cast.ToStringE(v)
	case OptPassword:
		c.Password, err = cast.ToStringE(v)
	case OptFormat:
		c.Format, err = cast.ToStringE(v)
	case OptLoadBalancing:
		c.LoadBalancing, err = cast.ToStringE(v)
	case OptHealthCheckInterval:
		c.HealthCheckInterval, err = toDuration(v)
	case OptHealthCheckTimeout:
		c.HealthCheckTimeout, err = toDuration(v)
	case OptFailoverThreshold:
		c.FailoverThreshold, err = cast.ToIntE(v)
	case OptParseCacheSize:
		c.ParseCacheSize, err = cast.ToIntE(v)
	default:
		err = fmt.Errorf("unknown option %q", string(o))
	}
	return err
}

// toDuration reads bare numbers as seconds; cast would read them as
// nanoseconds.
func toDuration(v any) (time.Duration, error) {
	switch v.(type) {
	case int, int32, int64, uint, uint32, uint64:
		n, err := cast.ToInt64E(v)
		return time.Duration(n) * time.Second, err
	}
	return cast.ToDurationE(v)
}

func toAlgorithm(v any) (compress.Algorithm, error) {
	if a, ok := v.(compress.Algorithm); ok {
		return a, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return compress.None, err
	}
	return compress.ParseAlgorithm(s)
}
