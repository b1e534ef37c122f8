/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package wgconfig is the declarative configuration surface for a wiseguy
// deployment: a viper-backed loader reading a YAML file (env-overridable)
// into a validated Config struct, the same shape nabbar-golib's
// httpserver.ServerConfig uses (mapstructure/json/yaml/toml tags plus
// go-playground/validator struct tags, checked with validator.New().Struct).
package wgconfig

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Mode selects which worker loop a wiseguy process runs.
type Mode string

const (
	ModeHTTP Mode = "http"
	ModeFCGI Mode = "fcgi"
)

// Config is the full declarative configuration for one wiseguy supervisor
// process: the bind address workers share, the pool shape, the per-worker
// limits §4.2/§4.3 enforce, the fd-registry side channel, the admin
// surface, and the event-collector prune schedule.
type Config struct {
	// Listen is the canonical bind address (bindaddr.Parse-compatible:
	// a Unix path or a host:port pair) the worker pool shares.
	Listen string `mapstructure:"listen" json:"listen" yaml:"listen" toml:"listen" validate:"required"`

	// Mode selects the worker loop: "http" (httpworker) or "fcgi"
	// (fcgiworker).
	Mode Mode `mapstructure:"mode" json:"mode" yaml:"mode" toml:"mode" validate:"required,oneof=http fcgi"`

	// Workers is the preforked pool size, N in §4.3's N-1..N+1 invariant.
	Workers int `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers" validate:"required,min=1"`

	// MaxRequestsPerWorker bounds a worker's service life by request
	// count; zero means unbounded (managedserver.Base.MaxRequests).
	MaxRequestsPerWorker int64 `mapstructure:"max_requests_per_worker" json:"max_requests_per_worker" yaml:"max_requests_per_worker" toml:"max_requests_per_worker"`

	// MaxWorkerLifetime bounds a worker's service life by wall-clock
	// duration; zero means unbounded (managedserver.Base.MaxLifetime).
	MaxWorkerLifetime time.Duration `mapstructure:"max_worker_lifetime" json:"max_worker_lifetime" yaml:"max_worker_lifetime" toml:"max_worker_lifetime"`

	// KeepAliveTimeout is the HTTP worker's idle-connection timeout
	// (§4.4 step 1); zero falls back to httpworker.DefaultKeepAliveTimeout.
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout" json:"keep_alive_timeout" yaml:"keep_alive_timeout" toml:"keep_alive_timeout"`

	// FdRegistrySocket is the Unix socket path the fd registry
	// (fdsock.Server/Client) listens on / dials for socket handoff
	// across supervisor generations.
	FdRegistrySocket string `mapstructure:"fd_registry_socket" json:"fd_registry_socket" yaml:"fd_registry_socket" toml:"fd_registry_socket" validate:"required"`

	// AdminListen is the bind address for the embedded admin HTTP
	// surface (§4.7); empty disables it.
	AdminListen string `mapstructure:"admin_listen" json:"admin_listen" yaml:"admin_listen" toml:"admin_listen"`

	// EventPruneInterval is how often the process-wide event collector
	// is pruned; zero disables periodic pruning.
	EventPruneInterval time.Duration `mapstructure:"event_prune_interval" json:"event_prune_interval" yaml:"event_prune_interval" toml:"event_prune_interval"`

	// EventMaxInactivity is the max-inactivity argument passed to
	// events.Collector.Prune on each interval tick (§4.6, §8 scenario 6).
	EventMaxInactivity time.Duration `mapstructure:"event_max_inactivity" json:"event_max_inactivity" yaml:"event_max_inactivity" toml:"event_max_inactivity"`

	// RecoverThreshold bounds unexpected worker exits tolerated over the
	// supervisor's lifetime (supervisor.Supervisor.RecoverThreshold);
	// zero means no threshold.
	RecoverThreshold int `mapstructure:"recover_threshold" json:"recover_threshold" yaml:"recover_threshold" toml:"recover_threshold"`
}

// Default returns a Config seeded with the same defaults the rest of the
// codebase falls back to when a field is left zero (keep-alive timeout,
// event-collector granularity's host values, etc.), so a minimal YAML file
// only needs to set the required Listen and FdRegistrySocket.
func Default() Config {
	return Config{
		Mode:               ModeHTTP,
		Workers:            4,
		KeepAliveTimeout:   5 * time.Second,
		EventPruneInterval: time.Minute,
		EventMaxInactivity: 10 * time.Minute,
	}
}

// Load reads path (YAML) through viper, overlaying WISEGUY_-prefixed
// environment variables (WISEGUY_LISTEN overrides "listen", etc. — viper's
// standard SetEnvKeyReplacer dance, same pattern as nabbar-golib's
// cobra/viper component wiring), merges it onto Default(), and validates
// the result with go-playground/validator struct tags exactly as
// nabbar-golib/httpserver.ServerConfig.Validate does.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("wiseguy")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("mode", string(def.Mode))
	v.SetDefault("workers", def.Workers)
	v.SetDefault("keep_alive_timeout", def.KeepAliveTimeout)
	v.SetDefault("event_prune_interval", def.EventPruneInterval)
	v.SetDefault("event_max_inactivity", def.EventMaxInactivity)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, ErrorReadConfig.Error(err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, ErrorUnmarshal.Error(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks Config's struct tags with go-playground/validator,
// mirroring nabbar-golib/httpserver.ServerConfig.Validate's
// validator.New().Struct(c) call.
func (c Config) Validate() error {
	val := validator.New()
	if err := val.Struct(c); err != nil {
		return ErrorValidate.Error(err)
	}
	return nil
}
