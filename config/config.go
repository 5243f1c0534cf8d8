package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type HealthCheckConfig struct {
	Interval       string `mapstructure:"interval"`
	Timeout        string `mapstructure:"timeout"`
	Path           string `mapstructure:"path"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

// ServiceConfig describes one monitored backend and the resource prefixes
// the gateway routes to it.
type ServiceConfig struct {
	Name     string   `mapstructure:"name"`
	URL      string   `mapstructure:"url"`
	Prefixes []string `mapstructure:"prefixes"`
}

type CircuitBreakerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Threshold    int    `mapstructure:"threshold"`
	ResetTimeout string `mapstructure:"reset_timeout"`
}

type GatewayConfig struct {
	Timeout        string               `mapstructure:"timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

type EventsConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Services    []ServiceConfig   `mapstructure:"services"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Events      EventsConfig      `mapstructure:"events"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// DefaultServices mirrors the stock deployment: four resource services on
// consecutive local ports.
func DefaultServices() []map[string]any {
	return []map[string]any{
		{"name": "task", "url": "http://127.0.0.1:8001", "prefixes": []string{"/tasks"}},
		{"name": "user", "url": "http://127.0.0.1:8002", "prefixes": []string{"/users"}},
		{"name": "notification", "url": "http://127.0.0.1:8003", "prefixes": []string{"/notifications"}},
		{"name": "backup", "url": "http://127.0.0.1:8005", "prefixes": []string{"/backup"}},
	}
}

// Load reads .env, then config.yaml from ./config or the working
// directory, then environment overrides, and validates the result.
// A missing config file is not an error.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path
// searches the default locations.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.String("error", err.Error()))
	}

	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("health_check.timeout", "3s")
	v.SetDefault("health_check.path", "/health")
	v.SetDefault("health_check.max_concurrency", 0)
	v.SetDefault("services", DefaultServices())
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.circuit_breaker.enabled", false)
	v.SetDefault("gateway.circuit_breaker.threshold", 5)
	v.SetDefault("gateway.circuit_breaker.reset_timeout", "30s")
	v.SetDefault("events.redis.enabled", false)
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.stream", "healthgate:events")
	v.SetDefault("events.redis.max_len", 1000)
	v.SetDefault("logging.level", LogLevelInfo)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.By(validateDuration)),
					validation.Field(&hc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&hc.Path, validation.Required, validation.By(validatePath)),
					validation.Field(&hc.MaxConcurrency, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Services,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateServiceConfig)),
			validation.By(validateUniqueServices),
		),
		validation.Field(&c.Gateway,
			validation.By(func(value interface{}) error {
				gc, ok := value.(GatewayConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a GatewayConfig")
				}
				cb := gc.CircuitBreaker
				return validation.ValidateStruct(&gc,
					validation.Field(&gc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&gc.CircuitBreaker, validation.By(func(interface{}) error {
						if !cb.Enabled {
							return nil
						}
						return validation.ValidateStruct(&cb,
							validation.Field(&cb.Threshold, validation.Required, validation.Min(1)),
							validation.Field(&cb.ResetTimeout, validation.Required, validation.By(validateDuration)),
						)
					})),
				)
			}),
		),
		validation.Field(&c.Events,
			validation.By(func(value interface{}) error {
				ec, ok := value.(EventsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an EventsConfig")
				}
				rc := ec.Redis
				if !rc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Addr, validation.Required, validation.By(validateHostPort)),
					validation.Field(&rc.Stream, validation.Required),
					validation.Field(&rc.MaxLen, validation.Min(int64(0))),
				)
			}),
		),
	)
}

func (h HealthCheckConfig) IntervalDuration() time.Duration {
	return mustDuration(h.Interval)
}

func (h HealthCheckConfig) TimeoutDuration() time.Duration {
	return mustDuration(h.Timeout)
}

func (g GatewayConfig) TimeoutDuration() time.Duration {
	return mustDuration(g.Timeout)
}

func (c CircuitBreakerConfig) ResetTimeoutDuration() time.Duration {
	return mustDuration(c.ResetTimeout)
}

// mustDuration parses a duration that Validate has already accepted. An
// unparsable value yields zero so callers fall back to their defaults.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}

func validatePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

func validateServiceURL(value interface{}) error {
	serviceURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serviceURL == "" {
		return validation.NewError("validation_empty_url", "service URL cannot be empty")
	}

	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateServiceConfig(value interface{}) error {
	svc, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}

	return validation.ValidateStruct(&svc,
		validation.Field(&svc.Name, validation.Required, is.PrintableASCII),
		validation.Field(&svc.URL, validation.By(validateServiceURL)),
		validation.Field(&svc.Prefixes, validation.Each(validation.By(validatePath))),
	)
}

func validateUniqueServices(value interface{}) error {
	services, ok := value.([]ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of services")
	}

	seen := make(map[string]struct{}, len(services))
	for _, svc := range services {
		if _, dup := seen[svc.Name]; dup {
			return validation.NewError("validation_duplicate_service", fmt.Sprintf("service %q is listed twice", svc.Name))
		}
		seen[svc.Name] = struct{}{}
	}

	return nil
}
