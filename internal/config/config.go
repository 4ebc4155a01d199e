// Package config provides layered configuration loading for the proxy.
// It merges Defaults -> Environment Variables, decodes durations, and validates
// the result before anything talks to an upstream.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names. A double underscore
// separates nesting levels: PROXY_CASPIO__CLIENT_ID -> caspio.client_id.
const EnvPrefix = "PROXY_"

// Config holds the merged runtime configuration.
// Order of precedence (lowest → highest): Defaults → Environment.
type Config struct {
	Addr       string `koanf:"addr" validate:"required,ip_port"`
	DataDir    string `koanf:"data_dir" validate:"required,data_dir"`
	LogLevel   string `koanf:"log_level" validate:"oneof=debug info warn error"`
	CORSOrigin string `koanf:"cors_origin"`

	Caspio       Upstream   `koanf:"caspio"`
	ManageOrders Upstream   `koanf:"manageorders"`
	Pagination   Pagination `koanf:"pagination"`
	Token        Token      `koanf:"token"`
	Cache        Cache      `koanf:"cache"`
	Metrics      Metrics    `koanf:"metrics"`
	Janitor      Janitor    `koanf:"janitor"`
}

// Upstream describes one authenticated REST upstream.
type Upstream struct {
	BaseURL      string `koanf:"base_url" validate:"required,url"`
	TokenURL     string `koanf:"token_url" validate:"required,url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	// Exchange selects the credential exchange: "client_credentials" posts a
	// form, "signin" posts {"username","password"} as JSON.
	Exchange string `koanf:"exchange" validate:"oneof=client_credentials signin"`
}

// Configured reports whether credentials were supplied.
func (u Upstream) Configured() bool { return u.ClientID != "" && u.ClientSecret != "" }

// Pagination bounds every fetch-all call.
type Pagination struct {
	PageSize       int           `koanf:"page_size" validate:"min=1,max=1000"`
	MaxPages       int           `koanf:"max_pages" validate:"min=1"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	TotalTimeout   time.Duration `koanf:"total_timeout" validate:"gt=0"`
}

// Token tunes the token providers.
type Token struct {
	Buffer  time.Duration `koanf:"buffer" validate:"gte=0"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// Cache holds per-route freshness windows and capacity bounds.
type Cache struct {
	PricingTTL        time.Duration `koanf:"pricing_ttl" validate:"gt=0"`
	CostsTTL          time.Duration `koanf:"costs_ttl" validate:"gt=0"`
	InventoryTTL      time.Duration `koanf:"inventory_ttl" validate:"gt=0"`
	InventoryCapacity int           `koanf:"inventory_capacity" validate:"gte=0"`
	SearchTTL         time.Duration `koanf:"search_ttl" validate:"gt=0"`
	SearchCapacity    int           `koanf:"search_capacity" validate:"gte=0"`
	DashboardTTL      time.Duration `koanf:"dashboard_ttl" validate:"gt=0"`
	OrderTTL          time.Duration `koanf:"order_ttl" validate:"gt=0"`
	OrderCapacity     int           `koanf:"order_capacity" validate:"gte=0"`
	CustomersTTL      time.Duration `koanf:"customers_ttl" validate:"gt=0"`
}

// Metrics configures the persisted metrics manager and its endpoint.
type Metrics struct {
	Token         string        `koanf:"token"`
	FlushInterval time.Duration `koanf:"flush_interval" validate:"gt=0"`
}

// Janitor configures the background cache sweep.
type Janitor struct {
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// DefaultAppConfig holds the defaults every other layer overrides.
var DefaultAppConfig = Config{
	Addr:       ":3002",
	DataDir:    "./data",
	LogLevel:   "info",
	CORSOrigin: "*",
	Caspio: Upstream{
		BaseURL:  "https://c3eku948.caspio.com/rest/v2",
		TokenURL: "https://c3eku948.caspio.com/oauth/token",
		Exchange: "client_credentials",
	},
	ManageOrders: Upstream{
		BaseURL:  "https://manageordersapi.com/v1/manageorders",
		TokenURL: "https://manageordersapi.com/v1/manageorders/signin",
		Exchange: "signin",
	},
	Pagination: Pagination{
		PageSize:       1000,
		MaxPages:       10,
		RequestTimeout: 10 * time.Second,
		TotalTimeout:   25 * time.Second,
	},
	Token: Token{
		Buffer:  60 * time.Second,
		Timeout: 10 * time.Second,
	},
	Cache: Cache{
		PricingTTL:        time.Hour,
		CostsTTL:          15 * time.Minute,
		InventoryTTL:      5 * time.Minute,
		InventoryCapacity: 500,
		SearchTTL:         5 * time.Minute,
		SearchCapacity:    200,
		DashboardTTL:      time.Minute,
		OrderTTL:          24 * time.Hour,
		OrderCapacity:     1000,
		CustomersTTL:      time.Hour,
	},
	Metrics: Metrics{FlushInterval: 5 * time.Second},
	Janitor: Janitor{Interval: time.Minute},
}

// Loader stages; package variables so tests can inject failures.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix:        EnvPrefix,
			TransformFunc: envKey,
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("data_dir", validDataDir)
	}
)

// envKey maps PROXY_CASPIO__CLIENT_ID to caspio.client_id.
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(k, "__", "."), v
}

// Load builds a validated Config from defaults and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       StringToDuration(),
			Result:           &cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if cfg.Pagination.RequestTimeout > cfg.Pagination.TotalTimeout {
		return nil, errors.New("request_timeout must not exceed total_timeout")
	}
	return &cfg, nil
}

// SQLiteDSN returns the DSN of the metrics database inside DataDir.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.ToSlash(filepath.Join(c.DataDir, "metrics.db")) + "?_journal_mode=WAL&_busy_timeout=5000"
}

// validIPPort accepts host:port where host is empty or an IP literal and the
// port is 1-65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// validDataDir rejects empty, root, current-dir and parent-escaping paths.
func validDataDir(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}
