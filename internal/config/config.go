// Package config carga la configuración del kiosko: YAML opcional + overrides
// por variables de entorno, con defaults sanos y duraciones validadas al
// cargar.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		// debug | info | warn | error
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr            string `yaml:"addr"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Upstream es el backend que emite las claves de firma.
	Upstream struct {
		BaseURL string `yaml:"base_url"`
		// AuthToken es el bearer de servicio del kiosko. Mejor por env
		// (UPSTREAM_AUTH_TOKEN) que en el YAML.
		AuthToken string `yaml:"auth_token"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"upstream"`

	State struct {
		Dir string `yaml:"dir"`
	} `yaml:"state"`

	Sync struct {
		Interval string `yaml:"interval"`
	} `yaml:"sync"`

	Verify struct {
		// Leeway tolera desfase de reloj de los dispositivos al evaluar
		// expiry. "0s" = estricto.
		Leeway string `yaml:"leeway"`
	} `yaml:"verify"`

	Replay struct {
		// memory | redis
		Driver string `yaml:"driver"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"replay"`

	Journal struct {
		// Path del journal JSONL de verificaciones. Vacío = deshabilitado.
		Path string `yaml:"path"`
	} `yaml:"journal"`
}

// Load lee el YAML (si path no es vacío), aplica defaults y overrides de
// entorno, y valida. Con path vacío opera solo con defaults + env.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "10s"
	}
	if c.State.Dir == "" {
		c.State.Dir = "./data/punchcard"
	}
	if c.Sync.Interval == "" {
		c.Sync.Interval = "5m"
	}
	if c.Verify.Leeway == "" {
		c.Verify.Leeway = "0s"
	}
	if c.Replay.Driver == "" {
		c.Replay.Driver = "memory"
	}

	c.applyEnvOverrides()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyEnvOverrides pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SERVER_SHUTDOWN_TIMEOUT"); ok {
		c.Server.ShutdownTimeout = v
	}
	if v, ok := getEnvStr("UPSTREAM_BASE_URL"); ok {
		c.Upstream.BaseURL = v
	}
	if v, ok := getEnvStr("UPSTREAM_AUTH_TOKEN"); ok {
		c.Upstream.AuthToken = v
	}
	if v, ok := getEnvStr("UPSTREAM_TIMEOUT"); ok {
		c.Upstream.Timeout = v
	}
	if v, ok := getEnvStr("STATE_DIR"); ok {
		c.State.Dir = v
	}
	if v, ok := getEnvStr("SYNC_INTERVAL"); ok {
		c.Sync.Interval = v
	}
	if v, ok := getEnvStr("VERIFY_LEEWAY"); ok {
		c.Verify.Leeway = v
	}
	if v, ok := getEnvStr("REPLAY_DRIVER"); ok {
		c.Replay.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Replay.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Replay.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Replay.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Replay.Redis.Prefix = v
	}
	if v, ok := getEnvStr("JOURNAL_PATH"); ok {
		c.Journal.Path = v
	}
}

func (c *Config) validate() error {
	for name, s := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"upstream.timeout":        c.Upstream.Timeout,
		"sync.interval":           c.Sync.Interval,
		"verify.leeway":           c.Verify.Leeway,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch c.Replay.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Replay.Redis.Addr) == "" {
			return fmt.Errorf("replay.redis.addr requerido con driver redis")
		}
	default:
		return fmt.Errorf("replay.driver desconocido: %q", c.Replay.Driver)
	}
	if u := c.Upstream.BaseURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("upstream.base_url inválida: %q", u)
	}
	return nil
}

// Accesores de duraciones ya validadas en Load.

func (c *Config) ShutdownTimeout() time.Duration { return mustDur(c.Server.ShutdownTimeout) }
func (c *Config) UpstreamTimeout() time.Duration { return mustDur(c.Upstream.Timeout) }
func (c *Config) SyncInterval() time.Duration    { return mustDur(c.Sync.Interval) }
func (c *Config) VerifyLeeway() time.Duration    { return mustDur(c.Verify.Leeway) }

func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
