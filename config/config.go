// Package config loads settings for the board binaries from an optional YAML
// file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvFile names the variable holding the optional YAML config path.
const EnvFile = "BOARD_CONFIG"

// Config is the union of client and service settings.
type Config struct {
	APIURL      string        `yaml:"api_url"`
	Token       string        `yaml:"token"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	MoveOrder   string        `yaml:"move_order"`

	ListenAddr     string        `yaml:"listen_addr"`
	StorageBackend string        `yaml:"storage_backend"`
	Storage        StorageConfig `yaml:"storage"`
	RedisURL       string        `yaml:"redis_connection_string"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	DeduperTTL     time.Duration `yaml:"deduper_ttl"`
	MaxColumns     int           `yaml:"max_columns"`
	Auth           AuthConfig    `yaml:"auth"`

	Debug bool `yaml:"debug"`
}

// StorageConfig names the Azure Storage resources.
type StorageConfig struct {
	ConnectionString string `yaml:"connection_string"`
	BoardsTable      string `yaml:"boards_table"`
	ColumnsTable     string `yaml:"columns_table"`
	TasksTable       string `yaml:"tasks_table"`
	EventsQueue      string `yaml:"events_queue"`
}

// AuthConfig selects JWT verification.
type AuthConfig struct {
	Domain     string `yaml:"domain"`
	Audience   string `yaml:"audience"`
	TestMode   bool   `yaml:"test_mode"`
	TestSecret string `yaml:"test_secret"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		APIURL:         "http://localhost:8080",
		HTTPTimeout:    30 * time.Second,
		MoveOrder:      "source",
		ListenAddr:     ":8080",
		StorageBackend: "memory",
		Storage: StorageConfig{
			BoardsTable:  "Boards",
			ColumnsTable: "Columns",
			TasksTable:   "Tasks",
		},
		CacheTTL:   time.Minute,
		DeduperTTL: 24 * time.Hour,
	}
}

// Load reads the file named by BOARD_CONFIG, if any, then applies the
// environment.
func Load() (Config, error) {
	return load(os.Getenv(EnvFile), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	e := envReader{lookup: lookup}
	e.str("BOARD_API_URL", &cfg.APIURL)
	e.str("BOARD_TOKEN", &cfg.Token)
	e.duration("BOARD_HTTP_TIMEOUT", &cfg.HTTPTimeout)
	e.str("BOARD_MOVE_ORDER", &cfg.MoveOrder)
	e.str("LISTEN_ADDR", &cfg.ListenAddr)
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + port
	}
	e.str("STORAGE_BACKEND", &cfg.StorageBackend)
	e.str("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	e.str("BOARDS_TABLE", &cfg.Storage.BoardsTable)
	e.str("COLUMNS_TABLE", &cfg.Storage.ColumnsTable)
	e.str("TASKS_TABLE", &cfg.Storage.TasksTable)
	e.str("BOARD_EVENTS_QUEUE", &cfg.Storage.EventsQueue)
	e.str("REDIS_CONNECTION_STRING", &cfg.RedisURL)
	e.duration("BOARD_CACHE_TTL", &cfg.CacheTTL)
	e.duration("DEDUPER_TTL", &cfg.DeduperTTL)
	e.integer("MAX_COLUMNS", &cfg.MaxColumns)
	e.str("AUTH0_DOMAIN", &cfg.Auth.Domain)
	e.str("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	if v, ok := lookup("AUTH0_TEST_MODE"); ok && v != "" {
		cfg.Auth.TestMode = v == "1" || strings.EqualFold(v, "true")
	}
	e.str("TEST_JWT_SECRET", &cfg.Auth.TestSecret)
	e.boolean("DEBUG", &cfg.Debug)
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http timeout must be positive"))
	}
	if c.MaxColumns < 0 {
		errs = append(errs, errors.New("max columns cannot be negative"))
	}
	if c.CacheTTL < 0 || c.DeduperTTL < 0 {
		errs = append(errs, errors.New("ttl cannot be negative"))
	}
	switch c.StorageBackend {
	case "memory", "tables":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("config: invalid %s: %w", key, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("config: invalid %s: %w", key, err)
		return
	}
	*dst = d
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok || e.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.err = fmt.Errorf("config: invalid %s: %w", key, err)
		return
	}
	*dst = b
}
