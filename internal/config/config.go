package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EnvPrefix: префикс переменных окружения.
const EnvPrefix = "CONSOLE_"

type Config struct {
	Port        string `json:"port"`
	ScreensDir  string `json:"screensDir"`
	CatalogsDir string `json:"catalogsDir"`
	SeedDir     string `json:"seedDir"` // сиды dev-коллекций (пусто = без сидов)

	// Коллекции: внешний REST либо встроенный dev-бэкенд под /data
	BackendURL string `json:"backendUrl"`
	DevBackend bool   `json:"devBackend"`
	DevStore   string `json:"devStore"` // "memory" (default) | "postgres"
	DBURL      string `json:"dbUrl"`

	Locale        string `json:"locale"`
	PageSize      int    `json:"pageSize"`
	DebounceMs    int    `json:"debounceMs"`
	HTTPTimeoutMs int    `json:"httpTimeoutMs"`
	SessionTTLMin int    `json:"sessionTtlMin"`

	LogMode  string `json:"logMode"`  // "production" | "development"
	LogLevel string `json:"logLevel"` // debug|info|warn|error
}

func Default() Config {
	return Config{
		Port:        "8080",
		ScreensDir:  "screens",
		CatalogsDir: "reference/catalogs",
		SeedDir:     "",

		BackendURL: "",
		DevBackend: false,
		DevStore:   "memory",
		DBURL:      "",

		Locale:        "en",
		PageSize:      10,
		DebounceMs:    300,
		HTTPTimeoutMs: 15000,
		SessionTTLMin: 30,

		LogMode:  "production",
		LogLevel: "info",
	}
}

func (c Config) Debounce() time.Duration    { return time.Duration(c.DebounceMs) * time.Millisecond }
func (c Config) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutMs) * time.Millisecond }
func (c Config) SessionTTL() time.Duration  { return time.Duration(c.SessionTTLMin) * time.Minute }

// Addr: адрес для http.Server.
func (c Config) Addr() string { return ":" + c.Port }

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, c)
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(EnvPrefix + k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(EnvPrefix + k); ok {
		switch strings.TrimSpace(strings.ToLower(v)) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(EnvPrefix + k); ok {
		if n, err := cast.ToIntE(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// Load: значения по умолчанию -> JSON (если файл есть) -> .env -> CONSOLE_* окружение.
// Флаги накладываются отдельно, через ApplyFlags.
func Load(jsonPath string) (Config, error) {
	cfg := Default()

	if jsonPath != "" {
		if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
			if err := loadJSON(jsonPath, &cfg); err != nil {
				return cfg, fmt.Errorf("config %s: %w", jsonPath, err)
			}
		}
	}

	// .env не перетирает уже заданные переменные
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return cfg, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg.Port = getenv("PORT", cfg.Port)
	cfg.ScreensDir = getenv("SCREENS_DIR", cfg.ScreensDir)
	cfg.CatalogsDir = getenv("CATALOGS_DIR", cfg.CatalogsDir)
	cfg.SeedDir = getenv("SEED_DIR", cfg.SeedDir)
	cfg.BackendURL = getenv("BACKEND_URL", cfg.BackendURL)
	cfg.DevBackend = getenvBool("DEV_BACKEND", cfg.DevBackend)
	cfg.DevStore = getenv("DEV_STORE", cfg.DevStore)
	cfg.DBURL = getenv("DB_URL", cfg.DBURL)
	cfg.Locale = getenv("LOCALE", cfg.Locale)
	cfg.PageSize = getenvInt("PAGE_SIZE", cfg.PageSize)
	cfg.DebounceMs = getenvInt("DEBOUNCE_MS", cfg.DebounceMs)
	cfg.HTTPTimeoutMs = getenvInt("HTTP_TIMEOUT_MS", cfg.HTTPTimeoutMs)
	cfg.SessionTTLMin = getenvInt("SESSION_TTL_MIN", cfg.SessionTTLMin)
	cfg.LogMode = getenv("LOG_MODE", cfg.LogMode)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	return cfg, nil
}

// RegisterFlags объявляет флаги. Значения по умолчанию в справке: Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "config.json", "Path to config JSON")
	fs.String("port", d.Port, "HTTP port")
	fs.String("screens", d.ScreensDir, "Path to screens directory")
	fs.String("catalogs", d.CatalogsDir, "Path to option catalogs directory")
	fs.String("seed", d.SeedDir, "Path to dev collection seeds (empty = none)")
	fs.String("backend-url", d.BackendURL, "Collections REST base URL")
	fs.Bool("dev-backend", d.DevBackend, "Serve development collections under /data")
	fs.String("dev-store", d.DevStore, "Dev collection store (memory/postgres)")
	fs.String("db", d.DBURL, "Postgres URL for the postgres dev store")
	fs.String("locale", d.Locale, "Collation locale for sorting")
	fs.Int("page-size", d.PageSize, "Default page size")
	fs.Int("debounce-ms", d.DebounceMs, "Async-select search debounce, ms")
	fs.Int("http-timeout-ms", d.HTTPTimeoutMs, "Collections HTTP timeout, ms")
	fs.Int("session-ttl-min", d.SessionTTLMin, "Idle console session lifetime, minutes")
	fs.String("log-mode", d.LogMode, "Logger mode (production/development)")
	fs.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
}

// ApplyFlags переносит в cfg только явно заданные флаги.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	strs := map[string]*string{
		"port":        &cfg.Port,
		"screens":     &cfg.ScreensDir,
		"catalogs":    &cfg.CatalogsDir,
		"seed":        &cfg.SeedDir,
		"backend-url": &cfg.BackendURL,
		"dev-store":   &cfg.DevStore,
		"db":          &cfg.DBURL,
		"locale":      &cfg.Locale,
		"log-mode":    &cfg.LogMode,
		"log-level":   &cfg.LogLevel,
	}
	for name, dst := range strs {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(v)
	}

	ints := map[string]*int{
		"page-size":       &cfg.PageSize,
		"debounce-ms":     &cfg.DebounceMs,
		"http-timeout-ms": &cfg.HTTPTimeoutMs,
		"session-ttl-min": &cfg.SessionTTLMin,
	}
	for name, dst := range ints {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if fs.Lookup("dev-backend") != nil && fs.Changed("dev-backend") {
		v, err := fs.GetBool("dev-backend")
		if err != nil {
			return err
		}
		cfg.DevBackend = v
	}
	return nil
}

// FromFlags: Load по пути из --config, затем явно заданные флаги.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	path := "config.json"
	if fs.Lookup("config") != nil {
		if p, err := fs.GetString("config"); err == nil {
			path = p
		}
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyFlags(fs, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate собирает все противоречия конфигурации сразу.
func (c Config) Validate() error {
	var result *multierror.Error
	if _, err := strconv.Atoi(c.Port); err != nil {
		result = multierror.Append(result, fmt.Errorf("port: %q is not a number", c.Port))
	}
	switch c.DevStore {
	case "memory":
	case "postgres":
		if c.DevBackend && c.DBURL == "" {
			result = multierror.Append(result, fmt.Errorf("dbUrl: required for the postgres dev store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("devStore: unknown store %q", c.DevStore))
	}
	if !c.DevBackend && c.BackendURL == "" {
		result = multierror.Append(result, fmt.Errorf("backendUrl: required without the dev backend"))
	}
	if c.PageSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("pageSize: must be positive"))
	}
	if c.DebounceMs < 0 || c.HTTPTimeoutMs < 0 || c.SessionTTLMin < 0 {
		result = multierror.Append(result, fmt.Errorf("durations: must not be negative"))
	}
	switch c.LogMode {
	case "production", "development":
	default:
		result = multierror.Append(result, fmt.Errorf("logMode: unknown mode %q", c.LogMode))
	}
	return result.ErrorOrNil()
}
