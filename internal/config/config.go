// Package config loads ctrshell configuration from a yaml file, an optional .env
// file and CTRSHELL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backend types.
const (
	CacheLevelDB = "leveldb"
	CacheMemory  = "memory"
	CacheRedis   = "redis"
)

// Storage backend types.
const (
	StorageSQLite  = "sqlite"
	StorageLevelDB = "leveldb"
	StorageMemory  = "memory"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
		// BodyLimit caps request bodies on the local API (documents are uploaded whole).
		BodyLimit string `yaml:"bodyLimit"`
		// FetchTimeout bounds origin fetches. Empty means no timeout.
		FetchTimeout string `yaml:"fetchTimeout"`
	} `yaml:"server"`

	Cache   CacheConfig   `yaml:"cache"`
	Assets  AssetsConfig  `yaml:"assets"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`

	// compiled
	BodyLimitBytes  int64         `yaml:"-"`
	FetchTimeoutDur time.Duration `yaml:"-"`
}

type CacheConfig struct {
	// Version is appended to every bucket name ("static-v3"). Bumping it
	// invalidates all previously cached entries on the next activation.
	Version int `yaml:"version"`

	Buckets struct {
		Static  string `yaml:"static"`
		Dynamic string `yaml:"dynamic"`
	} `yaml:"buckets"`

	Backend string `yaml:"backend"`

	LevelDB struct {
		Path string `yaml:"path"`
		Max  string `yaml:"max"`
	} `yaml:"leveldb"`

	RAM struct {
		Max string `yaml:"max"`
	} `yaml:"ram"`

	Redis struct {
		URL    string `yaml:"url"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	SkipWaiting       *bool    `yaml:"skipWaiting"`
	AliasWildcardHits *bool    `yaml:"aliasWildcardHits"`
	DataDocuments     []string `yaml:"dataDocuments"`
	Shell             string   `yaml:"shell"`
	InstallWorkers    int      `yaml:"installWorkers"`

	// compiled
	LevelDBMaxBytes int64 `yaml:"-"`
	RAMMaxBytes     int64 `yaml:"-"`
}

type AssetsConfig struct {
	Critical []string `yaml:"critical"`
	Static   []string `yaml:"static"`
}

type StorageConfig struct {
	Type string `yaml:"type"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	LevelDB struct {
		Path string `yaml:"path"`
	} `yaml:"leveldb"`
}

type LoggingConfig struct {
	Format        string `yaml:"format"`
	Level         string `yaml:"level"`
	LogStatsEvery string `yaml:"logStatsEvery"`

	// compiled
	LogStatsEveryDur time.Duration `yaml:"-"`
}

// DefaultCriticalAssets is the app shell the editor needs offline.
var DefaultCriticalAssets = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/assets/index.css",
	"/assets/main.js",
	"/assets/main-*.js",
	"/src/components/MainTable.tsx",
	"/src/components/MainTable.css",
	"/src/data/defaultData.ts",
	"/CTR_Fillable.pdf",
	"/CTR_Template.xlsx",
}

// DefaultStaticAssets are cached best-effort at install.
var DefaultStaticAssets = []string{
	"/vite.svg",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
}

// Default returns a configuration with every default applied. It still lacks
// an origin, which Load requires.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads the yaml file at path (skipped when path is empty), overlays .env
// and CTRSHELL_* variables, applies defaults and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "32mb"
	}

	c := &cfg.Cache
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Buckets.Static == "" {
		c.Buckets.Static = "static"
	}
	if c.Buckets.Dynamic == "" {
		c.Buckets.Dynamic = "dynamic"
	}
	if c.Backend == "" {
		c.Backend = CacheLevelDB
	}
	if c.LevelDB.Path == "" {
		c.LevelDB.Path = "./data/cache"
	}
	if c.LevelDB.Max == "" {
		c.LevelDB.Max = "256mb"
	}
	if c.RAM.Max == "" {
		c.RAM.Max = "32mb"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "ctrshell"
	}
	if c.SkipWaiting == nil {
		c.SkipWaiting = boolPtr(true)
	}
	if c.AliasWildcardHits == nil {
		c.AliasWildcardHits = boolPtr(true)
	}
	if c.DataDocuments == nil {
		c.DataDocuments = []string{".csv", ".xlsx"}
	}
	if c.Shell == "" {
		c.Shell = "/index.html"
	}
	if c.InstallWorkers <= 0 {
		c.InstallWorkers = 8
	}

	if cfg.Assets.Critical == nil && cfg.Assets.Static == nil {
		cfg.Assets.Critical = append([]string(nil), DefaultCriticalAssets...)
		cfg.Assets.Static = append([]string(nil), DefaultStaticAssets...)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = StorageSQLite
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./data/ctr.db"
	}
	if cfg.Storage.LevelDB.Path == "" {
		cfg.Storage.LevelDB.Path = "./data/records"
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "pretty"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (cfg *Config) compile() error {
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	if !strings.HasPrefix(cfg.Server.Origin, "http://") && !strings.HasPrefix(cfg.Server.Origin, "https://") {
		return fmt.Errorf("server.origin: expected http(s) URL, got %q", cfg.Server.Origin)
	}

	n, err := parseBytes(cfg.Server.BodyLimit)
	if err != nil {
		return fmt.Errorf("server.bodyLimit: %w", err)
	}
	cfg.BodyLimitBytes = n

	if cfg.Server.FetchTimeout != "" {
		d, err := time.ParseDuration(cfg.Server.FetchTimeout)
		if err != nil {
			return fmt.Errorf("server.fetchTimeout: %w", err)
		}
		cfg.FetchTimeoutDur = d
	}

	c := &cfg.Cache
	if c.Version < 0 {
		return fmt.Errorf("cache.version must be positive, got %d", c.Version)
	}
	if c.Buckets.Static == c.Buckets.Dynamic {
		return fmt.Errorf("cache.buckets: static and dynamic must differ")
	}
	switch c.Backend {
	case CacheLevelDB, CacheMemory:
	case CacheRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("cache.redis.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend: %s (valid: leveldb, memory, redis)", c.Backend)
	}
	if c.LevelDBMaxBytes, err = parseBytes(c.LevelDB.Max); err != nil {
		return fmt.Errorf("cache.leveldb.max: %w", err)
	}
	if c.RAMMaxBytes, err = parseBytes(c.RAM.Max); err != nil {
		return fmt.Errorf("cache.ram.max: %w", err)
	}
	for i, ext := range c.DataDocuments {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.DataDocuments[i] = ext
	}
	if !strings.HasPrefix(c.Shell, "/") {
		return fmt.Errorf("cache.shell must be an absolute path, got %q", c.Shell)
	}

	switch cfg.Storage.Type {
	case StorageSQLite, StorageLevelDB, StorageMemory:
	default:
		return fmt.Errorf("unknown storage.type: %s (valid: sqlite, leveldb, memory)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == StorageLevelDB && c.Backend == CacheLevelDB &&
		samePath(cfg.Storage.LevelDB.Path, c.LevelDB.Path) {
		return fmt.Errorf("storage.leveldb.path and cache.leveldb.path must differ, both are %q", c.LevelDB.Path)
	}

	if cfg.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.LogStatsEvery)
		if err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		cfg.Logging.LogStatsEveryDur = d
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("CTRSHELL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CTRSHELL_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("CTRSHELL_ORIGIN"); v != "" {
		cfg.Server.Origin = v
	}
	if v := os.Getenv("CTRSHELL_CACHE_VERSION"); v != "" {
		ver, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CTRSHELL_CACHE_VERSION: %w", err)
		}
		cfg.Cache.Version = ver
	}
	if v := os.Getenv("CTRSHELL_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("CTRSHELL_REDIS_URL"); v != "" {
		cfg.Cache.Redis.URL = v
	}
	if v := os.Getenv("CTRSHELL_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CTRSHELL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CTRSHELL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// samePath compares two filesystem paths after cleaning and, when possible,
// making them absolute.
func samePath(a, b string) bool {
	clean := func(p string) string {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return filepath.Clean(p)
	}
	return clean(a) == clean(b)
}

func boolPtr(b bool) *bool { return &b }
