package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctrshell.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  origin: http://localhost:5173/\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:5173", cfg.Server.Origin)
	assert.Equal(t, 1, cfg.Cache.Version)
	assert.Equal(t, "static", cfg.Cache.Buckets.Static)
	assert.Equal(t, "dynamic", cfg.Cache.Buckets.Dynamic)
	assert.Equal(t, CacheLevelDB, cfg.Cache.Backend)
	assert.True(t, *cfg.Cache.SkipWaiting)
	assert.True(t, *cfg.Cache.AliasWildcardHits)
	assert.Equal(t, []string{".csv", ".xlsx"}, cfg.Cache.DataDocuments)
	assert.Equal(t, "/index.html", cfg.Cache.Shell)
	assert.Equal(t, DefaultCriticalAssets, cfg.Assets.Critical)
	assert.Equal(t, DefaultStaticAssets, cfg.Assets.Static)
	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, int64(256*1024*1024), cfg.Cache.LevelDBMaxBytes)
	assert.Equal(t, int64(32*1024*1024), cfg.BodyLimitBytes)
	assert.Zero(t, cfg.FetchTimeoutDur)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  origin: https://ctr.example.org
  fetchTimeout: 15s
cache:
  version: 3
  backend: memory
  skipWaiting: false
  dataDocuments: ["CSV", ".xlsx", "ods"]
assets:
  critical: ["/index.html", "/assets/app-*.js"]
logging:
  format: json
  logStatsEvery: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Cache.Version)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.False(t, *cfg.Cache.SkipWaiting)
	assert.Equal(t, []string{".csv", ".xlsx", ".ods"}, cfg.Cache.DataDocuments)
	assert.Equal(t, []string{"/index.html", "/assets/app-*.js"}, cfg.Assets.Critical)
	assert.Empty(t, cfg.Assets.Static)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "1m0s", cfg.Logging.LogStatsEveryDur.String())
	assert.Equal(t, "15s", cfg.FetchTimeoutDur.String())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  origin: http://localhost:5173\n")
	t.Setenv("CTRSHELL_PORT", "7000")
	t.Setenv("CTRSHELL_CACHE_VERSION", "4")
	t.Setenv("CTRSHELL_STORAGE_TYPE", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Cache.Version)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"missing origin":  "server:\n  port: 1\n",
		"bad origin":      "server:\n  origin: localhost:5173\n",
		"bad backend":     "server:\n  origin: http://x\ncache:\n  backend: disk\n",
		"redis no url":    "server:\n  origin: http://x\ncache:\n  backend: redis\n",
		"same buckets":    "server:\n  origin: http://x\ncache:\n  buckets:\n    static: a\n    dynamic: a\n",
		"bad size":        "server:\n  origin: http://x\ncache:\n  leveldb:\n    max: lots\n",
		"bad storage":     "server:\n  origin: http://x\nstorage:\n  type: postgres\n",
		"relative shell":  "server:\n  origin: http://x\ncache:\n  shell: index.html\n",
		"bad duration":    "server:\n  origin: http://x\n  fetchTimeout: soon\n",
		"bad stats every": "server:\n  origin: http://x\nlogging:\n  logStatsEvery: often\n",
		"shared leveldb":  "server:\n  origin: http://x\ncache:\n  leveldb:\n    path: ./data/db\nstorage:\n  type: leveldb\n  leveldb:\n    path: data/db/\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadSeparateLevelDBPaths(t *testing.T) {
	body := "server:\n  origin: http://x\ncache:\n  backend: leveldb\n  leveldb:\n    path: ./data/cache\n" +
		"storage:\n  type: leveldb\n  leveldb:\n    path: ./data/records\n"
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, StorageLevelDB, cfg.Storage.Type)
	assert.Equal(t, CacheLevelDB, cfg.Cache.Backend)

	_, err = Load(writeConfig(t, "server:\n  origin: http://x\ncache:\n  leveldb:\n    path: ./data/db\n"+
		"storage:\n  type: leveldb\n  leveldb:\n    path: ./data/db\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseBytes(t *testing.T) {
	cases := map[string]int64{
		"512":   512,
		"1kb":   1024,
		"2k":    2048,
		"1.5mb": 1536 * 1024,
		"1g":    1024 * 1024 * 1024,
		" 10B ": 10,
	}
	for in, want := range cases {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "b", "-1mb", "abc"} {
		_, err := parseBytes(in)
		assert.Error(t, err, in)
	}
}
