// Package shell is the offline caching layer: versioned cache generations,
// the asset manifest, the install/activate lifecycle and the fetch
// interceptor that serves the editor cache-first.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ctrshell/internal/config"
)

type Service struct {
	cfg *config.Config
	log *slog.Logger

	store       *CacheStore
	manifest    *Manifest
	origin      *Origin
	clients     *Clients
	lifecycle   *Lifecycle
	interceptor *Interceptor

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService opens the configured cache backend and wires the shell.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	backend, err := OpenBackend(cfg.Cache)
	if err != nil {
		return nil, err
	}
	s, err := newService(cfg, backend, &http.Client{}, log)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}

// OpenBackend builds the backend named by cfg.Backend.
func OpenBackend(cfg config.CacheConfig) (Backend, error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return NewMemoryBackend(cfg.LevelDBMaxBytes), nil
	case config.CacheRedis:
		return NewRedisBackend(cfg.Redis.URL, cfg.Redis.Prefix)
	case config.CacheLevelDB, "":
		return NewLevelDBBackend(cfg.LevelDB.Path, cfg.LevelDBMaxBytes, cfg.RAMMaxBytes)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func newService(cfg *config.Config, backend Backend, client Doer, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	manifest, err := NewManifest(cfg.Assets.Critical, cfg.Assets.Static)
	if err != nil {
		return nil, err
	}
	origin, err := NewOrigin(cfg.Server.Origin, client, cfg.FetchTimeoutDur)
	if err != nil {
		return nil, err
	}

	store := NewCacheStore(backend)
	clients := NewClients(24 * time.Hour)
	skipWaiting := cfg.Cache.SkipWaiting == nil || *cfg.Cache.SkipWaiting
	aliasHits := cfg.Cache.AliasWildcardHits == nil || *cfg.Cache.AliasWildcardHits

	lc := NewLifecycle(LifecycleOptions{
		Version:       cfg.Cache.Version,
		StaticBucket:  cfg.Cache.Buckets.Static,
		DynamicBucket: cfg.Cache.Buckets.Dynamic,
		SkipWaiting:   skipWaiting,
		Workers:       cfg.Cache.InstallWorkers,
	}, manifest, store, origin, clients, log)

	ic := NewInterceptor(InterceptorOptions{
		ShellPath:         cfg.Cache.Shell,
		DataDocuments:     cfg.Cache.DataDocuments,
		AliasWildcardHits: aliasHits,
	}, manifest, store, origin, lc, clients, log)

	s := &Service{
		cfg:         cfg,
		log:         log,
		store:       store,
		manifest:    manifest,
		origin:      origin,
		clients:     clients,
		lifecycle:   lc,
		interceptor: ic,
		stopCh:      make(chan struct{}),
	}

	if every := cfg.Logging.LogStatsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s, nil
}

// Start installs the configured version and, unless waiting is required,
// activates it. Individual asset failures are logged, not returned.
func (s *Service) Start(ctx context.Context) error {
	report, err := s.lifecycle.Install(ctx)
	if err != nil {
		return err
	}
	if cerr := report.Err(); cerr != nil {
		s.log.Warn("app shell incomplete, offline use may be degraded", "error", cerr)
	}
	return nil
}

// Activate promotes a waiting version. It is only needed with skipWaiting off.
func (s *Service) Activate(ctx context.Context) (ActivateReport, error) {
	return s.lifecycle.Activate(ctx)
}

func (s *Service) Lifecycle() *Lifecycle { return s.lifecycle }

func (s *Service) Status() Status { return s.lifecycle.Status() }

func (s *Service) Store() *CacheStore { return s.store }

// Handler serves intercepted requests.
func (s *Service) Handler() http.Handler { return s.interceptor }

func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.lifecycle.Retire()
		err = s.store.Close()
	})
	return err
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	ss := s.interceptor.responseStats()
	args := []any{
		"state", s.lifecycle.State().String(),
		"clients", s.clients.Len(),
		"responses", ss.Responses,
		"served", formatBytes(ss.Bytes),
		"hit_ratio", fmt.Sprintf("%.2f", ss.HitRatio()),
		"outcomes", ss.String(),
	}
	if st, ok := s.store.Stats(); ok {
		args = append(args,
			"buckets", st.Buckets,
			"entries", st.Entries,
			"cache_size", formatBytes(uint64(max(st.Bytes, 0))),
		)
	}
	if lb, ok := s.store.backend.(*LevelDBBackend); ok {
		args = append(args, "ram_size", formatBytes(uint64(lb.RAMSize())))
	}
	if mem, ok := readProcMemory(); ok {
		args = append(args, mem.logArgs()...)
	}
	s.log.Info("cache stats", args...)
}
