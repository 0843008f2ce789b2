package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrInvalidTransition is returned when a lifecycle step is requested from a
// state that does not allow it.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled // waiting for activation
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AssetResult is the settled outcome of caching one asset during install.
type AssetResult struct {
	Path   string
	Tier   Tier
	Bucket string
	Err    error
}

type InstallReport struct {
	Critical []AssetResult
	Static   []AssetResult
}

// Failed returns every asset that could not be cached.
func (r InstallReport) Failed() []AssetResult {
	var out []AssetResult
	for _, group := range [][]AssetResult{r.Critical, r.Static} {
		for _, a := range group {
			if a.Err != nil {
				out = append(out, a)
			}
		}
	}
	return out
}

// Err joins the critical-asset failures; nil when the shell is complete.
func (r InstallReport) Err() error {
	var errs []error
	for _, a := range r.Critical {
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Path, a.Err))
		}
	}
	return errors.Join(errs...)
}

type ActivateReport struct {
	Deleted []string
	Claimed int
}

// Status is a point-in-time view of the controller.
type Status struct {
	State         string    `json:"state"`
	Version       int       `json:"version"`
	StaticBucket  string    `json:"static_bucket"`
	DynamicBucket string    `json:"dynamic_bucket"`
	InstalledAt   time.Time `json:"installed_at"`
	ActivatedAt   time.Time `json:"activated_at"`
}

// LifecycleOptions configures NewLifecycle.
type LifecycleOptions struct {
	Version       int
	StaticBucket  string // logical name, "static"
	DynamicBucket string // logical name, "dynamic"
	SkipWaiting   bool
	Workers       int
}

// Lifecycle drives one cache version through install and activate.
type Lifecycle struct {
	opts     LifecycleOptions
	static   string
	dynamic  string
	manifest *Manifest
	store    *CacheStore
	origin   *Origin
	clients  *Clients
	log      *slog.Logger

	mu          sync.RWMutex
	state       State
	installedAt time.Time
	activatedAt time.Time
}

func NewLifecycle(opts LifecycleOptions, m *Manifest, store *CacheStore, origin *Origin, clients *Clients, log *slog.Logger) *Lifecycle {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		opts:     opts,
		static:   BucketName(opts.StaticBucket, opts.Version),
		dynamic:  BucketName(opts.DynamicBucket, opts.Version),
		manifest: m,
		store:    store,
		origin:   origin,
		clients:  clients,
		log:      log,
		state:    StateParsed,
	}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lifecycle) Version() int { return l.opts.Version }

func (l *Lifecycle) Active() bool { return l.State() == StateActive }

// StaticBucket and DynamicBucket are the current generation names.
func (l *Lifecycle) StaticBucket() string  { return l.static }
func (l *Lifecycle) DynamicBucket() string { return l.dynamic }

func (l *Lifecycle) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Status{
		State:         l.state.String(),
		Version:       l.opts.Version,
		StaticBucket:  l.static,
		DynamicBucket: l.dynamic,
		InstalledAt:   l.installedAt,
		ActivatedAt:   l.activatedAt,
	}
}

func (l *Lifecycle) transition(from, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return fmt.Errorf("%w: %s -> %s (state is %s)", ErrInvalidTransition, from, to, l.state)
	}
	l.state = to
	switch to {
	case StateInstalled:
		l.installedAt = time.Now().UTC()
	case StateActive:
		l.activatedAt = time.Now().UTC()
	}
	return nil
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Install populates the current generations. Critical assets go to the
// static bucket and static assets to the dynamic bucket; every asset settles
// on its own and failures only show up in the report. With SkipWaiting the
// controller goes on to Activate.
func (l *Lifecycle) Install(ctx context.Context) (InstallReport, error) {
	if err := l.transition(StateParsed, StateInstalling); err != nil {
		return InstallReport{}, err
	}

	staticGen, err := l.store.Open(ctx, l.static)
	if err != nil {
		l.setState(StateRedundant)
		return InstallReport{}, fmt.Errorf("open %s: %w", l.static, err)
	}
	dynamicGen, err := l.store.Open(ctx, l.dynamic)
	if err != nil {
		l.setState(StateRedundant)
		return InstallReport{}, fmt.Errorf("open %s: %w", l.dynamic, err)
	}

	sem := make(chan struct{}, l.opts.Workers)
	var report InstallReport
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Critical = l.addAll(ctx, sem, staticGen, l.manifest.InstallList(TierCritical), TierCritical)
	}()
	go func() {
		defer wg.Done()
		report.Static = l.addAll(ctx, sem, dynamicGen, l.manifest.InstallList(TierStatic), TierStatic)
	}()
	wg.Wait()

	failed := report.Failed()
	l.log.Info("install finished",
		"version", l.opts.Version,
		"assets", len(report.Critical)+len(report.Static),
		"failed", len(failed),
	)

	if err := l.transition(StateInstalling, StateInstalled); err != nil {
		return report, err
	}
	if !l.opts.SkipWaiting {
		l.log.Info("new version waiting for activation", "version", l.opts.Version)
		return report, nil
	}
	if _, err := l.Activate(ctx); err != nil {
		return report, err
	}
	return report, nil
}

func (l *Lifecycle) addAll(ctx context.Context, sem chan struct{}, gen *Generation, paths []string, tier Tier) []AssetResult {
	results := make([]AssetResult, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		i, p := i, p
		results[i] = AssetResult{Path: p, Tier: tier, Bucket: gen.Name}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].Err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			results[i].Err = l.addOne(ctx, gen, p)
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			installAssets.WithLabelValues(tier.String(), "failed").Inc()
			l.log.Warn("asset not cached", "path", r.Path, "tier", tier.String(), "error", r.Err)
			continue
		}
		installAssets.WithLabelValues(tier.String(), "cached").Inc()
	}
	return results
}

func (l *Lifecycle) addOne(ctx context.Context, gen *Generation, path string) error {
	resp, err := l.origin.Get(ctx, path, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("origin returned %d", resp.Status)
	}
	return gen.Put(ctx, path, resp)
}

// Activate deletes every generation that is not current and claims every
// known client. Both steps run concurrently and both finish before return.
func (l *Lifecycle) Activate(ctx context.Context) (ActivateReport, error) {
	if err := l.transition(StateInstalled, StateActivating); err != nil {
		return ActivateReport{}, err
	}

	var (
		report    ActivateReport
		deleteErr error
		wg        sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Deleted, deleteErr = l.deleteStale(ctx)
	}()
	go func() {
		defer wg.Done()
		if l.clients != nil {
			report.Claimed = l.clients.Claim(l.opts.Version)
		}
	}()
	wg.Wait()

	// A stale generation that failed to delete does not block activation.
	if err := l.transition(StateActivating, StateActive); err != nil {
		return report, err
	}

	l.log.Info("activated",
		"version", l.opts.Version,
		"deleted", report.Deleted,
		"claimed", report.Claimed,
	)
	return report, deleteErr
}

func (l *Lifecycle) deleteStale(ctx context.Context) ([]string, error) {
	names, err := l.store.BucketNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	var (
		mu      sync.Mutex
		deleted []string
		errs    []error
		wg      sync.WaitGroup
	)
	for _, name := range names {
		if name == l.static || name == l.dynamic {
			continue
		}
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.store.DeleteBucket(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
				return
			}
			if ok {
				deleted = append(deleted, name)
				generationsDeleted.Inc()
			}
		}()
	}
	wg.Wait()
	sort.Strings(deleted)
	return deleted, errors.Join(errs...)
}

// Retire marks the controller redundant; it no longer intercepts anything.
func (l *Lifecycle) Retire() {
	l.setState(StateRedundant)
}
