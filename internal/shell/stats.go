package shell

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// servedStats tallies delivered responses per outcome, so the stats log
// shows how much traffic the cache absorbed.
type servedStats struct {
	mu       sync.Mutex
	outcomes map[string]*outcomeTally
}

type outcomeTally struct {
	Responses uint64
	Bytes     uint64
	MaxBytes  uint64
}

func newServedStats() *servedStats {
	return &servedStats{outcomes: map[string]*outcomeTally{}}
}

func (s *servedStats) Observe(outcome string, bodyBytes int) {
	n := uint64(max(bodyBytes, 0))
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.outcomes[outcome]
	if !ok {
		t = &outcomeTally{}
		s.outcomes[outcome] = t
	}
	t.Responses++
	t.Bytes += n
	t.MaxBytes = max(t.MaxBytes, n)
}

// servedSnapshot is a copy of the tallies plus derived totals.
type servedSnapshot struct {
	Outcomes  map[string]outcomeTally
	Responses uint64
	Bytes     uint64
	// FromCache counts responses answered without the origin.
	FromCache uint64
}

func (s *servedStats) Snapshot() servedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := servedSnapshot{Outcomes: make(map[string]outcomeTally, len(s.outcomes))}
	for k, t := range s.outcomes {
		snap.Outcomes[k] = *t
		snap.Responses += t.Responses
		snap.Bytes += t.Bytes
		switch k {
		case OutcomeHit, OutcomeWildcard, OutcomeShell:
			snap.FromCache += t.Responses
		}
	}
	return snap
}

// HitRatio is FromCache/Responses, 0 with no traffic.
func (s servedSnapshot) HitRatio() float64 {
	if s.Responses == 0 {
		return 0
	}
	return float64(s.FromCache) / float64(s.Responses)
}

// String renders "hit=12/48kb miss=3/1.2mb" in outcome order.
func (s servedSnapshot) String() string {
	keys := make([]string, 0, len(s.Outcomes))
	for k := range s.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		t := s.Outcomes[k]
		parts[i] = fmt.Sprintf("%s=%d/%s", k, t.Responses, formatBytes(t.Bytes))
	}
	return strings.Join(parts, " ")
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b < kb:
		return fmt.Sprintf("%db", b)
	case b < mb:
		return trimFloat(float64(b)/kb) + "kb"
	case b < gb:
		return trimFloat(float64(b)/mb) + "mb"
	default:
		return trimFloat(float64(b)/gb) + "gb"
	}
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", f), ".0")
}

// procMemory is the process footprint in bytes. Anon, File and Shmem are
// only set when detailed is true.
type procMemory struct {
	RSS      uint64
	Anon     uint64
	File     uint64
	Shmem    uint64
	detailed bool
}

func (m procMemory) logArgs() []any {
	args := []any{"rss", formatBytes(m.RSS)}
	if m.detailed {
		args = append(args,
			"rss_anon", formatBytes(m.Anon),
			"rss_file", formatBytes(m.File),
			"rss_shmem", formatBytes(m.Shmem),
		)
	}
	return args
}
