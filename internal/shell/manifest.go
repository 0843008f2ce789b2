package shell

import (
	"fmt"
	"regexp"
	"strings"
)

// Tier is how important an asset is to the offline shell.
type Tier int

const (
	TierDynamic Tier = iota
	TierStatic
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierStatic:
		return "static"
	default:
		return "dynamic"
	}
}

// Asset is one manifest entry: an absolute path, possibly with a single "*"
// segment standing for a build hash.
type Asset struct {
	Path string
	Tier Tier

	re *regexp.Regexp
}

func (a Asset) Wildcard() bool { return a.re != nil }

// Match reports whether urlPath is this asset.
func (a Asset) Match(urlPath string) bool {
	if a.re == nil {
		return a.Path == urlPath
	}
	return a.re.MatchString(urlPath)
}

// Manifest is the declared asset set. It is immutable after NewManifest.
type Manifest struct {
	assets   []Asset
	exact    map[string]Tier
	patterns []Asset
}

// NewManifest validates and compiles the critical and static asset lists.
func NewManifest(critical, static []string) (*Manifest, error) {
	m := &Manifest{exact: map[string]Tier{}}
	if err := m.add(critical, TierCritical); err != nil {
		return nil, fmt.Errorf("critical assets: %w", err)
	}
	if err := m.add(static, TierStatic); err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}
	return m, nil
}

func (m *Manifest) add(paths []string, tier Tier) error {
	for i, p := range paths {
		p = strings.TrimSpace(p)
		a, err := parseAsset(p, tier)
		if err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
		if a.Wildcard() {
			if m.hasPattern(a.Path) {
				continue
			}
			m.patterns = append(m.patterns, a)
		} else {
			if _, dup := m.exact[a.Path]; dup {
				continue
			}
			m.exact[a.Path] = tier
		}
		m.assets = append(m.assets, a)
	}
	return nil
}

func (m *Manifest) hasPattern(p string) bool {
	for _, a := range m.patterns {
		if a.Path == p {
			return true
		}
	}
	return false
}

func parseAsset(p string, tier Tier) (Asset, error) {
	if p == "" || !strings.HasPrefix(p, "/") {
		return Asset{}, fmt.Errorf("invalid asset path %q", p)
	}
	a := Asset{Path: p, Tier: tier}
	switch strings.Count(p, "*") {
	case 0:
	case 1:
		re, err := compilePattern(p)
		if err != nil {
			return Asset{}, err
		}
		a.re = re
	default:
		return Asset{}, fmt.Errorf("asset %q: only one wildcard segment supported", p)
	}
	return a, nil
}

// compilePattern turns "/assets/main-*.js" into ^/assets/main-[^/]*\.js$.
func compilePattern(p string) (*regexp.Regexp, error) {
	before, after, _ := strings.Cut(p, "*")
	return regexp.Compile("^" + regexp.QuoteMeta(before) + "[^/]*" + regexp.QuoteMeta(after) + "$")
}

// Assets returns every entry in declaration order.
func (m *Manifest) Assets() []Asset {
	return append([]Asset(nil), m.assets...)
}

// InstallList returns the non-wildcard paths of a tier, in declaration order.
// Wildcards cannot be fetched in bulk and are resolved lazily instead.
func (m *Manifest) InstallList(tier Tier) []string {
	var out []string
	for _, a := range m.assets {
		if a.Tier == tier && !a.Wildcard() {
			out = append(out, a.Path)
		}
	}
	return out
}

// Patterns returns the wildcard entries.
func (m *Manifest) Patterns() []Asset {
	return append([]Asset(nil), m.patterns...)
}

// MatchingPatterns returns the wildcard entries urlPath satisfies.
func (m *Manifest) MatchingPatterns(urlPath string) []Asset {
	var out []Asset
	for _, a := range m.patterns {
		if a.Match(urlPath) {
			out = append(out, a)
		}
	}
	return out
}

// Tier classifies urlPath. Paths outside the manifest are dynamic.
func (m *Manifest) Tier(urlPath string) Tier {
	if t, ok := m.exact[urlPath]; ok {
		return t
	}
	best := TierDynamic
	for _, a := range m.patterns {
		if a.Tier > best && a.Match(urlPath) {
			best = a.Tier
		}
	}
	return best
}

// FindWildcard scans cached keys in order and returns the first one that
// matches a pattern urlPath also matches. The scan is linear in len(keys).
func (m *Manifest) FindWildcard(urlPath string, keys []string) (string, bool) {
	pats := m.MatchingPatterns(urlPath)
	if len(pats) == 0 {
		return "", false
	}
	for _, k := range keys {
		kp, _, _ := strings.Cut(k, "?")
		if kp == urlPath {
			continue
		}
		for _, p := range pats {
			if p.Match(kp) {
				return k, true
			}
		}
	}
	return "", false
}
