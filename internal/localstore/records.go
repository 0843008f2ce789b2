package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateRangeSep separates the two dates of a record key.
const DateRangeSep = " to "

type Day struct {
	Date string `json:"date"`
	On   string `json:"on"`
	Off  string `json:"off"`
}

type CrewMember struct {
	Name           string `json:"name"`
	Classification string `json:"classification"`
	Days           []Day  `json:"days"`
}

type CrewInfo struct {
	CrewName   string `json:"crewName"`
	CrewNumber string `json:"crewNumber"`
	FireName   string `json:"fireName"`
	FireNumber string `json:"fireNumber"`
}

// Record is one saved crew time report.
type Record struct {
	DateRange string       `json:"dateRange"`
	Roster    []CrewMember `json:"data"`
	CrewInfo  CrewInfo     `json:"crewInfo"`
}

// DateRangeKey formats the key a record is stored under. Dates are not
// validated; empty dates still produce a key.
func DateRangeKey(start, end string) string {
	return start + DateRangeSep + end
}

// ParseDateRange splits a record key into its two dates.
func ParseDateRange(key string) (start, end string, ok bool) {
	return strings.Cut(key, DateRangeSep)
}

// SortKeysChronologically orders keys by start date then end date. Keys
// whose dates do not parse as YYYY-MM-DD sort after the rest, by string.
func SortKeysChronologically(keys []string) {
	type parsed struct {
		start, end time.Time
		ok         bool
	}
	cache := make(map[string]parsed, len(keys))
	for _, k := range keys {
		s, e, ok := ParseDateRange(k)
		var p parsed
		if ok {
			st, err1 := time.Parse(time.DateOnly, s)
			en, err2 := time.Parse(time.DateOnly, e)
			p = parsed{start: st, end: en, ok: err1 == nil && err2 == nil}
		}
		cache[k] = p
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := cache[keys[i]], cache[keys[j]]
		switch {
		case a.ok && !b.ok:
			return true
		case !a.ok && b.ok:
			return false
		case !a.ok && !b.ok:
			return keys[i] < keys[j]
		}
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		return a.end.Before(b.end)
	})
}

// RecordStore persists CTR records keyed by date range. Saving an existing
// key overwrites it.
type RecordStore struct {
	store ObjectStore
}

func NewRecordStore(store ObjectStore) *RecordStore {
	return &RecordStore{store: store}
}

// Save upserts the record for start..end and returns its key.
func (s *RecordStore) Save(ctx context.Context, start, end string, roster []CrewMember, info CrewInfo) (string, error) {
	key := DateRangeKey(start, end)
	if roster == nil {
		roster = []CrewMember{}
	}
	b, err := json.Marshal(Record{DateRange: key, Roster: roster, CrewInfo: info})
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	if err := s.store.Put(ctx, key, b); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns ErrNotFound when no record has key.
func (s *RecordStore) Get(ctx context.Context, key string) (*Record, error) {
	b, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", key, err)
	}
	return &rec, nil
}

// Keys lists record keys in order of first save.
func (s *RecordStore) Keys(ctx context.Context) ([]string, error) {
	return s.store.Keys(ctx)
}

func (s *RecordStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
