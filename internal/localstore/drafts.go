package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// RosterDraftKey holds the roster being edited between saves.
const RosterDraftKey = "ctr-table-data"

// DraftStore is a string key/value store for in-progress edits.
type DraftStore struct {
	store ObjectStore
	log   *slog.Logger
}

// NewDraftStore wraps store. A nil log falls back to slog.Default.
func NewDraftStore(store ObjectStore, log *slog.Logger) *DraftStore {
	if log == nil {
		log = slog.Default()
	}
	return &DraftStore{store: store, log: log}
}

func (d *DraftStore) SetItem(ctx context.Context, key, value string) error {
	return d.store.Put(ctx, key, []byte(value))
}

// GetItem returns ok=false for absent keys.
func (d *DraftStore) GetItem(ctx context.Context, key string) (value string, ok bool, err error) {
	b, err := d.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (d *DraftStore) RemoveItem(ctx context.Context, key string) error {
	return d.store.Delete(ctx, key)
}

func (d *DraftStore) Keys(ctx context.Context) ([]string, error) {
	return d.store.Keys(ctx)
}

// SaveRoster stores roster as the current draft.
func (d *DraftStore) SaveRoster(ctx context.Context, roster []CrewMember) error {
	b, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("encode roster draft: %w", err)
	}
	return d.SetItem(ctx, RosterDraftKey, string(b))
}

// LoadRoster returns the draft roster, or fallback when there is none or it
// does not decode. Only storage failures are returned as errors.
func (d *DraftStore) LoadRoster(ctx context.Context, fallback []CrewMember) ([]CrewMember, error) {
	raw, ok, err := d.GetItem(ctx, RosterDraftKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return fallback, nil
	}
	var roster []CrewMember
	if err := json.Unmarshal([]byte(raw), &roster); err != nil {
		d.log.Warn("discarding unreadable roster draft", "key", RosterDraftKey, "error", err)
		return fallback, nil
	}
	return roster, nil
}
