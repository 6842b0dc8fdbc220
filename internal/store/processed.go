package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// KeyProcessedIDs holds the JSON array of processed message ids
	KeyProcessedIDs = "processed_message_ids"
	// KeyLastRunAt holds the RFC3339 time of the last completed run
	KeyLastRunAt = "last_run_at"
	// MaxProcessedIDs caps the processed id set; oldest ids are evicted first
	MaxProcessedIDs = 5000
)

// ProcessedIndex is the bounded ordered set of message ids already recorded.
// It is loaded once per run and flushed explicitly.
type ProcessedIndex struct {
	kv    KeyValueStore
	limit int
	order []string
	set   map[string]struct{}
	dirty bool
}

// LoadProcessedIndex reads the processed id set from kv
func LoadProcessedIndex(ctx context.Context, kv KeyValueStore, limit int) (*ProcessedIndex, error) {
	if limit <= 0 {
		limit = MaxProcessedIDs
	}
	raw, err := kv.Get(ctx, KeyProcessedIDs, "[]")
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("corrupt %s value: %w", KeyProcessedIDs, err)
	}
	idx := &ProcessedIndex{kv: kv, limit: limit, set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		idx.add(id)
	}
	idx.dirty = false
	return idx, nil
}

// Contains reports whether id was already processed
func (p *ProcessedIndex) Contains(id string) bool {
	_, ok := p.set[id]
	return ok
}

// Len returns the number of tracked ids
func (p *ProcessedIndex) Len() int { return len(p.order) }

// Mark records id as processed, evicting the oldest ids beyond the cap
func (p *ProcessedIndex) Mark(id string) {
	p.add(id)
}

func (p *ProcessedIndex) add(id string) {
	if id == "" {
		return
	}
	if _, ok := p.set[id]; ok {
		return
	}
	p.order = append(p.order, id)
	p.set[id] = struct{}{}
	for len(p.order) > p.limit {
		delete(p.set, p.order[0])
		p.order = p.order[1:]
	}
	p.dirty = true
}

// MarkAndFlush records id and persists the set immediately
func (p *ProcessedIndex) MarkAndFlush(ctx context.Context, id string) error {
	p.Mark(id)
	return p.Flush(ctx)
}

// Flush persists the set when it changed
func (p *ProcessedIndex) Flush(ctx context.Context) error {
	if !p.dirty {
		return nil
	}
	b, err := json.Marshal(p.order)
	if err != nil {
		return fmt.Errorf("failed to encode processed ids: %w", err)
	}
	if err := p.kv.Set(ctx, KeyProcessedIDs, string(b)); err != nil {
		return err
	}
	p.dirty = false
	return nil
}

// LastRunAt reads the last completed run time; ok is false on first run
func LastRunAt(ctx context.Context, kv KeyValueStore) (time.Time, bool, error) {
	raw, err := kv.Get(ctx, KeyLastRunAt, "")
	if err != nil {
		return time.Time{}, false, err
	}
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt %s value: %w", KeyLastRunAt, err)
	}
	return t, true, nil
}

// SetLastRunAt stores t as the last completed run time
func SetLastRunAt(ctx context.Context, kv KeyValueStore, t time.Time) error {
	return kv.Set(ctx, KeyLastRunAt, t.UTC().Format(time.RFC3339))
}
