package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process RunStore for local servers and tests.
// Records are deep-copied on the way in and out and expire after the
// store's TTL, like DynamoDB items do.
type MemoryStore struct {
	runs *gocache.Cache
}

var _ RunStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose records expire after ttl.
// A non-positive ttl means DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{runs: gocache.New(ttl, min(ttl, time.Hour))}
}

func (m *MemoryStore) PutRun(_ context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("put run: empty run ID")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	m.runs.SetDefault(run.ID, data)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	v, ok := m.runs.Get(id)
	if !ok {
		return nil, nil
	}
	var run Run
	if err := json.Unmarshal(v.([]byte), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	return &run, nil
}
