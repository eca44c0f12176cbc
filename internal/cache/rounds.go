package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatundu2013/crash-sub000/internal/game"
)

const (
	KEY_ROUND_SNAPSHOT = "crash:round:snapshot"
	KEY_ROUND_HISTORY  = "crash:round:history"

	SNAPSHOT_TTL = 1 * time.Hour
)

// RoundCache mirrors the live round snapshot and the recent-multiplier
// history into Redis, so a restarted API layer (or any sidecar) can
// serve them without touching round state.
type RoundCache struct {
	client *redis.Client
}

func NewRoundCache(client *redis.Client) *RoundCache {
	return &RoundCache{client: client}
}

func (c *RoundCache) StoreSnapshot(ctx context.Context, snap game.ConnectSnapshotPayload) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, KEY_ROUND_SNAPSHOT, data, SNAPSHOT_TTL).Err()
}

func (c *RoundCache) StoreHistory(ctx context.Context, history []float64) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return c.client.Set(ctx, KEY_ROUND_HISTORY, data, 0).Err()
}

func (c *RoundCache) Snapshot(ctx context.Context) (*game.ConnectSnapshotPayload, error) {
	data, err := c.client.Get(ctx, KEY_ROUND_SNAPSHOT).Bytes()
	if err != nil {
		return nil, err
	}
	var snap game.ConnectSnapshotPayload
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (c *RoundCache) History(ctx context.Context) ([]float64, error) {
	data, err := c.client.Get(ctx, KEY_ROUND_HISTORY).Bytes()
	if err != nil {
		return nil, err
	}
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return history, nil
}
