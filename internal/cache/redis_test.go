package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatundu2013/crash-sub000/internal/game"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal string
		envValue   string
		want       string
	}{
		{
			name:       "Environment variable exists",
			key:        "TEST_KEY_EXISTS",
			defaultVal: "default",
			envValue:   "custom_value",
			want:       "custom_value",
		},
		{
			name:       "Environment variable does not exist",
			key:        "TEST_KEY_NOT_EXISTS",
			defaultVal: "default_value",
			envValue:   "",
			want:       "default_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal int
		envValue   string
		want       int
	}{
		{
			name:       "Valid integer",
			key:        "TEST_INT_VALID",
			defaultVal: 0,
			envValue:   "42",
			want:       42,
		},
		{
			name:       "Invalid integer",
			key:        "TEST_INT_INVALID",
			defaultVal: 10,
			envValue:   "not_a_number",
			want:       10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvAsInt(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_Interface(t *testing.T) {
	var _ Service = (*service)(nil)
}

// testRedisClient connects to a local Redis on a test database, or skips.
func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_URL", "localhost:6379"),
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRoundCache_Snapshot(t *testing.T) {
	client := testRedisClient(t)
	c := NewRoundCache(client)
	ctx := context.Background()

	snap := game.ConnectSnapshotPayload{
		Phase:             game.PhaseRunning,
		RoundID:           "round-1",
		CurrentMultiplier: 2.41,
		HashedServerSeed:  "commitment",
		RecentMultipliers: []float64{1.32, 8.05, 1.01},
	}
	if err := c.StoreSnapshot(ctx, snap); err != nil {
		t.Fatalf("StoreSnapshot: %v", err)
	}

	got, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got.RoundID != snap.RoundID || got.Phase != snap.Phase {
		t.Errorf("snapshot round-trip mismatch: %+v", got)
	}
	if got.CurrentMultiplier != 2.41 {
		t.Errorf("multiplier = %v, want 2.41", got.CurrentMultiplier)
	}

	ttl := client.TTL(ctx, KEY_ROUND_SNAPSHOT).Val()
	if ttl <= 0 || ttl > SNAPSHOT_TTL {
		t.Errorf("snapshot ttl = %v, want (0, %v]", ttl, SNAPSHOT_TTL)
	}
}

func TestRoundCache_History(t *testing.T) {
	client := testRedisClient(t)
	c := NewRoundCache(client)
	ctx := context.Background()

	history := []float64{1.01, 3.52, 1.87}
	if err := c.StoreHistory(ctx, history); err != nil {
		t.Fatalf("StoreHistory: %v", err)
	}

	got, err := c.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 || got[1] != 3.52 {
		t.Errorf("history round-trip = %v, want %v", got, history)
	}
}

func TestRoundCache_MissIsError(t *testing.T) {
	client := testRedisClient(t)
	c := NewRoundCache(client)

	if _, err := c.Snapshot(context.Background()); err == nil {
		t.Error("expected an error on empty cache")
	}
}
